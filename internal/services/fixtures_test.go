package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/repositories/memory"
)

// seededStore returns a memory store holding two tenants with the same dish ids but different prices.
func seededStore() *memory.Store {
	store := memory.New()
	for _, tenant := range []domain.Tenant{
		{ID: "tenant-a", Name: "Trattoria A", Currency: "USD"},
		{ID: "tenant-b", Name: "Bistro B", Currency: "EUR"},
	} {
		store.PutTenant(tenant)
		store.PutTable(domain.Table{ID: "table-1", TenantID: tenant.ID, Number: "T1", Capacity: 4})
	}

	store.PutDish(domain.Dish{ID: "pasta", TenantID: "tenant-a", Name: "Pasta", BasePrice: 1000, AllowedOptionIDs: []string{"size", "sauce"}})
	store.PutDish(domain.Dish{ID: "salad", TenantID: "tenant-a", Name: "Salad", BasePrice: 500})
	store.PutOptionValue(domain.OptionValue{ID: "size-large", TenantID: "tenant-a", OptionID: "size", OptionName: "Size", Name: "Large", ExtraPrice: 250})
	store.PutOptionValue(domain.OptionValue{ID: "size-regular", TenantID: "tenant-a", OptionID: "size", OptionName: "Size", Name: "Regular", ExtraPrice: 0})
	store.PutOptionValue(domain.OptionValue{ID: "spice-hot", TenantID: "tenant-a", OptionID: "spice", OptionName: "Spice", Name: "Hot", ExtraPrice: 50})

	store.PutDish(domain.Dish{ID: "pasta", TenantID: "tenant-b", Name: "Pâtes", BasePrice: 1200})
	return store
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%06d", n.Add(1))
	}
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	entries chan logEntry
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{entries: make(chan logEntry, 1024)}
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	select {
	case c.entries <- logEntry{event: event, fields: fields}:
	default:
	}
}

func (c *captureLogger) has(event string) bool {
	for {
		select {
		case entry := <-c.entries:
			if entry.event == event {
				return true
			}
		default:
			return false
		}
	}
}
