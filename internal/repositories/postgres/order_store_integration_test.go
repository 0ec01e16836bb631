//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/tableorder/api/internal/domain"
	pconfig "github.com/tableorder/api/internal/platform/config"
	ppostgres "github.com/tableorder/api/internal/platform/postgres"
	"github.com/tableorder/api/internal/repositories"
	"github.com/tableorder/api/internal/services"
)

func TestOrderStoreIntegration(t *testing.T) {
	dsn := os.Getenv("API_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("API_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	pool, err := ppostgres.Connect(ctx, pconfig.PostgresConfig{DSN: dsn, MaxConns: 40, ConnectAttempts: 1}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Applying twice is a no-op.
	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}

	suffix := time.Now().UTC().Format("150405.000000")
	tenantA, tenantB := "pg-a-"+suffix, "pg-b-"+suffix

	catalog, err := NewCatalogReader(pool)
	if err != nil {
		t.Fatalf("NewCatalogReader: %v", err)
	}
	store, err := NewOrderStore(pool)
	if err != nil {
		t.Fatalf("NewOrderStore: %v", err)
	}
	for _, tenantID := range []string{tenantA, tenantB} {
		if err := catalog.SeedTenant(ctx,
			domain.Tenant{ID: tenantID, Name: "Tenant " + tenantID, Currency: "USD"},
			[]domain.Table{{ID: "table-1", Number: "T1", Capacity: 2}},
			[]domain.Dish{
				{ID: "pasta", Name: "Pasta", BasePrice: 1000, AllowedOptionIDs: []string{"size"}},
				{ID: "salad", Name: "Salad", BasePrice: 500},
			},
			[]domain.OptionValue{{ID: "size-large", OptionID: "size", OptionName: "Size", Name: "Large", ExtraPrice: 250}},
		); err != nil {
			t.Fatalf("SeedTenant: %v", err)
		}
	}

	if err := catalog.SeedCategories(ctx, tenantA, []domain.Category{{ID: "mains", Name: "Mains"}}); err != nil {
		t.Fatalf("SeedCategories: %v", err)
	}
	menu, err := catalog.GetMenu(ctx, tenantA)
	if err != nil {
		t.Fatalf("GetMenu: %v", err)
	}
	if menu.Tenant.Currency != "USD" || len(menu.Categories) != 1 || len(menu.Dishes) != 2 || len(menu.Values) != 1 {
		t.Fatalf("unexpected menu: %+v", menu)
	}
	if menu.Dishes[0].ID != "pasta" || len(menu.Dishes[0].AllowedOptionIDs) != 1 {
		t.Fatalf("expected dishes in id order with gating ids, got %+v", menu.Dishes)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{Orders: store, Catalog: catalog, MaxSequenceAttempts: 10})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	cmd := func(tenantID string) services.CreateOrderCommand {
		return services.CreateOrderCommand{
			TenantID:     tenantID,
			TableID:      "table-1",
			CustomerName: "Ana",
			Lines: []services.CartLine{
				{DishID: "pasta", Quantity: 3, SelectedValueIDs: []string{"size-large"}},
				{DishID: "salad", Quantity: 1},
			},
		}
	}

	const workers = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string][]int64{}
	)
	for _, tenantID := range []string{tenantA, tenantB} {
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(tenantID string) {
				defer wg.Done()
				result, err := orders.CreateOrder(ctx, cmd(tenantID))
				if err != nil {
					t.Errorf("CreateOrder %s: %v", tenantID, err)
					return
				}
				mu.Lock()
				numbers[tenantID] = append(numbers[tenantID], result.OrderNumber)
				mu.Unlock()
			}(tenantID)
		}
	}
	wg.Wait()

	for tenantID, got := range numbers {
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		if len(got) != workers {
			t.Fatalf("tenant %s: expected %d orders, got %d", tenantID, workers, len(got))
		}
		for i, n := range got {
			if n != int64(i+1) {
				t.Fatalf("tenant %s: expected numbers 1..%d, got %v", tenantID, workers, got)
			}
		}
	}

	order, err := store.FindByNumber(ctx, tenantA, 1)
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if len(order.Details) != 2 || len(order.Details[0].Selections) != 1 {
		t.Fatalf("expected details and selections to load, got %+v", order.Details)
	}
	if total, ok := order.RecomputeTotal(); !ok || total != 4250 || order.TotalPrice != 4250 {
		t.Fatalf("expected total 4250, stored %d recomputed %d", order.TotalPrice, total)
	}

	var repoErr repositories.RepositoryError
	if _, err := store.FindByID(ctx, tenantB, order.ID); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected cross-tenant lookup to be not found, got %v", err)
	}

	boom := errors.New("boom")
	err = store.RunOrderTx(ctx, tenantB, func(ctx context.Context, tx repositories.OrderTx) error {
		if _, err := tx.NextOrderNumber(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	next, err := orders.CreateOrder(ctx, cmd(tenantB))
	if err != nil {
		t.Fatalf("CreateOrder after rollback: %v", err)
	}
	if next.OrderNumber != workers+1 {
		t.Fatalf("expected %d after rollback, got %d", workers+1, next.OrderNumber)
	}

	updated, err := orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		TenantID: tenantA, OrderID: order.ID, TargetStatus: "Making", ActorID: "staff",
	})
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusMaking || len(updated.StatusHistory) != 1 {
		t.Fatalf("unexpected updated order: %+v", updated)
	}
	reloaded, err := store.FindByID(ctx, tenantA, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if reloaded.Status != domain.OrderStatusMaking || len(reloaded.StatusHistory) != 1 || reloaded.StatusHistory[0].ActorID != "staff" {
		t.Fatalf("status change not persisted: %+v", reloaded)
	}

	making := domain.OrderStatusMaking
	page, err := store.List(ctx, repositories.OrderListFilter{TenantID: tenantA, Status: &making, Limit: 5})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != order.ID {
		t.Fatalf("unexpected filtered list: %+v", page.Items)
	}

	seen := map[string]bool{}
	token := ""
	for {
		page, err := store.List(ctx, repositories.OrderListFilter{TenantID: tenantA, Limit: 7, PageToken: token})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("order %s listed twice", item.ID)
			}
			seen[item.ID] = true
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(seen) != workers {
		t.Fatalf("expected %d orders across pages, got %d", workers, len(seen))
	}
}
