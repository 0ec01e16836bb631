package firestore

import (
	"time"

	domain "github.com/tableorder/api/internal/domain"
)

const (
	tablesCollection       = "tables"
	categoriesCollection   = "categories"
	dishesCollection       = "dishes"
	optionValuesCollection = "optionValues"
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	countersCollection     = "counters"

	orderCounterID = "orders"
)

type tenantDocument struct {
	Name     string `firestore:"name"`
	Currency string `firestore:"currency"`
}

type tableDocument struct {
	Number   string `firestore:"number"`
	Capacity int    `firestore:"capacity"`
}

type categoryDocument struct {
	Name string `firestore:"name"`
}

type dishDocument struct {
	CategoryID       string   `firestore:"categoryId"`
	Name             string   `firestore:"name"`
	Description      string   `firestore:"description"`
	BasePrice        int64    `firestore:"basePrice"`
	AllowedOptionIDs []string `firestore:"allowedOptionIds"`
}

type optionValueDocument struct {
	OptionID   string `firestore:"optionId"`
	OptionName string `firestore:"optionName"`
	Name       string `firestore:"name"`
	ExtraPrice int64  `firestore:"extraPrice"`
}

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	TableID       string                 `firestore:"tableId"`
	TableNumber   string                 `firestore:"tableNumber"`
	OrderNumber   int64                  `firestore:"orderNumber"`
	CustomerName  string                 `firestore:"customerName"`
	Comment       *string                `firestore:"comment,omitempty"`
	Status        string                 `firestore:"status"`
	Currency      string                 `firestore:"currency"`
	TotalPrice    int64                  `firestore:"totalPrice"`
	Details       []orderDetailDocument  `firestore:"details"`
	StatusHistory []statusChangeDocument `firestore:"statusHistory"`
	OrderTime     time.Time              `firestore:"orderTime"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

type orderDetailDocument struct {
	ID         string              `firestore:"id"`
	DishID     string              `firestore:"dishId"`
	DishName   string              `firestore:"dishName"`
	BasePrice  int64               `firestore:"basePrice"`
	Quantity   int                 `firestore:"quantity"`
	Selections []selectionDocument `firestore:"selections"`
}

type selectionDocument struct {
	ValueID    string `firestore:"valueId"`
	OptionID   string `firestore:"optionId"`
	OptionName string `firestore:"optionName"`
	ValueName  string `firestore:"valueName"`
	ExtraPrice int64  `firestore:"extraPrice"`
}

type statusChangeDocument struct {
	From    string    `firestore:"from"`
	To      string    `firestore:"to"`
	ActorID string    `firestore:"actorId"`
	At      time.Time `firestore:"at"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		TableID:       order.TableID,
		TableNumber:   order.TableNumber,
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.CustomerName,
		Comment:       order.Comment,
		Status:        string(order.Status),
		Currency:      order.Currency,
		TotalPrice:    order.TotalPrice,
		Details:       make([]orderDetailDocument, 0, len(order.Details)),
		StatusHistory: encodeStatusHistory(order.StatusHistory),
		OrderTime:     order.OrderTime.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	for _, detail := range order.Details {
		selections := make([]selectionDocument, 0, len(detail.Selections))
		for _, sel := range detail.Selections {
			selections = append(selections, selectionDocument(sel))
		}
		doc.Details = append(doc.Details, orderDetailDocument{
			ID:         detail.ID,
			DishID:     detail.DishID,
			DishName:   detail.DishName,
			BasePrice:  detail.BasePrice,
			Quantity:   detail.Quantity,
			Selections: selections,
		})
	}
	return doc
}

func encodeStatusHistory(history []domain.StatusChange) []statusChangeDocument {
	out := make([]statusChangeDocument, 0, len(history))
	for _, change := range history {
		out = append(out, statusChangeDocument{
			From:    string(change.From),
			To:      string(change.To),
			ActorID: change.ActorID,
			At:      change.At.UTC(),
		})
	}
	return out
}

func decodeOrder(tenantID, id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:           id,
		TenantID:     tenantID,
		TableID:      doc.TableID,
		TableNumber:  doc.TableNumber,
		OrderNumber:  doc.OrderNumber,
		CustomerName: doc.CustomerName,
		Comment:      doc.Comment,
		Status:       domain.OrderStatus(doc.Status),
		Currency:     doc.Currency,
		TotalPrice:   doc.TotalPrice,
		Details:      make([]domain.OrderDetail, 0, len(doc.Details)),
		OrderTime:    doc.OrderTime.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
	for _, detail := range doc.Details {
		selections := make([]domain.OrderDetailSelection, 0, len(detail.Selections))
		for _, sel := range detail.Selections {
			selections = append(selections, domain.OrderDetailSelection(sel))
		}
		order.Details = append(order.Details, domain.OrderDetail{
			ID:         detail.ID,
			DishID:     detail.DishID,
			DishName:   detail.DishName,
			BasePrice:  detail.BasePrice,
			Quantity:   detail.Quantity,
			Selections: selections,
		})
	}
	for _, change := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:    domain.OrderStatus(change.From),
			To:      domain.OrderStatus(change.To),
			ActorID: change.ActorID,
			At:      change.At.UTC(),
		})
	}
	return order
}
