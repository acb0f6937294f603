package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/shopnest/api/internal/domain"
	pfirestore "github.com/shopnest/api/internal/platform/firestore"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

// orderNumberClaim is the sentinel document written alongside an order to make
// the order number globally unique. Creating it twice fails with AlreadyExists,
// which surfaces to callers as a conflict.
type orderNumberClaim struct {
	OrderID   string    `firestore:"orderId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[domain.Order]
	numbers  *pfirestore.BaseRepository[orderNumberClaim]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, nil, nil),
		numbers:  pfirestore.NewBaseRepository[orderNumberClaim](provider, orderNumbersCollection, nil, nil),
	}, nil
}

// Insert persists a new order and claims its order number in one transaction.
// A second writer racing on the same number observes a conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order number is required")
	}

	orderRef, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	claimRef, err := r.numbers.DocumentRef(ctx, order.OrderNumber)
	if err != nil {
		return err
	}

	claim := orderNumberClaim{
		OrderID:   order.ID,
		ClaimedAt: order.CreatedAt,
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(claimRef, claim); err != nil {
			return err
		}
		return tx.Create(orderRef, order)
	})
}

// Update overwrites the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.orders.Set(ctx, order.ID, order)
	return err
}

// FindByID fetches an order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// FindByNumber fetches an order by its customer-facing order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, pfirestore.WrapError("orders.findbynumber", errors.New("order number is required"))
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError("orders.findbynumber", "order "+number+" not found")
	}
	order := docs[0].Data
	order.ID = docs[0].ID
	return order, nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, pfirestore.WrapError("orders.list", errors.New("customer id is required"))
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", id).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := doc.Data
		order.ID = doc.ID
		orders = append(orders, order)
	}
	return orders, nil
}

// MaxOrderNumber returns the greatest order number beginning with prefix, or
// the empty string when none exists yet.
func (r *OrderRepository) MaxOrderNumber(ctx context.Context, prefix string) (string, error) {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "", pfirestore.WrapError("orders.maxnumber", errors.New("prefix is required"))
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", ">=", trimmed).
			Where("orderNumber", "<", trimmed+"\uf8ff").
			OrderBy("orderNumber", firestore.Desc).
			Limit(1)
	})
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].Data.OrderNumber, nil
}
