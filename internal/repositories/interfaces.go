package repositories

import (
	"context"
	"time"

	domain "github.com/shopnest/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders. Insert enforces uniqueness of the order
// number and reports a conflict error when two writers allocate the same one.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	// MaxOrderNumber returns the lexicographically greatest order number
	// starting with prefix, or the empty string when none exists.
	MaxOrderNumber(ctx context.Context, prefix string) (string, error)
}

// PaymentOutcome is the terminal result applied to a pending transaction by
// either reconciliation trigger.
type PaymentOutcome struct {
	Status          domain.TransactionStatus
	PaymentStatus   domain.TransactionPaymentStatus
	ResultCode      int
	ResultDesc      string
	ReceiptNumber   string
	TransactionDate *time.Time
	ObservedAt      time.Time
}

// TransitionResult reports whether an outcome was applied. When Applied is
// false the transaction was already terminal and is returned unchanged.
type TransitionResult struct {
	Applied     bool
	Transaction domain.PaymentTransaction
	Order       domain.Order
}

// TransactionRepository persists payment transactions keyed by the provider's
// checkout request identifier. Terminal transactions are immutable: Transition
// is the only mutation path and is a no-op once the status has left pending.
type TransactionRepository interface {
	Insert(ctx context.Context, txn domain.PaymentTransaction) error
	FindByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error)
	// FindPendingByOrderID returns the open transaction for an order, if any.
	FindPendingByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error)
	// Transition atomically applies the outcome to the transaction and, on a
	// paid outcome, advances the linked order in the same write. The first
	// caller to observe a pending status wins; later callers get Applied=false.
	// At most one transaction per order ever reaches paymentStatus=paid: a
	// success arriving after the order is settled is finalised without credit
	// and also reports Applied=false.
	Transition(ctx context.Context, checkoutRequestID string, outcome PaymentOutcome) (TransitionResult, error)
}

// CatalogRepository reads product reference data managed by the admin surface.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productRef string) (domain.Product, error)
}

// ShippingRateRepository reads county and area shipping reference data.
type ShippingRateRepository interface {
	FindCounty(ctx context.Context, countyRef string) (domain.County, error)
	FindArea(ctx context.Context, areaRef string) (domain.Area, error)
}
