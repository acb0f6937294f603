package services

import (
	"context"
	"time"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/payments/daraja"
)

// Logger defines the logging hook services emit structured events through.
type Logger func(ctx context.Context, event string, fields map[string]any)

// PriceQuote is the authoritative server-side price for one cart line.
type PriceQuote struct {
	UnitPrice int64
	Name      string
}

// PricingService computes authoritative unit prices. It never trusts
// client-submitted prices; callers compare against the quote.
type PricingService interface {
	ExpectedUnitPrice(ctx context.Context, productRef string, variantRef *string, quantity int) (PriceQuote, error)
}

// ShippingRate is the resolved delivery fee and estimate for an address.
type ShippingRate struct {
	Fee          int64
	DeliveryDays int
}

// ShippingService resolves shipping fees from county and area reference data.
type ShippingService interface {
	ResolveRate(ctx context.Context, countyRef, areaRef string) (ShippingRate, error)
}

// OrderNumberGenerator allocates candidate order numbers. Uniqueness is
// enforced at insert time; callers retry on conflict.
type OrderNumberGenerator interface {
	Next(ctx context.Context) (string, error)
}

// CreateOrderItemInput is one client-submitted cart line.
type CreateOrderItemInput struct {
	ProductRef string
	VariantRef *string
	Quantity   int
	UnitPrice  int64
	LineTotal  int64
}

// CreateOrderInput carries everything needed to create an order.
type CreateOrderInput struct {
	CustomerID      string
	ContactEmail    string
	ContactPhone    string
	Items           []CreateOrderItemInput
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
	// ShippingCost pins a precomputed fee; nil means resolve server-side.
	ShippingCost *int64
}

// OrderService owns order creation and the customer-facing order surface.
type OrderService interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (domain.Order, error)
	GetByNumber(ctx context.Context, customerID, orderNumber string) (domain.Order, error)
	ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	Cancel(ctx context.Context, customerID, orderNumber string) (domain.Order, error)
}

// PaymentGateway is the outbound STK push surface the payment service consumes.
type PaymentGateway interface {
	RequestPush(ctx context.Context, req daraja.PushRequest) (daraja.PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (daraja.StatusResult, error)
}

// InitiatePaymentInput identifies the order to collect and where to push.
type InitiatePaymentInput struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	PhoneNumber string
}

// InitiatedPayment reports the dispatched push attempt.
type InitiatedPayment struct {
	MerchantRequestID string
	CheckoutRequestID string
	TransactionID     string
}

// CallbackResult is the provider's webhook payload reduced to domain terms.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            int64
	ReceiptNumber     string
	TransactionDate   *time.Time
	PhoneNumber       string
}

// PaymentService orchestrates push payments and their reconciliation.
type PaymentService interface {
	Initiate(ctx context.Context, input InitiatePaymentInput) (InitiatedPayment, error)
	// HandleCallback applies a webhook result. The returned error is for
	// logging only; callers always acknowledge the provider.
	HandleCallback(ctx context.Context, result CallbackResult) error
	// Verify returns the stored transaction, querying the provider once when
	// it is still pending.
	Verify(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error)
	// AwaitResult polls Verify until the transaction turns terminal or the
	// polling window elapses. Timing out never mutates storage.
	AwaitResult(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error)
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
// Publishing is best-effort; failures are logged, never surfaced to customers.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order domain.Order) error
	PublishPaymentConfirmed(ctx context.Context, order domain.Order, txn domain.PaymentTransaction) error
}
