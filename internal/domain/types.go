package domain

import (
	"time"
)

// PaymentMethod enumerates the supported ways a customer can pay for an order.
type PaymentMethod string

const (
	// PaymentMethodMpesa is the asynchronous STK-push mobile money flow.
	PaymentMethodMpesa PaymentMethod = "mpesa"
	// PaymentMethodCashOnDelivery settles the order on physical delivery.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// OrderStatus describes the fulfilment lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every created order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment has been received.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates the customer returned the order.
	OrderStatusReturned OrderStatus = "returned"
)

// OrderPaymentStatus tracks the settlement state mirrored onto the order.
type OrderPaymentStatus string

const (
	// OrderPaymentPending means no successful payment has been recorded.
	OrderPaymentPending OrderPaymentStatus = "pending"
	// OrderPaymentPaid means exactly one payment settled the order.
	OrderPaymentPaid OrderPaymentStatus = "paid"
	// OrderPaymentFailed means the most recent payment attempt failed.
	OrderPaymentFailed OrderPaymentStatus = "failed"
	// OrderPaymentRefunded means a settled payment was returned.
	OrderPaymentRefunded OrderPaymentStatus = "refunded"
)

// OrderItem is one immutable priced line of an order.
type OrderItem struct {
	ProductRef string  `firestore:"productRef"`
	VariantRef *string `firestore:"variantRef,omitempty"`
	Name       string  `firestore:"name"`
	Quantity   int     `firestore:"quantity"`
	UnitPrice  int64   `firestore:"unitPrice"`
	LineTotal  int64   `firestore:"lineTotal"`
}

// ShippingAddress captures the delivery destination for an order.
type ShippingAddress struct {
	Name      string `firestore:"name"`
	Phone     string `firestore:"phone"`
	CountyRef string `firestore:"countyRef"`
	AreaRef   string `firestore:"areaRef,omitempty"`
}

// OrderNote is one append-only audit entry on an order.
type OrderNote struct {
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// Order is a priced, numbered purchase. Items and the shipping address are
// immutable once the order is created.
type Order struct {
	ID              string             `firestore:"-"`
	OrderNumber     string             `firestore:"orderNumber"`
	CustomerID      string             `firestore:"customerId,omitempty"`
	ContactEmail    string             `firestore:"contactEmail,omitempty"`
	ContactPhone    string             `firestore:"contactPhone,omitempty"`
	Items           []OrderItem        `firestore:"items"`
	ShippingAddress ShippingAddress    `firestore:"shippingAddress"`
	Subtotal        int64              `firestore:"subtotal"`
	ShippingCost    int64              `firestore:"shippingCost"`
	TaxAmount       int64              `firestore:"taxAmount"`
	TotalAmount     int64              `firestore:"totalAmount"`
	PaymentMethod   PaymentMethod      `firestore:"paymentMethod"`
	Status          OrderStatus        `firestore:"status"`
	PaymentStatus   OrderPaymentStatus `firestore:"paymentStatus"`
	AdminNotes      []OrderNote        `firestore:"adminNotes,omitempty"`
	DeliveryDays    int                `firestore:"deliveryDays,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
	PaidAt          *time.Time         `firestore:"paidAt,omitempty"`
	CancelledAt     *time.Time         `firestore:"cancelledAt,omitempty"`
}

// TransactionStatus describes the lifecycle of one payment attempt.
// Every state other than pending is terminal.
type TransactionStatus string

const (
	// TransactionPending means the push request was accepted and no result has arrived.
	TransactionPending TransactionStatus = "pending"
	// TransactionCompleted means the provider reported a successful charge.
	TransactionCompleted TransactionStatus = "completed"
	// TransactionFailed means the provider reported a failure.
	TransactionFailed TransactionStatus = "failed"
	// TransactionCancelled means the customer declined the push prompt.
	TransactionCancelled TransactionStatus = "cancelled"
)

// TransactionPaymentStatus mirrors the money movement outcome of an attempt.
type TransactionPaymentStatus string

const (
	// TransactionPaymentPending means no money has moved yet.
	TransactionPaymentPending TransactionPaymentStatus = "pending"
	// TransactionPaymentPaid means money moved and a receipt exists.
	TransactionPaymentPaid TransactionPaymentStatus = "paid"
	// TransactionPaymentFailed means no money will move for this attempt.
	TransactionPaymentFailed TransactionPaymentStatus = "failed"
)

// PaymentTransaction records one push-payment attempt against an order,
// keyed by the provider-assigned checkout request identifier.
type PaymentTransaction struct {
	ID                 string                   `firestore:"-"`
	OrderID            string                   `firestore:"orderId"`
	OrderNumber        string                   `firestore:"orderNumber"`
	MerchantRequestID  string                   `firestore:"merchantRequestId"`
	CheckoutRequestID  string                   `firestore:"checkoutRequestId"`
	Amount             int64                    `firestore:"amount"`
	PhoneNumber        string                   `firestore:"phoneNumber"`
	Status             TransactionStatus        `firestore:"status"`
	PaymentStatus      TransactionPaymentStatus `firestore:"paymentStatus"`
	ResultCode         *int                     `firestore:"resultCode,omitempty"`
	ResultDesc         string                   `firestore:"resultDesc,omitempty"`
	MpesaReceiptNumber string                   `firestore:"mpesaReceiptNumber,omitempty"`
	TransactionDate    *time.Time               `firestore:"transactionDate,omitempty"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
	CompletedAt        *time.Time               `firestore:"completedAt,omitempty"`
}

// Terminal reports whether the transaction has left the pending state.
func (t PaymentTransaction) Terminal() bool {
	return t.Status != "" && t.Status != TransactionPending
}

// Variant is one purchasable variation of a product with its own pricing.
type Variant struct {
	ID                 string `firestore:"id"`
	Name               string `firestore:"name"`
	Price              int64  `firestore:"price"`
	WholesalePrice     *int64 `firestore:"wholesalePrice,omitempty"`
	WholesaleThreshold *int   `firestore:"wholesaleThreshold,omitempty"`
}

// Product is the read-only catalog view the pricing service consumes.
// Catalog CRUD is owned by the admin surface, not this service.
type Product struct {
	ID                 string    `firestore:"-"`
	Name               string    `firestore:"name"`
	Price              int64     `firestore:"price"`
	WholesalePrice     *int64    `firestore:"wholesalePrice,omitempty"`
	WholesaleThreshold *int      `firestore:"wholesaleThreshold,omitempty"`
	HasVariants        bool      `firestore:"hasVariants"`
	Variants           []Variant `firestore:"variants,omitempty"`
	Active             bool      `firestore:"active"`
}

// County is a top-level shipping zone with a default fee.
type County struct {
	ID                 string `firestore:"-"`
	Name               string `firestore:"name"`
	DefaultShippingFee int64  `firestore:"defaultShippingFee"`
	DeliveryDays       int    `firestore:"deliveryDays"`
}

// Area is a sub-zone of a county. A nil ShippingFee means the county default
// applies; an explicit zero means free shipping for the area.
type Area struct {
	ID           string `firestore:"-"`
	CountyRef    string `firestore:"countyRef"`
	Name         string `firestore:"name"`
	ShippingFee  *int64 `firestore:"shippingFee,omitempty"`
	DeliveryDays *int   `firestore:"deliveryDays,omitempty"`
	Active       bool   `firestore:"active"`
}
