package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the create request failed validation.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrPriceMismatch indicates a client-submitted price disagreed with the oracle.
	ErrPriceMismatch = errors.New("orders: price mismatch")
	// ErrOrderNotFound indicates the requested order does not exist for the caller.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderNotCancellable indicates the order has advanced past cancellation.
	ErrOrderNotCancellable = errors.New("orders: not cancellable")
)

// The submitted price may differ from the authoritative price by at most one
// minor unit. Wider deviations are treated as tampering or a stale cart.
const priceToleranceMinorUnits = int64(1)

// Insert retries after losing an order number race. Each retry re-reads the
// current daily maximum, so a handful of attempts absorbs realistic contention.
const orderNumberAttempts = 5

// PriceMismatchDetail describes the first failing cart line.
type PriceMismatchDetail struct {
	ItemIndex int
	Expected  int64
	Submitted int64
}

// PriceMismatchError carries the detail alongside the ErrPriceMismatch sentinel.
type PriceMismatchError struct {
	Detail PriceMismatchDetail
}

// Error implements the error interface.
func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("orders: price mismatch on item %d: expected %d, submitted %d",
		e.Detail.ItemIndex, e.Detail.Expected, e.Detail.Submitted)
}

// Unwrap ties the typed error to the sentinel.
func (e *PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// OrderServiceDeps bundles collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Pricing   PricingService
	Shipping  ShippingService
	Numbers   OrderNumberGenerator
	Publisher OrderEventPublisher
	Logger    Logger
	Clock     func() time.Time
	IDFunc    func() string
}

type orderService struct {
	orders    repositories.OrderRepository
	pricing   PricingService
	shipping  ShippingService
	numbers   OrderNumberGenerator
	publisher OrderEventPublisher
	logger    Logger
	clock     func() time.Time
	newID     func() string
}

// NewOrderService constructs the order creation and customer order surface.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing service is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("order service: shipping service is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDFunc
	if newID == nil {
		newID = func() string { return "ord_" + ulid.Make().String() }
	}

	return &orderService{
		orders:    deps.Orders,
		pricing:   deps.Pricing,
		shipping:  deps.Shipping,
		numbers:   deps.Numbers,
		publisher: deps.Publisher,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, input CreateOrderInput) (domain.Order, error) {
	if err := validateCreateOrder(input); err != nil {
		return domain.Order{}, err
	}

	// Every line is verified against the oracle before anything is written.
	// The first mismatch fails the whole request.
	items := make([]domain.OrderItem, 0, len(input.Items))
	var subtotal int64
	for i, item := range input.Items {
		quote, err := s.pricing.ExpectedUnitPrice(ctx, item.ProductRef, item.VariantRef, item.Quantity)
		if err != nil {
			return domain.Order{}, err
		}
		if diff := item.UnitPrice - quote.UnitPrice; diff > priceToleranceMinorUnits || diff < -priceToleranceMinorUnits {
			return domain.Order{}, &PriceMismatchError{Detail: PriceMismatchDetail{
				ItemIndex: i,
				Expected:  quote.UnitPrice,
				Submitted: item.UnitPrice,
			}}
		}

		lineTotal := quote.UnitPrice * int64(item.Quantity)
		items = append(items, domain.OrderItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			VariantRef: item.VariantRef,
			Name:       quote.Name,
			Quantity:   item.Quantity,
			UnitPrice:  quote.UnitPrice,
			LineTotal:  lineTotal,
		})
		subtotal += lineTotal
	}

	var shippingCost int64
	var deliveryDays int
	if input.ShippingCost != nil {
		// Caller-pinned fee, typically the one already shown at checkout.
		// Shipping is not tamper-sensitive the way prices are.
		shippingCost = *input.ShippingCost
	} else {
		rate, err := s.shipping.ResolveRate(ctx, input.ShippingAddress.CountyRef, input.ShippingAddress.AreaRef)
		if err != nil {
			return domain.Order{}, err
		}
		shippingCost = rate.Fee
		deliveryDays = rate.DeliveryDays
	}

	now := s.clock()
	order := domain.Order{
		ID:              s.newID(),
		CustomerID:      strings.TrimSpace(input.CustomerID),
		ContactEmail:    strings.TrimSpace(input.ContactEmail),
		ContactPhone:    strings.TrimSpace(input.ContactPhone),
		Items:           items,
		ShippingAddress: input.ShippingAddress,
		Subtotal:        subtotal,
		ShippingCost:    shippingCost,
		TaxAmount:       0,
		TotalAmount:     subtotal + shippingCost,
		PaymentMethod:   input.PaymentMethod,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.OrderPaymentPending,
		DeliveryDays:    deliveryDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.insertWithFreshNumber(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "orders.created", map[string]any{
		"order_number": order.OrderNumber,
		"total_amount": order.TotalAmount,
		"items":        len(order.Items),
	})

	if s.publisher != nil {
		if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
			s.logger(ctx, "orders.event.publish_failed", map[string]any{
				"order_number": order.OrderNumber,
				"error":        err.Error(),
			})
		}
	}
	return order, nil
}

// insertWithFreshNumber allocates a number and writes the order, retrying when
// a concurrent checkout claimed the same number first.
func (s *orderService) insertWithFreshNumber(ctx context.Context, order *domain.Order) error {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := s.numbers.Next(ctx)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}

		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			s.logger(ctx, "orders.number.conflict", map[string]any{
				"order_number": number,
				"attempt":      attempt + 1,
			})
			continue
		}
		return err
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrOrderNumberExhausted, orderNumberAttempts)
}

func (s *orderService) GetByNumber(ctx context.Context, customerID, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
		}
		return domain.Order{}, err
	}

	// An order that belongs to a different customer is indistinguishable
	// from a missing one to the caller.
	if owner := strings.TrimSpace(customerID); owner != "" && order.CustomerID != "" && order.CustomerID != owner {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
	}
	return order, nil
}

func (s *orderService) ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	return s.orders.ListByCustomer(ctx, id)
}

func (s *orderService) Cancel(ctx context.Context, customerID, orderNumber string) (domain.Order, error) {
	order, err := s.GetByNumber(ctx, customerID, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}

	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed:
	default:
		return domain.Order{}, fmt.Errorf("%w: status is %s", ErrOrderNotCancellable, order.Status)
	}

	now := s.clock()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	order.AdminNotes = append(order.AdminNotes, domain.OrderNote{
		Text:      "Cancelled by customer",
		CreatedAt: now,
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "orders.cancelled", map[string]any{"order_number": order.OrderNumber})
	return order, nil
}

func validateCreateOrder(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	for i, item := range input.Items {
		if strings.TrimSpace(item.ProductRef) == "" {
			return fmt.Errorf("%w: item %d is missing a product ref", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}
	}

	switch input.PaymentMethod {
	case domain.PaymentMethodMpesa, domain.PaymentMethodCashOnDelivery:
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, input.PaymentMethod)
	}

	if strings.TrimSpace(input.ShippingAddress.Name) == "" || strings.TrimSpace(input.ShippingAddress.Phone) == "" {
		return fmt.Errorf("%w: shipping address requires a name and phone", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(input.ShippingAddress.CountyRef) == "" {
		return fmt.Errorf("%w: shipping address requires a county", ErrOrderInvalidInput)
	}

	if strings.TrimSpace(input.CustomerID) == "" && strings.TrimSpace(input.ContactEmail) == "" {
		return fmt.Errorf("%w: guest checkout requires a contact email", ErrOrderInvalidInput)
	}

	if input.ShippingCost != nil && *input.ShippingCost < 0 {
		return fmt.Errorf("%w: shipping cost must not be negative", ErrOrderInvalidInput)
	}
	return nil
}
