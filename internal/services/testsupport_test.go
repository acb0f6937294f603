package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/payments/daraja"
	"github.com/shopnest/api/internal/repositories"
)

type stubRepoError struct {
	msg      string
	notFound bool
	conflict bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return false }

func notFound(msg string) error { return &stubRepoError{msg: msg, notFound: true} }
func conflict(msg string) error { return &stubRepoError{msg: msg, conflict: true} }

// memOrders is an in-memory OrderRepository with the same uniqueness guarantee
// the real store provides on order numbers.
type memOrders struct {
	mu      sync.Mutex
	byID    map[string]domain.Order
	numbers map[string]string
}

func newMemOrders() *memOrders {
	return &memOrders{
		byID:    make(map[string]domain.Order),
		numbers: make(map[string]string),
	}
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.numbers[order.OrderNumber]; exists {
		return conflict("order number " + order.OrderNumber + " already claimed")
	}
	m.numbers[order.OrderNumber] = order.ID
	m.byID[order.ID] = order
	return nil
}

func (m *memOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[order.ID]; !exists {
		return notFound("order " + order.ID + " not found")
	}
	m.byID[order.ID] = order
	return nil
}

func (m *memOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.byID[orderID]
	if !ok {
		return domain.Order{}, notFound("order " + orderID + " not found")
	}
	return order, nil
}

func (m *memOrders) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.numbers[orderNumber]
	if !ok {
		return domain.Order{}, notFound("order " + orderNumber + " not found")
	}
	return m.byID[id], nil
}

func (m *memOrders) ListByCustomer(_ context.Context, customerID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []domain.Order
	for _, order := range m.byID {
		if order.CustomerID == customerID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (m *memOrders) MaxOrderNumber(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := ""
	for number := range m.numbers {
		if strings.HasPrefix(number, prefix) && number > max {
			max = number
		}
	}
	return max, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memTransactions is an in-memory TransactionRepository whose Transition is a
// compare-and-swap over the pending status, mirroring the real store.
type memTransactions struct {
	mu     sync.Mutex
	byID   map[string]domain.PaymentTransaction
	orders *memOrders
}

func newMemTransactions(orders *memOrders) *memTransactions {
	return &memTransactions{
		byID:   make(map[string]domain.PaymentTransaction),
		orders: orders,
	}
}

func (m *memTransactions) Insert(_ context.Context, txn domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[txn.CheckoutRequestID]; exists {
		return conflict("transaction " + txn.CheckoutRequestID + " already exists")
	}
	m.byID[txn.CheckoutRequestID] = txn
	return nil
}

func (m *memTransactions) FindByCheckoutID(_ context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.byID[checkoutRequestID]
	if !ok {
		return domain.PaymentTransaction{}, notFound("transaction " + checkoutRequestID + " not found")
	}
	return txn, nil
}

func (m *memTransactions) FindPendingByOrderID(_ context.Context, orderID string) (domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.byID {
		if txn.OrderID == orderID && txn.Status == domain.TransactionPending {
			return txn, nil
		}
	}
	return domain.PaymentTransaction{}, notFound("no pending transaction for order " + orderID)
}

func (m *memTransactions) Transition(_ context.Context, checkoutRequestID string, outcome repositories.PaymentOutcome) (repositories.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.byID[checkoutRequestID]
	if !ok {
		return repositories.TransitionResult{}, notFound("transaction " + checkoutRequestID + " not found")
	}

	var order domain.Order
	if m.orders != nil {
		m.orders.mu.Lock()
		order = m.orders.byID[txn.OrderID]
		m.orders.mu.Unlock()
	}

	if txn.Terminal() {
		return repositories.TransitionResult{Applied: false, Transaction: txn, Order: order}, nil
	}

	// Mirrors the real store: a second success for an already-paid order is
	// finalised without credit and never touches the order.
	if m.orders != nil && order.ID != "" &&
		outcome.PaymentStatus == domain.TransactionPaymentPaid &&
		order.PaymentStatus == domain.OrderPaymentPaid {
		txn.Status = outcome.Status
		txn.PaymentStatus = domain.TransactionPaymentFailed
		code := outcome.ResultCode
		txn.ResultCode = &code
		txn.ResultDesc = "Order already settled by another transaction"
		txn.MpesaReceiptNumber = outcome.ReceiptNumber
		txn.TransactionDate = outcome.TransactionDate
		txn.UpdatedAt = outcome.ObservedAt
		m.byID[checkoutRequestID] = txn
		return repositories.TransitionResult{Applied: false, Transaction: txn, Order: order}, nil
	}

	txn.Status = outcome.Status
	txn.PaymentStatus = outcome.PaymentStatus
	code := outcome.ResultCode
	txn.ResultCode = &code
	txn.ResultDesc = outcome.ResultDesc
	txn.MpesaReceiptNumber = outcome.ReceiptNumber
	txn.TransactionDate = outcome.TransactionDate
	txn.UpdatedAt = outcome.ObservedAt
	if outcome.Status == domain.TransactionCompleted {
		completedAt := outcome.ObservedAt
		txn.CompletedAt = &completedAt
	}
	m.byID[checkoutRequestID] = txn

	if m.orders != nil && order.ID != "" {
		if outcome.PaymentStatus == domain.TransactionPaymentPaid {
			order.Status = domain.OrderStatusConfirmed
			order.PaymentStatus = domain.OrderPaymentPaid
			paidAt := outcome.ObservedAt
			order.PaidAt = &paidAt
			if outcome.ReceiptNumber != "" {
				order.AdminNotes = append(order.AdminNotes, domain.OrderNote{
					Text:      "Payment received. M-Pesa receipt " + outcome.ReceiptNumber,
					CreatedAt: outcome.ObservedAt,
				})
			}
		} else {
			order.PaymentStatus = domain.OrderPaymentFailed
		}
		order.UpdatedAt = outcome.ObservedAt
		m.orders.mu.Lock()
		m.orders.byID[order.ID] = order
		m.orders.mu.Unlock()
	}

	return repositories.TransitionResult{Applied: true, Transaction: txn, Order: order}, nil
}

type stubCatalog struct {
	products map[string]domain.Product
}

func (s *stubCatalog) FindProduct(_ context.Context, productRef string) (domain.Product, error) {
	product, ok := s.products[productRef]
	if !ok {
		return domain.Product{}, notFound("product " + productRef + " not found")
	}
	return product, nil
}

type stubRates struct {
	counties map[string]domain.County
	areas    map[string]domain.Area
}

func (s *stubRates) FindCounty(_ context.Context, countyRef string) (domain.County, error) {
	county, ok := s.counties[countyRef]
	if !ok {
		return domain.County{}, notFound("county " + countyRef + " not found")
	}
	return county, nil
}

func (s *stubRates) FindArea(_ context.Context, areaRef string) (domain.Area, error) {
	area, ok := s.areas[areaRef]
	if !ok {
		return domain.Area{}, notFound("area " + areaRef + " not found")
	}
	return area, nil
}

type stubGateway struct {
	mu         sync.Mutex
	pushFn     func(req daraja.PushRequest) (daraja.PushResponse, error)
	queryFn    func(checkoutRequestID string) (daraja.StatusResult, error)
	pushCalls  int
	queryCalls int
}

func (s *stubGateway) RequestPush(_ context.Context, req daraja.PushRequest) (daraja.PushResponse, error) {
	s.mu.Lock()
	s.pushCalls++
	fn := s.pushFn
	s.mu.Unlock()
	if fn == nil {
		return daraja.PushResponse{}, fmt.Errorf("unexpected push call")
	}
	return fn(req)
}

func (s *stubGateway) QueryStatus(_ context.Context, checkoutRequestID string) (daraja.StatusResult, error) {
	s.mu.Lock()
	s.queryCalls++
	fn := s.queryFn
	s.mu.Unlock()
	if fn == nil {
		return daraja.StatusResult{}, fmt.Errorf("unexpected query call")
	}
	return fn(checkoutRequestID)
}

type stubPublisher struct {
	mu        sync.Mutex
	created   []domain.Order
	confirmed []domain.PaymentTransaction
	err       error
}

func (s *stubPublisher) PublishOrderCreated(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, order)
	return nil
}

func (s *stubPublisher) PublishPaymentConfirmed(_ context.Context, _ domain.Order, txn domain.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.confirmed = append(s.confirmed, txn)
	return nil
}

func (s *stubPublisher) confirmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.confirmed)
}
