package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/payments/daraja"
	"github.com/shopnest/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the payment request failed validation.
	ErrPaymentInvalidInput = errors.New("payments: invalid input")
	// ErrPaymentInitiationFailed indicates the provider rejected the push synchronously.
	ErrPaymentInitiationFailed = errors.New("payments: initiation failed")
	// ErrTransactionNotFound indicates no transaction exists for the checkout id.
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	// ErrAwaitTimeout indicates the polling window elapsed without a terminal
	// result. The stored transaction stays pending so a late webhook can still
	// resolve it.
	ErrAwaitTimeout = errors.New("payments: result not available within polling window")
)

// Result code the provider reports when the customer dismisses the PIN prompt.
const resultCodeCancelledByUser = 1032

const (
	defaultPollWindow   = 3 * time.Minute
	defaultPollInterval = 2 * time.Second

	paymentMetricNamespace = "github.com/shopnest/api/internal/services"
)

// PaymentServiceDeps bundles collaborators required to construct a payment service.
type PaymentServiceDeps struct {
	Gateway      PaymentGateway
	Transactions repositories.TransactionRepository
	Orders       repositories.OrderRepository
	Publisher    OrderEventPublisher
	Logger       Logger
	Clock        func() time.Time
	Meter        metric.Meter
	PollWindow   time.Duration
	PollInterval time.Duration
}

type paymentService struct {
	gateway      PaymentGateway
	transactions repositories.TransactionRepository
	orders       repositories.OrderRepository
	publisher    OrderEventPublisher
	logger       Logger
	clock        func() time.Time
	pollWindow   time.Duration
	pollInterval time.Duration

	callbackFailures        metric.Int64Counter
	callbackFailuresEnabled bool
}

// NewPaymentService constructs the push payment orchestrator.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("payment service: transaction repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	pollWindow := deps.PollWindow
	if pollWindow <= 0 {
		pollWindow = defaultPollWindow
	}
	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(paymentMetricNamespace)
	}
	// Swallowed webhook failures are invisible to every caller; the counter is
	// the only way to notice them besides logs.
	failures, failuresErr := meter.Int64Counter(
		"payments.callback.failures",
		metric.WithDescription("Count of webhook callbacks that failed internally but were acknowledged"),
	)

	return &paymentService{
		gateway:                 deps.Gateway,
		transactions:            deps.Transactions,
		orders:                  deps.Orders,
		publisher:               deps.Publisher,
		logger:                  logger,
		clock:                   func() time.Time { return clock().UTC() },
		pollWindow:              pollWindow,
		pollInterval:            pollInterval,
		callbackFailures:        failures,
		callbackFailuresEnabled: failuresErr == nil,
	}, nil
}

func (s *paymentService) Initiate(ctx context.Context, input InitiatePaymentInput) (InitiatedPayment, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return InitiatedPayment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if input.Amount <= 0 {
		return InitiatedPayment{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(input.PhoneNumber) == "" {
		return InitiatedPayment{}, fmt.Errorf("%w: phone number is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return InitiatedPayment{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return InitiatedPayment{}, err
	}
	if number := strings.TrimSpace(input.OrderNumber); number != "" && number != order.OrderNumber {
		return InitiatedPayment{}, fmt.Errorf("%w: order number does not match order", ErrPaymentInvalidInput)
	}
	if order.PaymentMethod != domain.PaymentMethodMpesa {
		return InitiatedPayment{}, fmt.Errorf("%w: order is not payable by push", ErrPaymentInvalidInput)
	}
	if order.PaymentStatus == domain.OrderPaymentPaid {
		return InitiatedPayment{}, fmt.Errorf("%w: order is already paid", ErrPaymentInvalidInput)
	}

	// A still-open push for this order is reused instead of prompting the
	// customer twice.
	if pending, err := s.transactions.FindPendingByOrderID(ctx, order.ID); err == nil {
		return InitiatedPayment{
			MerchantRequestID: pending.MerchantRequestID,
			CheckoutRequestID: pending.CheckoutRequestID,
			TransactionID:     pending.CheckoutRequestID,
		}, nil
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return InitiatedPayment{}, err
		}
	}

	resp, err := s.gateway.RequestPush(ctx, daraja.PushRequest{
		Amount:           input.Amount,
		PhoneNumber:      input.PhoneNumber,
		AccountReference: order.OrderNumber,
		Description:      "Order " + order.OrderNumber,
	})
	if err != nil {
		if errors.Is(err, daraja.ErrPushRejected) || errors.Is(err, daraja.ErrInvalidPhone) {
			// No transaction record is made for a synchronous rejection.
			return InitiatedPayment{}, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
		}
		return InitiatedPayment{}, err
	}

	now := s.clock()
	txn := domain.PaymentTransaction{
		ID:                resp.CheckoutRequestID,
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		Amount:            input.Amount,
		PhoneNumber:       input.PhoneNumber,
		Status:            domain.TransactionPending,
		PaymentStatus:     domain.TransactionPaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.transactions.Insert(ctx, txn); err != nil {
		return InitiatedPayment{}, err
	}

	s.logger(ctx, "payments.initiated", map[string]any{
		"order_number":        order.OrderNumber,
		"checkout_request_id": resp.CheckoutRequestID,
		"amount":              input.Amount,
	})

	return InitiatedPayment{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		TransactionID:     resp.CheckoutRequestID,
	}, nil
}

func (s *paymentService) HandleCallback(ctx context.Context, result CallbackResult) error {
	err := s.handleCallback(ctx, result)
	if err != nil {
		s.logger(ctx, "payments.callback.failed", map[string]any{
			"checkout_request_id": result.CheckoutRequestID,
			"result_code":         result.ResultCode,
			"error":               err.Error(),
		})
		if s.callbackFailuresEnabled {
			s.callbackFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.Int("result_code", result.ResultCode),
			))
		}
	}
	return err
}

func (s *paymentService) handleCallback(ctx context.Context, result CallbackResult) error {
	checkoutID := strings.TrimSpace(result.CheckoutRequestID)
	if checkoutID == "" {
		return fmt.Errorf("%w: checkout request id is required", ErrPaymentInvalidInput)
	}

	outcome := s.outcomeFromResult(result.ResultCode, result.ResultDesc, result.ReceiptNumber, result.TransactionDate)
	transition, err := s.transactions.Transition(ctx, checkoutID, outcome)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, checkoutID)
		}
		return err
	}

	if !transition.Applied {
		s.logger(ctx, "payments.callback.duplicate", map[string]any{
			"checkout_request_id": checkoutID,
			"status":              transition.Transaction.Status,
		})
		return nil
	}

	s.logger(ctx, "payments.callback.applied", map[string]any{
		"checkout_request_id": checkoutID,
		"status":              transition.Transaction.Status,
		"receipt":             transition.Transaction.MpesaReceiptNumber,
	})

	if transition.Transaction.PaymentStatus == domain.TransactionPaymentPaid && s.publisher != nil {
		if err := s.publisher.PublishPaymentConfirmed(ctx, transition.Order, transition.Transaction); err != nil {
			s.logger(ctx, "payments.event.publish_failed", map[string]any{
				"checkout_request_id": checkoutID,
				"error":               err.Error(),
			})
		}
	}
	return nil
}

func (s *paymentService) Verify(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	checkoutID := strings.TrimSpace(checkoutRequestID)
	if checkoutID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: checkout request id is required", ErrPaymentInvalidInput)
	}

	txn, err := s.transactions.FindByCheckoutID(ctx, checkoutID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.PaymentTransaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, checkoutID)
		}
		return domain.PaymentTransaction{}, err
	}
	if txn.Terminal() {
		return txn, nil
	}

	status, err := s.gateway.QueryStatus(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, daraja.ErrResultPending) {
			return txn, nil
		}
		// The stored pending state is still a truthful answer.
		s.logger(ctx, "payments.verify.query_failed", map[string]any{
			"checkout_request_id": checkoutID,
			"error":               err.Error(),
		})
		return txn, nil
	}

	outcome := s.outcomeFromResult(status.ResultCode, status.ResultDesc, "", nil)
	transition, err := s.transactions.Transition(ctx, checkoutID, outcome)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}

	if transition.Applied && transition.Transaction.PaymentStatus == domain.TransactionPaymentPaid && s.publisher != nil {
		if err := s.publisher.PublishPaymentConfirmed(ctx, transition.Order, transition.Transaction); err != nil {
			s.logger(ctx, "payments.event.publish_failed", map[string]any{
				"checkout_request_id": checkoutID,
				"error":               err.Error(),
			})
		}
	}
	return transition.Transaction, nil
}

func (s *paymentService) AwaitResult(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	deadline := time.NewTimer(s.pollWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		txn, err := s.Verify(ctx, checkoutRequestID)
		if err != nil {
			return domain.PaymentTransaction{}, err
		}
		if txn.Terminal() {
			return txn, nil
		}

		select {
		case <-ctx.Done():
			return domain.PaymentTransaction{}, ctx.Err()
		case <-deadline.C:
			// Storage keeps the transaction pending; a late webhook still wins.
			return txn, ErrAwaitTimeout
		case <-ticker.C:
		}
	}
}

func (s *paymentService) outcomeFromResult(code int, desc, receipt string, txDate *time.Time) repositories.PaymentOutcome {
	outcome := repositories.PaymentOutcome{
		ResultCode: code,
		ResultDesc: desc,
		ObservedAt: s.clock(),
	}
	switch {
	case code == 0:
		outcome.Status = domain.TransactionCompleted
		outcome.PaymentStatus = domain.TransactionPaymentPaid
		outcome.ReceiptNumber = receipt
		outcome.TransactionDate = txDate
	case code == resultCodeCancelledByUser:
		outcome.Status = domain.TransactionCancelled
		outcome.PaymentStatus = domain.TransactionPaymentFailed
	default:
		outcome.Status = domain.TransactionFailed
		outcome.PaymentStatus = domain.TransactionPaymentFailed
	}
	return outcome
}
