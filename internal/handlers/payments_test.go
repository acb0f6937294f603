package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/services"
)

type stubPaymentService struct {
	initiateFn func(ctx context.Context, input services.InitiatePaymentInput) (services.InitiatedPayment, error)
	callbackFn func(ctx context.Context, result services.CallbackResult) error
	verifyFn   func(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error)
	awaitFn    func(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error)
}

func (s *stubPaymentService) Initiate(ctx context.Context, input services.InitiatePaymentInput) (services.InitiatedPayment, error) {
	if s.initiateFn == nil {
		return services.InitiatedPayment{}, nil
	}
	return s.initiateFn(ctx, input)
}

func (s *stubPaymentService) HandleCallback(ctx context.Context, result services.CallbackResult) error {
	if s.callbackFn == nil {
		return nil
	}
	return s.callbackFn(ctx, result)
}

func (s *stubPaymentService) Verify(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	if s.verifyFn == nil {
		return domain.PaymentTransaction{}, nil
	}
	return s.verifyFn(ctx, checkoutRequestID)
}

func (s *stubPaymentService) AwaitResult(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	if s.awaitFn == nil {
		return domain.PaymentTransaction{}, nil
	}
	return s.awaitFn(ctx, checkoutRequestID)
}

func newPaymentsServer(t *testing.T, svc services.PaymentService, ratePerMinute int) http.Handler {
	t.Helper()
	h := NewPaymentHandlers(newTestAuthenticator(t), svc, ratePerMinute)
	return NewRouter(
		WithPaymentRoutes(h.Routes),
		WithWebhookRoutes(h.WebhookRoutes),
	)
}

func TestInitiatePaymentSuccess(t *testing.T) {
	svc := &stubPaymentService{
		initiateFn: func(_ context.Context, input services.InitiatePaymentInput) (services.InitiatedPayment, error) {
			if input.OrderID != "ord_01HZ" || input.Amount != 7200 {
				t.Errorf("unexpected input %+v", input)
			}
			return services.InitiatedPayment{
				MerchantRequestID: "mr-1",
				CheckoutRequestID: "ws_CO_1",
				TransactionID:     "ws_CO_1",
			}, nil
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(
		`{"orderId": "ord_01HZ", "orderNumber": "SN260314001", "amount": 7200, "phoneNumber": "0712345678"}`,
	))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body initiatePaymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parsing response failed: %v", err)
	}
	if body.CheckoutRequestID != "ws_CO_1" || body.Status != "initiated" {
		t.Errorf("unexpected payload %+v", body)
	}
}

func TestInitiateAcceptsPhoneField(t *testing.T) {
	var captured services.InitiatePaymentInput
	svc := &stubPaymentService{
		initiateFn: func(_ context.Context, input services.InitiatePaymentInput) (services.InitiatedPayment, error) {
			captured = input
			return services.InitiatedPayment{CheckoutRequestID: "ws_CO_1"}, nil
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(
		`{"orderId": "ord_01HZ", "amount": 7200, "phone": "0712345678"}`,
	))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PhoneNumber != "0712345678" {
		t.Errorf("expected phone field forwarded, got %q", captured.PhoneNumber)
	}
}

func TestInitiateUnknownOrderBadRequest(t *testing.T) {
	svc := &stubPaymentService{
		initiateFn: func(context.Context, services.InitiatePaymentInput) (services.InitiatedPayment, error) {
			return services.InitiatedPayment{}, services.ErrOrderNotFound
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(
		`{"orderId": "ord_missing", "amount": 7200, "phone": "0712345678"}`,
	))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parsing response failed: %v", err)
	}
	if body["error"] != "unknown_order" {
		t.Errorf("expected unknown_order code, got %v", body["error"])
	}
}

func TestInitiatePaymentProviderRejection(t *testing.T) {
	svc := &stubPaymentService{
		initiateFn: func(context.Context, services.InitiatePaymentInput) (services.InitiatedPayment, error) {
			return services.InitiatedPayment{}, services.ErrPaymentInitiationFailed
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(
		`{"orderId": "ord_01HZ", "amount": 7200, "phoneNumber": "0712345678"}`,
	))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parsing response failed: %v", err)
	}
	if body["error"] != "payment_initiation_failed" {
		t.Errorf("expected payment_initiation_failed code, got %v", body["error"])
	}
}

func TestInitiatePaymentRateLimited(t *testing.T) {
	server := newPaymentsServer(t, &stubPaymentService{}, 1)

	payload := `{"orderId": "ord_01HZ", "amount": 7200, "phoneNumber": "0712345678"}`
	first := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(payload))
	first.RemoteAddr = "198.51.100.7:4000"
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, first)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(payload))
	second.RemoteAddr = "198.51.100.7:4001"
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestVerifyRequiresCheckoutID(t *testing.T) {
	server := newPaymentsServer(t, &stubPaymentService{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestVerifyUnknownTransaction(t *testing.T) {
	svc := &stubPaymentService{
		verifyFn: func(context.Context, string) (domain.PaymentTransaction, error) {
			return domain.PaymentTransaction{}, services.ErrTransactionNotFound
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?checkoutRequestID=ws_CO_missing", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestVerifyReturnsTransaction(t *testing.T) {
	svc := &stubPaymentService{
		verifyFn: func(_ context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
			return domain.PaymentTransaction{
				CheckoutRequestID:  checkoutRequestID,
				OrderNumber:        "SN260314001",
				Status:             domain.TransactionCompleted,
				PaymentStatus:      domain.TransactionPaymentPaid,
				Amount:             7200,
				PhoneNumber:        "254712345678",
				MpesaReceiptNumber: "QK12XYZ789",
			}, nil
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?checkoutRequestID=ws_CO_1", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body transactionPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parsing response failed: %v", err)
	}
	if body.Status != "completed" || body.MpesaReceiptNumber != "QK12XYZ789" || body.OrderNumber != "SN260314001" {
		t.Errorf("unexpected payload %+v", body)
	}
}

const sampleCallbackBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "mr-1",
			"CheckoutRequestID": "ws_CO_1",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 7200},
					{"Name": "MpesaReceiptNumber", "Value": "QK12XYZ789"},
					{"Name": "TransactionDate", "Value": 20260314123000},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]
			}
		}
	}
}`

func TestCallbackParsesMetadata(t *testing.T) {
	var captured services.CallbackResult
	svc := &stubPaymentService{
		callbackFn: func(_ context.Context, result services.CallbackResult) error {
			captured = result
			return nil
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(sampleCallbackBody))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if captured.CheckoutRequestID != "ws_CO_1" || captured.ResultCode != 0 {
		t.Errorf("unexpected callback result %+v", captured)
	}
	if captured.Amount != 7200 {
		t.Errorf("expected amount 7200, got %d", captured.Amount)
	}
	if captured.ReceiptNumber != "QK12XYZ789" {
		t.Errorf("expected receipt, got %q", captured.ReceiptNumber)
	}
	if captured.PhoneNumber != "254712345678" {
		t.Errorf("expected phone number, got %q", captured.PhoneNumber)
	}
	if captured.TransactionDate == nil {
		t.Fatal("expected transaction date parsed")
	}
	// 2026-03-14 12:30 EAT is 09:30 UTC.
	wantUTC := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	if !captured.TransactionDate.UTC().Equal(wantUTC) {
		t.Errorf("expected transaction date %v, got %v", wantUTC, captured.TransactionDate.UTC())
	}
}

func TestCallbackReachableUnderPayments(t *testing.T) {
	var captured services.CallbackResult
	svc := &stubPaymentService{
		callbackFn: func(_ context.Context, result services.CallbackResult) error {
			captured = result
			return nil
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(sampleCallbackBody))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CheckoutRequestID != "ws_CO_1" {
		t.Errorf("expected callback delivered, got %+v", captured)
	}
}

func TestCallbackAcksProcessingFailure(t *testing.T) {
	svc := &stubPaymentService{
		callbackFn: func(context.Context, services.CallbackResult) error {
			return services.ErrTransactionNotFound
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(sampleCallbackBody))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected callback to ack with 200, got %d", rr.Code)
	}

	var ack callbackAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("parsing ack failed: %v", err)
	}
	if ack.ResultCode != 0 {
		t.Errorf("expected ResultCode 0 ack, got %d", ack.ResultCode)
	}
}

func TestCallbackAcksUnparseableBody(t *testing.T) {
	called := false
	svc := &stubPaymentService{
		callbackFn: func(context.Context, services.CallbackResult) error {
			called = true
			return nil
		},
	}
	server := newPaymentsServer(t, svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected callback to ack with 200, got %d", rr.Code)
	}
	if called {
		t.Error("expected service not to be invoked for an unparseable body")
	}
}
