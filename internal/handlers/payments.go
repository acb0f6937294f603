package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/payments/daraja"
	"github.com/shopnest/api/internal/platform/auth"
	"github.com/shopnest/api/internal/platform/httpx"
	"github.com/shopnest/api/internal/platform/requestctx"
	"github.com/shopnest/api/internal/services"
)

const maxPaymentBodySize = 32 * 1024

// PaymentHandlers exposes payment initiation, verification and the provider webhook.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
	limiter  rateLimiter
}

// NewPaymentHandlers constructs the payment endpoints. A positive
// ratePerMinute enables per-caller rate limiting on initiation.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, ratePerMinute int) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
		limiter:  newSimpleRateLimiter(ratePerMinute, time.Minute, time.Now),
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalAuth())
	}
	r.Post("/initiate", h.initiate)
	r.Get("/verify", h.verify)
	// The provider callback is reachable both here and under the webhook
	// group; Daraja deployments are configured with either path.
	r.Post("/callback", h.callback)
}

// WebhookRoutes registers the provider callback under the webhook group.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/mpesa", h.callback)
}

type initiatePaymentRequest struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Amount      int64  `json:"amount"`
	Phone       string `json:"phone"`
	// Legacy clients send phoneNumber; phone wins when both are present.
	PhoneNumber string `json:"phoneNumber"`
}

func (r initiatePaymentRequest) phone() string {
	if phone := strings.TrimSpace(r.Phone); phone != "" {
		return phone
	}
	return strings.TrimSpace(r.PhoneNumber)
}

type initiatePaymentResponse struct {
	MerchantRequestID string `json:"merchantRequestID"`
	CheckoutRequestID string `json:"checkoutRequestID"`
	TransactionID     string `json:"transactionId"`
	Status            string `json:"status"`
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(rateLimitKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment requests, slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req initiatePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	initiated, err := h.payments.Initiate(ctx, services.InitiatePaymentInput{
		OrderID:     strings.TrimSpace(req.OrderID),
		OrderNumber: strings.TrimSpace(req.OrderNumber),
		Amount:      req.Amount,
		PhoneNumber: req.phone(),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, initiatePaymentResponse{
		MerchantRequestID: initiated.MerchantRequestID,
		CheckoutRequestID: initiated.CheckoutRequestID,
		TransactionID:     initiated.TransactionID,
		Status:            "initiated",
	})
}

type transactionPayload struct {
	CheckoutRequestID  string `json:"checkoutRequestID"`
	OrderNumber        string `json:"orderNumber"`
	Status             string `json:"status"`
	PaymentStatus      string `json:"paymentStatus"`
	Amount             int64  `json:"amount"`
	PhoneNumber        string `json:"phoneNumber"`
	MpesaReceiptNumber string `json:"mpesaReceiptNumber,omitempty"`
	ResultDesc         string `json:"resultDesc,omitempty"`
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	checkoutID := strings.TrimSpace(r.URL.Query().Get("checkoutRequestID"))
	if checkoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkoutRequestID query parameter is required", http.StatusBadRequest))
		return
	}

	txn, err := h.payments.Verify(ctx, checkoutID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTransactionPayload(txn))
}

// Daraja callback envelope. Metadata items arrive as loosely typed name/value
// pairs; values are coerced per item name.
type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// callback applies the provider result. The provider retries on anything but
// 200, so the handler acknowledges every delivery and leaves failures to logs
// and metrics.
func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	ack := func() {
		writeJSONResponse(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
	}

	if h.payments == nil {
		logger.Error("payment callback dropped: service unavailable")
		ack()
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		logger.Warn("payment callback body rejected", zap.Error(err))
		ack()
		return
	}

	var envelope callbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		logger.Warn("payment callback payload unparseable", zap.Error(err))
		ack()
		return
	}

	cb := envelope.Body.StkCallback
	result := services.CallbackResult{
		MerchantRequestID: strings.TrimSpace(cb.MerchantRequestID),
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:        cb.ResultCode,
		ResultDesc:        strings.TrimSpace(cb.ResultDesc),
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			var amount float64
			if err := json.Unmarshal(item.Value, &amount); err == nil {
				result.Amount = int64(amount)
			}
		case "MpesaReceiptNumber":
			var receipt string
			if err := json.Unmarshal(item.Value, &receipt); err == nil {
				result.ReceiptNumber = strings.TrimSpace(receipt)
			}
		case "TransactionDate":
			if raw := rawScalarString(item.Value); raw != "" {
				if ts, err := daraja.ParseTransactionTimestamp(raw); err == nil {
					result.TransactionDate = &ts
				}
			}
		case "PhoneNumber":
			result.PhoneNumber = rawScalarString(item.Value)
		}
	}

	if err := h.payments.HandleCallback(ctx, result); err != nil {
		logger.Error("payment callback processing failed",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.Int("result_code", result.ResultCode),
			zap.Error(err),
		)
	}
	ack()
}

// rawScalarString renders a JSON scalar (string or number) as its literal text.
func rawScalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func buildTransactionPayload(txn domain.PaymentTransaction) transactionPayload {
	return transactionPayload{
		CheckoutRequestID:  txn.CheckoutRequestID,
		OrderNumber:        txn.OrderNumber,
		Status:             string(txn.Status),
		PaymentStatus:      string(txn.PaymentStatus),
		Amount:             txn.Amount,
		PhoneNumber:        txn.PhoneNumber,
		MpesaReceiptNumber: txn.MpesaReceiptNumber,
		ResultDesc:         txn.ResultDesc,
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentInitiationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_initiation_failed", "the payment provider rejected the request", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_order", "payment references an unknown order", http.StatusBadRequest))
	case errors.Is(err, services.ErrTransactionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_not_found", "no transaction for that checkout request", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UID
	}
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return fmt.Sprintf("ip:%s", addr)
}
