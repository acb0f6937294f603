package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopnest/api/internal/domain"
	"github.com/shopnest/api/internal/platform/auth"
	"github.com/shopnest/api/internal/platform/httpx"
	"github.com/shopnest/api/internal/services"
)

const maxCreateOrderBodySize = 64 * 1024

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints. Creation permits anonymous guests;
// the read and cancel surface requires a customer identity.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.With(h.authn.OptionalAuth()).Post("/", h.createOrder)
		r.Group(func(g chi.Router) {
			g.Use(h.authn.RequireAuth())
			g.Get("/", h.listOrders)
			g.Get("/{orderNumber}", h.getOrder)
			g.Post("/{orderNumber}/cancel", h.cancelOrder)
		})
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderNumber}", h.getOrder)
	r.Post("/{orderNumber}/cancel", h.cancelOrder)
}

type createOrderItemRequest struct {
	ProductRef string  `json:"productRef"`
	VariantRef *string `json:"variantRef,omitempty"`
	Quantity   int     `json:"quantity"`
	UnitPrice  int64   `json:"unitPrice"`
	LineTotal  int64   `json:"lineTotal"`
}

type createOrderRequest struct {
	Items           []createOrderItemRequest `json:"items"`
	ShippingAddress shippingAddressPayload   `json:"shippingAddress"`
	PaymentMethod   string                   `json:"paymentMethod"`
	ContactEmail    string                   `json:"contactEmail"`
	ContactPhone    string                   `json:"contactPhone"`
	ShippingCost    *int64                   `json:"shippingCost,omitempty"`
}

type shippingAddressPayload struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	CountyRef string `json:"countyRef"`
	AreaRef   string `json:"areaRef,omitempty"`
}

type orderItemPayload struct {
	ProductRef string  `json:"productRef"`
	VariantRef *string `json:"variantRef,omitempty"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  int64   `json:"unitPrice"`
	LineTotal  int64   `json:"lineTotal"`
}

type orderPayload struct {
	OrderNumber     string                 `json:"orderNumber"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"paymentStatus"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	Subtotal        int64                  `json:"subtotal"`
	ShippingCost    int64                  `json:"shippingCost"`
	TaxAmount       int64                  `json:"taxAmount"`
	TotalAmount     int64                  `json:"totalAmount"`
	DeliveryDays    int                    `json:"deliveryDays,omitempty"`
	CreatedAt       string                 `json:"createdAt"`
	PaidAt          string                 `json:"paidAt,omitempty"`
	CancelledAt     string                 `json:"cancelledAt,omitempty"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCreateOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	input := services.CreateOrderInput{
		ContactEmail:  strings.TrimSpace(req.ContactEmail),
		ContactPhone:  strings.TrimSpace(req.ContactPhone),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		ShippingAddress: domain.ShippingAddress{
			Name:      strings.TrimSpace(req.ShippingAddress.Name),
			Phone:     strings.TrimSpace(req.ShippingAddress.Phone),
			CountyRef: strings.TrimSpace(req.ShippingAddress.CountyRef),
			AreaRef:   strings.TrimSpace(req.ShippingAddress.AreaRef),
		},
		ShippingCost: req.ShippingCost,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		input.CustomerID = identity.UID
		if input.ContactEmail == "" {
			input.ContactEmail = identity.Email
		}
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, services.CreateOrderItemInput{
			ProductRef: strings.TrimSpace(item.ProductRef),
			VariantRef: item.VariantRef,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}

	order, err := h.orders.CreateOrder(ctx, input)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orders, err := h.orders.ListForCustomer(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByNumber(ctx, identity.UID, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Cancel(ctx, identity.UID, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductRef: item.ProductRef,
			VariantRef: item.VariantRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}

	payload := orderPayload{
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Items:         items,
		ShippingAddress: shippingAddressPayload{
			Name:      order.ShippingAddress.Name,
			Phone:     order.ShippingAddress.Phone,
			CountyRef: order.ShippingAddress.CountyRef,
			AreaRef:   order.ShippingAddress.AreaRef,
		},
		Subtotal:     order.Subtotal,
		ShippingCost: order.ShippingCost,
		TaxAmount:    order.TaxAmount,
		TotalAmount:  order.TotalAmount,
		DeliveryDays: order.DeliveryDays,
		CreatedAt:    formatTime(order.CreatedAt),
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var mismatch *services.PriceMismatchError
	if errors.As(err, &mismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("price_mismatch", "submitted price disagrees with the current catalog price", http.StatusBadRequest).
			WithDetails(map[string]any{
				"itemIndex":          mismatch.Detail.ItemIndex,
				"expectedUnitPrice":  mismatch.Detail.Expected,
				"submittedUnitPrice": mismatch.Detail.Submitted,
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrShippingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownProduct):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_product", "cart references an unknown or inactive product", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownVariant):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_variant", "cart references an unknown product variant", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownCounty):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_county", "shipping address references an unknown county", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order cannot be cancelled in its current status", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_numbers_exhausted", "no order numbers left for today, try again later", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
