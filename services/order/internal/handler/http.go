// Package handler содержит HTTP API Order Service: заказы, обмены и возвраты.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/order/internal/domain"
)

// OrderService — команды, которые вызывает HTTP API.
type OrderService interface {
	CreateOrder(ctx context.Context, userID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, userID string, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error)

	RequestExchange(ctx context.Context, orderID string, originalOptionID, newOptionID int64, quantity int) (*domain.Exchange, error)
	GetExchange(ctx context.Context, id string) (*domain.Exchange, error)
	ApproveExchange(ctx context.Context, id string) (*domain.Exchange, error)
	RejectExchange(ctx context.Context, id, reason string) (*domain.Exchange, error)
	CompleteExchangeReturn(ctx context.Context, id string) (*domain.Exchange, error)

	RequestReturn(ctx context.Context, orderID string, items []domain.ReturnItem) (*domain.Return, error)
	GetReturn(ctx context.Context, id string) (*domain.Return, error)
	ApproveReturn(ctx context.Context, id string) (*domain.Return, error)
	RejectReturn(ctx context.Context, id, reason string) (*domain.Return, error)
	CompleteReturn(ctx context.Context, id string) (*domain.Return, error)
}

// Handler — HTTP обработчик Order Service.
type Handler struct {
	svc OrderService
}

// NewHandler создаёт обработчик.
func NewHandler(svc OrderService) *Handler {
	return &Handler{svc: svc}
}

// Register регистрирует маршруты в группе /api/v1.
func (h *Handler) Register(g *gin.RouterGroup) {
	orders := g.Group("/orders")
	orders.POST("", h.CreateOrder)
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/cancel", h.CancelOrder)
	orders.POST("/:id/exchanges", h.RequestExchange)
	orders.POST("/:id/returns", h.RequestReturn)

	exchanges := g.Group("/exchanges")
	exchanges.GET("/:id", h.GetExchange)
	exchanges.POST("/:id/approve", h.ApproveExchange)
	exchanges.POST("/:id/reject", h.RejectExchange)
	exchanges.POST("/:id/complete-return", h.CompleteExchangeReturn)

	returns := g.Group("/returns")
	returns.GET("/:id", h.GetReturn)
	returns.POST("/:id/approve", h.ApproveReturn)
	returns.POST("/:id/reject", h.RejectReturn)
	returns.POST("/:id/complete", h.CompleteReturn)
}

// === Request/Response DTOs ===

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateOrderRequest — запрос на создание заказа.
type CreateOrderRequest struct {
	UserID         string                   `json:"user_id" binding:"required"`
	IdempotencyKey string                   `json:"idempotency_key" binding:"required,max=64"`
	Items          []CreateOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CreateOrderItemRequest — позиция в запросе на создание заказа.
type CreateOrderItemRequest struct {
	SKU         int64        `json:"sku" binding:"required,min=1"`
	ProductName string       `json:"product_name" binding:"required,min=1"`
	Quantity    int          `json:"quantity" binding:"required,min=1"`
	UnitPrice   MoneyRequest `json:"unit_price" binding:"required"`
}

// MoneyRequest — денежная сумма в запросе.
type MoneyRequest struct {
	Amount   int64  `json:"amount" binding:"required,min=1"`
	Currency string `json:"currency" binding:"required,len=3"`
}

// CancelOrderRequest — запрос на отмену заказа.
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"required,oneof=USER ADMIN"`
}

// ExchangeRequest — запрос обмена.
type ExchangeRequest struct {
	OriginalOptionID int64 `json:"original_option_id" binding:"required,min=1"`
	NewOptionID      int64 `json:"new_option_id" binding:"required,min=1"`
	Quantity         int   `json:"quantity" binding:"required,min=1"`
}

// ReturnRequest — запрос возврата.
type ReturnRequest struct {
	Items []ReturnItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ReturnItemRequest — позиция возврата.
type ReturnItemRequest struct {
	SKU      int64 `json:"sku" binding:"required,min=1"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
}

// RejectRequest — отклонение обмена или возврата.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// MoneyResponse — денежная сумма в ответе.
type MoneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderItemResponse — позиция заказа в ответе.
type OrderItemResponse struct {
	SKU         int64         `json:"sku"`
	ProductName string        `json:"product_name"`
	Quantity    int           `json:"quantity"`
	UnitPrice   MoneyResponse `json:"unit_price"`
}

// OrderResponse — заказ в ответе.
type OrderResponse struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Items       []OrderItemResponse `json:"items"`
	TotalAmount MoneyResponse       `json:"total_amount"`
	Status      string              `json:"status"`
	PaymentID   *string             `json:"payment_id,omitempty"`
	Reason      *string             `json:"reason,omitempty"`
	CreatedAt   int64               `json:"created_at"`
	UpdatedAt   int64               `json:"updated_at"`
}

// ListOrdersResponse — ответ на запрос списка заказов.
type ListOrdersResponse struct {
	Orders     []OrderResponse `json:"orders"`
	TotalItems int64           `json:"total_items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}

// ExchangeResponse — обмен в ответе.
type ExchangeResponse struct {
	ID               string  `json:"id"`
	OrderID          string  `json:"order_id"`
	OriginalOptionID int64   `json:"original_option_id"`
	NewOptionID      int64   `json:"new_option_id"`
	Quantity         int     `json:"quantity"`
	Status           string  `json:"status"`
	Reason           *string `json:"reason,omitempty"`
}

// ReturnResponse — возврат в ответе.
type ReturnResponse struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"order_id"`
	Items        []ReturnItemRequest `json:"items"`
	RefundAmount MoneyResponse       `json:"refund_amount"`
	Status       string              `json:"status"`
	Reason       *string             `json:"reason,omitempty"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Items:       make([]OrderItemResponse, 0, len(o.Items)),
		TotalAmount: MoneyResponse{Amount: o.TotalAmount.Amount, Currency: o.TotalAmount.Currency},
		Status:      string(o.Status),
		PaymentID:   o.PaymentID,
		Reason:      o.Reason,
		CreatedAt:   o.CreatedAt.Unix(),
		UpdatedAt:   o.UpdatedAt.Unix(),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			SKU:         it.SKU,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   MoneyResponse{Amount: it.UnitPrice.Amount, Currency: it.UnitPrice.Currency},
		})
	}
	return resp
}

func toExchangeResponse(e *domain.Exchange) ExchangeResponse {
	return ExchangeResponse{
		ID:               e.ID,
		OrderID:          e.OrderID,
		OriginalOptionID: e.OriginalOptionID,
		NewOptionID:      e.NewOptionID,
		Quantity:         e.Quantity,
		Status:           string(e.Status),
		Reason:           e.Reason,
	}
}

func toReturnResponse(r *domain.Return) ReturnResponse {
	resp := ReturnResponse{
		ID:           r.ID,
		OrderID:      r.OrderID,
		Items:        make([]ReturnItemRequest, 0, len(r.Items)),
		RefundAmount: MoneyResponse{Amount: r.RefundAmount.Amount, Currency: r.RefundAmount.Currency},
		Status:       string(r.Status),
		Reason:       r.Reason,
	}
	for _, it := range r.Items {
		resp.Items = append(resp.Items, ReturnItemRequest{SKU: it.SKU, Quantity: it.Quantity})
	}
	return resp
}

// === Заказы ===

// CreateOrder — POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if !bind(c, &req) {
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.OrderItem{
			SKU:         it.SKU,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   domain.Money{Amount: it.UnitPrice.Amount, Currency: it.UnitPrice.Currency},
		}
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), req.UserID, req.IdempotencyKey, items)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// GetOrder — GET /api/v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders — GET /api/v1/orders?user_id=...&page=1&page_size=20&status=PAID
func (h *Handler) ListOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: "user_id обязателен"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	var status *domain.OrderStatus
	if raw := c.Query("status"); raw != "" {
		st := domain.OrderStatus(raw)
		status = &st
	}

	orders, total, err := h.svc.ListOrders(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	resp := ListOrdersResponse{Orders: make([]OrderResponse, 0, len(orders)), TotalItems: total, Page: page, PageSize: pageSize}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, resp)
}

// CancelOrder — POST /api/v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if !bind(c, &req) {
		return
	}

	order, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// === Обмены ===

// RequestExchange — POST /api/v1/orders/:id/exchanges
func (h *Handler) RequestExchange(c *gin.Context) {
	var req ExchangeRequest
	if !bind(c, &req) {
		return
	}

	ex, err := h.svc.RequestExchange(c.Request.Context(), c.Param("id"), req.OriginalOptionID, req.NewOptionID, req.Quantity)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toExchangeResponse(ex))
}

// GetExchange — GET /api/v1/exchanges/:id
func (h *Handler) GetExchange(c *gin.Context) {
	h.exchangeResult(c)(h.svc.GetExchange(c.Request.Context(), c.Param("id")))
}

// ApproveExchange — POST /api/v1/exchanges/:id/approve
func (h *Handler) ApproveExchange(c *gin.Context) {
	h.exchangeResult(c)(h.svc.ApproveExchange(c.Request.Context(), c.Param("id")))
}

// RejectExchange — POST /api/v1/exchanges/:id/reject
func (h *Handler) RejectExchange(c *gin.Context) {
	var req RejectRequest
	if !bind(c, &req) {
		return
	}
	h.exchangeResult(c)(h.svc.RejectExchange(c.Request.Context(), c.Param("id"), req.Reason))
}

// CompleteExchangeReturn — POST /api/v1/exchanges/:id/complete-return
func (h *Handler) CompleteExchangeReturn(c *gin.Context) {
	h.exchangeResult(c)(h.svc.CompleteExchangeReturn(c.Request.Context(), c.Param("id")))
}

func (h *Handler) exchangeResult(c *gin.Context) func(*domain.Exchange, error) {
	return func(ex *domain.Exchange, err error) {
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, toExchangeResponse(ex))
	}
}

// === Возвраты ===

// RequestReturn — POST /api/v1/orders/:id/returns
func (h *Handler) RequestReturn(c *gin.Context) {
	var req ReturnRequest
	if !bind(c, &req) {
		return
	}

	items := make([]domain.ReturnItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.ReturnItem{SKU: it.SKU, Quantity: it.Quantity}
	}

	ret, err := h.svc.RequestReturn(c.Request.Context(), c.Param("id"), items)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReturnResponse(ret))
}

// GetReturn — GET /api/v1/returns/:id
func (h *Handler) GetReturn(c *gin.Context) {
	h.returnResult(c)(h.svc.GetReturn(c.Request.Context(), c.Param("id")))
}

// ApproveReturn — POST /api/v1/returns/:id/approve
func (h *Handler) ApproveReturn(c *gin.Context) {
	h.returnResult(c)(h.svc.ApproveReturn(c.Request.Context(), c.Param("id")))
}

// RejectReturn — POST /api/v1/returns/:id/reject
func (h *Handler) RejectReturn(c *gin.Context) {
	var req RejectRequest
	if !bind(c, &req) {
		return
	}
	h.returnResult(c)(h.svc.RejectReturn(c.Request.Context(), c.Param("id"), req.Reason))
}

// CompleteReturn — POST /api/v1/returns/:id/complete
func (h *Handler) CompleteReturn(c *gin.Context) {
	h.returnResult(c)(h.svc.CompleteReturn(c.Request.Context(), c.Param("id")))
}

func (h *Handler) returnResult(c *gin.Context) func(*domain.Return, error) {
	return func(r *domain.Return, err error) {
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, toReturnResponse(r))
	}
}

// === Помощники ===

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("Невалидный запрос")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Невалидные данные запроса"})
		return false
	}
	return true
}

// handleError переводит доменную ошибку в HTTP ответ.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrExchangeNotFound),
		errors.Is(err, domain.ErrReturnNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderNotDelivered),
		errors.Is(err, domain.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "failed_precondition", Message: err.Error()})
	case errors.Is(err, domain.ErrEmptyOrderItems),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidSKU),
		errors.Is(err, domain.ErrInvalidProductName),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrMixedCurrency),
		errors.Is(err, domain.ErrItemNotInOrder),
		errors.Is(err, domain.ErrQuantityExceedsOrder):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: err.Error()})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
	}
}
