// Package handler содержит HTTP API Payment Service: чтение платежей и
// колбэки платёжного шлюза.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/payment/internal/domain"
)

// PaymentService — операции, которые вызывает HTTP API.
type PaymentService interface {
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error)
	ConfirmPayment(ctx context.Context, orderID string, paidAmount int64) (*domain.Payment, error)
	FailPayment(ctx context.Context, orderID string) (*domain.Payment, error)
}

// Handler — HTTP обработчик Payment Service.
type Handler struct {
	svc PaymentService
}

// NewHandler создаёт обработчик.
func NewHandler(svc PaymentService) *Handler {
	return &Handler{svc: svc}
}

// Register регистрирует маршруты в группе /api/v1.
func (h *Handler) Register(g *gin.RouterGroup) {
	payments := g.Group("/payments")
	payments.GET("/:id", h.GetPayment)
	payments.GET("/:id/refunds", h.ListRefunds)

	g.GET("/orders/:id/payment", h.GetPaymentByOrder)

	gateway := g.Group("/gateway")
	gateway.POST("/confirm", h.Confirm)
	gateway.POST("/fail", h.Fail)
}

// === Request/Response DTOs ===

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ConfirmRequest — колбэк шлюза об успешном списании.
type ConfirmRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	PaidAmount int64  `json:"paid_amount" binding:"required,min=1"`
}

// FailRequest — колбэк шлюза об отказе.
type FailRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// PaymentResponse — платёж в ответе.
type PaymentResponse struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	CancelReason   *string   `json:"cancel_reason,omitempty"`
	RefundedAmount int64     `json:"refunded_amount"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RefundResponse — возврат в ответе.
type RefundResponse struct {
	ID        string    `json:"id"`
	RefundKey string    `json:"refund_key"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// MismatchResponse — ответ на подтверждение с неверной суммой.
type MismatchResponse struct {
	ErrorResponse
	Payment PaymentResponse `json:"payment"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:             p.ID,
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		CancelReason:   p.CancelReason,
		RefundedAmount: p.RefundedAmount,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// === Чтение ===

// GetPayment — GET /api/v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	h.paymentResult(c)(h.svc.GetPayment(c.Request.Context(), c.Param("id")))
}

// GetPaymentByOrder — GET /api/v1/orders/:id/payment
func (h *Handler) GetPaymentByOrder(c *gin.Context) {
	h.paymentResult(c)(h.svc.GetPaymentByOrder(c.Request.Context(), c.Param("id")))
}

// ListRefunds — GET /api/v1/payments/:id/refunds
func (h *Handler) ListRefunds(c *gin.Context) {
	refunds, err := h.svc.ListRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	resp := make([]RefundResponse, 0, len(refunds))
	for _, r := range refunds {
		resp = append(resp, RefundResponse{ID: r.ID, RefundKey: r.RefundKey, Amount: r.Amount, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"refunds": resp})
}

// === Колбэки шлюза ===

// Confirm — POST /api/v1/gateway/confirm
func (h *Handler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if !bind(c, &req) {
		return
	}

	p, err := h.svc.ConfirmPayment(c.Request.Context(), req.OrderID, req.PaidAmount)
	if errors.Is(err, domain.ErrAmountMismatch) && p != nil {
		c.JSON(http.StatusUnprocessableEntity, MismatchResponse{
			ErrorResponse: ErrorResponse{Error: "amount_mismatch", Message: err.Error()},
			Payment:       toPaymentResponse(p),
		})
		return
	}
	h.paymentResult(c)(p, err)
}

// Fail — POST /api/v1/gateway/fail
func (h *Handler) Fail(c *gin.Context) {
	var req FailRequest
	if !bind(c, &req) {
		return
	}
	h.paymentResult(c)(h.svc.FailPayment(c.Request.Context(), req.OrderID))
}

// === Помощники ===

func (h *Handler) paymentResult(c *gin.Context) func(*domain.Payment, error) {
	return func(p *domain.Payment, err error) {
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, toPaymentResponse(p))
	}
}

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
	case errors.Is(err, domain.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "failed_precondition", Message: err.Error()})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
	}
}
