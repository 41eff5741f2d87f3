// Package handler содержит HTTP API Inventory Service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/inventory/internal/domain"
)

// InventoryService — операции, которые вызывает HTTP API.
type InventoryService interface {
	GetStock(ctx context.Context, sku int64) (*domain.Stock, error)
	SetStock(ctx context.Context, sku int64, available int) (*domain.Stock, error)
	ListMovements(ctx context.Context, sku int64, limit int) ([]*domain.StockMovement, error)
}

// Handler — HTTP обработчик Inventory Service.
type Handler struct {
	svc InventoryService
}

// NewHandler создаёт обработчик.
func NewHandler(svc InventoryService) *Handler {
	return &Handler{svc: svc}
}

// Register регистрирует маршруты в группе /api/v1.
func (h *Handler) Register(g *gin.RouterGroup) {
	stock := g.Group("/stock")
	stock.GET("/:sku", h.GetStock)
	stock.PUT("/:sku", h.SetStock)
	stock.GET("/:sku/movements", h.ListMovements)
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SetStockRequest — установка остатка.
type SetStockRequest struct {
	Available *int `json:"available" binding:"required,min=0"`
}

// StockResponse — остаток в ответе.
type StockResponse struct {
	SKU       int64     `json:"sku"`
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MovementResponse — запись журнала в ответе.
type MovementResponse struct {
	Key           string    `json:"adjustment_key"`
	Quantity      int       `json:"quantity"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	CompensatedBy *string   `json:"compensated_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toStockResponse(s *domain.Stock) StockResponse {
	return StockResponse{SKU: s.SKU, Available: s.Available, UpdatedAt: s.UpdatedAt}
}

// GetStock — GET /api/v1/stock/:sku
func (h *Handler) GetStock(c *gin.Context) {
	sku, ok := skuParam(c)
	if !ok {
		return
	}
	st, err := h.svc.GetStock(c.Request.Context(), sku)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponse(st))
}

// SetStock — PUT /api/v1/stock/:sku
func (h *Handler) SetStock(c *gin.Context) {
	sku, ok := skuParam(c)
	if !ok {
		return
	}
	var req SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("Невалидный запрос")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Невалидные данные запроса"})
		return
	}

	st, err := h.svc.SetStock(c.Request.Context(), sku, *req.Available)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStockResponse(st))
}

// ListMovements — GET /api/v1/stock/:sku/movements?limit=50
func (h *Handler) ListMovements(c *gin.Context) {
	sku, ok := skuParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	movements, err := h.svc.ListMovements(c.Request.Context(), sku, limit)
	if err != nil {
		handleError(c, err)
		return
	}

	resp := make([]MovementResponse, 0, len(movements))
	for _, m := range movements {
		resp = append(resp, MovementResponse{
			Key:           m.Key,
			Quantity:      m.Quantity,
			Type:          string(m.Type),
			Status:        string(m.Status),
			Reason:        m.Reason,
			ReferenceType: m.ReferenceType,
			ReferenceID:   m.ReferenceID,
			CompensatedBy: m.CompensatedBy,
			CreatedAt:     m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"movements": resp})
}

func skuParam(c *gin.Context) (int64, bool) {
	sku, err := strconv.ParseInt(c.Param("sku"), 10, 64)
	if err != nil || sku <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: domain.ErrInvalidSKU.Error()})
		return 0, false
	}
	return sku, true
}

// handleError переводит доменную ошибку в HTTP ответ.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrStockNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidSKU),
		errors.Is(err, domain.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: err.Error()})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
	}
}
