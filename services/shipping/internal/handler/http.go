// Package handler содержит HTTP API Shipping Service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/shipping/internal/domain"
)

// ShippingService — операции, которые вызывает HTTP API.
type ShippingService interface {
	GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error)
	GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error)
	StartShipping(ctx context.Context, shipmentID, trackingNumber string) (*domain.Shipment, error)
	CompleteDelivery(ctx context.Context, shipmentID string) (*domain.Shipment, error)
}

// Handler — HTTP обработчик Shipping Service.
type Handler struct {
	svc ShippingService
}

// NewHandler создаёт обработчик.
func NewHandler(svc ShippingService) *Handler {
	return &Handler{svc: svc}
}

// Register регистрирует маршруты в группе /api/v1.
func (h *Handler) Register(g *gin.RouterGroup) {
	shipments := g.Group("/shipments")
	shipments.GET("/:id", h.GetShipment)
	shipments.POST("/:id/start", h.Start)
	shipments.POST("/:id/deliver", h.Deliver)

	g.GET("/orders/:id/shipment", h.GetShipmentByOrder)
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StartRequest — передача отгрузки в доставку.
type StartRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

// ShipmentResponse — отгрузка в ответе.
type ShipmentResponse struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	TrackingNumber *string   `json:"tracking_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetShipment — GET /api/v1/shipments/:id
func (h *Handler) GetShipment(c *gin.Context) {
	respond(c)(h.svc.GetShipment(c.Request.Context(), c.Param("id")))
}

// GetShipmentByOrder — GET /api/v1/orders/:id/shipment
func (h *Handler) GetShipmentByOrder(c *gin.Context) {
	respond(c)(h.svc.GetShipmentByOrder(c.Request.Context(), c.Param("id")))
}

// Start — POST /api/v1/shipments/:id/start
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("Невалидный запрос")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Невалидные данные запроса"})
		return
	}
	respond(c)(h.svc.StartShipping(c.Request.Context(), c.Param("id"), req.TrackingNumber))
}

// Deliver — POST /api/v1/shipments/:id/deliver
func (h *Handler) Deliver(c *gin.Context) {
	respond(c)(h.svc.CompleteDelivery(c.Request.Context(), c.Param("id")))
}

func respond(c *gin.Context) func(*domain.Shipment, error) {
	return func(sh *domain.Shipment, err error) {
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, ShipmentResponse{
			ID:             sh.ID,
			OrderID:        sh.OrderID,
			Status:         string(sh.Status),
			TrackingNumber: sh.TrackingNumber,
			CreatedAt:      sh.CreatedAt,
			UpdatedAt:      sh.UpdatedAt,
		})
	}
}

// handleError переводит доменную ошибку в HTTP ответ.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrShipmentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrTrackingRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "failed_precondition", Message: err.Error()})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
	}
}
