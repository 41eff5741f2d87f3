package deadletter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/middleware"
)

// ErrorResponse — формат ошибки admin API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RecordResponse — dead letter запись в ответе.
type RecordResponse struct {
	ID               string            `json:"id"`
	Topic            string            `json:"topic"`
	DeadLetterTopic  string            `json:"dead_letter_topic"`
	EventType        string            `json:"event_type"`
	Partition        int               `json:"partition"`
	Offset           int64             `json:"offset"`
	MessageKey       string            `json:"message_key"`
	Payload          string            `json:"payload"`
	Headers          map[string]string `json:"headers,omitempty"`
	ExceptionMessage string            `json:"exception_message"`
	StackTrace       string            `json:"stack_trace,omitempty"`
	Status           string            `json:"status"`
	RetryCount       int               `json:"retry_count"`
	FailedAt         time.Time         `json:"failed_at"`
	LastRetryAt      *time.Time        `json:"last_retry_at,omitempty"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	Memo             *string           `json:"memo,omitempty"`
}

// ListResponse — ответ на запрос списка.
type ListResponse struct {
	Records []RecordResponse `json:"records"`
}

// ActionRequest — тело запроса на смену статуса.
type ActionRequest struct {
	Memo string `json:"memo" binding:"max=1000"`
}

func toResponse(r *Record, withStack bool) RecordResponse {
	resp := RecordResponse{
		ID:               r.ID,
		Topic:            r.Topic,
		DeadLetterTopic:  r.DeadLetterTopic,
		EventType:        r.EventType,
		Partition:        r.Partition,
		Offset:           r.Offset,
		MessageKey:       r.MessageKey,
		Payload:          string(r.Payload),
		ExceptionMessage: r.ExceptionMessage,
		Status:           string(r.Status),
		RetryCount:       r.RetryCount,
		FailedAt:         r.FailedAt,
		LastRetryAt:      r.LastRetryAt,
		ProcessedAt:      r.ProcessedAt,
		Memo:             r.Memo,
	}
	if withStack {
		resp.Headers = r.Headers
		resp.StackTrace = r.StackTrace
	}
	return resp
}

// HTTPHandler — admin API dead letter записей.
type HTTPHandler struct {
	svc *Service
}

// NewHTTPHandler создаёт обработчик.
func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Register регистрирует маршруты в группе.
func (h *HTTPHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/processing", h.transition(StatusProcessing))
	g.POST("/:id/processed", h.transition(StatusProcessed))
	g.POST("/:id/retry-failed", h.transition(StatusRetryFailed))
	g.POST("/:id/ignore", h.transition(StatusIgnored))
	g.POST("/:id/replay", h.Replay)
}

// NewRouter собирает gin engine admin API сервиса.
func NewRouter(service string, svc *Service, debug bool, extra ...gin.HandlerFunc) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(service + "-admin"))
	engine.Use(metrics.GinMetricsMiddleware(service))
	engine.Use(middleware.Tracing())
	engine.Use(middleware.Logging())
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	})

	// лимит не распространяется на /health
	engine.Use(extra...)
	NewHTTPHandler(svc).Register(engine.Group("/dead-letters"))
	return engine
}

// List — GET /dead-letters?status=PENDING&limit=50
func (h *HTTPHandler) List(c *gin.Context) {
	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: "limit должен быть от 1 до 1000"})
			return
		}
		limit = n
	}

	records, err := h.svc.List(c.Request.Context(), Status(c.Query("status")), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp := ListResponse{Records: make([]RecordResponse, 0, len(records))}
	for _, r := range records {
		resp.Records = append(resp.Records, toResponse(r, false))
	}
	c.JSON(http.StatusOK, resp)
}

// Get — GET /dead-letters/:id
func (h *HTTPHandler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(rec, true))
}

func (h *HTTPHandler) transition(to Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindAction(c)
		if !ok {
			return
		}

		rec, err := h.svc.Transition(c.Request.Context(), c.Param("id"), to, req.Memo)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, toResponse(rec, false))
	}
}

// Replay — POST /dead-letters/:id/replay
func (h *HTTPHandler) Replay(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}

	rec, err := h.svc.Replay(c.Request.Context(), c.Param("id"), req.Memo)
	if err != nil && rec == nil {
		h.handleError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, toResponse(rec, false))
		return
	}
	c.JSON(http.StatusOK, toResponse(rec, false))
}

// bindAction читает необязательное тело с memo.
func bindAction(c *gin.Context) (ActionRequest, bool) {
	var req ActionRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: err.Error()})
		return req, false
	}
	return req, true
}

// handleError переводит ошибку сервиса в HTTP ответ.
func (h *HTTPHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "failed_precondition", Message: err.Error()})
	case errors.Is(err, ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
	}
}
