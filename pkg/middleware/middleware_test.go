package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"example.com/fulfillment/pkg/logger"
)

func setupRouter(h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Tracing(), Logging(), SecurityHeaders())
	r.GET("/test", h)
	return r
}

func TestTracing_ПробрасываетЗаголовки(t *testing.T) {
	var traceID, correlationID string
	r := setupRouter(func(c *gin.Context) {
		traceID = logger.TraceIDFromContext(c.Request.Context())
		correlationID = logger.CorrelationIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderTraceID, "trace-1")
	req.Header.Set(HeaderCorrelationID, "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "trace-1", traceID)
	assert.Equal(t, "corr-1", correlationID)
	assert.Equal(t, "trace-1", w.Header().Get(HeaderTraceID))
}

func TestTracing_ГенерируетИдентификаторы(t *testing.T) {
	r := setupRouter(func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderCorrelationID))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRecovery_ПаникаВ500(t *testing.T) {
	r := setupRouter(func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
