package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateLimited(t *testing.T, rdb *redis.Client, limit int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(rdb, RateLimitConfig{Prefix: "order-service", Limit: limit, Window: time.Minute}))
	r.POST("/dead-letters/:id/replay", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func send(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/dead-letters/dl-1/replay", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_БлокируетСверхЛимита(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r := rateLimited(t, rdb, 3)

	for i := 0; i < 3; i++ {
		w := send(r, "10.0.0.1")
		require.Equal(t, http.StatusAccepted, w.Code, "запрос %d должен пройти", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := send(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// другой клиент считается отдельно
	assert.Equal(t, http.StatusAccepted, send(r, "10.0.0.2").Code)

	assert.True(t, mr.Exists("rate:order-service:10.0.0.1"))
	assert.Equal(t, time.Minute, mr.TTL("rate:order-service:10.0.0.1"))
}

func TestRateLimit_ОкноИстекает(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r := rateLimited(t, rdb, 1)

	assert.Equal(t, http.StatusAccepted, send(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(r, "10.0.0.1").Code)

	mr.FastForward(time.Minute + time.Second)

	assert.Equal(t, http.StatusAccepted, send(r, "10.0.0.1").Code)
}

func TestRateLimit_RedisНедоступен(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	r := rateLimited(t, rdb, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusAccepted, send(r, "10.0.0.1").Code)
	}
}
