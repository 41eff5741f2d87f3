package deadletter_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/deadletter"
	"example.com/fulfillment/pkg/testutil/fakes"
)

func setupTestRouter(svc *deadletter.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deadletter.NewHTTPHandler(svc).Register(r.Group("/dead-letters"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHTTP_ListПоСтатусу(t *testing.T) {
	store, rec := seeded(t)
	r := setupTestRouter(deadletter.NewService(store, nil))

	w := do(r, http.MethodGet, "/dead-letters?status=PENDING", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp deadletter.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, rec.ID, resp.Records[0].ID)
	assert.Empty(t, resp.Records[0].StackTrace, "список без стека")

	w = do(r, http.MethodGet, "/dead-letters?status=IGNORED", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Records)
}

func TestHTTP_ListОшибкиЗапроса(t *testing.T) {
	r := setupTestRouter(deadletter.NewService(fakes.NewDeadLetters(), nil))

	tests := []struct {
		name string
		path string
	}{
		{name: "неизвестный статус", path: "/dead-letters?status=UNKNOWN"},
		{name: "битый limit", path: "/dead-letters?limit=abc"},
		{name: "limit вне диапазона", path: "/dead-letters?limit=5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHTTP_Get(t *testing.T) {
	store, rec := seeded(t)
	r := setupTestRouter(deadletter.NewService(store, nil))

	w := do(r, http.MethodGet, "/dead-letters/"+rec.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp deadletter.RecordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "inventory.decrease", resp.Topic)
	assert.Equal(t, int64(41), resp.Offset)
	assert.Equal(t, "PENDING", resp.Status)

	w = do(r, http.MethodGet, "/dead-letters/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_Transition(t *testing.T) {
	store, rec := seeded(t)
	r := setupTestRouter(deadletter.NewService(store, nil))

	w := do(r, http.MethodPost, "/dead-letters/"+rec.ID+"/ignore", `{"memo":"тестовый заказ"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp deadletter.RecordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "IGNORED", resp.Status)
	require.NotNil(t, resp.Memo)
	assert.Equal(t, "тестовый заказ", *resp.Memo)

	w = do(r, http.MethodPost, "/dead-letters/"+rec.ID+"/processing", "")
	assert.Equal(t, http.StatusConflict, w.Code, "IGNORED конечный")

	w = do(r, http.MethodPost, "/dead-letters/"+rec.ID+"/processed", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTP_Replay(t *testing.T) {
	store, rec := seeded(t)
	pub := &fakes.Publisher{}
	r := setupTestRouter(deadletter.NewService(store, pub))

	w := do(r, http.MethodPost, "/dead-letters/"+rec.ID+"/replay", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, pub.OnTopic("inventory.decrease"), 1)

	var resp deadletter.RecordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PROCESSED", resp.Status)
}
