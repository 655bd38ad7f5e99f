package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberchat/backend/internal/api/handler"
	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/config"
	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

func newTestService(t *testing.T) *storage.Service {
	t.Helper()

	db, err := storage.OpenDatabase("sqlite://:memory:")
	require.NoError(t, err)

	// Every pool connection would otherwise open its own private in-memory
	// database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, storage.Migrate(db))
	return storage.NewService(db, storage.NewMemoryBus())
}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newTestService(t)
	hub := chathub.NewHub()
	go hub.Run()
	t.Cleanup(hub.Close)

	cfg := &config.Config{JWTSecret: "test-secret", CORSOrigin: "*"}
	router := gin.New()
	handler.SetupRoutes(router, handler.NewHandler(hub, store, cfg))
	return router, store
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnonIDEndpointMintsParsableToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/anonid", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token  string `json:"token"`
		AnonID string `json:"anon_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.NotEmpty(t, resp.AnonID)

	anonID, err := handler.ParseToken(resp.Token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, resp.AnonID, anonID)
}

func TestBeaconDeleteQueueEntry(t *testing.T) {
	router, store := newTestRouter(t)

	entry := &models.QueueEntry{Mode: models.ModeFree}
	require.NoError(t, store.InsertQueueEntry(entry))

	w := doRequest(router, http.MethodDelete, "/queue/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted": true}`, w.Body.String())

	// The beacon may fire more than once; the repeat is a harmless no-op.
	w = doRequest(router, http.MethodDelete, "/queue/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted": false}`, w.Body.String())
}

func TestSubmitFeedbackEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	session, err := store.InsertSession(models.ModeFree)
	require.NoError(t, err)

	body := []byte(`{"role": "user1", "gender": "female"}`)
	w := doRequest(router, http.MethodPost, "/sessions/"+session.ID+"/feedback", body)
	assert.Equal(t, http.StatusOK, w.Code)

	rows, err := store.RecentFeedback(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, session.ID, rows[0].SessionID)
	assert.Equal(t, "female", rows[0].Gender)
}

func TestSubmitFeedbackRejectsBadPayload(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/sessions/s1/feedback", []byte(`{"role": "observer"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/sessions/s1/feedback", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/sessions/s1/feedback", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := handler.NewIPRateLimiter(1, 2)
	router := gin.New()
	router.GET("/ping", handler.RateLimitMiddleware(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := doRequest(router, http.MethodGet, "/ping", nil)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Reset clears the bucket and lets the visitor through again.
	limiter.Reset()
	w := doRequest(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
