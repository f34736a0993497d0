package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/internal/core/services"
	"streamrelay/internal/infrastructure/middleware"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "admin-token"

type MockRelayService struct {
	mock.Mock
}

func (m *MockRelayService) StartRelay(ctx context.Context, userID domain.UserID, req domain.StreamRequest) (*ports.StartResult, error) {
	args := m.Called(ctx, userID, req)
	result, _ := args.Get(0).(*ports.StartResult)
	return result, args.Error(1)
}

func (m *MockRelayService) StopRelay(ctx context.Context, userID domain.UserID) (*domain.RelaySession, error) {
	args := m.Called(ctx, userID)
	session, _ := args.Get(0).(*domain.RelaySession)
	return session, args.Error(1)
}

func (m *MockRelayService) Status(ctx context.Context, userID domain.UserID) (*domain.RelaySession, error) {
	args := m.Called(ctx, userID)
	session, _ := args.Get(0).(*domain.RelaySession)
	return session, args.Error(1)
}

func (m *MockRelayService) ListRelays(ctx context.Context) []*domain.RelaySession {
	args := m.Called(ctx)
	sessions, _ := args.Get(0).([]*domain.RelaySession)
	return sessions
}

func (m *MockRelayService) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type staticHealth struct {
	status string
}

func (s staticHealth) CheckAll(context.Context) monitoring.HealthStatus {
	return monitoring.HealthStatus{
		Status:    s.status,
		Timestamp: time.Now(),
		Checks:    map[string]string{"relay_binary": s.status},
	}
}

func setupRouter(relays ports.RelayService, health HealthReporter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	log := zap.NewNop().Sugar()
	router.Use(middleware.RecoveryMiddleware(log), middleware.ErrorHandlerMiddleware(log))
	NewRelayHandler(relays, health, testToken).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func testSession(id string, user domain.UserID) *domain.RelaySession {
	return domain.NewRelaySession(domain.SessionID(id), user, domain.StreamRequest{
		SourceURL:      "https://src.example/index.m3u8",
		DestinationURL: "rtmp://dest.example/live/",
		StreamKey:      "SECRETKEY",
	}, nil)
}

func TestHealthAndReady(t *testing.T) {
	router := setupRouter(&MockRelayService{}, staticHealth{status: "healthy"})

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/health", "", false).Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ready", "", false).Code)

	router = setupRouter(&MockRelayService{}, staticHealth{status: "unhealthy"})
	w := doRequest(router, http.MethodGet, "/ready", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func TestRelayAPI_RequiresToken(t *testing.T) {
	relays := &MockRelayService{}
	router := setupRouter(relays, staticHealth{status: "healthy"})

	w := doRequest(router, http.MethodGet, "/api/v1/relays", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w)["error"])
	relays.AssertNotCalled(t, "ListRelays", mock.Anything)
}

func TestRelayAPI_List(t *testing.T) {
	relays := &MockRelayService{}
	relays.On("ListRelays", mock.Anything).Return([]*domain.RelaySession{
		testSession("s-1", "alice"),
		testSession("s-2", "bob"),
	})
	router := setupRouter(relays, staticHealth{status: "healthy"})

	w := doRequest(router, http.MethodGet, "/api/v1/relays", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])
	assert.NotContains(t, w.Body.String(), "SECRETKEY")
}

func TestRelayAPI_Get(t *testing.T) {
	relays := &MockRelayService{}
	relays.On("Status", mock.Anything, domain.UserID("alice")).Return(testSession("s-1", "alice"), nil)
	relays.On("Status", mock.Anything, domain.UserID("bob")).Return(nil, domain.ErrNoActiveSession)
	router := setupRouter(relays, staticHealth{status: "healthy"})

	w := doRequest(router, http.MethodGet, "/api/v1/relays/alice", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	relay := decode(t, w)["relay"].(map[string]interface{})
	assert.Equal(t, "s-1", relay["session_id"])
	assert.Equal(t, "rtmp://dest.example/live/", relay["destination"])

	w = doRequest(router, http.MethodGet, "/api/v1/relays/bob", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])
}

func TestRelayAPI_InvalidUserID(t *testing.T) {
	router := setupRouter(&MockRelayService{}, staticHealth{status: "healthy"})

	w := doRequest(router, http.MethodGet, "/api/v1/relays/bad%20id", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
}

func TestRelayAPI_Start(t *testing.T) {
	relays := &MockRelayService{}
	want := domain.StreamRequest{
		SourceURL:      "https://src.example/index.m3u8",
		DestinationURL: "rtmp://dest.example/live/",
		StreamKey:      "SECRETKEY",
	}
	relays.On("StartRelay", mock.Anything, domain.UserID("alice"), want).Return(&ports.StartResult{
		Session:  testSession("s-2", "alice"),
		Replaced: testSession("s-1", "alice"),
	}, nil)
	router := setupRouter(relays, staticHealth{status: "healthy"})

	body := `{"source_url":"https://src.example/index.m3u8","destination_url":"rtmp://dest.example/live/","stream_key":"SECRETKEY"}`
	w := doRequest(router, http.MethodPost, "/api/v1/relays/alice", body, true)

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "s-2", resp["relay"].(map[string]interface{})["session_id"])
	assert.Equal(t, "s-1", resp["replaced"].(map[string]interface{})["session_id"])
	assert.NotContains(t, w.Body.String(), "SECRETKEY")
	relays.AssertExpectations(t)
}

func TestRelayAPI_StartErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &domain.ValidationError{Field: domain.FieldSourceURL, Reason: "unsupported scheme"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"spawn", &domain.SpawnError{Binary: "ffmpeg", Err: errors.New("not found")}, http.StatusBadGateway, "SPAWN_FAILED"},
		{"shutting down", domain.ErrShuttingDown, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relays := &MockRelayService{}
			relays.On("StartRelay", mock.Anything, mock.Anything, mock.Anything).Return(nil, tc.err)
			router := setupRouter(relays, staticHealth{status: "healthy"})

			w := doRequest(router, http.MethodPost, "/api/v1/relays/alice", `{"source_url":"x","destination_url":"y","stream_key":"z"}`, true)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decode(t, w)["error"])
		})
	}
}

func TestRelayAPI_StartRejectsBadBody(t *testing.T) {
	relays := &MockRelayService{}
	router := setupRouter(relays, staticHealth{status: "healthy"})

	w := doRequest(router, http.MethodPost, "/api/v1/relays/alice", "{not json", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	relays.AssertNotCalled(t, "StartRelay", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayAPI_Stop(t *testing.T) {
	relays := &MockRelayService{}
	relays.On("StopRelay", mock.Anything, domain.UserID("alice")).Return(testSession("s-1", "alice"), nil).Once()
	relays.On("StopRelay", mock.Anything, domain.UserID("alice")).Return(nil, domain.ErrNoActiveSession).Once()
	router := setupRouter(relays, staticHealth{status: "healthy"})

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodDelete, "/api/v1/relays/alice", "", true).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodDelete, "/api/v1/relays/alice", "", true).Code)
	relays.AssertExpectations(t)
}

// countingLauncher records spawn attempts and never starts anything.
type countingLauncher struct {
	launches atomic.Int32
}

func (l *countingLauncher) Launch(ctx context.Context, cmd domain.CommandLine, sessionID domain.SessionID) (domain.ProcessHandle, error) {
	l.launches.Add(1)
	return nil, errors.New("unexpected launch")
}

func TestRelayAPI_StartRejectsPaddedURLs(t *testing.T) {
	launcher := &countingLauncher{}
	manager := services.NewRelayManager(memory.NewSessionRegistry(), launcher, services.DefaultRelayConfig(), zap.NewNop().Sugar())
	router := setupRouter(manager, staticHealth{status: "healthy"})

	bodies := []string{
		`{"source_url":" https://src.example/index.m3u8","destination_url":"rtmp://dest.example/live/","stream_key":"k"}`,
		`{"source_url":"https://src.example/index.m3u8","destination_url":"rtmp://dest.example/live/ ","stream_key":"k"}`,
	}
	for _, body := range bodies {
		w := doRequest(router, http.MethodPost, "/api/v1/relays/alice", body, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
	}
	assert.Equal(t, int32(0), launcher.launches.Load())
}
