package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamrelay/internal/core/domain"
	apperrors "streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newErrorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()), ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/test", handler)
	return router
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"validation", &domain.ValidationError{Field: domain.FieldSourceURL, Reason: "bad scheme"}, apperrors.ErrCodeInvalidInput},
		{"spawn", &domain.SpawnError{Binary: "ffmpeg", Err: errors.New("not found")}, apperrors.ErrCodeSpawnFailed},
		{"no session", fmt.Errorf("status: %w", domain.ErrNoActiveSession), apperrors.ErrCodeNotFound},
		{"shutting down", domain.ErrShuttingDown, apperrors.ErrCodeServiceUnavailable},
		{"app error", apperrors.NewUnauthorizedError("nope"), apperrors.ErrCodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			appErr := ToAppError(tc.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tc.code, appErr.Code)
		})
	}

	assert.Nil(t, ToAppError(errors.New("unknown")))
}

func TestErrorHandlerMiddleware_ValidationError(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		_ = c.Error(&domain.ValidationError{Field: domain.FieldStreamKey, Reason: "stream key is required"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_INPUT", body["error"])
	assert.Equal(t, map[string]interface{}{"field": "stream_key"}, body["details"])
}

func TestErrorHandlerMiddleware_SpawnError(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		_ = c.Error(&domain.SpawnError{Binary: "ffmpeg", Err: errors.New("executable file not found")})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "executable file not found")
}

func TestErrorHandlerMiddleware_UnknownError(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestRecoveryMiddleware(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTokenAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()), TokenAuthMiddleware("secret"))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Basic secret", http.StatusUnauthorized},
		{"Bearer secret", http.StatusOK},
		{"bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "header %q", tc.header)
	}
}
