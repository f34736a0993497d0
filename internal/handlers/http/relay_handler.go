package http

import (
	"context"
	"net/http"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/infrastructure/middleware"
	"streamrelay/pkg/errors"
	"streamrelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

// HealthReporter is satisfied by *monitoring.HealthChecker.
type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

// RelayHandler is the admin API over the relay manager. Responses carry
// RelayInfo, which never includes a stream key.
type RelayHandler struct {
	relays ports.RelayService
	health HealthReporter
	token  string
}

func NewRelayHandler(relays ports.RelayService, health HealthReporter, token string) *RelayHandler {
	return &RelayHandler{
		relays: relays,
		health: health,
		token:  token,
	}
}

func (h *RelayHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	api.Use(middleware.TokenAuthMiddleware(h.token))
	{
		api.GET("/relays", h.ListRelays)
		api.GET("/relays/:user_id", h.GetRelay)
		api.POST("/relays/:user_id", h.StartRelay)
		api.DELETE("/relays/:user_id", h.StopRelay)
	}
}

func (h *RelayHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *RelayHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *RelayHandler) ListRelays(c *gin.Context) {
	sessions := h.relays.ListRelays(c.Request.Context())

	relays := make([]domain.RelayInfo, 0, len(sessions))
	for _, s := range sessions {
		relays = append(relays, s.Info())
	}
	c.JSON(http.StatusOK, gin.H{
		"relays": relays,
		"count":  len(relays),
	})
}

func (h *RelayHandler) GetRelay(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	session, err := h.relays.Status(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relay": session.Info()})
}

func (h *RelayHandler) StartRelay(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req domain.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("request body must be a JSON stream request"))
		return
	}

	result, err := h.relays.StartRelay(c.Request.Context(), userID, req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	body := gin.H{"relay": result.Session.Info()}
	if result.Replaced != nil {
		body["replaced"] = result.Replaced.Info()
	}
	c.JSON(http.StatusCreated, body)
}

func (h *RelayHandler) StopRelay(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	session, err := h.relays.StopRelay(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relay": session.Info()})
}

func userIDParam(c *gin.Context) (domain.UserID, bool) {
	raw := c.Param("user_id")
	if err := validation.ValidateUserID(raw); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()).WithContext("field", domain.FieldUserID))
		return "", false
	}
	return domain.UserID(raw), true
}
