package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sknet/auth"
	"sknet/config"
	"sknet/middleware"
	"sknet/services"
)

// Handler serves the JSON API on top of the network services.
type Handler struct {
	net    *services.Network
	tokens *auth.Service
	cfg    *config.Config
	log    *zap.Logger
}

func New(net *services.Network, tokens *auth.Service, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{net: net, tokens: tokens, cfg: cfg, log: log}
}

var kindStatus = map[services.Kind]int{
	services.KindValidation:   http.StatusBadRequest,
	services.KindNotFound:     http.StatusNotFound,
	services.KindConflict:     http.StatusBadRequest,
	services.KindDuplicate:    http.StatusConflict,
	services.KindUnauthorized: http.StatusUnauthorized,
	services.KindForbidden:    http.StatusForbidden,
	services.KindInternal:     http.StatusInternalServerError,
}

func respond(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// fail writes the error envelope. Internal details stay in the log.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{"success": false, "error": "Internal server error"}
	var e *services.Error
	if kind != services.KindInternal && errors.As(err, &e) {
		body["error"] = e.Message
		body["code"] = e.Code
	} else {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("userId", c.GetString("userId")),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func actor(c *gin.Context) services.Actor {
	id, _ := middleware.IdentityFrom(c)
	return services.Actor{UserID: id.UserID, Admin: id.IsAdmin()}
}

// idempotencyKey prefers the body field, then the Idempotency-Key header.
// Clients that send neither get a fresh key, so their retries are not
// deduplicated.
func idempotencyKey(c *gin.Context, fromBody string) string {
	if k := strings.TrimSpace(fromBody); k != "" {
		return k
	}
	if k := strings.TrimSpace(c.GetHeader("Idempotency-Key")); k != "" {
		return k
	}
	return uuid.NewString()
}
