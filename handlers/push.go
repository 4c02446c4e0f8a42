package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sknet/services"
)

func (h *Handler) VapidPublicKey(c *gin.Context) {
	if h.cfg.VAPIDPublicKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Push notifications are not configured"})
		return
	}
	respond(c, http.StatusOK, gin.H{"publicKey": h.cfg.VAPIDPublicKey})
}

type SubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *Handler) SubscribePush(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	err := h.net.SavePushSubscription(c.Request.Context(), actor(c).UserID, services.PushSubscriptionRequest{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Push subscription saved"})
}
