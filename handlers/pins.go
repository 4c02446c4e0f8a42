package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"sknet/models"
	"sknet/services"
)

func (h *Handler) MyPins(c *gin.Context) {
	pins, err := h.net.MyPins(c.Request.Context(), actor(c).UserID, models.PinStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"pins": pins})
}

// PinQR renders the code as a PNG so it can be shared and scanned at signup.
func (h *Handler) PinQR(c *gin.Context) {
	pin, err := h.net.PinForOwner(c.Request.Context(), actor(c), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qrcode.Encode(pin.Code, qrcode.Medium, 256)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}

type IssuePinsRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Count          int    `json:"count"`
	Type           string `json:"type"`
	OwnerID        string `json:"ownerId"`
}

func (h *Handler) IssuePins(c *gin.Context) {
	var req IssuePinsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = string(models.PinAdmin)
	}
	pins, err := h.net.IssuePins(c.Request.Context(), actor(c), services.IssuePinsRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		Count:          req.Count,
		Type:           models.PinType(req.Type),
		OwnerID:        req.OwnerID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"pins": pins})
}
