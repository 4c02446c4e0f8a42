package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Tree(c *gin.Context) {
	a := actor(c)
	rootID := c.DefaultQuery("root", a.UserID)
	depth, _ := strconv.Atoi(c.Query("depth"))

	view, err := h.net.Subtree(c.Request.Context(), a, rootID, depth)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"tree": view})
}

func (h *Handler) TreeStatus(c *gin.Context) {
	userID := c.DefaultQuery("userId", actor(c).UserID)
	status, err := h.net.TreeStatus(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"status": status})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.net.Stats(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"stats": stats, "balance": stats.Balance()})
}
