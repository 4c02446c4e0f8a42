package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sknet/models"
	"sknet/services"
)

func (h *Handler) AdminUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	members, err := h.net.ListMembers(c.Request.Context(), actor(c), services.ListMembersRequest{
		Status: models.MemberStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"users": members})
}

type MemberStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetUserStatus(c *gin.Context) {
	var req MemberStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.net.SetMemberStatus(c.Request.Context(), actor(c), c.Param("id"), models.MemberStatus(req.Status)); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Status updated"})
}
