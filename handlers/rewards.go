package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sknet/models"
	"sknet/services"
)

func (h *Handler) RewardTiers(c *gin.Context) {
	tiers, err := h.net.RewardTiers(c.Request.Context(), !actor(c).Admin)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"tiers": tiers})
}

func (h *Handler) MyRewards(c *gin.Context) {
	rewards, err := h.net.MyRewards(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"rewards": rewards})
}

func (h *Handler) AdminRewards(c *gin.Context) {
	rewards, err := h.net.ListRewards(c.Request.Context(), actor(c), models.RewardStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"rewards": rewards})
}

type PayRewardRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Notes          string `json:"notes"`
}

func (h *Handler) PayReward(c *gin.Context) {
	var req PayRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	reward, err := h.net.PayReward(c.Request.Context(), actor(c), services.PayRewardRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		RewardID:       c.Param("id"),
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"reward": reward})
}

type TierRequest struct {
	Order     int    `json:"order"`
	Threshold int64  `json:"threshold"`
	Rank      string `json:"rank"`
	BonusRs   int64  `json:"bonusRs"`
	IsActive  *bool  `json:"isActive"`
}

func (h *Handler) UpsertTier(c *gin.Context) {
	var req TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	tier, err := h.net.UpsertTier(c.Request.Context(), actor(c), services.TierRequest{
		Order:     req.Order,
		Threshold: req.Threshold,
		Rank:      req.Rank,
		BonusRs:   req.BonusRs,
		IsActive:  active,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"tier": tier})
}
