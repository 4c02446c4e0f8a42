package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sknet/models"
	"sknet/services"
)

type WithdrawalRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	AccountNumber  string `json:"accountNumber"`
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	w, err := h.net.RequestWithdrawal(c.Request.Context(), actor(c), services.WithdrawalRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		Amount:         req.Amount,
		Method:         models.PaymentMethod(req.Method),
		AccountNumber:  req.AccountNumber,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"withdrawal": w})
}

func (h *Handler) MyWithdrawals(c *gin.Context) {
	list, err := h.net.MyWithdrawals(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"withdrawals": list})
}

func (h *Handler) AdminWithdrawals(c *gin.Context) {
	list, err := h.net.ListWithdrawals(c.Request.Context(), actor(c), models.WithdrawalStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"withdrawals": list})
}

type ReviewWithdrawalRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Notes          string `json:"notes"`
}

func (h *Handler) ReviewWithdrawal(c *gin.Context) {
	var req ReviewWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	w, err := h.net.ReviewWithdrawal(c.Request.Context(), actor(c), services.WithdrawalReviewRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		WithdrawalID:   c.Param("id"),
		Status:         models.WithdrawalStatus(req.Status),
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"withdrawal": w})
}
