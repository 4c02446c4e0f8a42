package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sknet/models"
	"sknet/services"
)

type PaymentRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Method         string `json:"method"`
	Amount         int64  `json:"amount"`
	TrxID          string `json:"trxId"`
	AccountNumber  string `json:"accountNumber"`
	ProofRef       string `json:"proofRef"`
}

func (h *Handler) SubmitPayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	p, err := h.net.SubmitPayment(c.Request.Context(), actor(c), services.SubmitPaymentRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		Method:         models.PaymentMethod(req.Method),
		Amount:         req.Amount,
		TrxID:          req.TrxID,
		AccountNumber:  req.AccountNumber,
		ProofRef:       req.ProofRef,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"message": "Payment submitted for review",
		"payment": p,
		"pins":    h.net.PinsFor(p.Amount),
	})
}

func (h *Handler) MyPayments(c *gin.Context) {
	payments, err := h.net.MyPayments(c.Request.Context(), actor(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) AdminPayments(c *gin.Context) {
	payments, err := h.net.ListPayments(c.Request.Context(), actor(c), models.PaymentStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"payments": payments})
}

type ReviewPaymentRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Action         string `json:"action"`
	Notes          string `json:"notes"`
}

func (h *Handler) ReviewPayment(c *gin.Context) {
	var req ReviewPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	res, err := h.net.ReviewPayment(c.Request.Context(), actor(c), services.ReviewRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		PaymentID:      c.Param("id"),
		Action:         services.ReviewAction(req.Action),
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"payment": res.Payment,
		"pins":    res.Pins,
	})
}
