package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sknet/models"
	"sknet/services"
)

type LoginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

func (r AccountRequest) fields() services.AccountFields {
	return services.AccountFields{
		Username: r.Username,
		Email:    r.Email,
		Phone:    r.Phone,
		FullName: r.FullName,
		Password: r.Password,
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	login := req.Login
	if login == "" {
		login = req.Email
	}

	m, err := h.net.Login(c.Request.Context(), login, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	token, exp, err := h.tokens.Issue(m.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.setSession(c, token, int(h.tokens.TTL().Seconds()))

	respond(c, http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": exp,
		"role":      h.tokens.RoleOf(m.ID),
		"user":      m,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	h.setSession(c, "", -1)
	respond(c, http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) setSession(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, token, maxAge, "/", "", h.cfg.CookieSecure, true)
}

func (h *Handler) Me(c *gin.Context) {
	a := actor(c)
	m, err := h.net.Member(c.Request.Context(), a.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.net.Stats(c.Request.Context(), a.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"user":  m,
		"stats": stats,
		"role":  h.tokens.RoleOf(a.UserID),
	})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	err := h.net.ChangePassword(c.Request.Context(), actor(c).UserID, services.ChangePasswordRequest{
		Current: req.CurrentPassword,
		New:     req.NewPassword,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Password updated"})
}

type SignupRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	PinCode        string `json:"pinCode"`
	SponsorID      string `json:"sponsorId"`
	UnderUserID    string `json:"underUserId"`
	Leg            string `json:"leg"`
	AccountRequest
}

// Signup places a new member with a PIN. The sponsor defaults to the signed-in
// caller and may be absent; the parent defaults to the sponsor when one is set.
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.SponsorID == "" {
		req.SponsorID = c.GetString("userId")
	}
	if req.UnderUserID == "" && req.SponsorID != "" {
		req.UnderUserID = req.SponsorID
	}

	res, err := h.net.PlaceMember(c.Request.Context(), services.PlacementRequest{
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		PinCode:        req.PinCode,
		SponsorID:      req.SponsorID,
		UnderUserID:    req.UnderUserID,
		Leg:            models.Leg(req.Leg),
		Account:        req.fields(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"message": "Member placed",
		"user":    res.Member,
		"node":    res.Node,
	})
}

type SetupRootRequest struct {
	SetupToken string `json:"setupToken"`
	AccountRequest
}

// SetupRoot creates the root member once. It is disabled unless a setup
// token is configured.
func (h *Handler) SetupRoot(c *gin.Context) {
	var req SetupRootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	token := req.SetupToken
	if token == "" {
		token = c.GetHeader("X-Setup-Token")
	}
	want := h.cfg.RootSetupToken
	if want == "" || subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		h.fail(c, services.ErrForbidden)
		return
	}

	res, err := h.net.CreateRoot(c.Request.Context(), services.RootRequest{Account: req.fields()})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("root created over http", zap.String("userId", res.Member.ID))
	respond(c, http.StatusCreated, gin.H{"user": res.Member})
}
