package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sknet/auth"
	"sknet/config"
	"sknet/handlers"
	"sknet/middleware"
	"sknet/websocket"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Config  *config.Config
	Handler *handlers.Handler
	Tokens  *auth.Service
	Hub     *websocket.Manager
	Store   Pinger
	Redis   *redis.Client // optional; rate limits are per process without it
	Log     *zap.Logger
}

func SetupRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(d.Log))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     d.Config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", "Idempotency-Key", "X-Setup-Token"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/api/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "status": "degraded", "error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  "ok",
			"time":    time.Now().Unix(),
			"online":  d.Hub.GetConnectedUsers(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(websocket.Handler(d.Hub, d.Tokens, d.Config.CookieName)))

	h := d.Handler
	api := router.Group("/api")
	api.Use(
		middleware.RateLimit(d.Redis, d.Config.RateWindow, d.Config.RateLimit),
		middleware.Timeout(d.Config.RequestTimeout),
	)

	// Public routes (no auth required)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.POST("/signup", h.Signup)
	api.POST("/setup/root", h.SetupRoot)
	api.GET("/vapid-public-key", h.VapidPublicKey)

	protected := api.Group("")
	protected.Use(middleware.Authenticate(d.Tokens, d.Config.CookieName))

	protected.GET("/me", h.Me)
	protected.PUT("/me/password", h.ChangePassword)
	protected.POST("/subscribe", h.SubscribePush)

	protected.POST("/members", h.Signup)
	protected.GET("/tree", h.Tree)
	protected.GET("/tree/status", h.TreeStatus)
	protected.GET("/stats", h.Stats)

	protected.GET("/pins", h.MyPins)
	protected.GET("/pins/:code/qr", h.PinQR)

	protected.POST("/payments", h.SubmitPayment)
	protected.GET("/payments", h.MyPayments)

	protected.GET("/rewards/tiers", h.RewardTiers)
	protected.GET("/rewards", h.MyRewards)

	protected.POST("/withdrawals", h.RequestWithdrawal)
	protected.GET("/withdrawals", h.MyWithdrawals)

	// ReviewPayment checks the idempotency key before the caller's role, so
	// a replayed key is reported as a duplicate even for non-admins.
	protected.POST("/admin/payments/:id/review", h.ReviewPayment)

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireAdmin())

	admin.GET("/users", h.AdminUsers)
	admin.PUT("/users/:id/status", h.SetUserStatus)
	admin.POST("/pins", h.IssuePins)
	admin.GET("/payments", h.AdminPayments)
	admin.GET("/rewards", h.AdminRewards)
	admin.POST("/rewards/:id/pay", h.PayReward)
	admin.PUT("/tiers", h.UpsertTier)
	admin.GET("/withdrawals", h.AdminWithdrawals)
	admin.POST("/withdrawals/:id/review", h.ReviewWithdrawal)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Endpoint not found",
				"path":    c.Request.URL.Path,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})

	return router
}
