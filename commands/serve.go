package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sknet/auth"
	"sknet/handlers"
	"sknet/notify"
	"sknet/routes"
	"sknet/services"
	"sknet/tasks"
	"sknet/websocket"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket hub",
	Long: `Run the HTTP API.

Redis is optional. Without REDIS_ADDR rate limits are kept per process and
failed reward evaluations are only logged instead of being queued for the
worker.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.cfg.RequireSecret(); err != nil {
		return err
	}
	gin.SetMode(a.cfg.GinMode)

	tokens := auth.NewService(a.cfg.JWTSecret, a.cfg.TokenTTL, a.cfg.AdminIDs)
	if len(tokens.AdminIDs()) == 0 {
		a.log.Warn("ADMIN_IDS is empty, admin routes are unreachable")
	}

	hub := websocket.NewManager(a.log)
	go hub.Start(ctx)

	dispatcher := a.dispatcher(tokens.AdminIDs())
	dispatcher.AddSink(notify.NewSocketSink(hub))
	defer dispatcher.Wait()

	var (
		rdb   *redis.Client
		retry services.RetryQueue
	)
	if opt, ok := a.redisOpt(); ok {
		rdb = redis.NewClient(&redis.Options{Addr: opt.Addr, Password: opt.Password, DB: opt.DB})
		defer rdb.Close()

		queue := tasks.NewQueue(opt)
		defer queue.Close()
		retry = queue
	}

	net := a.network(dispatcher, retry)
	router := routes.SetupRouter(routes.Deps{
		Config:  a.cfg,
		Handler: handlers.New(net, tokens, a.cfg, a.log),
		Tokens:  tokens,
		Hub:     hub,
		Store:   a.store,
		Redis:   rdb,
		Log:     a.log,
	})

	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("server listening", zap.String("addr", server.Addr), zap.String("store", a.cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("forced shutdown", zap.Error(err))
	}
	a.log.Info("server stopped")
	return nil
}
