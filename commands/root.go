package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sknet/config"
	"sknet/database"
	"sknet/logging"
	"sknet/notify"
	"sknet/services"
	"sknet/store"
)

var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:     "sknet",
	Short:   "SKN binary referral network backend",
	Version: Version,
	// Errors are printed once by Execute.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or env); environment variables win")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(seedTiersCmd)
	rootCmd.AddCommand(purgePinsCmd)
	rootCmd.AddCommand(createRootCmd)
	rootCmd.AddCommand(vapidKeysCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every command that touches the network needs.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store store.Store
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Release(), cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: st}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.log.Warn("store close", zap.Error(err))
	}
	a.log.Sync()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver != "mongo" {
		db, err := database.OpenSQL(cfg.StoreDriver, cfg.SQLDSN, log)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.StoreDriver, err)
		}
		return store.NewGormStore(db), nil
	}

	client, err := database.ConnectMongo(ctx, cfg.MongoURI, log)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureIndexes(ctx, client.Database(cfg.MongoDatabase)); err != nil {
		database.DisconnectMongo(client)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return store.NewMongoStore(client, cfg.MongoDatabase), nil
}

// network builds the domain service. Notifier and retry queue are optional.
func (a *app) network(notifier services.Notifier, retry services.RetryQueue) *services.Network {
	return services.New(a.store, a.log, services.Options{
		PinTTL:   a.cfg.PinTTL,
		PinPrice: a.cfg.PinPrice,
		Notifier: notifier,
		Retry:    retry,
	})
}

func (a *app) redisOpt() (asynq.RedisClientOpt, bool) {
	if a.cfg.RedisAddr == "" {
		return asynq.RedisClientOpt{}, false
	}
	return asynq.RedisClientOpt{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, true
}

// dispatcher wires the out-of-process sinks. The serve command adds the
// websocket sink on top.
func (a *app) dispatcher(adminIDs []string) *notify.Dispatcher {
	d := notify.NewDispatcher(a.log, adminIDs)
	if a.cfg.VAPIDPublicKey != "" && a.cfg.VAPIDPrivateKey != "" {
		d.AddSink(notify.NewPushSink(a.store, a.cfg.VAPIDPublicKey, a.cfg.VAPIDPrivateKey, a.cfg.VAPIDSubscriber, a.log))
	}
	if a.cfg.TelegramToken != "" && a.cfg.TelegramAdminChatID != 0 {
		tg, err := notify.NewTelegramSink(a.cfg.TelegramToken, a.cfg.TelegramAdminChatID)
		if err != nil {
			a.log.Warn("telegram alerts disabled", zap.Error(err))
		} else {
			d.AddAdminSink(tg)
		}
	}
	return d
}
