package commands

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sknet/tasks"
)

var (
	workerConcurrency int
	workerNoSchedule  bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued reward evaluations and scheduled maintenance",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 4, "number of tasks processed in parallel")
	workerCmd.Flags().BoolVar(&workerNoSchedule, "no-schedule", false, "do not register the daily PIN purge")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	opt, ok := a.redisOpt()
	if !ok {
		return errors.New("worker needs REDIS_ADDR")
	}

	dispatcher := a.dispatcher(a.cfg.AdminIDs)
	defer dispatcher.Wait()

	// Evaluations run here are the retries, so they are not queued again.
	processor := tasks.NewProcessor(a.network(dispatcher, nil), a.log)

	if !workerNoSchedule {
		scheduler, err := tasks.NewScheduler(opt, a.log)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer scheduler.Shutdown()
	}

	srv := tasks.NewServer(opt, workerConcurrency, a.log)
	if err := srv.Start(processor.Mux()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	a.log.Info("worker running", zap.Int("concurrency", workerConcurrency))

	<-ctx.Done()
	a.log.Info("stopping worker")
	srv.Shutdown()
	return nil
}
