// Package tasks runs background work on asynq: reward evaluations that
// failed after a placement, and the periodic PIN purge.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"sknet/services"
)

const (
	TypeRewardEvaluate = "reward:evaluate"
	TypePurgePins      = "pins:purge"

	QueueRewards     = "rewards"
	QueueMaintenance = "maintenance"

	rewardMaxRetry = 10
)

type rewardPayload struct {
	UserID string `json:"userId"`
}

func NewRewardTask(userID string) (*asynq.Task, error) {
	payload, err := json.Marshal(rewardPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRewardEvaluate, payload, asynq.MaxRetry(rewardMaxRetry), asynq.Queue(QueueRewards)), nil
}

func NewPurgePinsTask() *asynq.Task {
	return asynq.NewTask(TypePurgePins, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(3))
}

// Queue enqueues reward re-evaluations. It satisfies services.RetryQueue.
type Queue struct {
	client *asynq.Client
}

func NewQueue(redis asynq.RedisClientOpt) *Queue {
	return &Queue{client: asynq.NewClient(redis)}
}

func (q *Queue) EnqueueRewardCheck(ctx context.Context, userID string) error {
	task, err := NewRewardTask(userID)
	if err != nil {
		return err
	}
	// One pending evaluation per member is enough; a duplicate is not an error.
	_, err = q.client.EnqueueContext(ctx, task, asynq.Unique(time.Minute))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Processor handles the task types against the network services.
type Processor struct {
	net *services.Network
	log *zap.Logger
}

func NewProcessor(net *services.Network, log *zap.Logger) *Processor {
	return &Processor{net: net, log: log}
}

func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRewardEvaluate, p.HandleRewardEvaluate)
	mux.HandleFunc(TypePurgePins, p.HandlePurgePins)
	return mux
}

func (p *Processor) HandleRewardEvaluate(ctx context.Context, t *asynq.Task) error {
	var payload rewardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == "" {
		return fmt.Errorf("bad reward payload %q: %w", t.Payload(), asynq.SkipRetry)
	}
	awarded, err := p.net.CheckAndAward(ctx, payload.UserID)
	if errors.Is(err, services.ErrMemberNotFound) {
		return fmt.Errorf("member %s: %w", payload.UserID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	p.log.Info("reward evaluation retried",
		zap.String("userId", payload.UserID),
		zap.Int("awarded", len(awarded)))
	return nil
}

func (p *Processor) HandlePurgePins(ctx context.Context, _ *asynq.Task) error {
	deleted, err := p.net.PurgeExpiredPins(ctx)
	if err != nil {
		return err
	}
	p.log.Info("expired pins purged", zap.Int64("deleted", deleted))
	return nil
}

// NewServer builds the worker server with zap as its logger.
func NewServer(redis asynq.RedisClientOpt, concurrency int, log *zap.Logger) *asynq.Server {
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueRewards:     3,
			QueueMaintenance: 1,
		},
		Logger: log.Sugar(),
	})
}

// NewScheduler registers the daily PIN purge.
func NewScheduler(redis asynq.RedisClientOpt, log *zap.Logger) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Logger: log.Sugar()})
	if _, err := s.Register("@daily", NewPurgePinsTask()); err != nil {
		return nil, err
	}
	return s, nil
}
