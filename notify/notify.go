// Package notify fans service notifications out to live sockets, browser
// push and the admin Telegram chat. Delivery is best effort and never
// blocks the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sknet/models"
)

const sendTimeout = 10 * time.Second

// Sink delivers one notification to one member.
type Sink interface {
	Name() string
	Send(ctx context.Context, userID string, n models.Notification) error
}

// AdminSink delivers a notification to the operators as a group.
type AdminSink interface {
	Name() string
	SendAdmins(ctx context.Context, n models.Notification) error
}

type Dispatcher struct {
	sinks      []Sink
	adminSinks []AdminSink
	adminIDs   []string
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewDispatcher(log *zap.Logger, adminIDs []string) *Dispatcher {
	return &Dispatcher{adminIDs: adminIDs, log: log}
}

func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

func (d *Dispatcher) AddAdminSink(s AdminSink) {
	d.adminSinks = append(d.adminSinks, s)
}

// Notify sends n to userID on every sink in the background. The request
// context only supplies values; delivery outlives the request.
func (d *Dispatcher) Notify(ctx context.Context, userID string, n models.Notification) {
	if userID == "" {
		return
	}
	for _, s := range d.sinks {
		s := s
		d.run(ctx, s.Name(), func(ctx context.Context) error {
			return s.Send(ctx, userID, n)
		})
	}
}

// NotifyAdmins sends n to every configured admin member and to each admin
// sink.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, n models.Notification) {
	for _, id := range d.adminIDs {
		d.Notify(ctx, id, n)
	}
	for _, s := range d.adminSinks {
		s := s
		d.run(ctx, s.Name(), func(ctx context.Context) error {
			return s.SendAdmins(ctx, n)
		})
	}
}

func (d *Dispatcher) run(parent context.Context, sink string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification sink panicked", zap.String("sink", sink), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), sendTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.log.Warn("notification not delivered", zap.String("sink", sink), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
