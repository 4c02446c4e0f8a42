package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"sknet/models"
	"sknet/store"
	"sknet/websocket"
)

// SocketSink pushes to the member's open websocket connections.
type SocketSink struct {
	hub *websocket.Manager
}

func NewSocketSink(hub *websocket.Manager) *SocketSink {
	return &SocketSink{hub: hub}
}

func (s *SocketSink) Name() string { return "websocket" }

func (s *SocketSink) Send(_ context.Context, userID string, n models.Notification) error {
	s.hub.SendToUser(userID, websocket.Message{Type: n.Type, Payload: n})
	return nil
}

// PushStore is the subscription storage the push sink needs.
type PushStore interface {
	GetPushSubscription(ctx context.Context, userID string) (*models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID string) error
}

// PushSink sends browser push messages signed with the VAPID key pair.
type PushSink struct {
	subs       PushStore
	publicKey  string
	privateKey string
	subscriber string
	client     webpush.HTTPClient
	log        *zap.Logger
}

func NewPushSink(subs PushStore, publicKey, privateKey, subscriber string, log *zap.Logger) *PushSink {
	return &PushSink{
		subs:       subs,
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: strings.TrimPrefix(subscriber, "mailto:"),
		client:     &http.Client{Timeout: sendTimeout},
		log:        log,
	}
}

func (s *PushSink) Name() string { return "webpush" }

func (s *PushSink) Send(ctx context.Context, userID string, n models.Notification) error {
	sub, err := s.subs.GetPushSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load push subscription: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title": n.Title,
		"body":  n.Body,
		"data": map[string]interface{}{
			"type":      n.Type,
			"detail":    n.Data,
			"timestamp": time.Now().Unix(),
		},
	})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             30,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		s.log.Info("push subscription expired", zap.String("userId", userID))
		return s.subs.DeletePushSubscription(ctx, userID)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a new public/private key pair for push.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

type messageSender interface {
	SendMessage(chatId int64, text string, opts *gotgbot.SendMessageOpts) (*gotgbot.Message, error)
}

// TelegramSink posts admin notifications to one chat.
type TelegramSink struct {
	bot    messageSender
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) SendAdmins(_ context.Context, n models.Notification) error {
	_, err := s.bot.SendMessage(s.chatID, n.Title+"\n"+n.Body, &gotgbot.SendMessageOpts{
		LinkPreviewOptions: &gotgbot.LinkPreviewOptions{IsDisabled: true},
	})
	return err
}
