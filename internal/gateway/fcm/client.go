package fcm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pushbeam/pushbeam/internal/gateway"
	"github.com/pushbeam/pushbeam/internal/models"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Config holds the Firebase project settings for the FCM gateway.
type Config struct {
	CredentialsFile string
	ProjectID       string
}

// Client implements gateway.Gateway on top of Firebase Cloud Messaging.
type Client struct {
	cfg    Config
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
	client   MessagingClient
}

// NewClient builds an FCM client. The underlying Firebase app is initialised
// lazily via Init, which is safe to invoke multiple times per process.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "fcm")),
	}
}

// NewClientWithMessaging injects a preconfigured messaging client, primarily
// for testing. Note: *messaging.Client satisfies MessagingClient.
func NewClientWithMessaging(mc MessagingClient, logger *zap.Logger) *Client {
	c := NewClient(Config{}, logger)
	c.client = mc
	c.initOnce.Do(func() {})
	return c
}

// Init establishes the Firebase app and messaging client exactly once.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		var opts []option.ClientOption
		if c.cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(c.cfg.CredentialsFile))
		}

		var fbCfg *firebase.Config
		if c.cfg.ProjectID != "" {
			fbCfg = &firebase.Config{ProjectID: c.cfg.ProjectID}
		}

		app, err := firebase.NewApp(ctx, fbCfg, opts...)
		if err != nil {
			c.initErr = fmt.Errorf("fcm: initialise firebase app: %w", err)
			return
		}

		client, err := app.Messaging(ctx)
		if err != nil {
			c.initErr = fmt.Errorf("fcm: obtain messaging client: %w", err)
			return
		}

		c.client = client
		c.logger.Info("fcm client initialised", zap.String("project_id", c.cfg.ProjectID))
	})
	return c.initErr
}

// Send delivers one message to one device token, returning the gateway
// message id or a *gateway.SendError with a classified code.
func (c *Client) Send(ctx context.Context, msg gateway.Message) (string, error) {
	if err := c.Init(ctx); err != nil {
		return "", &gateway.SendError{Code: gateway.CodeInternal, Message: err.Error()}
	}

	id, err := c.client.Send(ctx, buildMessage(msg, time.Now()))
	if err != nil {
		sendErr := classify(err)
		c.logger.Debug("fcm send failed",
			zap.String("code", string(sendErr.Code)),
			zap.Error(err),
		)
		return "", sendErr
	}

	return id, nil
}

// buildMessage maps a gateway message to the FCM wire shape. The priority
// hints are a pure function of msg.Priority, not configurable per call.
func buildMessage(msg gateway.Message, now time.Time) *messaging.Message {
	high := msg.Priority == models.PriorityHigh
	ttl := msg.TTL

	androidPriority := "normal"
	apnsPriority := "5"
	notifPriority := messaging.PriorityDefault
	if high {
		androidPriority = "high"
		apnsPriority = "10"
		notifPriority = messaging.PriorityHigh
	}

	badge := 1
	requireInteraction := high

	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
				Priority:    notifPriority,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":   apnsPriority,
				"apns-expiration": strconv.FormatInt(now.Add(ttl).Unix(), 10),
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge:            &badge,
					Sound:            "default",
					ContentAvailable: true,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{
				"TTL": strconv.Itoa(int(ttl.Seconds())),
			},
			Notification: &messaging.WebpushNotification{
				Icon:               "/icon-192x192.png",
				Badge:              "/badge-72x72.png",
				RequireInteraction: requireInteraction,
			},
		},
	}
}

// classify maps Firebase SDK errors onto the gateway error taxonomy. Only
// token-not-registered and invalid-argument responses condemn the token;
// everything else is transient.
func classify(err error) *gateway.SendError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &gateway.SendError{Code: gateway.CodeTimeout, Message: err.Error()}
	case messaging.IsRegistrationTokenNotRegistered(err):
		return &gateway.SendError{Code: gateway.CodeTokenNotRegistered, Message: err.Error()}
	case messaging.IsInvalidArgument(err):
		return &gateway.SendError{Code: gateway.CodeInvalidToken, Message: err.Error()}
	case messaging.IsUnavailable(err):
		return &gateway.SendError{Code: gateway.CodeUnavailable, Message: err.Error()}
	case messaging.IsQuotaExceeded(err):
		return &gateway.SendError{Code: gateway.CodeQuotaExceeded, Message: err.Error()}
	case messaging.IsInternal(err):
		return &gateway.SendError{Code: gateway.CodeInternal, Message: err.Error()}
	default:
		return &gateway.SendError{Code: gateway.CodeUnknown, Message: err.Error()}
	}
}
