package coordinator

import (
	"context"
	"time"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/event"
	"github.com/chattingus/realtime/internal/notify"
	"github.com/chattingus/realtime/internal/store"
	"github.com/chattingus/realtime/internal/topic"
	"go.uber.org/zap"
)

// NotifyRequest describes a notification-worthy action. Sender is the
// zero value for system notifications.
type NotifyRequest struct {
	RecipientID string
	Sender      auth.Identity
	Type        string
	ObjectType  string
	ObjectID    string
}

// NotifyUser creates and fans out a notification across every enabled
// channel. Self-notifications are suppressed entirely. A disabled
// in-app preference short-circuits the whole operation: no row, no
// broadcast, no side channels. Push and email are fire-and-forget:
// their failure never retracts the persisted row or the broadcast.
func (c *Coordinator) NotifyUser(ctx context.Context, req NotifyRequest) (store.Notification, error) {
	if req.Sender.UserID != "" && req.Sender.UserID == req.RecipientID {
		c.logger.Debug("skipping self-notification",
			zap.String("userId", req.RecipientID))
		return store.Notification{}, nil
	}

	preferences, err := c.preferences.Get(ctx, req.RecipientID)
	if err != nil {
		return store.Notification{}, err
	}

	if !preferences.IsEnabled(req.Type, store.ChannelInApp) {
		c.logger.Debug("in-app notifications disabled",
			zap.String("userId", req.RecipientID),
			zap.String("notificationType", req.Type))
		return store.Notification{}, nil
	}

	notification, err := c.store.CreateNotification(ctx, store.NewNotification{
		RecipientID: req.RecipientID,
		SenderID:    req.Sender.UserID,
		Type:        req.Type,
		ObjectType:  req.ObjectType,
		ObjectID:    req.ObjectID,
	})
	if err != nil {
		return store.Notification{}, err
	}

	text := notify.Text(req.Type, req.Sender.DisplayName())
	link := notify.Link(req.ObjectType, req.ObjectID, req.Sender.Username)

	c.dispatcher.Broadcast(topic.Notify(req.RecipientID), event.Notification{
		Type: event.TypeNotification,
		Notification: event.NotificationBody{
			ID:   notification.ID,
			Type: notification.Type,
			Text: text,
			Link: link,
			Sender: event.NotificationSender{
				ID:             req.Sender.UserID,
				Username:       req.Sender.Username,
				ProfilePicture: req.Sender.ProfilePicture,
			},
			IsRead:    false,
			CreatedAt: notification.CreatedAt,
			TimeAgo:   notify.TimeAgo(notification.CreatedAt, time.Now()),
		},
	})

	if preferences.IsEnabled(req.Type, store.ChannelPush) && len(preferences.FCMTokens) > 0 {
		c.spawnSideChannel(func(ctx context.Context) error {
			return c.push.SendPush(ctx, preferences.FCMTokens, "ChattingUs", text, map[string]string{
				"notification_id":   notification.ID,
				"notification_type": notification.Type,
				"link":              link,
			})
		}, "push", req.RecipientID)
	}

	if preferences.IsEnabled(req.Type, store.ChannelEmail) && preferences.Email != "" {
		subject := "ChattingUs - " + text
		body := emailBody(preferences, text, link)

		c.spawnSideChannel(func(ctx context.Context) error {
			return c.email.SendEmail(ctx, preferences.Email, subject, body)
		}, "email", req.RecipientID)
	}

	return notification, nil
}

// spawnSideChannel runs a side-channel delivery on its own goroutine
// with its own deadline, decoupled from the caller's failure domain.
func (c *Coordinator) spawnSideChannel(deliver func(ctx context.Context) error, channel, recipientID string) {
	c.sideChannels.Add(1)

	go func() {
		defer c.sideChannels.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sideChannelTimeout)
		defer cancel()

		if err := deliver(ctx); err != nil {
			c.logger.Warn("side-channel delivery failed",
				zap.String("channel", channel),
				zap.String("recipientId", recipientID),
				zap.Error(err))
		}
	}()
}

func emailBody(preferences store.Preferences, text, link string) string {
	name := preferences.FullName
	if name == "" {
		name = "there"
	}

	return "Hi " + name + ",\n\n" +
		text + "\n\n" +
		"View on ChattingUs: " + link + "\n\n" +
		"---\n" +
		"You're receiving this email because you have email notifications enabled.\n" +
		"To change your notification preferences, visit your settings.\n"
}
