package channels

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/pkg/push"
)

// PushSender hands envelopes to the push gateway topic.
type PushSender struct {
	publisher push.Publisher
	now       func() time.Time
}

// NewPushSender wraps publisher.
func NewPushSender(publisher push.Publisher) (*PushSender, error) {
	if publisher == nil {
		return nil, errors.New("push channel: publisher is required")
	}
	return &PushSender{publisher: publisher, now: time.Now}, nil
}

// Channel implements Sender.
func (s *PushSender) Channel() models.Channel { return models.ChannelPush }

// Send implements Sender.
func (s *PushSender) Send(ctx context.Context, env Envelope) error {
	err := s.publisher.Publish(ctx, push.Message{
		IdempotencyKey: env.IdempotencyKey,
		RecipientID:    env.Recipient.ID,
		NotificationID: env.NotificationID,
		Type:           string(env.Type),
		Priority:       string(env.Priority),
		Title:          env.Title,
		Body:           env.Message,
		Link:           env.Link,
		SentAt:         s.now().UTC(),
	})
	if errors.Is(err, push.ErrPushDisabled) {
		return Permanent(err)
	}
	return err
}
