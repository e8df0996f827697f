package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/pkg/mail"
)

// EmailSender delivers envelopes through an SMTP mailer.
type EmailSender struct {
	mailer mail.Mailer
}

// NewEmailSender wraps mailer.
func NewEmailSender(mailer mail.Mailer) (*EmailSender, error) {
	if mailer == nil {
		return nil, errors.New("email channel: mailer is required")
	}
	return &EmailSender{mailer: mailer}, nil
}

// Channel implements Sender.
func (s *EmailSender) Channel() models.Channel { return models.ChannelEmail }

// Send implements Sender.
func (s *EmailSender) Send(ctx context.Context, env Envelope) error {
	address := strings.TrimSpace(env.Recipient.Email)
	if address == "" {
		return Permanent(fmt.Errorf("email channel: recipient %s has no email address", env.Recipient.ID))
	}

	body := env.Message
	if env.Link != "" {
		body = strings.TrimSpace(body + "\n\n" + env.Link)
	}

	err := s.mailer.Send(ctx, mail.Message{
		To:      []string{address},
		Subject: env.Title,
		Body:    body,
		Headers: map[string]string{
			"Message-ID":         fmt.Sprintf("<%s@pbxnotify>", env.IdempotencyKey),
			"X-PBX-Priority":     string(env.Priority),
			"X-PBX-Notification": env.NotificationID,
		},
	})
	if errors.Is(err, mail.ErrSMTPDisabled) {
		return Permanent(err)
	}
	return err
}
