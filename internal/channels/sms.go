package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/pkg/sms"
)

// maxSMSBody keeps messages within a few concatenated segments.
const maxSMSBody = 480

// SMSSender delivers envelopes as text messages.
type SMSSender struct {
	sender sms.Sender
	region string
}

// NewSMSSender wraps sender. region is the default region used to
// normalise numbers stored without a country code.
func NewSMSSender(sender sms.Sender, region string) (*SMSSender, error) {
	if sender == nil {
		return nil, errors.New("sms channel: sender is required")
	}
	return &SMSSender{sender: sender, region: strings.ToUpper(strings.TrimSpace(region))}, nil
}

// Channel implements Sender.
func (s *SMSSender) Channel() models.Channel { return models.ChannelSMS }

// Send implements Sender.
func (s *SMSSender) Send(ctx context.Context, env Envelope) error {
	phone := strings.TrimSpace(env.Recipient.Phone)
	if phone == "" {
		return Permanent(fmt.Errorf("sms channel: recipient %s has no phone number", env.Recipient.ID))
	}
	number, err := sms.Normalize(phone, s.region)
	if err != nil {
		return Permanent(err)
	}

	err = s.sender.Send(ctx, sms.Message{To: number, Body: smsBody(env)})
	if errors.Is(err, sms.ErrSMSDisabled) {
		return Permanent(err)
	}
	return err
}

func smsBody(env Envelope) string {
	body := env.Title
	if env.Message != "" {
		body += ": " + env.Message
	}
	if len(body) > maxSMSBody {
		body = body[:maxSMSBody-3] + "..."
	}
	return body
}
