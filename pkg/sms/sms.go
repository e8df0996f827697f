package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrSMSDisabled signals that SMS delivery is disabled via configuration.
var ErrSMSDisabled = errors.New("sms: delivery disabled")

// Message represents an outbound text message.
type Message struct {
	To   string
	Body string
}

// Sender defines behaviour for sending SMS messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TwilioSettings capture the runtime configuration of the Twilio sender.
type TwilioSettings struct {
	Enabled       bool
	AccountSID    string
	AuthToken     string
	From          string
	DefaultRegion string
	Timeout       time.Duration
}

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type twilioSender struct {
	cfg    TwilioSettings
	client messageCreator
}

// NewTwilioSender validates settings and builds a Twilio-backed Sender.
func NewTwilioSender(cfg TwilioSettings) (Sender, error) {
	if !cfg.Enabled {
		return &twilioSender{cfg: cfg}, nil
	}
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("sms: twilio account sid and auth token are required when enabled")
	}
	from, err := Normalize(cfg.From, cfg.DefaultRegion)
	if err != nil {
		return nil, fmt.Errorf("sms: invalid from number: %w", err)
	}
	cfg.From = from
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	client.SetTimeout(cfg.Timeout)

	return &twilioSender{cfg: cfg, client: client.Api}, nil
}

func (s *twilioSender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Enabled || s.client == nil {
		return ErrSMSDisabled
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	to, err := Normalize(msg.To, s.cfg.DefaultRegion)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return errors.New("sms: body is required")
	}

	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.From)
	params.SetBody(body)

	resp, err := s.client.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("sms: twilio create message: %w", err)
	}
	if resp != nil && resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("sms: twilio rejected message: %s", *resp.ErrorMessage)
	}
	return nil
}

// Normalize parses a phone number (or PBX-stored mobile number) into E.164.
// Numbers without a leading + are interpreted in defaultRegion.
func Normalize(number, defaultRegion string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", errors.New("sms: missing number")
	}
	region := strings.ToUpper(strings.TrimSpace(defaultRegion))
	if !strings.HasPrefix(number, "+") && region == "" {
		return "", errors.New("sms: number must be in E.164 format when no default region is configured")
	}

	parsed, err := phonenumbers.Parse(number, region)
	if err != nil {
		return "", fmt.Errorf("sms: parse number: %w", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("sms: invalid phone number %q", number)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
