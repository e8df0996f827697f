// Package channels adapts the outbound transports (email, SMS, push) to a
// single Sender contract used by the channel dispatcher.
package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/charlesng35/pbxnotify/internal/models"
)

// ErrPermanent marks failures that retrying cannot fix, such as missing
// contact data or a disabled transport.
var ErrPermanent = errors.New("channels: permanent failure")

// Recipient carries the contact data a channel needs.
type Recipient struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Envelope is one channel message for one recipient.
type Envelope struct {
	IdempotencyKey string
	NotificationID string
	Recipient      Recipient
	Type           models.NotificationType
	Priority       models.Priority
	Title          string
	Message        string
	Link           string
}

// Sender delivers envelopes over a single channel.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, env Envelope) error
}

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err should stop further retries.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Registry indexes senders by channel.
type Registry struct {
	senders map[models.Channel]Sender
}

// NewRegistry builds a registry. Nil senders are skipped and later senders
// replace earlier ones for the same channel.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[models.Channel]Sender, len(senders))}
	for _, sender := range senders {
		if sender == nil {
			continue
		}
		r.senders[sender.Channel()] = sender
	}
	return r
}

// Lookup returns the sender for channel.
func (r *Registry) Lookup(channel models.Channel) (Sender, bool) {
	if r == nil {
		return nil, false
	}
	sender, ok := r.senders[channel]
	return sender, ok
}

// Channels lists the registered channels in declaration order.
func (r *Registry) Channels() []models.Channel {
	var out []models.Channel
	for _, channel := range models.Channels() {
		if _, ok := r.Lookup(channel); ok {
			out = append(out, channel)
		}
	}
	return out
}
