// Package notify implements the notification contract: only the
// dispatch contract is specified, never a concrete chat
// backend. A Dispatcher validates webhook URLs once at configuration
// load via pkg/urlsafety, rate-limits outgoing sends per destination,
// and leaves the actual HTTP/transport call to a pluggable Sender so a
// real backend can be wired in without touching this package.
//
// Grounded on the teacher's pkg/boundary/perimeter.go NetworkConstraints
// (MaxRequestsPerMin as the rate-limit shape) and pkg/config/config.go's
// load-time, fail-closed validation discipline: a misconfigured webhook
// URL is rejected when the Dispatcher is built, not on first send.
package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/netauton/sna-pdp/pkg/urlsafety"
)

// Notification is the payload handed to a Sender.
type Notification struct {
	Channel   string
	EventType string
	Summary   string
	Detail    map[string]any
	Timestamp time.Time
}

// Sender delivers a Notification to one destination. Concrete chat
// backends (Slack, Teams, generic webhook POST) implement this; none
// ship in this package.
type Sender interface {
	Send(ctx context.Context, webhookURL string, n Notification) error
}

// MetricsRecorder receives a count of dispatched notifications, keyed
// by channel. Implemented by *metrics.Recorder.
type MetricsRecorder interface {
	RecordNotification(channel string)
}

// Destination is one configured notification target: a channel name,
// its webhook URL, and the per-minute rate limit applied to it.
type Destination struct {
	Channel           string
	WebhookURL        string
	MaxRequestsPerMin int
}

// Dispatcher rate-limits and validates webhook notifications before
// handing them to a Sender.
type Dispatcher struct {
	sender   Sender
	metrics  MetricsRecorder
	limiters map[string]*rate.Limiter
	webhooks map[string]string
}

// NewDispatcher validates every destination's webhook URL up front
// (fail-closed: a single invalid URL rejects the whole configuration)
// and builds one token-bucket limiter per channel.
func NewDispatcher(sender Sender, metrics MetricsRecorder, destinations []Destination) (*Dispatcher, error) {
	return NewDispatcherWithValidator(sender, metrics, destinations, urlsafety.ValidateWebhookURL)
}

// NewDispatcherWithValidator is NewDispatcher with an injectable URL
// validator, mirroring urlsafety's own injectable-resolver test
// pattern so destination webhooks can be exercised in tests without a
// live DNS lookup.
func NewDispatcherWithValidator(sender Sender, metrics MetricsRecorder, destinations []Destination, validate func(string) error) (*Dispatcher, error) {
	d := &Dispatcher{
		sender:   sender,
		metrics:  metrics,
		limiters: make(map[string]*rate.Limiter, len(destinations)),
		webhooks: make(map[string]string, len(destinations)),
	}

	for _, dest := range destinations {
		if err := validate(dest.WebhookURL); err != nil {
			return nil, fmt.Errorf("notify: destination %q: %w", dest.Channel, err)
		}
		perMin := dest.MaxRequestsPerMin
		if perMin <= 0 {
			perMin = 60
		}
		d.limiters[dest.Channel] = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
		d.webhooks[dest.Channel] = dest.WebhookURL
	}

	return d, nil
}

// ErrUnknownChannel is returned when Dispatch targets a channel that
// was not registered at construction time.
var ErrUnknownChannel = fmt.Errorf("notify: unknown channel")

// Dispatch blocks until the channel's rate limiter admits the send (or
// ctx is canceled), then hands the notification to the Sender.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	limiter, ok := d.limiters[n.Channel]
	if !ok {
		return ErrUnknownChannel
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: rate limit wait: %w", err)
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	err := d.sender.Send(ctx, d.webhooks[n.Channel], n)
	if d.metrics != nil {
		d.metrics.RecordNotification(n.Channel)
	}
	return err
}
