package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errInvalidURL = errors.New("invalid webhook url")

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
}

func (s *recordingSender) Send(_ context.Context, _ string, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{counts: map[string]int{}} }

func (m *countingMetrics) RecordNotification(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[channel]++
}

func alwaysValid(string) error { return nil }

func TestNewDispatcherRejectsInvalidWebhookURL(t *testing.T) {
	reject := func(string) error { return errInvalidURL }
	_, err := NewDispatcherWithValidator(&recordingSender{}, nil, []Destination{
		{Channel: "ops", WebhookURL: "http://example.com/hook"},
	}, reject)
	if err == nil {
		t.Fatal("expected error when validator rejects the webhook URL")
	}
}

func TestDispatchRejectsUnknownChannel(t *testing.T) {
	d, err := NewDispatcherWithValidator(&recordingSender{}, nil, nil, alwaysValid)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), Notification{Channel: "missing"}); err != ErrUnknownChannel {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestDispatchSendsAndRecordsMetric(t *testing.T) {
	sender := &recordingSender{}
	metrics := newCountingMetrics()
	d, err := NewDispatcherWithValidator(sender, metrics, []Destination{
		{Channel: "ops", WebhookURL: "https://example.com/hook", MaxRequestsPerMin: 600},
	}, alwaysValid)
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Dispatch(context.Background(), Notification{Channel: "ops", EventType: "escalation_created"}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 notification sent, got %d", len(sender.sent))
	}
	if metrics.counts["ops"] != 1 {
		t.Fatalf("expected 1 recorded metric for ops, got %d", metrics.counts["ops"])
	}
}

func TestDispatchStampsTimestampWhenUnset(t *testing.T) {
	sender := &recordingSender{}
	d, err := NewDispatcherWithValidator(sender, nil, []Destination{
		{Channel: "ops", WebhookURL: "https://example.com/hook"},
	}, alwaysValid)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), Notification{Channel: "ops"}); err != nil {
		t.Fatal(err)
	}
	if sender.sent[0].Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
}

func TestDispatchRespectsContextCancellation(t *testing.T) {
	sender := &recordingSender{}
	d, err := NewDispatcherWithValidator(sender, nil, []Destination{
		{Channel: "ops", WebhookURL: "https://example.com/hook", MaxRequestsPerMin: 1},
	}, alwaysValid)
	if err != nil {
		t.Fatal(err)
	}

	// Drain the single token, then expect the next dispatch to respect
	// a canceled context rather than blocking forever.
	_ = d.Dispatch(context.Background(), Notification{Channel: "ops"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Dispatch(ctx, Notification{Channel: "ops"}); err == nil {
		t.Fatal("expected context deadline error on rate-limited second dispatch")
	}
}
