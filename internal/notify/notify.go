// Package notify delivers processing outcome events. Delivery is
// fire-and-forget: failures are logged and never reach the caller.
package notify

import (
	"context"
	"log/slog"
	"time"

	"policyreader/internal/models"
)

const (
	EventComplete = "policy_processing_complete"
	EventRetry    = "policy_processing_retry"
	EventFailed   = "policy_processing_failed"
)

const publishTimeout = 5 * time.Second

// Publisher is one delivery backend.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev models.Event) error
}

type Notifier struct {
	pubs []Publisher
	log  *slog.Logger
	now  func() time.Time
}

func New(log *slog.Logger, pubs ...Publisher) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{pubs: pubs, log: log, now: time.Now}
}

// Publish sends the event to every backend. It does not return an error.
func (n *Notifier) Publish(ctx context.Context, event string, payload map[string]any, addressee string) {
	ev := models.Event{Name: event, Addressee: addressee, Payload: payload, At: n.now().UTC()}
	base := context.WithoutCancel(ctx)
	for _, p := range n.pubs {
		pctx, cancel := context.WithTimeout(base, publishTimeout)
		err := p.Publish(pctx, ev)
		cancel()
		if err != nil {
			n.log.Warn("notify.failed", "backend", p.Name(), "event", event, "addressee", addressee, "error", err)
		}
	}
}

// LogPublisher writes events to the process log.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (l *LogPublisher) Name() string { return "log" }

func (l *LogPublisher) Publish(_ context.Context, ev models.Event) error {
	l.log.Info("notify.event", "event", ev.Name, "addressee", ev.Addressee, "payload", ev.Payload)
	return nil
}
