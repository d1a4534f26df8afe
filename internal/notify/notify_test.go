package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"policyreader/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	name string
	err  error
	got  []models.Event
	cerr error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Publish(ctx context.Context, ev models.Event) error {
	r.cerr = ctx.Err()
	r.got = append(r.got, ev)
	return r.err
}

func TestPublishReachesEveryBackend(t *testing.T) {
	broken := &recorder{name: "broken", err: errors.New("connection refused")}
	ok := &recorder{name: "ok"}
	n := New(quiet, broken, ok, NewLogPublisher(quiet))
	n.now = func() time.Time { return time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC) }

	n.Publish(context.Background(), EventComplete, map[string]any{"document_id": "d1"}, "agent@example.com")

	require.Len(t, broken.got, 1)
	require.Len(t, ok.got, 1)
	require.Equal(t, models.Event{
		Name:      EventComplete,
		Addressee: "agent@example.com",
		Payload:   map[string]any{"document_id": "d1"},
		At:        time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
	}, ok.got[0])
}

func TestPublishSurvivesCancelledCaller(t *testing.T) {
	r := &recorder{name: "r"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(quiet, r).Publish(ctx, EventFailed, nil, "")
	require.Len(t, r.got, 1)
	require.NoError(t, r.cerr)
}
