package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobsAndReportsResults(t *testing.T) {
	boom := errors.New("boom")
	p := NewPool(func(_ context.Context, job Job) error {
		if job.DocumentID == "bad" {
			return boom
		}
		return nil
	}, 2, 4, quiet)
	defer p.Close(context.Background())

	ok, err := p.Dispatch(context.Background(), Job{DocumentID: "good", AttemptID: "a"})
	require.NoError(t, err)
	bad, err := p.Dispatch(context.Background(), Job{DocumentID: "bad", AttemptID: "b"})
	require.NoError(t, err)

	require.NoError(t, ok.Wait(context.Background()))
	require.ErrorIs(t, bad.Wait(context.Background()), boom)
	require.Equal(t, "good/a", ok.ID())
}

func TestPoolRejectsWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(func(context.Context, Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, 1, 1, quiet)

	_, err := p.Dispatch(context.Background(), Job{DocumentID: "1"})
	require.NoError(t, err)
	<-started
	_, err = p.Dispatch(context.Background(), Job{DocumentID: "2"})
	require.NoError(t, err)
	_, err = p.Dispatch(context.Background(), Job{DocumentID: "3"})
	require.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, p.Close(context.Background()))
	_, err = p.Dispatch(context.Background(), Job{DocumentID: "4"})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	var done atomic.Int32
	p := NewPool(func(context.Context, Job) error {
		time.Sleep(5 * time.Millisecond)
		done.Add(1)
		return nil
	}, 2, 8, quiet)
	for range 6 {
		_, err := p.Dispatch(context.Background(), Job{DocumentID: "d"})
		require.NoError(t, err)
	}
	require.NoError(t, p.Close(context.Background()))
	require.Equal(t, int32(6), done.Load())
}

func TestPoolCloseCancelsAfterDeadline(t *testing.T) {
	p := NewPool(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, 1, 1, quiet)
	h, err := p.Dispatch(context.Background(), Job{DocumentID: "slow"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, h.Wait(context.Background()), context.Canceled)
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(func(context.Context, Job) error { panic("nil map") }, 1, 1, quiet)
	defer p.Close(context.Background())
	h, err := p.Dispatch(context.Background(), Job{DocumentID: "x"})
	require.NoError(t, err)
	require.ErrorContains(t, h.Wait(context.Background()), "panicked")
}
