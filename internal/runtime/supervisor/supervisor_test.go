package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netmon/pkg/logx"
)

func TestWaitReturnsFirstError(t *testing.T) {
	t.Parallel()

	sup := New(context.Background())
	boom := errors.New("boom")

	sup.Go("bad", func(ctx context.Context) error { return boom })
	sup.Go("good", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, sup.Wait(ctx), boom)
}

func TestCancelOnErrorStopsSiblings(t *testing.T) {
	t.Parallel()

	sup := New(context.Background(), WithCancelOnError(true))

	sup.Go("failing", func(ctx context.Context) error {
		return errors.New("died")
	})
	sup.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "died")
}

func TestContextCanceledIsCleanExit(t *testing.T) {
	t.Parallel()

	sup := New(context.Background())
	sup.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Wait(ctx))
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	sup := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))
	sup.Go("panicky", func(ctx context.Context) error {
		panic("oh no")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic in panicky")
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()

	sup := New(context.Background())
	released := make(chan struct{})
	sup.Go0("worker", func(ctx context.Context) {
		<-ctx.Done()
		close(released)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))

	select {
	case <-released:
	default:
		t.Fatal("worker still running after Stop")
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()

	sup := New(context.Background())
	sup.Go("stuck", func(ctx context.Context) error {
		select {} // never exits
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sup.Wait(ctx), context.DeadlineExceeded)
}
