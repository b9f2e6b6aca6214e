package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignly/internal/cleanup"
)

type fakePromoter struct {
	calls chan time.Duration
}

func (f fakePromoter) PromoteStale(_ context.Context, olderThan time.Duration) (int, error) {
	f.calls <- olderThan
	return 1, nil
}

type fakeRunner struct {
	calls chan int
	err   error
}

func (f fakeRunner) ProcessPending(_ context.Context, limit int) ([]cleanup.Result, error) {
	f.calls <- limit
	return []cleanup.Result{{JobID: "j", Completed: true}}, f.err
}

func TestStartPromoterTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := fakePromoter{calls: make(chan time.Duration, 8)}

	StartPromoter(ctx, p, 10*time.Millisecond, 150*time.Minute)

	for i := 0; i < 2; i++ {
		select {
		case got := <-p.calls:
			assert.Equal(t, 150*time.Minute, got)
		case <-time.After(2 * time.Second):
			t.Fatal("promoter did not tick")
		}
	}
}

func TestStartCleanupStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := fakeRunner{calls: make(chan int, 64), err: errors.New("store down")}

	StartCleanup(ctx, r, 10*time.Millisecond, 7)

	select {
	case got := <-r.calls:
		assert.Equal(t, 7, got)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not tick")
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	for len(r.calls) > 0 {
		<-r.calls
	}
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, len(r.calls))
}

func TestEveryAppliesTickTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deadlines := make(chan bool, 1)

	every(ctx, "test", 10*time.Millisecond, time.Second, func(tickCtx context.Context) {
		_, ok := tickCtx.Deadline()
		select {
		case deadlines <- ok:
		default:
		}
	})

	select {
	case ok := <-deadlines:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not tick")
	}
}
