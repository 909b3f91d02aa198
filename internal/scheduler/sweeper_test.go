package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 2, p.err
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(&countingPurger{}, "every day", zap.NewNop())
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	p := &countingPurger{}
	s, err := NewSweeper(p, "0 0 3 * * *", nil)
	require.NoError(t, err)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	p.err = errors.New("disk full")
	_, err = s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestSweeperTicks(t *testing.T) {
	p := &countingPurger{}
	s, err := NewSweeper(p, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return p.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()
}

type blockingPurger struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPurger) PurgeExpired(context.Context) (int64, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return 0, nil
}

func TestStopDuringSweepDoesNotHoldLock(t *testing.T) {
	p := &blockingPurger{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := NewSweeper(p, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-p.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// While Stop waits for the sweep, the lock must be free for other ticks.
	assert.Eventually(t, func() bool {
		if !s.mu.TryLock() {
			return false
		}
		defer s.mu.Unlock()
		return !s.running
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("Stop returned before the sweep finished")
	default:
	}
	close(p.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
}
