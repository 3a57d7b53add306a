package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/scan"
)

type stubStore struct {
	scan.JobStore

	mu        sync.Mutex
	released  int
	pending   []string
	staleSeen time.Duration
}

func (s *stubStore) ReleaseStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleSeen = olderThan
	return s.released, nil
}

func (s *stubStore) ListPendingIDs(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

type stubTrigger struct {
	mu       sync.Mutex
	ids      []string
	capacity int
}

func (t *stubTrigger) Trigger(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capacity > 0 && len(t.ids) >= t.capacity {
		return false
	}
	t.ids = append(t.ids, jobID)
	return true
}

func (t *stubTrigger) triggered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ids...)
}

func testLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSweeper(t *testing.T, store scan.JobStore, trigger scan.Trigger) *Sweeper {
	t.Helper()
	sweeper, err := NewSweeper(&SweeperConfig{
		Store:        store,
		Trigger:      trigger,
		Interval:     10 * time.Millisecond,
		StaleTimeout: 5 * time.Minute,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return sweeper
}

func TestNewSweeperValidatesConfig(t *testing.T) {
	logger := testLogger()

	_, err := NewSweeper(&SweeperConfig{Trigger: &stubTrigger{}, Interval: time.Second, StaleTimeout: time.Minute, Logger: logger})
	assert.Error(t, err, "store is required")

	_, err = NewSweeper(&SweeperConfig{Store: &stubStore{}, Interval: time.Second, StaleTimeout: time.Minute, Logger: logger})
	assert.Error(t, err, "trigger is required")

	_, err = NewSweeper(&SweeperConfig{Store: &stubStore{}, Trigger: &stubTrigger{}, StaleTimeout: time.Minute, Logger: logger})
	assert.Error(t, err, "interval is required")
}

func TestSweepReleasesStaleAndRetriggersPending(t *testing.T) {
	store := &stubStore{released: 2, pending: []string{"job-1", "job-2"}}
	trigger := &stubTrigger{}
	sweeper := newTestSweeper(t, store, trigger)

	sweeper.Sweep(context.Background())

	assert.Equal(t, 5*time.Minute, store.staleSeen)
	assert.Equal(t, []string{"job-1", "job-2"}, trigger.triggered())
}

func TestSweepStopsWhenQueueIsFull(t *testing.T) {
	store := &stubStore{pending: []string{"job-1", "job-2", "job-3"}}
	trigger := &stubTrigger{capacity: 1}
	sweeper := newTestSweeper(t, store, trigger)

	sweeper.Sweep(context.Background())

	assert.Equal(t, []string{"job-1"}, trigger.triggered(), "gives up for this pass once the queue rejects")
}

func TestSweeperLoopRunsPeriodically(t *testing.T) {
	store := &stubStore{pending: []string{"job-1"}}
	trigger := &stubTrigger{}
	sweeper := newTestSweeper(t, store, trigger)

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()), "double start is rejected")

	deadline := time.After(2 * time.Second)
	for len(trigger.triggered()) < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not run repeatedly")
		case <-time.After(5 * time.Millisecond):
		}
	}
	sweeper.Stop()
	sweeper.Stop() // idempotent
}
