// Package worker contains the background reconciliation sweep that keeps
// scan jobs moving when in-process triggers are lost.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/scan"
)

const defaultPendingBatch = 100

// SweeperConfig holds configuration for the reconciliation sweeper
type SweeperConfig struct {
	Store        scan.JobStore
	Trigger      scan.Trigger
	Interval     time.Duration // sweep period
	StaleTimeout time.Duration // PROCESSING older than this reverts to PENDING
	PendingBatch int           // PENDING jobs re-triggered per sweep
	Logger       *logging.Logger
}

// Sweeper periodically releases stale PROCESSING jobs and re-triggers
// PENDING ones. It is the liveness backstop: a crashed process, a full
// dispatch queue, or a dropped trigger all resolve to a PENDING job the
// next sweep picks up.
type Sweeper struct {
	store        scan.JobStore
	trigger      scan.Trigger
	interval     time.Duration
	staleTimeout time.Duration
	pendingBatch int
	logger       *logging.Logger

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a reconciliation sweeper
func NewSweeper(cfg *SweeperConfig) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", cfg.Interval)
	}
	if cfg.StaleTimeout <= 0 {
		return nil, fmt.Errorf("stale timeout must be positive, got %v", cfg.StaleTimeout)
	}

	pendingBatch := cfg.PendingBatch
	if pendingBatch <= 0 {
		pendingBatch = defaultPendingBatch
	}

	return &Sweeper{
		store:        cfg.Store,
		trigger:      cfg.Trigger,
		interval:     cfg.Interval,
		staleTimeout: cfg.StaleTimeout,
		pendingBatch: pendingBatch,
		logger:       cfg.Logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"interval":     s.interval.String(),
		"staleTimeout": s.staleTimeout.String(),
	}).Info("Starting scan job sweeper")

	go s.run(ctx)
	return nil
}

// Stop stops the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("Scan job sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass: release stale PROCESSING jobs,
// then re-trigger whatever is PENDING
func (s *Sweeper) Sweep(ctx context.Context) {
	released, err := s.store.ReleaseStale(ctx, s.staleTimeout)
	if err != nil {
		s.logger.WithError(err).Error("Failed to release stale scan jobs")
	} else if released > 0 {
		s.logger.WithField("released", released).Warn("Released stale scan jobs back to pending")
	}

	ids, err := s.store.ListPendingIDs(ctx, s.pendingBatch)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list pending scan jobs")
		return
	}

	for _, id := range ids {
		if !s.trigger.Trigger(id) {
			s.logger.WithJob(id).Debug("Chunk queue full, job stays pending until next sweep")
			return
		}
	}
}
