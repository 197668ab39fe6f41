package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often a Sweeper runs when no interval is
// configured.
const DefaultSweepInterval = 5 * time.Minute

// Expirer is implemented by anything that can evict its expired entries in
// bulk: session stores, and in-memory tables such as rate limiter state.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically calls DeleteExpired on its target. Session reads
// already filter expired sessions, so the sweeper only bounds growth.
type Sweeper struct {
	target   Expirer
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewSweeper creates a Sweeper. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(target Expirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calls after the first are no-ops.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.loop()
	})
}

// Close stops the loop and waits for it to exit. Safe to call more than
// once, and before Start.
func (s *Sweeper) Close() {
	s.startOnce.Do(func() {})
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started {
		<-s.done
	}
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	n, err := s.target.DeleteExpired(ctx)
	if err != nil {
		s.logger.Warn("sweeping expired entries failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("swept expired entries", "count", n)
	}
}
