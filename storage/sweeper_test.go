package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) DeleteExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 1, c.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeperRunsPeriodically(t *testing.T) {
	target := &countingExpirer{}
	s := NewSweeper(target, 5*time.Millisecond, discardLogger())
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for target.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Close()

	if got := target.calls.Load(); got < 3 {
		t.Fatalf("expected at least 3 sweeps, got %d", got)
	}
}

func TestSweeperSurvivesErrors(t *testing.T) {
	target := &countingExpirer{err: errors.New("store unavailable")}
	s := NewSweeper(target, 5*time.Millisecond, discardLogger())
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for target.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Close()

	if got := target.calls.Load(); got < 2 {
		t.Fatalf("sweeper should keep running after an error, got %d calls", got)
	}
}

func TestSweeperCloseIdempotent(t *testing.T) {
	s := NewSweeper(&countingExpirer{}, time.Hour, discardLogger())
	s.Start()
	s.Close()
	s.Close()
}

func TestNewSweeperDefaults(t *testing.T) {
	s := NewSweeper(&countingExpirer{}, 0, nil)
	if s.interval != DefaultSweepInterval {
		t.Fatalf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
}

func TestSessionExpiredAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{CreatedAt: created}
	if s.ExpiredAt(created.Add(SessionTTL - time.Nanosecond)) {
		t.Error("session should be live before the TTL elapses")
	}
	if !s.ExpiredAt(created.Add(SessionTTL)) {
		t.Error("session should be expired once the TTL elapses")
	}
}

func TestSweeperCloseWithoutStart(t *testing.T) {
	s := NewSweeper(&countingExpirer{}, time.Hour, discardLogger())
	s.Close()
	s.Start()
}
