package state

import (
	"context"
	"log/slog"
	"time"
)

// -------------------------------------------------------------------------
// Reaper — periodic background sweep
// -------------------------------------------------------------------------

// SweepFunc performs one sweep and returns how many entries it evicted.
type SweepFunc func(now time.Time) int

// Reaper runs a SweepFunc on a fixed interval until its context is
// cancelled. It is the shared shape of the idle-session, notify-queue,
// and password-cache recyclers.
type Reaper struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	logger   *slog.Logger
}

// NewReaper creates a reaper that runs sweep every interval.
func NewReaper(name string, interval time.Duration, sweep SweepFunc, logger *slog.Logger) *Reaper {
	return &Reaper{
		name:     name,
		interval: interval,
		sweep:    sweep,
		logger:   logger.With(slog.String("component", "state.reaper"), slog.String("task", name)),
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick. Exits
// between sweeps; a sweep in progress completes before return.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case now := <-ticker.C:
			start := time.Now()
			evicted := r.sweep(now)
			if evicted > 0 {
				r.logger.Info("sweep complete",
					slog.Int("evicted", evicted),
					slog.Duration("elapsed", time.Since(start)),
				)
			} else {
				r.logger.Debug("sweep complete, nothing to evict",
					slog.Duration("elapsed", time.Since(start)),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Built-in Sweeps
// -------------------------------------------------------------------------

// IdleSessionSweep returns a SweepFunc that evicts sessions idle past
// deadline through the normal delete path (indices stay consistent) and
// broadcasts a logout packet excluding the evicted user.
func IdleSessionSweep(store *Store, queue *NotifyQueue, deadline time.Duration, logout func(userID int32) []byte) SweepFunc {
	return func(now time.Time) int {
		evicted := 0
		for _, sess := range store.Snapshot() {
			if !sess.IsInactive(now, deadline) {
				continue
			}
			if removed := store.delete(BySessionID(sess.ID), EventReaped); removed != nil {
				queue.PushExcluding(logout(removed.UserID), []int32{removed.UserID}, nil)
				evicted++
			}
		}
		return evicted
	}
}

// NotifySweep returns a SweepFunc that drops fully-acknowledged or
// invalidated messages from the notify queue.
func NotifySweep(store *Store, queue *NotifyQueue, maxAge time.Duration) SweepFunc {
	return func(now time.Time) int {
		minCursor, hasReaders := store.MinCursor()
		return queue.Reap(minCursor, hasReaders, maxAge, now)
	}
}
