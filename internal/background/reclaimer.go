package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bastionauth/bastion/internal/models"
	pkglogger "github.com/bastionauth/bastion/pkg/logger"
)

// ReclaimStore defines the attempt-store operations the reclaimer needs
type ReclaimStore interface {
	FindExpiredLockouts(ctx context.Context, now time.Time) ([]models.LoginLockout, error)
	ReclaimExpired(ctx context.Context, email string, now time.Time) (bool, error)
}

// BlacklistPurger drops revocation entries past their expiry
type BlacklistPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ReclaimMetrics is the narrow metrics capability the reclaimer emits through
type ReclaimMetrics interface {
	AddReclaimedLockouts(n int)
	AddReclaimFailures(n int)
	IncrementReclaimRuns(status string)
}

// ReclaimResult reports the outcome of one reclaim pass
type ReclaimResult struct {
	Reclaimed int `json:"reclaimed"`
	Failed    int `json:"failed"`
}

// Reclaimer periodically resets lockout records whose lockout window has
// elapsed. Firings are mutually exclusive: a scheduled tick that finds a
// previous run still in flight is skipped, and the manual trigger waits for
// any in-flight run before executing with identical semantics.
type Reclaimer struct {
	store    ReclaimStore
	purger   BlacklistPurger
	metrics  ReclaimMetrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	runMu  sync.Mutex
	stopCh chan struct{}
}

// NewReclaimer creates a new Reclaimer. A non-positive interval is a
// configuration error and is rejected at startup.
func NewReclaimer(store ReclaimStore, metrics ReclaimMetrics, logger *slog.Logger, interval time.Duration) (*Reclaimer, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: reclaim interval must be positive, got %s", models.ErrInvalidConfig, interval)
	}

	return &Reclaimer{
		store:    store,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}, nil
}

// SetBlacklistPurger piggybacks revocation-blacklist purging onto the reclaim
// schedule. Call after construction.
func (r *Reclaimer) SetBlacklistPurger(p BlacklistPurger) {
	r.purger = p
}

// Start begins the periodic reclaim loop
func (r *Reclaimer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on startup
	r.tick(ctx)

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopCh:
			r.logger.Info("lockout reclaimer stopped")
			return
		case <-ctx.Done():
			r.logger.Info("lockout reclaimer context cancelled")
			return
		}
	}
}

// Stop signals the reclaimer to stop
func (r *Reclaimer) Stop() {
	close(r.stopCh)
}

// tick executes one scheduled firing. If the previous firing is still in
// flight the tick is skipped rather than queued, so runs never pile up under
// load.
func (r *Reclaimer) tick(ctx context.Context) {
	if !r.runMu.TryLock() {
		r.logger.Warn("previous reclaim run still in flight, skipping this firing")
		r.metrics.IncrementReclaimRuns("skipped")
		return
	}
	defer r.runMu.Unlock()

	// Errors are logged and counted inside run; a failed run must never take
	// the process down.
	_, _ = r.run(ctx)
}

// RunNow executes one reclaim pass with the same semantics as a scheduled
// firing, for operational and test use. It blocks until any in-flight run
// completes.
func (r *Reclaimer) RunNow(ctx context.Context) (ReclaimResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	return r.run(ctx)
}

// run performs a single reclaim pass. Callers must hold runMu.
func (r *Reclaimer) run(ctx context.Context) (ReclaimResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := r.now()

	records, err := r.store.FindExpiredLockouts(runCtx, now)
	if err != nil {
		r.logger.Error("failed to query expired lockouts", slog.Any("error", err))
		r.metrics.IncrementReclaimRuns("error")
		return ReclaimResult{}, fmt.Errorf("find expired lockouts: %w", err)
	}

	var result ReclaimResult
	for _, rec := range records {
		// One bad record must not abort the rest of the batch
		reclaimed, err := r.store.ReclaimExpired(runCtx, rec.Email, now)
		if err != nil {
			result.Failed++
			r.logger.Error("failed to reclaim lockout",
				slog.String("email", pkglogger.SanitizedEmail(rec.Email)),
				slog.Any("error", err))
			continue
		}
		if reclaimed {
			result.Reclaimed++
		}
	}

	r.metrics.AddReclaimedLockouts(result.Reclaimed)
	r.metrics.AddReclaimFailures(result.Failed)
	r.metrics.IncrementReclaimRuns("ok")

	if result.Reclaimed > 0 || result.Failed > 0 {
		r.logger.Info("lockout reclaim completed",
			slog.Int("reclaimed", result.Reclaimed),
			slog.Int("failed", result.Failed))
	}

	if r.purger != nil {
		removed, err := r.purger.PurgeExpired(runCtx)
		if err != nil {
			r.logger.Error("failed to purge expired revocations", slog.Any("error", err))
		} else if removed > 0 {
			r.logger.Info("expired revocations purged", slog.Int64("removed", removed))
		}
	}

	return result, nil
}
