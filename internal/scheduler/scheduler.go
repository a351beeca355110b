// Package scheduler drives the scan and reconcile cycle at a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/protomem/attendance-tracker/internal/presence"
	"github.com/protomem/attendance-tracker/internal/scanner"
)

const _reconcileTimeout = 10 * time.Second

var ErrAlreadyRunning = errors.New("scheduler: already running")

type Reconciler interface {
	Reconcile(ctx context.Context, obs presence.Observation) (presence.Report, error)
	LogoutAll(ctx context.Context, at time.Time) (int, error)
}

var _ Reconciler = (*presence.Tracker)(nil)

// CycleStatus describes the most recent cycle.
type CycleStatus struct {
	Cycles    uint64
	StartedAt time.Time
	Duration  time.Duration
	Skipped   bool
	Error     string
	Report    *presence.Report
}

type Scheduler struct {
	logger  *slog.Logger
	cfg     Config
	scanner scanner.Scanner
	tracker Reconciler
	now     func() time.Time

	running atomic.Bool
	cycleMu sync.Mutex

	// guarded by cycleMu
	nextForceLogout time.Time

	statusMu sync.RWMutex
	status   CycleStatus
}

func New(logger *slog.Logger, cfg Config, sc scanner.Scanner, tracker Reconciler) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Scheduler{
		logger:  logger.With("module", "scheduler"),
		cfg:     cfg.clone(),
		scanner: sc,
		tracker: tracker,
		now:     time.Now,
	}, nil
}

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() Config {
	return s.cfg.clone()
}

func (s *Scheduler) Status() CycleStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return s.status
}

// Run executes a cycle immediately and then on every tick until ctx is done.
// Ticks that arrive while a cycle is still running are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Info("started",
		"scanInterval", s.cfg.ScanInterval.String(),
		"debounceWindow", s.cfg.DebounceWindow.String(),
		"ranges", s.cfg.Ranges,
	)

	_ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return nil
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cycle. Cycles never overlap.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()

	s.forceLogoutIfDue(ctx, start)

	if !s.cfg.ActiveHours.Contains(start.Hour()) {
		s.logger.Debug("outside active hours, skipping cycle", "activeHours", s.cfg.ActiveHours.String())
		s.record(CycleStatus{StartedAt: start, Skipped: true})
		return nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	found, scanErr := s.scanner.Scan(scanCtx, s.cfg.Ranges)
	cancel()

	if err := ctx.Err(); err != nil {
		s.logger.Info("cycle abandoned", "reason", err)
		return err
	}

	if scanErr != nil {
		s.logger.Error("scan failed", "error", scanErr)
	}

	// The scan finished; let the reconcile complete even if shutdown starts now.
	reconcileCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _reconcileTimeout)
	defer cancel()

	report, err := s.tracker.Reconcile(reconcileCtx, presence.Observation{
		At:   start,
		Seen: found,
		Err:  scanErr,
	})

	status := CycleStatus{
		StartedAt: start,
		Duration:  s.now().Sub(start),
		Skipped:   report.Skipped,
		Report:    &report,
	}
	switch {
	case err != nil:
		status.Error = err.Error()
	case scanErr != nil:
		status.Error = scanErr.Error()
	}
	s.record(status)

	if err != nil {
		s.logger.Error("reconcile failed", "error", err)
		return err
	}

	s.logger.Info("cycle complete",
		"devices", report.Devices,
		"recognized", report.Recognized,
		"unknown", report.Unknown,
		"loggedIn", len(report.LoggedIn),
		"loggedOut", len(report.LoggedOut),
		"pending", report.Pending,
		"duration", status.Duration.String(),
	)

	return nil
}

func (s *Scheduler) forceLogoutIfDue(ctx context.Context, now time.Time) {
	if s.cfg.ForceLogoutHour == NoForceLogout {
		return
	}

	if s.nextForceLogout.IsZero() {
		s.nextForceLogout = nextOccurrence(now, s.cfg.ForceLogoutHour)
		s.logger.Debug("force logout scheduled", "at", s.nextForceLogout)
		return
	}
	if now.Before(s.nextForceLogout) {
		return
	}

	n, err := s.tracker.LogoutAll(ctx, now)
	if err != nil {
		s.logger.Error("force logout failed", "error", err)
		return
	}

	s.nextForceLogout = nextOccurrence(now, s.cfg.ForceLogoutHour)
	s.logger.Info("force logout", "countUsers", n, "next", s.nextForceLogout)
}

func (s *Scheduler) record(status CycleStatus) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	status.Cycles = s.status.Cycles + 1
	s.status = status
}

// nextOccurrence returns the first hour:00 strictly after t.
func nextOccurrence(t time.Time, hour int) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
