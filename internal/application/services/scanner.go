package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

// ScanReport summarizes one scanner invocation
type ScanReport struct {
	Candidates int `json:"candidates"`
	Claimed    int `json:"claimed"`
	Delivered  int `json:"delivered"`
	Retrying   int `json:"retrying"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Recovered  int `json:"recovered"`
}

// ScanObserver receives scan outcomes for instrumentation
type ScanObserver interface {
	ObserveScan(scope string, report *ScanReport, elapsed time.Duration, err error)
}

// Scanner notifies owners about due tasks.
// It holds no locks: every state change goes through TaskRepository.Transition,
// so overlapping scans cannot notify the same due event twice.
type Scanner struct {
	tasks    ports.TaskRepository
	notifier ports.Notifier
	cfg      config.ScannerConfig
	observer ScanObserver
	logger   *logger.Logger
	now      func() time.Time
}

// NewScanner creates a new due-task scanner
func NewScanner(tasks ports.TaskRepository, notifier ports.Notifier, cfg config.ScannerConfig, observer ScanObserver, logger *logger.Logger) *Scanner {
	return &Scanner{
		tasks:    tasks,
		notifier: notifier,
		cfg:      cfg,
		observer: observer,
		logger:   logger.WithComponent("scanner"),
		now:      time.Now,
	}
}

// WithClock replaces the scanner clock
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// ScanOwner processes the due tasks of a single owner
func (s *Scanner) ScanOwner(ctx context.Context, ownerID string) (*ScanReport, error) {
	return s.scan(ctx, ownerID, "owner")
}

// ScanAll processes due tasks of every owner
func (s *Scanner) ScanAll(ctx context.Context) (*ScanReport, error) {
	return s.scan(ctx, "", "global")
}

func (s *Scanner) scan(ctx context.Context, ownerID, scope string) (*ScanReport, error) {
	started := s.now()
	report, err := s.run(ctx, ownerID, started.UTC())

	if s.observer != nil {
		s.observer.ObserveScan(scope, report, s.now().Sub(started), err)
	}
	if err != nil {
		s.logger.Errorw("Scan aborted", "scope", scope, "owner_id", ownerID, "error", err)
		return report, err
	}
	if report.Claimed > 0 || report.Recovered > 0 {
		s.logger.Infow("Scan completed",
			"scope", scope,
			"owner_id", ownerID,
			"candidates", report.Candidates,
			"delivered", report.Delivered,
			"retrying", report.Retrying,
			"failed", report.Failed,
			"recovered", report.Recovered,
		)
	}
	return report, nil
}

func (s *Scanner) run(ctx context.Context, ownerID string, now time.Time) (*ScanReport, error) {
	report := &ScanReport{}

	if err := s.recoverStaleClaims(ctx, ownerID, now, report); err != nil {
		return report, err
	}

	candidates, err := s.tasks.ListDueBefore(ctx, ports.DueQuery{
		Before:  now,
		OwnerID: ownerID,
		Limit:   s.cfg.BatchSize,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list due tasks: %w", err)
	}
	report.Candidates = len(candidates)

	for _, task := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.process(ctx, task, now, report); err != nil {
			return report, err
		}
	}

	return report, nil
}

func (s *Scanner) process(ctx context.Context, task *entities.Task, now time.Time, report *ScanReport) error {
	if s.inBackoff(task, now) {
		report.Skipped++
		return nil
	}

	claimed, err := s.tasks.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified, entities.TransitionFields{
		IncrementAttempt: true,
		LastAttemptAt:    &now,
		ClearDeliveredAt: true,
		UpdatedAt:        now,
	})
	if err != nil {
		if isLostRace(err) {
			report.Skipped++
			s.logger.Debugw("Claim lost", "task_id", task.ID, "error", err)
			return nil
		}
		return fmt.Errorf("failed to claim task %s: %w", task.ID, err)
	}
	report.Claimed++

	message := RenderReminder(claimed, now, s.cfg.OverdueGrace)
	deliverErr := s.notifier.Deliver(ctx, claimed.OwnerID, message)
	if deliverErr == nil {
		report.Delivered++
		empty := ""
		_, err := s.tasks.Transition(ctx, claimed.ID, entities.TaskStateNotified, entities.TaskStateNotified, entities.TransitionFields{
			DeliveredAt: &now,
			LastError:   &empty,
			UpdatedAt:   now,
		})
		return s.settle(claimed, entities.TaskStateNotified, err)
	}

	reason := deliverErr.Error()
	attempts := claimed.DueAttempts()
	log := s.logger.WithFields("task_id", claimed.ID, "owner_id", claimed.OwnerID, "attempt", attempts)

	if entities.IsPermanentDelivery(deliverErr) || attempts >= s.cfg.MaxAttempts {
		report.Failed++
		log.Warnw("Reminder delivery failed for good", "error", reason)
		_, err := s.tasks.Transition(ctx, claimed.ID, entities.TaskStateNotified, entities.TaskStateFailed, entities.TransitionFields{
			LastError: &reason,
			UpdatedAt: now,
		})
		return s.settle(claimed, entities.TaskStateFailed, err)
	}

	report.Retrying++
	log.Infow("Reminder delivery will be retried", "error", reason, "next_attempt_after", now.Add(s.backoff(attempts)))
	_, err = s.tasks.Transition(ctx, claimed.ID, entities.TaskStateNotified, entities.TaskStatePending, entities.TransitionFields{
		LastError: &reason,
		UpdatedAt: now,
	})
	return s.settle(claimed, entities.TaskStatePending, err)
}

// settle treats a concurrent user action on a claimed task as final
func (s *Scanner) settle(task *entities.Task, to entities.TaskState, err error) error {
	if err == nil {
		return nil
	}
	if isLostRace(err) {
		s.logger.LogTaskTransition(task.ID.String(), task.OwnerID, string(entities.TaskStateNotified), string(to), err)
		return nil
	}
	return fmt.Errorf("failed to settle task %s: %w", task.ID, err)
}

// recoverStaleClaims re-arms tasks whose claim was never followed by a delivery receipt
func (s *Scanner) recoverStaleClaims(ctx context.Context, ownerID string, now time.Time, report *ScanReport) error {
	if s.cfg.ClaimTimeout <= 0 {
		return nil
	}

	stale, err := s.tasks.ListUnconfirmedClaims(ctx, ports.ClaimQuery{
		ClaimedBefore: now.Add(-s.cfg.ClaimTimeout),
		OwnerID:       ownerID,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list unconfirmed claims: %w", err)
	}

	reason := "delivery was never confirmed"
	for _, task := range stale {
		to := entities.TaskStatePending
		if task.DueAttempts() >= s.cfg.MaxAttempts {
			to = entities.TaskStateFailed
		}

		_, err := s.tasks.Transition(ctx, task.ID, entities.TaskStateNotified, to, entities.TransitionFields{
			LastError: &reason,
			UpdatedAt: now,
		})
		if err != nil {
			if isLostRace(err) {
				continue
			}
			return fmt.Errorf("failed to recover task %s: %w", task.ID, err)
		}

		if to == entities.TaskStateFailed {
			report.Failed++
		} else {
			report.Recovered++
		}
	}
	return nil
}

func (s *Scanner) inBackoff(task *entities.Task, now time.Time) bool {
	attempts := task.DueAttempts()
	if attempts == 0 || task.LastAttemptAt == nil {
		return false
	}
	return task.LastAttemptAt.Add(s.backoff(attempts)).After(now)
}

// backoff returns base * 2^(attempts-1), capped at the configured maximum
func (s *Scanner) backoff(attempts int) time.Duration {
	if attempts <= 0 || s.cfg.BackoffBase <= 0 {
		return 0
	}
	d := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if s.cfg.BackoffMax > 0 && d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if s.cfg.BackoffMax > 0 && d > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return d
}

func isLostRace(err error) bool {
	return errors.Is(err, entities.ErrStateConflict) || errors.Is(err, entities.ErrTaskNotFound)
}
