// Package jobs runs background maintenance against the application services.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/lifecycle"
)

const defaultBatchSize = 200

// ContractExpirer is the slice of application.ContractService the sweeper uses.
type ContractExpirer interface {
	DueForExpiry(ctx context.Context, after application.DueCursor, limit int) ([]application.Contract, error)
	Expire(ctx context.Context, id, actor string) (application.Contract, error)
}

// SweepRecorder receives per-pass totals. A nil recorder is ignored.
type SweepRecorder interface {
	ObserveSweep(expired, failed int)
}

// SweepResult summarises one pass.
type SweepResult struct {
	Expired int
	// Skipped contracts were transitioned by someone else between listing and
	// expiry.
	Skipped int
	Failed  int
}

// ExpirySweeper moves active and frozen contracts whose term has ended to
// expired, through the same orchestrator staff requests use.
type ExpirySweeper struct {
	contracts ContractExpirer
	actor     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	recorder  SweepRecorder
}

// NewExpirySweeper wires a sweeper that acts as actor every interval.
func NewExpirySweeper(contracts ContractExpirer, actor string, interval time.Duration, logger *slog.Logger, recorder SweepRecorder) *ExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		contracts: contracts,
		actor:     actor,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger.With("job", "contract_expiry"),
		recorder:  recorder,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.InfoContext(ctx, "expiry sweeper disabled")
		return nil
	}

	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *ExpirySweeper) sweepAndLog(ctx context.Context) {
	result, err := s.SweepOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err, "expired", result.Expired)
		return
	}
	if result.Expired > 0 || result.Failed > 0 {
		s.logger.InfoContext(ctx, "expiry sweep finished",
			"expired", result.Expired,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
}

// SweepOnce expires every contract that is due, batch by batch. Each batch
// resumes past the last contract of the previous one, so a contract that
// keeps failing is logged and left for the next pass without holding back
// the contracts listed after it.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	defer func() {
		if s.recorder != nil {
			s.recorder.ObserveSweep(result.Expired, result.Failed)
		}
	}()

	var cursor application.DueCursor
	for {
		due, err := s.contracts.DueForExpiry(ctx, cursor, s.batchSize)
		if err != nil {
			return result, err
		}

		for _, contract := range due {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			_, err := s.contracts.Expire(ctx, contract.ID, s.actor)
			switch {
			case err == nil:
				result.Expired++
			case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, application.ErrNotFound):
				result.Skipped++
			default:
				result.Failed++
				s.logger.WarnContext(ctx, "contract expiry failed", "contract_id", contract.ID, "error", err)
			}
		}

		if len(due) < s.batchSize {
			return result, nil
		}
		next := application.CursorAfter(due[len(due)-1])
		if next == cursor {
			return result, nil
		}
		cursor = next
	}
}
