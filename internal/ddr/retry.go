package ddr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docground/internal/gate"
	"docground/internal/validator"
)

// DefaultMaxAttempts bounds a retry round when MaxAttempts is unset.
const DefaultMaxAttempts = 3

// ErrRetriesExhausted is returned by a strict RetryController whose every
// attempt exceeded the threshold.
var ErrRetriesExhausted = errors.New("generation retries exhausted")

// Generator produces the claim batch of one generation attempt. attempt starts at 1.
type Generator func(ctx context.Context, attempt int) ([]validator.Claim, error)

// RoundReport describes one attempt of a retry round.
type RoundReport struct {
	SessionID string
	RoundID   string
	Attempt   int
	Accepted  bool
	Metrics   gate.Snapshot
	Results   []validator.Result
	// Indices holds the claim position of each result.
	Indices []int
	At      time.Time
}

// RoundRecorder persists round reports.
type RoundRecorder interface {
	RecordRound(ctx context.Context, r RoundReport) error
}

// RoundResult is the outcome of RetryController.Run.
type RoundResult struct {
	RoundID  string
	Attempts int
	Accepted bool
	Batch    *BatchResult
	Metrics  gate.Snapshot
}

// RetryController regenerates claims until the session gate accepts them.
// The gate is reset when the round starts and counters accumulate across
// attempts, so the decision reflects every attempt of the round.
type RetryController struct {
	Session     *Session
	MaxAttempts int
	// Strict turns exhaustion into an error wrapping *gate.ExceededError.
	// Otherwise the last attempt is returned with Accepted false.
	Strict bool
	// Concurrency is passed to RetrieveBatch.
	Concurrency int
}

// Run executes one generation round.
func (c *RetryController) Run(ctx context.Context, generate Generator) (*RoundResult, error) {
	if c.Session == nil {
		return nil, errors.New("retry controller has no session")
	}
	s := c.Session
	limit := c.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}

	s.Reset()
	round := &RoundResult{RoundID: uuid.NewString()}
	for attempt := 1; attempt <= limit; attempt++ {
		claims, err := generate(ctx, attempt)
		if err != nil {
			return round, fmt.Errorf("generation attempt %d failed: %w", attempt, err)
		}

		batch, err := s.RetrieveBatch(ctx, claims, c.Concurrency)
		round.Attempts = attempt
		if batch != nil {
			round.Batch = batch
			round.Metrics = batch.Metrics
		}
		if err != nil {
			return round, err
		}

		round.Accepted = !batch.Metrics.Exceeded
		recordAttempt(ctx, round.Accepted)
		c.record(ctx, round, batch)
		if round.Accepted {
			return round, nil
		}
		s.logger.Info("gate exceeded, regenerating",
			"round", round.RoundID,
			"attempt", attempt,
			"max_attempts", limit,
			"hall_rate", batch.Metrics.HallRate,
			"threshold", batch.Metrics.Threshold)
	}

	if c.Strict {
		return round, fmt.Errorf("%w after %d attempts: %w",
			ErrRetriesExhausted, round.Attempts, &gate.ExceededError{Snapshot: round.Metrics})
	}
	return round, nil
}

func (c *RetryController) record(ctx context.Context, round *RoundResult, batch *BatchResult) {
	s := c.Session
	if s.recorder == nil {
		return
	}
	report := RoundReport{
		SessionID: s.id,
		RoundID:   round.RoundID,
		Attempt:   round.Attempts,
		Accepted:  round.Accepted,
		Metrics:   batch.Metrics,
		Results:   batch.Results,
		Indices:   batch.Indices,
		At:        batch.Metrics.TakenAt,
	}
	if err := s.recorder.RecordRound(ctx, report); err != nil {
		s.logger.Warn("failed to record round", "round", round.RoundID, "attempt", round.Attempts, "error", err)
	}
}
