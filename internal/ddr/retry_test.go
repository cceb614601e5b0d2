package ddr

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docground/internal/gate"
	"docground/internal/validator"
)

type memRecorder struct {
	mu      sync.Mutex
	reports []RoundReport
	err     error
}

func (m *memRecorder) RecordRound(_ context.Context, r RoundReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

func TestRetryController_AcceptsAfterRetry(t *testing.T) {
	g, err := gate.New(0.5)
	require.NoError(t, err)
	rec := &memRecorder{}
	s := newSession(t, WithGate(g), WithRoundRecorder(rec))

	rc := &RetryController{Session: s, MaxAttempts: 3}
	round, err := rc.Run(context.Background(), func(_ context.Context, attempt int) ([]validator.Claim, error) {
		if attempt == 1 {
			return claims("Ghost", "Phantom"), nil
		}
		return claims("DocumentConverter", "convert", "DocumentConverter", "convert"), nil
	})
	require.NoError(t, err)
	assert.True(t, round.Accepted)
	assert.Equal(t, 2, round.Attempts)

	// Counters accumulate across attempts: 2 unverified of 6.
	assert.Equal(t, 6, round.Metrics.TotalClaims)
	assert.InDelta(t, 2.0/6.0, round.Metrics.HallRate, 1e-12)

	require.Len(t, rec.reports, 2)
	assert.False(t, rec.reports[0].Accepted)
	assert.True(t, rec.reports[1].Accepted)
	assert.Equal(t, s.ID(), rec.reports[0].SessionID)
	assert.Equal(t, round.RoundID, rec.reports[1].RoundID)
	assert.Len(t, rec.reports[1].Results, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, rec.reports[1].Indices)
}

func TestRetryController_Exhausted(t *testing.T) {
	generate := func(_ context.Context, _ int) ([]validator.Claim, error) {
		return claims("DocumentConverter", "Ghost"), nil
	}

	t.Run("Strict", func(t *testing.T) {
		s := newSession(t)
		round, err := (&RetryController{Session: s, MaxAttempts: 2, Strict: true}).Run(context.Background(), generate)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, gate.ErrHallMetricExceeded)

		var ee *gate.ExceededError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 4, ee.Snapshot.TotalClaims)
		assert.Equal(t, 2, round.Attempts)
		assert.False(t, round.Accepted)
	})

	t.Run("Lenient", func(t *testing.T) {
		s := newSession(t)
		round, err := (&RetryController{Session: s}).Run(context.Background(), generate)
		require.NoError(t, err)
		assert.False(t, round.Accepted)
		assert.Equal(t, DefaultMaxAttempts, round.Attempts)
		assert.Equal(t, 6, round.Metrics.TotalClaims)
	})
}

func TestRetryController_ResetsAtRoundStart(t *testing.T) {
	s := newSession(t)
	_, err := s.RetrieveBatch(context.Background(), claims("Ghost", "Ghost2"), 1)
	require.NoError(t, err)

	round, err := (&RetryController{Session: s}).Run(context.Background(), func(context.Context, int) ([]validator.Claim, error) {
		return claims("DocumentConverter"), nil
	})
	require.NoError(t, err)
	assert.True(t, round.Accepted)
	assert.Equal(t, 1, round.Metrics.TotalClaims)
}

func TestRetryController_GeneratorError(t *testing.T) {
	s := newSession(t)
	boom := errors.New("model unavailable")
	_, err := (&RetryController{Session: s}).Run(context.Background(), func(context.Context, int) ([]validator.Claim, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRetryController_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	s := newSession(t, WithRoundRecorder(rec))
	round, err := (&RetryController{Session: s}).Run(context.Background(), func(context.Context, int) ([]validator.Claim, error) {
		return claims("convert"), nil
	})
	require.NoError(t, err)
	assert.True(t, round.Accepted)
	assert.Len(t, rec.reports, 1)
}

func TestRetryController_NoSession(t *testing.T) {
	_, err := (&RetryController{}).Run(context.Background(), nil)
	assert.Error(t, err)
}
