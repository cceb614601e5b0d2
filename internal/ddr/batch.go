package ddr

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"docground/internal/catalog"
	"docground/internal/gate"
	"docground/internal/validator"
)

// Progress counts the claims of one batch.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	// Failed counts processed claims that did not validate.
	Failed int `json:"failed"`
}

// BatchResult bundles the completed results of a batch with the gate
// snapshot taken after it. Results are ordered by claim position; Indices
// holds that position for each result.
type BatchResult struct {
	Results  []validator.Result `json:"results"`
	Indices  []int              `json:"indices"`
	Progress Progress           `json:"progress"`
	Metrics  gate.Snapshot      `json:"metrics"`
	Canceled bool               `json:"canceled"`
	Duration time.Duration      `json:"duration"`
}

// Verified returns the number of validated results.
func (b *BatchResult) Verified() int {
	n := 0
	for _, r := range b.Results {
		if r.Validated {
			n++
		}
	}
	return n
}

// RetrieveBatch validates claims with up to concurrency workers (zero uses
// the session default). On cancellation the partial result holds only the
// claims that completed, and the context error is returned alongside it.
func (s *Session) RetrieveBatch(ctx context.Context, claims []validator.Claim, concurrency int) (*BatchResult, error) {
	start := time.Now()
	snap := s.store.Snapshot()
	if snap.Empty() {
		return nil, catalog.ErrNoCatalogs
	}

	var (
		results  = make([]validator.Result, len(claims))
		done     = make([]bool, len(claims))
		progress = Progress{Total: len(claims)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers(concurrency))
	for i, claim := range claims {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := s.validate(snap, claim, s.maxResults)

			s.mu.Lock()
			defer s.mu.Unlock()
			// A claim finishing after cancellation is discarded.
			if gctx.Err() != nil {
				return nil
			}
			results[i] = res
			done[i] = true
			progress.Processed++
			if !res.Validated {
				progress.Failed++
			}
			s.gate.Record(res.Validated)
			if s.progress != nil {
				s.progress(progress)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{Canceled: ctx.Err() != nil}
	s.mu.Lock()
	out.Progress = progress
	s.mu.Unlock()
	for i, ok := range done {
		if ok {
			out.Results = append(out.Results, results[i])
			out.Indices = append(out.Indices, i)
		}
	}
	out.Metrics = s.gate.Snapshot()
	out.Duration = time.Since(start)
	recordBatch(ctx, out)

	s.logger.Info("claim batch validated",
		"session", s.id,
		"processed", out.Progress.Processed,
		"total", out.Progress.Total,
		"failed", out.Progress.Failed,
		"hall_rate", out.Metrics.HallRate,
		"exceeded", out.Metrics.Exceeded,
		"canceled", out.Canceled)

	if out.Canceled {
		return out, ctx.Err()
	}
	return out, nil
}
