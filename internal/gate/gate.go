package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultThreshold is the hallucination rate tolerated by default.
const DefaultThreshold = 0.02

// ErrHallMetricExceeded is matched by every *ExceededError.
var ErrHallMetricExceeded = errors.New("hallucination metric exceeded threshold")

// State is the gate decision state.
type State int

const (
	Accumulating State = iota
	WithinThreshold
	Exceeded
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case WithinThreshold:
		return "within_threshold"
	case Exceeded:
		return "exceeded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is an immutable point-in-time aggregate of the gate counters.
type Snapshot struct {
	TotalClaims      int       `json:"total_claims"`
	VerifiedClaims   int       `json:"verified_claims"`
	UnverifiedClaims int       `json:"unverified_claims"`
	HallRate         float64   `json:"hall_rate"`
	Threshold        float64   `json:"threshold"`
	Exceeded         bool      `json:"exceeded"`
	TakenAt          time.Time `json:"taken_at"`
}

// ExceededError is returned by Check when the rate is above the threshold.
type ExceededError struct {
	Snapshot Snapshot
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%v: hall_rate %.4f > threshold %.4f (%d of %d claims unverified)",
		ErrHallMetricExceeded, e.Snapshot.HallRate, e.Snapshot.Threshold,
		e.Snapshot.UnverifiedClaims, e.Snapshot.TotalClaims)
}

func (e *ExceededError) Is(target error) bool { return target == ErrHallMetricExceeded }

// Gate accumulates claim outcomes and decides whether their hallucination
// rate is within tolerance. It is safe for concurrent use.
type Gate struct {
	mu        sync.Mutex
	threshold float64
	total     int
	verified  int
	state     State

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the snapshot clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate with the given threshold.
func New(threshold float64, opts ...Option) (*Gate, error) {
	if err := validThreshold(threshold); err != nil {
		return nil, err
	}
	g := &Gate{threshold: threshold, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Default creates a gate using DefaultThreshold.
func Default(opts ...Option) *Gate {
	g, _ := New(DefaultThreshold, opts...)
	return g
}

// Record adds one claim outcome.
func (g *Gate) Record(verified bool) {
	g.mu.Lock()
	g.total++
	if verified {
		g.verified++
	}
	g.state = Accumulating
	g.mu.Unlock()

	recordClaim(verified)
}

// Snapshot computes the current aggregate and re-evaluates the state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	snap := g.snapshotLocked()
	prev := g.state
	if snap.Exceeded {
		g.state = Exceeded
	} else {
		g.state = WithinThreshold
	}
	state := g.state
	g.mu.Unlock()

	recordEvaluation(state, snap.HallRate)
	if snap.Exceeded && prev != Exceeded {
		g.logger.Warn("hallucination gate exceeded",
			"hall_rate", snap.HallRate,
			"threshold", snap.Threshold,
			"unverified", snap.UnverifiedClaims,
			"total", snap.TotalClaims)
	}
	return snap
}

// Peek returns the aggregate without changing the state.
func (g *Gate) Peek() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Check is the strict variant of Snapshot: it returns an *ExceededError when
// the rate is above the threshold.
func (g *Gate) Check() (Snapshot, error) {
	snap := g.Snapshot()
	if snap.Exceeded {
		return snap, &ExceededError{Snapshot: snap}
	}
	return snap, nil
}

// SetThreshold changes the bound used by subsequent snapshots.
func (g *Gate) SetThreshold(v float64) error {
	if err := validThreshold(v); err != nil {
		return err
	}
	g.mu.Lock()
	g.threshold = v
	g.mu.Unlock()
	return nil
}

// Threshold returns the bound in force.
func (g *Gate) Threshold() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threshold
}

// Reset zeroes the counters and returns to Accumulating. The threshold is kept.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.total, g.verified = 0, 0
	g.state = Accumulating
	g.mu.Unlock()
}

// State returns the state decided by the latest snapshot.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) snapshotLocked() Snapshot {
	snap := Snapshot{
		TotalClaims:      g.total,
		VerifiedClaims:   g.verified,
		UnverifiedClaims: g.total - g.verified,
		Threshold:        g.threshold,
		TakenAt:          g.now(),
	}
	if g.total > 0 {
		snap.HallRate = float64(snap.UnverifiedClaims) / float64(g.total)
	}
	snap.Exceeded = snap.HallRate > g.threshold
	return snap
}

func validThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", v)
	}
	return nil
}
