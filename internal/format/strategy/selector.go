// Package strategy implements the Adaptive Strategy Selector (spec §4.7,
// component C7): a small stateful tracker, one per core instance, that
// picks which completer.Strategy to try next based on rolling per-strategy
// success/failure history.
//
// The design is grounded on the teacher's small stateful "tracker" types
// (goroutine_tracker.go, adaptive_sampler.go) that keep rolling counters to
// drive a runtime decision; here the decision is which completer.Strategy
// to use instead of a sampling rate.
package strategy

import (
	"sync"
	"time"

	"github.com/ailijian/AgentlyFormat/internal/format/completer"
)

// Record is one strategy's rolling history (spec §4.7).
type Record struct {
	Attempts            int
	Successes           int
	Failures            int
	MeanConfidence      float64
	LastUsed            time.Time
	ConsecutiveFailures int
	RecentFailureTypes  []string
}

// SuccessRate returns Successes/Attempts, or 0 with no attempts yet.
func (r Record) SuccessRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Attempts)
}

// score is the weighted figure of merit spec §4.7 switches on.
func (r Record) score() float64 {
	return 0.6*r.SuccessRate() + 0.4*r.MeanConfidence
}

// Config controls the switch policy (spec §6 configuration table).
type Config struct {
	ConsecutiveFailureThreshold int
	MinSwitchInterval           time.Duration
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{ConsecutiveFailureThreshold: 3, MinSwitchInterval: 60 * time.Second}
}

// Selector owns the per-strategy history for one core instance. All
// methods are safe for concurrent use; Complete may be called from many
// sessions at once (spec §5 concurrency model).
type Selector struct {
	mu         sync.Mutex
	cfg        Config
	records    map[completer.Strategy]*Record
	current    completer.Strategy
	lastSwitch time.Time
	now        func() time.Time
}

// New builds a Selector starting at completer.Smart.
func New(cfg Config) *Selector {
	return &Selector{
		cfg:     cfg,
		records: make(map[completer.Strategy]*Record),
		current: completer.Smart,
		now:     time.Now,
	}
}

func (s *Selector) recordFor(strategy completer.Strategy) *Record {
	r, ok := s.records[strategy]
	if !ok {
		r = &Record{}
		s.records[strategy] = r
	}
	return r
}

// Select returns the strategy to use for the next completion call. If
// explicit is non-nil, it is honored unconditionally (spec §4.7: "If
// caller supplied an explicit strategy, honor it").
func (s *Selector) Select(explicit *completer.Strategy) completer.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()

	if explicit != nil {
		return *explicit
	}
	if s.lastSwitch.IsZero() {
		s.lastSwitch = s.now()
	}

	cur := s.recordFor(s.current)
	if cur.ConsecutiveFailures >= s.cfg.ConsecutiveFailureThreshold {
		if s.now().Sub(s.lastSwitch) >= s.cfg.MinSwitchInterval {
			if best, ok := s.bestOther(s.current); ok {
				s.current = best
				s.lastSwitch = s.now()
			}
		}
	}
	return s.current
}

// bestOther returns the strategy with the highest score among all three,
// excluding none (the current strategy is allowed to win, in which case
// the caller's switch is a no-op but lastSwitch still advances to respect
// the cooldown).
func (s *Selector) bestOther(current completer.Strategy) (completer.Strategy, bool) {
	candidates := []completer.Strategy{completer.Smart, completer.Conservative, completer.Aggressive}
	best := current
	bestScore := -1.0
	found := false
	for _, c := range candidates {
		r := s.recordFor(c)
		sc := r.score()
		if sc > bestScore {
			bestScore = sc
			best = c
			found = true
		}
	}
	return best, found
}

// Record folds one completion outcome into the selector's history for
// strategy (spec §4.7 record fields).
func (s *Selector) Record(strategy completer.Strategy, result completer.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.recordFor(strategy)
	r.Attempts++
	r.LastUsed = s.now()
	r.MeanConfidence = (r.MeanConfidence*float64(r.Attempts-1) + result.Confidence) / float64(r.Attempts)

	if result.Valid {
		r.Successes++
		r.ConsecutiveFailures = 0
	} else {
		r.Failures++
		r.ConsecutiveFailures++
		r.RecentFailureTypes = appendBounded(r.RecentFailureTypes, result.Trace.Severity.String(), 10)
	}
}

func appendBounded(list []string, v string, max int) []string {
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// HistoricalSuccessRate returns strategy's current success rate, for
// folding into the completer's confidence formula (spec §4.2.3 factor 6,
// §4.7 "evaluated for the purposes of the historical-success-rate
// confidence factor using the same formula with no switch").
func (s *Selector) HistoricalSuccessRate(strategy completer.Strategy) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordFor(strategy).SuccessRate()
}

// Snapshot returns a copy of strategy's record, for diagnostics/metrics.
func (s *Selector) Snapshot(strategy completer.Strategy) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.recordFor(strategy)
}
