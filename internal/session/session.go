// Package session wires one streaming JSON document's full pipeline
// together — parser, differ, coalescer, strategy selector, event bus —
// behind a concurrent Manager, and sweeps expired sessions on a ticker.
//
// The sessions map and its sweep are grounded on the teacher's
// services/orchestrator/ttl package: a SessionCleaner paired with a
// scheduler that continues past a single session's failure and
// accumulates errors rather than aborting the sweep
// (session_cleaner.go's DeleteSessionWithCascade). Here
// Manager.runTTLSweep plays the scheduler role and Manager.sweepOnce plays
// the phased cleaner role, adapted from a three-phase cascade delete into
// "finalize, drop from the map, close the bus" — logging and continuing
// the sweep even if one session's finalize or close fails.
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ailijian/AgentlyFormat/internal/eventbus"
	"github.com/ailijian/AgentlyFormat/internal/format/coalescer"
	"github.com/ailijian/AgentlyFormat/internal/format/completer"
	"github.com/ailijian/AgentlyFormat/internal/format/differ"
	"github.com/ailijian/AgentlyFormat/internal/format/event"
	"github.com/ailijian/AgentlyFormat/internal/format/parser"
	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/strategy"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
	"github.com/ailijian/AgentlyFormat/internal/formaterr"
	"github.com/ailijian/AgentlyFormat/internal/obs"
)

// ProgressReport is returned by Manager.Ingest; it folds the parser's
// byte-level progress with the count of events this ingest produced.
type ProgressReport struct {
	parser.ProgressReport
	EventsEmitted int
}

// Config bundles every tunable of spec §6's configuration table that
// session construction needs.
type Config struct {
	MaxBufferBytes  int
	PathStyle       path.Style
	DiffMode        differ.Mode
	Coalesce        coalescer.Config
	Selector        strategy.Config
	AdaptiveEnabled bool
	EventBus        eventbus.Config
	SessionTTL      time.Duration
	CleanupPeriod   time.Duration
	MaxSessions     int
	DefaultStrategy completer.Strategy
	SchemaHook      completer.SchemaHook

	// Obs is optional; when nil, spans and metrics are simply skipped.
	Obs *obs.Provider
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferBytes:  parser.DefaultMaxBufferBytes,
		PathStyle:       path.StyleDot,
		DiffMode:        differ.Smart,
		Coalesce:        coalescer.DefaultConfig(),
		Selector:        strategy.DefaultConfig(),
		AdaptiveEnabled: true,
		EventBus:        eventbus.DefaultConfig(),
		SessionTTL:      time.Hour,
		CleanupPeriod:   time.Minute,
		MaxSessions:     1000,
		DefaultStrategy: completer.Smart,
	}
}

// Session is one streaming document's full pipeline state. Ingest,
// Finalize, and Close must be called from a single goroutine at a time
// (spec §5's per-session write-path mutex); Tree and LastActivity are
// safe for concurrent readers via the same mutex in RLock mode.
type Session struct {
	ID string

	mu           sync.RWMutex
	parser       *parser.Parser
	diffState    *differ.State
	coalescer    *coalescer.Coalescer
	bus          *eventbus.Bus
	selector     *strategy.Selector
	cfg          Config
	lastTree     tree.Value
	seq          uint64
	lastActivity time.Time
	closed       bool
}

func newSession(id string, cfg Config) *Session {
	opts := completer.Options{Strategy: cfg.DefaultStrategy, SchemaHook: cfg.SchemaHook}
	s := &Session{
		ID:           id,
		parser:       parser.New(cfg.MaxBufferBytes, opts),
		diffState:    differ.NewState(),
		coalescer:    coalescer.New(cfg.Coalesce),
		bus:          eventbus.New(cfg.EventBus),
		selector:     strategy.New(cfg.Selector),
		cfg:          cfg,
		lastActivity: time.Now(),
	}
	if cfg.Obs != nil {
		cfg.Obs.Metrics.SessionOpened()
	}
	return s
}

// Tree returns a snapshot of the session's current committed value.
func (s *Session) Tree() tree.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTree
}

// LastActivity reports when this session last received an Ingest call.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Subscribe registers a callback on this session's event bus.
func (s *Session) Subscribe(filter eventbus.Filter, cb eventbus.Callback) eventbus.Subscription {
	return s.bus.Subscribe(filter, cb)
}

// selectStrategy asks the adaptive selector (if enabled) for the strategy
// to use on this call, and refreshes the parser's completer options with
// its historical success rate folded into the confidence formula (spec
// §4.2.3 factor 6, §4.7).
func (s *Session) selectStrategy() completer.Options {
	opts := completer.Options{Strategy: s.cfg.DefaultStrategy, SchemaHook: s.cfg.SchemaHook}
	if !s.cfg.AdaptiveEnabled {
		return opts
	}
	chosen := s.selector.Select(nil)
	rate := s.selector.HistoricalSuccessRate(chosen)
	opts.Strategy = chosen
	opts.HistoricalSuccessRate = &rate
	return opts
}

// ingest appends chunk, advances the parser, diffs against the previous
// tree, coalesces the resulting ops, and publishes whatever survives
// (spec §5's pipeline order: parse -> diff -> coalesce -> publish).
func (s *Session) ingest(ctx context.Context, chunk []byte, isFinal bool) (ProgressReport, error) {
	var finish func(error)
	if s.cfg.Obs != nil {
		_, finish = s.cfg.Obs.StartSpan(ctx, "ingest", s.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if finish != nil {
			finish(formaterr.ErrSessionClosed)
		}
		return ProgressReport{}, formaterr.ErrSessionClosed
	}

	opts := s.selectStrategy()
	s.parser.SetCompleterOptions(opts)

	pr, err := s.parser.Ingest(chunk, isFinal)
	if err != nil {
		if finish != nil {
			finish(err)
		}
		return ProgressReport{}, err
	}

	if s.cfg.Obs != nil {
		s.cfg.Obs.Metrics.RecordBytesIngested(pr.BytesAppended)
		s.cfg.Obs.Metrics.RecordRepairAttempt(ctx, opts.Strategy.String(), pr.Committed)
	}

	if s.cfg.AdaptiveEnabled {
		s.recordOutcome(opts.Strategy, pr)
	}

	emitted := s.publishProgress(pr)
	if pr.ProbeFailed {
		emitted += s.publishParseUnrecoverable()
	}
	emitted += s.diffAndPublishLocked()
	s.lastActivity = time.Now()
	if finish != nil {
		finish(nil)
	}
	return ProgressReport{ProgressReport: pr, EventsEmitted: emitted}, nil
}

// publishProgress emits a Progress event recording this call's byte-level
// movement (spec §4.3.2 overflow reporting; §8 "empty chunk ... Progress
// of size 0").
func (s *Session) publishProgress(pr parser.ProgressReport) int {
	s.seq++
	de := event.DeltaEvent{
		SessionID:   s.ID,
		Seq:         s.seq,
		TimestampMs: time.Now().UnixMilli(),
		Kind:        event.KindProgress,
		Value: tree.NewObject([]tree.Member{
			{Key: "bytes_appended", Value: tree.NewNumber(strconv.Itoa(pr.BytesAppended), true)},
			{Key: "bytes_dropped", Value: tree.NewNumber(strconv.Itoa(pr.BytesDropped), true)},
		}, true),
	}
	s.bus.Publish(de)
	if s.cfg.Obs != nil {
		s.cfg.Obs.Metrics.RecordEventEmitted(de.Kind.String())
	}
	return 1
}

// publishParseUnrecoverable emits an Error event when the fallback
// completer probe itself comes back invalid (spec §7, ParseUnrecoverable
// propagation).
func (s *Session) publishParseUnrecoverable() int {
	s.seq++
	de := event.DeltaEvent{
		SessionID:   s.ID,
		Seq:         s.seq,
		TimestampMs: time.Now().UnixMilli(),
		Kind:        event.KindError,
		Err: &event.ErrorInfo{
			Code:    string(formaterr.KindParseUnrecoverable),
			Message: "completer probe could not produce a valid document from the buffered input",
		},
	}
	s.bus.Publish(de)
	if s.cfg.Obs != nil {
		s.cfg.Obs.Metrics.RecordEventEmitted(de.Kind.String())
	}
	return 1
}

// recordOutcome feeds this ingest's parse outcome back to the adaptive
// selector. A committed prefix counts as a successful attempt at the
// chosen strategy; the precise confidence/trace detail lives inside the
// completer and is not re-derived here — the selector only needs pass/
// fail and a confidence figure (spec §4.7).
func (s *Session) recordOutcome(strat completer.Strategy, pr parser.ProgressReport) {
	confidence := 0.0
	if pr.Committed {
		confidence = 1.0
	}
	s.selector.Record(strat, completer.Result{Valid: pr.Committed, Confidence: confidence, Strategy: strat})
}

// finalize runs the completer over any residual bytes, commits the final
// tree, transitions the parser to Terminal, and emits any resulting diff
// plus a terminal Complete event.
func (s *Session) finalize(ctx context.Context) (completer.Result, error) {
	var finish func(error)
	if s.cfg.Obs != nil {
		_, finish = s.cfg.Obs.StartSpan(ctx, "complete", s.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if finish != nil {
			finish(formaterr.ErrSessionClosed)
		}
		return completer.Result{}, formaterr.ErrSessionClosed
	}

	opts := s.selectStrategy()
	s.parser.SetCompleterOptions(opts)

	res, err := s.parser.Finalize()
	if err != nil {
		if finish != nil {
			finish(err)
		}
		return completer.Result{}, err
	}
	if s.cfg.Obs != nil {
		s.cfg.Obs.Metrics.RecordRepairAttempt(ctx, res.Strategy.String(), res.Valid)
	}
	if s.cfg.AdaptiveEnabled {
		s.selector.Record(res.Strategy, res)
	}

	s.diffAndPublishLocked()
	s.flushAllLocked()

	s.seq++
	de := event.DeltaEvent{
		SessionID:   s.ID,
		Seq:         s.seq,
		TimestampMs: time.Now().UnixMilli(),
		Kind:        event.KindComplete,
	}
	s.bus.Publish(de)
	if s.cfg.Obs != nil {
		s.cfg.Obs.Metrics.RecordEventEmitted(de.Kind.String())
	}

	if finish != nil {
		finish(nil)
	}
	return res, nil
}

// diffAndPublishLocked must be called with mu held. It diffs the parser's
// current tree against the last published tree, offers every resulting
// ChangeOp to the coalescer, and publishes whatever the coalescer
// releases immediately.
func (s *Session) diffAndPublishLocked() int {
	newTree := s.parser.CurrentTree()
	ops := differ.Diff(s.diffState, s.lastTree, newTree, path.Path{}, s.cfg.DiffMode)
	s.lastTree = newTree

	emitted := 0
	for _, op := range ops {
		ready := s.coalescer.Offer(op)
		emitted += s.publishOps(ready)
	}
	emitted += s.publishOps(s.coalescer.Tick())
	return emitted
}

func (s *Session) flushAllLocked() int {
	return s.publishOps(s.coalescer.Flush(nil))
}

func (s *Session) publishOps(ops []differ.ChangeOp) int {
	for _, op := range ops {
		s.seq++
		de := event.DeltaEvent{
			SessionID:   s.ID,
			Seq:         s.seq,
			TimestampMs: time.Now().UnixMilli(),
			Path:        op.Path,
			Value:       op.Value,
		}
		if op.HasOldSketch {
			sketch := op.OldSketch
			de.OldValueSketch = &sketch
		}
		switch op.Kind {
		case differ.OpAdd:
			de.Kind = event.KindPathAdded
		case differ.OpRemove:
			de.Kind = event.KindPathRemoved
		default:
			de.Kind = event.KindValueChanged
		}
		s.bus.Publish(de)
		if s.cfg.Obs != nil {
			s.cfg.Obs.Metrics.RecordEventEmitted(de.Kind.String())
		}
	}
	return len(ops)
}

// tick runs a coalescer sweep outside of an Ingest call, releasing any
// path whose time window or stability threshold has elapsed since the
// last activity (spec §4.5.2). The session manager calls this on its own
// ticker so a path that stops receiving updates still flushes promptly.
func (s *Session) tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.publishOps(s.coalescer.Tick())
}

// close transitions the session to Terminal, closes its event bus (which
// blocks until every dispatch loop has exited; events still queued at
// that point may not be delivered), and marks it closed.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.Obs != nil {
		s.cfg.Obs.Metrics.SessionClosed()
	}
	s.closed = true
	s.parser.Close()
	s.mu.Unlock()
	return s.bus.Close()
}

func (s *Session) expired(ttl time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && now.Sub(s.lastActivity) > ttl
}
