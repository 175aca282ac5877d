// Package coalescer implements the Event Coalescer (spec §4.5, component
// C5): a per-path buffer that suppresses churn on unstable paths and
// releases stable paths promptly, grouped by the five flush conditions of
// spec §4.5.2.
//
// Grounded on the teacher's pkg/ux/stream.go multi-trigger flush design (a
// buffered renderer that flushes on a tick, a size threshold, or an
// explicit signal), adapted into time window / stability / max-buffered /
// explicit / terminal.
package coalescer

import (
	"time"

	"github.com/ailijian/AgentlyFormat/internal/format/differ"
	"github.com/ailijian/AgentlyFormat/internal/format/path"
)

// Config controls the flush thresholds (spec §4.5.2, §6 config table).
type Config struct {
	Enabled       bool
	TimeWindow    time.Duration
	Stability     int
	MaxBuffered   int
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, TimeWindow: 100 * time.Millisecond, Stability: 3, MaxBuffered: 10}
}

// pathBuffer is one path's pending-event state (spec §3, CoalescingBuffer).
type pathBuffer struct {
	pending          []differ.ChangeOp
	firstPendingAt   time.Time
	stableTicks      int
	path             path.Path
	order            int // position this path first became pending, for stable output ordering
}

// Coalescer buffers ChangeOps per path until a flush condition fires.
type Coalescer struct {
	cfg     Config
	now     func() time.Time
	buffers map[string]*pathBuffer
	seq     int
}

// New builds a Coalescer.
func New(cfg Config) *Coalescer {
	return &Coalescer{cfg: cfg, now: time.Now, buffers: make(map[string]*pathBuffer)}
}

func key(p path.Path) string { return path.Render(p, path.StyleBracket) }

// Offer adds one candidate ChangeOp (spec §4.5.1 "offer(event)"). It
// returns any ops that must flush immediately as a result of this offer
// (max-buffered reached). Each offer resets its path's stability counter
// to zero; Tick surfaces time-window and stability flushes.
func (c *Coalescer) Offer(op differ.ChangeOp) []differ.ChangeOp {
	if !c.cfg.Enabled {
		return []differ.ChangeOp{op}
	}
	k := key(op.Path)
	buf, ok := c.buffers[k]
	if !ok {
		c.seq++
		buf = &pathBuffer{path: op.Path, firstPendingAt: c.now(), order: c.seq}
		c.buffers[k] = buf
	}
	buf.pending = append(buf.pending, op)
	buf.stableTicks = 0

	if len(buf.pending) >= c.cfg.MaxBuffered {
		delete(c.buffers, k)
		return []differ.ChangeOp{mostRecent(buf.pending)}
	}
	return nil
}

// flushEntry pairs a flushed op with the order its path first became
// pending, so flushes can be re-sorted into that order before returning
// (spec §4.5.2: "never reorders events across paths ... emits them in the
// order the paths first became pending").
type flushEntry struct {
	order int
	op    differ.ChangeOp
}

// Tick advances the stability counter of every pending path by one, and
// returns ops for every path whose time window or stability threshold has
// now been reached (spec §4.5.2). internal/session calls it after every
// ingest and from the session manager's periodic sweep.
func (c *Coalescer) Tick() []differ.ChangeOp {
	now := c.now()
	var flushed []flushEntry

	for k, buf := range c.buffers {
		buf.stableTicks++
		windowElapsed := now.Sub(buf.firstPendingAt) >= c.cfg.TimeWindow
		stable := buf.stableTicks >= c.cfg.Stability
		if windowElapsed || stable {
			flushed = append(flushed, flushEntry{buf.order, mostRecent(buf.pending)})
			delete(c.buffers, k)
		}
	}

	return orderedOps(flushed)
}

// Flush forces emission. With p == nil, every pending path flushes
// (spec §4.5.2 "explicit flush", and the session-terminal condition which
// is just an unconditional explicit flush at close time). With p non-nil,
// only that path flushes if pending.
func (c *Coalescer) Flush(p *path.Path) []differ.ChangeOp {
	if p != nil {
		k := key(*p)
		buf, ok := c.buffers[k]
		if !ok {
			return nil
		}
		delete(c.buffers, k)
		return []differ.ChangeOp{mostRecent(buf.pending)}
	}

	var all []flushEntry
	for k, buf := range c.buffers {
		all = append(all, flushEntry{buf.order, mostRecent(buf.pending)})
		delete(c.buffers, k)
	}
	return orderedOps(all)
}

// mostRecent returns only the last candidate (spec §4.5.2: "the coalescer
// emits only the most recent event per path — intermediate values are
// dropped").
func mostRecent(pending []differ.ChangeOp) differ.ChangeOp {
	return pending[len(pending)-1]
}

func orderedOps(items []flushEntry) []differ.ChangeOp {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].order < items[j-1].order; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	out := make([]differ.ChangeOp, len(items))
	for i, it := range items {
		out[i] = it.op
	}
	return out
}
