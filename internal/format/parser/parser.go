// Package parser implements the Streaming Parser (spec §4.3, component
// C3): a cross-chunk-buffered incremental parser that tracks bracket/quote
// balance, identifies safe split points, and maintains per-session parse
// state.
//
// The bounded accumulation buffer is grounded on the teacher's
// RingBuffer[T] (cmd/aleutian/internal/util/ring_buffer.go) — "fixed
// capacity, drop oldest on overflow, track a dropped count" — adapted from
// a generic item-eviction ring into a byte buffer whose eviction point is
// never an arbitrary oldest-item boundary but the nearest safe split point
// (spec §4.3.2), since arbitrary truncation would corrupt in-flight JSON
// structure.
package parser

import (
	"strings"
	"sync"

	"github.com/ailijian/AgentlyFormat/internal/format/completer"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

// State is the streaming session lifecycle (spec §4.3.4).
type State int

const (
	Idle State = iota
	Active
	Draining
	Terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Draining:
		return "draining"
	default:
		return "terminal"
	}
}

// ProgressReport is returned by Ingest (spec §4.3.1).
type ProgressReport struct {
	BytesAppended int
	BytesDropped  int
	Committed     bool
	// ProbeFailed is true when the cursor couldn't advance and the
	// fallback completer probe (spec §4.3.3 step 4) also came back
	// invalid — the session layer surfaces this as a ParseUnrecoverable
	// error event (spec §7).
	ProbeFailed bool
	State       State
}

// DefaultMaxBufferBytes matches spec §6's documented default.
const DefaultMaxBufferBytes = 1 << 20

// Parser holds one session's incremental parse state (spec §3, ParseState).
// It is single-writer: Ingest/Finalize/Close on one Parser must be called
// from only one goroutine at a time (spec §4.3.5); CurrentTree/RawBuffer may
// be called concurrently with a writer and always observe a consistent
// pre- or post-ingest state.
type Parser struct {
	mu sync.RWMutex

	maxBufferBytes int
	buf            []byte
	droppedBytes   int
	cursor         int // byte offset into buf of the first un-parsed byte

	committed tree.Value
	state     State

	completerOpts completer.Options
}

// New builds an idle Parser with the given ring-buffer capacity (0 means
// DefaultMaxBufferBytes).
func New(maxBufferBytes int, completerOpts completer.Options) *Parser {
	if maxBufferBytes <= 0 {
		maxBufferBytes = DefaultMaxBufferBytes
	}
	return &Parser{maxBufferBytes: maxBufferBytes, state: Idle, completerOpts: completerOpts}
}

// SetCompleterOptions updates the Options used for every subsequent
// fallback-completion attempt (spec §4.2, the Adaptive Strategy Selector
// picks a fresh strategy per call rather than once per session).
func (p *Parser) SetCompleterOptions(opts completer.Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completerOpts = opts
}

// Ingest appends chunk and attempts to extend the committed tree (spec
// §4.3.1, §4.3.3).
func (p *Parser) Ingest(chunk []byte, isFinal bool) (ProgressReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Terminal {
		return ProgressReport{State: p.state}, &closedError{}
	}
	if p.state == Idle {
		p.state = Active
	}

	dropped := p.appendWithOverflow(chunk)

	committed, probeFailed := p.tryCommit()

	if isFinal {
		p.state = Draining
	}

	return ProgressReport{
		BytesAppended: len(chunk),
		BytesDropped:  dropped,
		Committed:     committed,
		ProbeFailed:   probeFailed,
		State:         p.state,
	}, nil
}

// appendWithOverflow appends chunk to buf, truncating from the front at
// the nearest safe split point if the result would exceed capacity (spec
// §4.3.2). Returns the number of bytes dropped.
func (p *Parser) appendWithOverflow(chunk []byte) int {
	p.buf = append(p.buf, chunk...)
	if len(p.buf) <= p.maxBufferBytes {
		return 0
	}

	overflowBy := len(p.buf) - p.maxBufferBytes
	splitAt := nearestSafeSplitAfter(p.buf, overflowBy)
	if splitAt <= 0 {
		return 0
	}

	p.buf = p.buf[splitAt:]
	p.cursor -= splitAt
	if p.cursor < 0 {
		p.cursor = 0
	}
	p.droppedBytes += splitAt
	return splitAt
}

// tryCommit identifies the largest safe prefix of the un-parsed region and
// attempts a strict parse; on success it merges into the committed tree
// and advances the cursor (spec §4.3.3 steps 2-3). On failure despite
// clean depth counters it falls back to a non-destructive completer probe
// (step 4), updating the committed tree but NOT the cursor.
func (p *Parser) tryCommit() (committed bool, probeFailed bool) {
	region := p.buf[p.cursor:]
	if len(region) == 0 {
		return false, false
	}

	prefixLen := largestSafePrefix(region)
	if prefixLen > 0 {
		if v, err := tree.Parse(region[:prefixLen]); err == nil {
			p.committed = merge(p.committed, v)
			p.cursor += prefixLen
			return true, false
		}
	}

	res := completer.Complete(string(region), p.completerOpts)
	if !res.Valid {
		return false, true
	}
	if v, err := tree.Parse([]byte(res.RepairedText)); err == nil {
		p.committed = merge(p.committed, v)
	}
	return false, false
}

// CurrentTree returns a snapshot of the committed tree (spec §4.3.1).
func (p *Parser) CurrentTree() tree.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.committed
}

// RawBuffer returns the accumulated text not yet committed (spec §4.3.1).
func (p *Parser) RawBuffer() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, len(p.buf)-p.cursor)
	copy(out, p.buf[p.cursor:])
	return out
}

// State returns the session's current lifecycle state.
func (p *Parser) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// DroppedBytes returns the total bytes ever discarded by ring-buffer
// overflow (spec §4.3.2).
func (p *Parser) DroppedBytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.droppedBytes
}

// Finalize marks the stream finished, invokes the completer on the
// residual bytes, commits the final tree, and transitions to Terminal
// (spec §4.3.1, §4.3.4).
func (p *Parser) Finalize() (completer.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Terminal {
		return completer.Result{}, &closedError{}
	}

	residual := string(p.buf[p.cursor:])
	res := completer.Complete(residual, p.completerOpts)
	if res.Valid && strings.TrimSpace(residual) != "" {
		if v, err := tree.Parse([]byte(res.RepairedText)); err == nil {
			p.committed = merge(p.committed, v)
		}
	}
	p.cursor = len(p.buf)
	p.state = Terminal
	return res, nil
}

// Close forcibly transitions the parser to Terminal (e.g. on TTL expiry).
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Terminal
}

type closedError struct{}

func (*closedError) Error() string { return "parser: session is in Terminal state" }

// nearestSafeSplitAfter returns the smallest safe split point (spec
// §4.3.2) at or after minOffset, or 0 if none exists short of the whole
// buffer (in which case nothing is dropped rather than corrupting
// structure).
func nearestSafeSplitAfter(buf []byte, minOffset int) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 && i+1 >= minOffset {
				return i + 1
			}
		case ',':
			if depth == 1 && i+1 >= minOffset {
				return i + 1
			}
		}
	}
	return 0
}

// largestSafePrefix returns the length of the longest prefix of region
// whose bracket/quote stacks return to depth zero, i.e. a standalone,
// structurally closed JSON value (spec §4.3.3 step 2).
func largestSafePrefix(region []byte) int {
	depth := 0
	inString := false
	escaped := false
	best := 0
	seenAnyToken := false
	for i := 0; i < len(region); i++ {
		c := region[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				if depth == 0 {
					best = i + 1
				}
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			seenAnyToken = true
		case '{', '[':
			depth++
			seenAnyToken = true
		case '}', ']':
			depth--
			if depth == 0 {
				best = i + 1
			}
		case ' ', '\t', '\n', '\r':
			// whitespace never extends or shortens a safe prefix
		default:
			seenAnyToken = true
			if depth == 0 {
				// a bare scalar literal/number at depth 0: only safe once
				// followed by a delimiter or end of input, handled by the
				// caller's parse attempt; conservatively extend best only
				// at the very end of the region.
				if i == len(region)-1 {
					best = i + 1
				}
			}
		}
	}
	_ = seenAnyToken
	return best
}

// merge applies the spec §4.3.3 merge rule: the new value wins wherever it
// differs from the committed value; a path present in the committed tree
// but absent from the new parse is retained (LLMs never un-emit structure
// mid-stream).
func merge(committed, next tree.Value) tree.Value {
	if committed == nil {
		return next
	}
	if next == nil {
		return committed
	}
	if committed.Kind() != next.Kind() {
		return next
	}
	switch cv := committed.(type) {
	case tree.Object:
		nv := next.(tree.Object)
		out := tree.NewObject(nil, nv.Complete())
		for _, m := range cv.Members() {
			out.Set(m.Key, m.Value)
		}
		for _, m := range nv.Members() {
			if existing, ok := out.Get(m.Key); ok {
				out.Set(m.Key, merge(existing, m.Value))
			} else {
				out.Set(m.Key, m.Value)
			}
		}
		return out
	case tree.Array:
		nv := next.(tree.Array)
		n := len(cv.Items)
		if len(nv.Items) > n {
			n = len(nv.Items)
		}
		items := make([]tree.Value, n)
		for i := 0; i < n; i++ {
			var oldItem, newItem tree.Value
			if i < len(cv.Items) {
				oldItem = cv.Items[i]
			}
			if i < len(nv.Items) {
				newItem = nv.Items[i]
			}
			items[i] = merge(oldItem, newItem)
		}
		return tree.NewArray(items, nv.Complete())
	default:
		return next
	}
}
