// Package event defines DeltaEvent, the unit of output of the pipeline
// (spec §3, §6): session-scoped, path-scoped notifications of structural
// change, plus progress/error/terminal markers.
package event

import (
	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

// Kind is the event's wire-level discriminant (spec §6).
type Kind int

const (
	KindPathAdded Kind = iota
	KindPathRemoved
	KindValueChanged
	KindProgress
	KindError
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindPathAdded:
		return "added"
	case KindPathRemoved:
		return "removed"
	case KindValueChanged:
		return "changed"
	case KindProgress:
		return "progress"
	case KindError:
		return "error"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ErrorInfo is the optional error payload of an Error event (spec §6).
type ErrorInfo struct {
	Code    string
	Message string
}

// DeltaEvent is one emitted notification (spec §3 "DeltaEvent", §6 wire
// shape). Path is kept in its canonical form; callers render it in their
// configured style only at the point of serialization.
type DeltaEvent struct {
	SessionID   string
	Seq         uint64
	TimestampMs int64
	Kind        Kind
	Path        path.Path
	Value       tree.Value
	// OldValueSketch is the bounded, lossy summary of the value a Remove
	// or ValueChanged event replaced (spec §3, Remove/Replace
	// old_value_sketch) — never the full prior subtree, so a large
	// removed/replaced value never inflates the event (tree/sketch.go).
	OldValueSketch *tree.Sketch
	Err            *ErrorInfo
}

// Wire is the JSON-serializable shape of a DeltaEvent (spec §6). Building
// it is the caller's responsibility, not the core's — Wire exists so the
// demo HTTP/WebSocket edge has one canonical shape to marshal.
type Wire struct {
	SessionID      string       `json:"session_id"`
	Seq            uint64       `json:"seq"`
	TimestampMs    int64        `json:"timestamp_ms"`
	Kind           string       `json:"kind"`
	Path           string       `json:"path"`
	Value          interface{}  `json:"value,omitempty"`
	OldValueSketch *tree.Sketch `json:"old_value_sketch,omitempty"`
	Error          *ErrorInfo   `json:"error,omitempty"`
}

// ToWire renders e using style for the path, and decodes tree values into
// plain Go values via tree.ToGo so json.Marshal produces ordinary JSON.
func ToWire(e DeltaEvent, style path.Style) Wire {
	w := Wire{
		SessionID:      e.SessionID,
		Seq:            e.Seq,
		TimestampMs:    e.TimestampMs,
		Kind:           e.Kind.String(),
		Path:           path.Render(e.Path, style),
		OldValueSketch: e.OldValueSketch,
		Error:          e.Err,
	}
	if e.Value != nil {
		w.Value = tree.ToGo(e.Value)
	}
	return w
}
