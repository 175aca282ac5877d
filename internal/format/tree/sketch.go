package tree

import "fmt"

// Sketch is a compact, lossy summary of a Value used for DeltaEvent's
// old-value field (spec §3, DeltaEvent.old_value). Containers are
// summarized by shape rather than full content, keeping removal/change
// events small regardless of how large the previous value was.
type Sketch struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// NewSketch builds a Sketch for v. Scalars are rendered verbatim (bounded
// to 256 runes); arrays and objects are rendered as a shape summary.
func NewSketch(v Value) Sketch {
	if v == nil {
		return Sketch{Kind: KindNull, Text: "null"}
	}
	switch vv := v.(type) {
	case Null:
		return Sketch{Kind: KindNull, Text: "null"}
	case Bool:
		return Sketch{Kind: KindBool, Text: fmt.Sprintf("%t", vv.V)}
	case Number:
		return Sketch{Kind: KindNumber, Text: vv.Raw}
	case String:
		return Sketch{Kind: KindString, Text: truncate(vv.V, 256)}
	case Array:
		return Sketch{Kind: KindArray, Text: fmt.Sprintf("[%d items]", len(vv.Items))}
	case Object:
		return Sketch{Kind: KindObject, Text: fmt.Sprintf("{%d keys}", vv.Len())}
	default:
		return Sketch{Kind: KindNull, Text: "null"}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
