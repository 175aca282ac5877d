// Package path implements Path & Key Utilities (spec §4.1, component C1):
// parsing, rendering, traversal, and leaf enumeration over canonical paths.
//
// A canonical Path is never a bare string — it is a tagged ordered list of
// Segment values — precisely so that keys containing delimiter characters
// (a dot, a slash, a bracket) cannot collide across styles (spec §3).
package path

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

// Style selects a rendering/parsing surface syntax.
type Style int

const (
	// StyleDot renders "a.b[0].c"; brackets only for array indices.
	StyleDot Style = iota
	// StyleSlash renders "/a/b/0/c".
	StyleSlash
	// StyleBracket renders "a[b][0][c]".
	StyleBracket
)

func (s Style) String() string {
	switch s {
	case StyleDot:
		return "dot"
	case StyleSlash:
		return "slash"
	case StyleBracket:
		return "bracket"
	default:
		return "unknown"
	}
}

// SegmentKind distinguishes an object-key segment from an array-index one.
type SegmentKind int

const (
	SegmentKey SegmentKind = iota
	SegmentIndex
)

// Segment is one element of a canonical Path.
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

func Key(k string) Segment     { return Segment{Kind: SegmentKey, Key: k} }
func Index(i int) Segment      { return Segment{Kind: SegmentIndex, Index: i} }
func (s Segment) IsKey() bool   { return s.Kind == SegmentKey }
func (s Segment) IsIndex() bool { return s.Kind == SegmentIndex }

// Path is the canonical, ordered segment list.
type Path []Segment

// Root is the empty path, addressing the tree's top-level value.
func Root() Path { return Path{} }

// Equal reports whether two canonical paths address the same node.
func Equal(a, b Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a (non-strict) prefix of p.
func HasPrefix(p, prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Append returns a new Path with seg appended; it never mutates p.
func Append(p Path, seg Segment) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = seg
	return out
}

// ErrBadPath is the sentinel underlying every parse failure (spec §7,
// BadPath kind).
type ErrBadPath struct {
	Input  string
	Reason string
}

func (e *ErrBadPath) Error() string {
	return fmt.Sprintf("path: bad path %q: %s", e.Input, e.Reason)
}

// Parse parses s according to style into a canonical Path.
//
// Dot-style does not permit literal dots inside keys; callers needing such
// keys must use bracket-style (spec §4.1, ambiguity policy).
func Parse(s string, style Style) (Path, error) {
	switch style {
	case StyleDot:
		return parseDot(s)
	case StyleSlash:
		return parseSlash(s)
	case StyleBracket:
		return parseBracket(s)
	default:
		return nil, &ErrBadPath{Input: s, Reason: "unknown style"}
	}
}

func parseDot(s string) (Path, error) {
	if s == "" {
		return Root(), nil
	}
	var out Path
	var tok strings.Builder
	flushKey := func() {
		if tok.Len() > 0 {
			out = append(out, Key(tok.String()))
			tok.Reset()
		}
	}
	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '.':
			flushKey()
			i++
		case '[':
			flushKey()
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return nil, &ErrBadPath{Input: s, Reason: "unterminated '['"}
			}
			inner := s[i+1 : i+j]
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, &ErrBadPath{Input: s, Reason: fmt.Sprintf("bad index %q", inner)}
			}
			out = append(out, Index(idx))
			i += j + 1
		case ']':
			return nil, &ErrBadPath{Input: s, Reason: "unexpected ']'"}
		default:
			tok.WriteByte(c)
			i++
		}
	}
	flushKey()
	return out, nil
}

func parseSlash(s string) (Path, error) {
	if s == "" || s == "/" {
		return Root(), nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, &ErrBadPath{Input: s, Reason: "slash-style path must start with '/'"}
	}
	parts := strings.Split(s[1:], "/")
	out := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, &ErrBadPath{Input: s, Reason: "empty segment"}
		}
		if idx, err := strconv.Atoi(part); err == nil && idx >= 0 && isAllDigits(part) {
			out = append(out, Index(idx))
		} else {
			out = append(out, Key(part))
		}
	}
	return out, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func parseBracket(s string) (Path, error) {
	if s == "" {
		return Root(), nil
	}
	var out Path
	i := 0
	if i < len(s) && s[i] != '[' {
		j := strings.IndexByte(s, '[')
		if j < 0 {
			out = append(out, Key(s))
			return out, nil
		}
		out = append(out, Key(s[:j]))
		i = j
	}
	for i < len(s) {
		if s[i] != '[' {
			return nil, &ErrBadPath{Input: s, Reason: "expected '[' "}
		}
		j := strings.IndexByte(s[i:], ']')
		if j < 0 {
			return nil, &ErrBadPath{Input: s, Reason: "unterminated '['"}
		}
		inner := s[i+1 : i+j]
		if idx, err := strconv.Atoi(inner); err == nil && isAllDigits(inner) {
			out = append(out, Index(idx))
		} else {
			out = append(out, Key(inner))
		}
		i += j + 1
	}
	return out, nil
}

// Render is total: every canonical Path renders to a string in any style.
func Render(p Path, style Style) string {
	switch style {
	case StyleSlash:
		return renderSlash(p)
	case StyleBracket:
		return renderBracket(p)
	default:
		return renderDot(p)
	}
}

func renderDot(p Path) string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex() {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

func renderSlash(p Path) string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range p {
		b.WriteByte('/')
		if seg.IsIndex() {
			b.WriteString(strconv.Itoa(seg.Index))
		} else {
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

func renderBracket(p Path) string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex() {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i == 0 {
			b.WriteString(seg.Key)
		} else {
			fmt.Fprintf(&b, "[%s]", seg.Key)
		}
	}
	return b.String()
}

// Traverse walks v by p, returning (found, value). found is false if any
// intermediate segment is missing or addresses the wrong kind of node
// (e.g. an index into an object); Traverse never raises on absence
// (spec §4.1).
func Traverse(v tree.Value, p Path) (bool, tree.Value) {
	cur := v
	for _, seg := range p {
		if cur == nil {
			return false, nil
		}
		switch seg.Kind {
		case SegmentKey:
			obj, ok := cur.(tree.Object)
			if !ok {
				return false, nil
			}
			next, ok := obj.Get(seg.Key)
			if !ok {
				return false, nil
			}
			cur = next
		case SegmentIndex:
			arr, ok := cur.(tree.Array)
			if !ok {
				return false, nil
			}
			if seg.Index < 0 || seg.Index >= len(arr.Items) {
				return false, nil
			}
			cur = arr.Items[seg.Index]
		}
	}
	return true, cur
}

// LeafPath pairs a canonical Path with the leaf value found there.
type LeafPath struct {
	Path  Path
	Value tree.Value
}

// Enumerate lists every leaf path of v in the canonical scan order:
// depth-first, object keys in insertion order, array indices ascending
// (spec §4.1). A "leaf" is any scalar, or any empty array/object (which
// has no children to descend into).
func Enumerate(v tree.Value) []LeafPath {
	var out []LeafPath
	var walk func(Path, tree.Value)
	walk = func(p Path, val tree.Value) {
		switch vv := val.(type) {
		case tree.Object:
			if vv.Len() == 0 {
				out = append(out, LeafPath{Path: p, Value: val})
				return
			}
			for _, m := range vv.Members() {
				walk(Append(p, Key(m.Key)), m.Value)
			}
		case tree.Array:
			if len(vv.Items) == 0 {
				out = append(out, LeafPath{Path: p, Value: val})
				return
			}
			for i, item := range vv.Items {
				walk(Append(p, Index(i)), item)
			}
		default:
			out = append(out, LeafPath{Path: p, Value: val})
		}
	}
	walk(Root(), v)
	return out
}
