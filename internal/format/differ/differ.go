// Package differ implements the Structural Differ (spec §4.4, component
// C4): a JSON-aware diff over two tree.Value snapshots producing an
// ordered list of ChangeOps, plus per-path content hashing for idempotent
// emission (spec §4.4.3).
//
// Grounded on the teacher's SSEWriter Hash/PrevHash event-chaining
// pattern: where the teacher hashes the previous outgoing wire event to
// decide whether to re-send, this package hashes the value at a path and
// stores it in State instead of chaining it into the next event.
package differ

import (
	"crypto/sha256"

	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

// Mode selects the diff algorithm (spec §4.4.2).
type Mode int

const (
	// Smart is the default recursive, shape-aware diff.
	Smart Mode = iota
	// Conservative emits a single Replace at any differing node.
	Conservative
)

// OpKind discriminates a ChangeOp variant (spec §4.4.1).
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
	OpReplace
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// ChangeOp is one edit-script entry (spec §4.4.1).
type ChangeOp struct {
	Kind         OpKind
	Path         path.Path
	Value        tree.Value  // Add, Replace
	OldSketch    tree.Sketch // Remove, Replace
	HasOldSketch bool
}

// Hash is a 64-bit content hash of a value's canonical serialization
// (spec §4.4.3: "insertion-order keys are canonical here"): the first 8
// bytes of its SHA-256 digest.
type Hash [8]byte

func hashOf(v tree.Value) Hash {
	sum := sha256.Sum256(tree.Marshal(v))
	var h Hash
	copy(h[:], sum[:])
	return h
}

// pathRecord is one entry of State (spec §3, DiffEngineState).
type pathRecord struct {
	contentHash       Hash
	hasHash           bool
	lastValueSketch   tree.Sketch
	lastEmittedVersion uint64
}

// State is per-session path-level memory the differ consults to decide
// whether a candidate op is novel (spec §3, §4.4.3).
type State struct {
	records map[string]*pathRecord
}

// NewState returns an empty DiffEngineState.
func NewState() *State {
	return &State{records: make(map[string]*pathRecord)}
}

func (s *State) recordFor(key string) *pathRecord {
	r, ok := s.records[key]
	if !ok {
		r = &pathRecord{}
		s.records[key] = r
	}
	return r
}

// pathKey renders p in bracket style purely as a stable map key; it is
// never exposed to callers (they see canonical path.Path values).
func pathKey(p path.Path) string {
	return path.Render(p, path.StyleBracket)
}

// Diff compares oldTree and newTree rooted at root and returns the
// ordered, idempotency-filtered ChangeOp list (spec §4.4.1-§4.4.3).
func Diff(state *State, oldTree, newTree tree.Value, root path.Path, mode Mode) []ChangeOp {
	var candidates []ChangeOp
	switch mode {
	case Conservative:
		candidates = diffConservative(oldTree, newTree, root)
	default:
		candidates = diffSmart(oldTree, newTree, root)
	}
	return filterIdempotent(state, candidates)
}

func filterIdempotent(state *State, candidates []ChangeOp) []ChangeOp {
	out := make([]ChangeOp, 0, len(candidates))
	for _, op := range candidates {
		key := pathKey(op.Path)
		rec := state.recordFor(key)

		if op.Kind == OpRemove {
			if !rec.hasHash {
				continue // nothing was ever emitted for this path
			}
			delete(state.records, key)
			out = append(out, op)
			continue
		}

		h := hashOf(op.Value)
		if rec.hasHash && rec.contentHash == h {
			continue // already emitted, drop (spec §4.4.3)
		}
		rec.contentHash = h
		rec.hasHash = true
		rec.lastValueSketch = tree.NewSketch(op.Value)
		rec.lastEmittedVersion++
		out = append(out, op)
	}
	return out
}

func diffConservative(oldTree, newTree tree.Value, root path.Path) []ChangeOp {
	if tree.Equal(oldTree, newTree) {
		return nil
	}
	if oldTree == nil {
		return []ChangeOp{{Kind: OpAdd, Path: root, Value: newTree}}
	}
	if newTree == nil {
		return []ChangeOp{{Kind: OpRemove, Path: root, OldSketch: tree.NewSketch(oldTree), HasOldSketch: true}}
	}
	return []ChangeOp{{
		Kind: OpReplace, Path: root, Value: newTree,
		OldSketch: tree.NewSketch(oldTree), HasOldSketch: true,
	}}
}

func diffSmart(oldTree, newTree tree.Value, root path.Path) []ChangeOp {
	if oldTree == nil && newTree == nil {
		return nil
	}
	if oldTree == nil {
		return []ChangeOp{{Kind: OpAdd, Path: root, Value: newTree}}
	}
	if newTree == nil {
		return []ChangeOp{{Kind: OpRemove, Path: root, OldSketch: tree.NewSketch(oldTree), HasOldSketch: true}}
	}
	if oldTree.Kind() != newTree.Kind() {
		return []ChangeOp{{
			Kind: OpReplace, Path: root, Value: newTree,
			OldSketch: tree.NewSketch(oldTree), HasOldSketch: true,
		}}
	}

	switch ov := oldTree.(type) {
	case tree.Object:
		return diffObjects(ov, newTree.(tree.Object), root)
	case tree.Array:
		return diffArrays(ov, newTree.(tree.Array), root)
	default:
		if tree.Equal(oldTree, newTree) {
			return nil
		}
		return []ChangeOp{{
			Kind: OpReplace, Path: root, Value: newTree,
			OldSketch: tree.NewSketch(oldTree), HasOldSketch: true,
		}}
	}
}

// diffObjects recurses over the union of keys, old keys first, in
// insertion order (spec §4.4.2 "Both objects" rule and ordering guarantee).
func diffObjects(oldObj, newObj tree.Object, root path.Path) []ChangeOp {
	var ops []ChangeOp
	seen := make(map[string]bool, oldObj.Len()+newObj.Len())

	for _, m := range oldObj.Members() {
		seen[m.Key] = true
		childPath := path.Append(root, path.Key(m.Key))
		newVal, ok := newObj.Get(m.Key)
		if !ok {
			ops = append(ops, ChangeOp{
				Kind: OpRemove, Path: childPath,
				OldSketch: tree.NewSketch(m.Value), HasOldSketch: true,
			})
			continue
		}
		ops = append(ops, diffSmart(m.Value, newVal, childPath)...)
	}
	for _, m := range newObj.Members() {
		if seen[m.Key] {
			continue
		}
		childPath := path.Append(root, path.Key(m.Key))
		ops = append(ops, ChangeOp{Kind: OpAdd, Path: childPath, Value: m.Value})
	}
	return ops
}

// lcsThreshold bounds the O(n*m) LCS alignment; above it we fall back to
// pure positional alignment (spec §4.4.2: "LCS-bounded when both lengths
// are below a threshold, otherwise positional-alignment only").
const lcsThreshold = 64

// diffArrays treats both sides as ordered sequences (spec §4.4.2 "Both
// arrays" rule).
func diffArrays(oldArr, newArr tree.Array, root path.Path) []ChangeOp {
	if len(oldArr.Items) <= lcsThreshold && len(newArr.Items) <= lcsThreshold {
		return diffArraysLCS(oldArr.Items, newArr.Items, root)
	}
	return diffArraysPositional(oldArr.Items, newArr.Items, root)
}

func diffArraysPositional(oldItems, newItems []tree.Value, root path.Path) []ChangeOp {
	var ops []ChangeOp
	n := len(oldItems)
	if len(newItems) > n {
		n = len(newItems)
	}
	for i := 0; i < n; i++ {
		childPath := path.Append(root, path.Index(i))
		var oldV, newV tree.Value
		if i < len(oldItems) {
			oldV = oldItems[i]
		}
		if i < len(newItems) {
			newV = newItems[i]
		}
		switch {
		case oldV == nil:
			ops = append(ops, ChangeOp{Kind: OpAdd, Path: childPath, Value: newV})
		case newV == nil:
			ops = append(ops, ChangeOp{Kind: OpRemove, Path: childPath, OldSketch: tree.NewSketch(oldV), HasOldSketch: true})
		default:
			ops = append(ops, diffSmart(oldV, newV, childPath)...)
		}
	}
	return ops
}

// diffArraysLCS aligns the two sequences on their longest common
// subsequence (by deep equality) so that an insertion/removal in the
// middle of an array does not cascade into a Replace at every following
// index; unmatched positions recurse or become Add/Remove.
func diffArraysLCS(oldItems, newItems []tree.Value, root path.Path) []ChangeOp {
	n, m := len(oldItems), len(newItems)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if tree.Equal(oldItems[i], newItems[j]) {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var ops []ChangeOp
	i, j, outIdx := 0, 0, 0
	for i < n && j < m {
		switch {
		case tree.Equal(oldItems[i], newItems[j]):
			i++
			j++
			outIdx++
		case dp[i+1][j] >= dp[i][j+1]:
			ops = append(ops, ChangeOp{
				Kind: OpRemove, Path: path.Append(root, path.Index(outIdx)),
				OldSketch: tree.NewSketch(oldItems[i]), HasOldSketch: true,
			})
			i++
		default:
			ops = append(ops, ChangeOp{
				Kind: OpAdd, Path: path.Append(root, path.Index(outIdx)), Value: newItems[j],
			})
			j++
			outIdx++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, ChangeOp{
			Kind: OpRemove, Path: path.Append(root, path.Index(outIdx)),
			OldSketch: tree.NewSketch(oldItems[i]), HasOldSketch: true,
		})
	}
	for ; j < m; j++ {
		ops = append(ops, ChangeOp{Kind: OpAdd, Path: path.Append(root, path.Index(outIdx)), Value: newItems[j]})
		outIdx++
	}
	return ops
}
