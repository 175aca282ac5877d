package differ

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

func parseT(t *testing.T, s string) tree.Value {
	t.Helper()
	v, err := tree.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestDiffSmartDetectsAddedAndChangedKeys(t *testing.T) {
	old := parseT(t, `{"a": 1, "b": "x"}`)
	next := parseT(t, `{"a": 1, "b": "y", "c": true}`)

	ops := Diff(NewState(), old, next, path.Root(), Smart)
	require.Len(t, ops, 2)

	require.Equal(t, OpReplace, ops[0].Kind)
	require.Equal(t, path.Path{path.Key("b")}, ops[0].Path)

	require.Equal(t, OpAdd, ops[1].Kind)
	require.Equal(t, path.Path{path.Key("c")}, ops[1].Path)
}

func TestDiffSmartDetectsRemovedKey(t *testing.T) {
	old := parseT(t, `{"a": 1, "b": 2}`)
	next := parseT(t, `{"a": 1}`)

	ops := Diff(NewState(), old, next, path.Root(), Smart)
	require.Len(t, ops, 1)
	require.Equal(t, OpRemove, ops[0].Kind)
	require.Equal(t, path.Path{path.Key("b")}, ops[0].Path)
	require.True(t, ops[0].HasOldSketch, "a Remove op must carry the removed value's sketch")
	require.Equal(t, "2", ops[0].OldSketch.Text)
}

func TestDiffReplaceCarriesOldSketchNotFullValue(t *testing.T) {
	old := parseT(t, `{"a": 1, "b": "x"}`)
	next := parseT(t, `{"a": 1, "b": "y"}`)

	ops := Diff(NewState(), old, next, path.Root(), Smart)
	require.Len(t, ops, 1)
	require.Equal(t, OpReplace, ops[0].Kind)
	require.True(t, ops[0].HasOldSketch)
	require.Equal(t, "x", ops[0].OldSketch.Text)
}

func TestDiffConservativeEmitsSingleReplaceAtRoot(t *testing.T) {
	old := parseT(t, `{"a": {"b": 1}}`)
	next := parseT(t, `{"a": {"b": 2}}`)

	ops := Diff(NewState(), old, next, path.Root(), Conservative)
	require.Len(t, ops, 1)
	require.Equal(t, OpReplace, ops[0].Kind)
	require.Equal(t, path.Root(), ops[0].Path)
}

func TestDiffIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	old := parseT(t, `{"a": 1}`)
	next := parseT(t, `{"a": 2}`)
	state := NewState()

	first := Diff(state, old, next, path.Root(), Smart)
	require.Len(t, first, 1)

	second := Diff(state, old, next, path.Root(), Smart)
	require.Empty(t, second, "repeating the same (old, new) diff must produce zero events")
}

func TestDiffArraysProduceAddPerNewElement(t *testing.T) {
	old := parseT(t, `{"users": []}`)
	next := parseT(t, `{"users": [{"id": 1}, {"id": 2}]}`)

	ops := Diff(NewState(), old, next, path.Root(), Smart)
	require.Len(t, ops, 2)
	for _, op := range ops {
		require.Equal(t, OpAdd, op.Kind)
	}
}

func TestDiffArraysLCSAvoidsCascadingReplace(t *testing.T) {
	old := parseT(t, `[1, 2, 3]`)
	next := parseT(t, `[1, 9, 2, 3]`)

	ops := Diff(NewState(), old, next, path.Root(), Smart)
	require.Len(t, ops, 1)
	require.Equal(t, OpAdd, ops[0].Kind)
}
