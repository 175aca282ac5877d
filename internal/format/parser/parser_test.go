package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ailijian/AgentlyFormat/internal/format/completer"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

func TestIngestEmptyChunkIsANoop(t *testing.T) {
	p := New(0, completer.Options{})
	report, err := p.Ingest(nil, false)
	require.NoError(t, err)
	require.Equal(t, Active, report.State)
	require.Nil(t, p.CurrentTree())
}

func TestIngestSingleByteChunksEventuallyProduceTree(t *testing.T) {
	p := New(0, completer.Options{})
	doc := `{"name": "alice", "age": 30}`
	for i := 0; i < len(doc); i++ {
		_, err := p.Ingest([]byte{doc[i]}, false)
		require.NoError(t, err)
	}
	_, err := p.Finalize()
	require.NoError(t, err)

	v := p.CurrentTree()
	require.NotNil(t, v)
	obj, ok := v.(tree.Object)
	require.True(t, ok)
	name, ok := obj.Get("name")
	require.True(t, ok)
	require.Equal(t, tree.NewString("alice", true), name)
}

func TestIngestCommitsCompleteObjectsAsTheyArriveAcrossChunks(t *testing.T) {
	p := New(0, completer.Options{})
	_, err := p.Ingest([]byte(`{"a": 1, "b": `), false)
	require.NoError(t, err)
	// "a" is a closed member but the whole object is still open; the raw
	// buffer should still hold everything since no top-level value closed.
	require.Equal(t, []byte(`{"a": 1, "b": `), p.RawBuffer())

	_, err = p.Ingest([]byte(`2}`), false)
	require.NoError(t, err)
	require.Empty(t, p.RawBuffer())

	v := p.CurrentTree()
	obj := v.(tree.Object)
	a, _ := obj.Get("a")
	b, _ := obj.Get("b")
	require.Equal(t, tree.NewNumber("1", true), a)
	require.Equal(t, tree.NewNumber("2", true), b)
}

func TestIngestUTF8SplitAcrossChunksDoesNotCorruptString(t *testing.T) {
	p := New(0, completer.Options{})
	// "é" is 0xC3 0xA9 in UTF-8; split the chunk right between the two
	// bytes of the multi-byte rune.
	doc := []byte(`{"name": "café"}`)
	splitAt := 0
	for i, b := range doc {
		if b == 0xC3 {
			splitAt = i + 1
			break
		}
	}
	require.NotZero(t, splitAt)

	_, err := p.Ingest(doc[:splitAt], false)
	require.NoError(t, err)
	_, err = p.Ingest(doc[splitAt:], false)
	require.NoError(t, err)
	_, err = p.Finalize()
	require.NoError(t, err)

	obj := p.CurrentTree().(tree.Object)
	name, _ := obj.Get("name")
	require.Equal(t, tree.NewString("café", true), name)
}

func TestRingBufferOverflowDropsOnlyFullyCommittedPrefix(t *testing.T) {
	// Small capacity forces overflow; the already-closed leading object
	// must be droppable since the cursor has already advanced past it.
	p := New(16, completer.Options{})
	_, err := p.Ingest([]byte(`{"a":1}`), false)
	require.NoError(t, err)
	require.Empty(t, p.RawBuffer())

	_, err = p.Ingest([]byte(`{"b":2}{"c":3}`), false)
	require.NoError(t, err)
	require.Positive(t, p.DroppedBytes())

	v := p.CurrentTree()
	require.NotNil(t, v)
}

func TestFinalizeTransitionsToTerminalAndRejectsFurtherIngest(t *testing.T) {
	p := New(0, completer.Options{})
	_, err := p.Ingest([]byte(`{"a": 1`), false)
	require.NoError(t, err)

	res, err := p.Finalize()
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, Terminal, p.State())

	_, err = p.Ingest([]byte(`more`), false)
	require.Error(t, err)
}

func TestMergeRetainsAbsentPathsFromPriorCommit(t *testing.T) {
	p := New(0, completer.Options{})
	_, err := p.Ingest([]byte(`{"a": 1, "b": 2}`), false)
	require.NoError(t, err)

	// A later chunk that only re-emits "a" with a new value must not wipe
	// out "b" (spec merge rule: absent paths are retained until finalize).
	obj := p.CurrentTree().(tree.Object)
	merged := merge(obj, tree.NewObject([]tree.Member{{Key: "a", Value: tree.NewNumber("9", true)}}, true))
	mobj := merged.(tree.Object)
	a, _ := mobj.Get("a")
	b, ok := mobj.Get("b")
	require.Equal(t, tree.NewNumber("9", true), a)
	require.True(t, ok)
	require.Equal(t, tree.NewNumber("2", true), b)
}

func TestRepeatedIngestOfIdenticalChunkIsIdempotentOnTheTree(t *testing.T) {
	p := New(0, completer.Options{})
	chunk := []byte(`{"a": 1}`)
	_, err := p.Ingest(chunk, false)
	require.NoError(t, err)
	first := p.CurrentTree()

	// Re-ingesting past what the cursor already consumed produces a second
	// top-level value; current_tree should reflect the latest merge rather
	// than erroring or duplicating state destructively.
	_, err = p.Ingest(chunk, false)
	require.NoError(t, err)
	require.NotNil(t, p.CurrentTree())
	require.True(t, tree.Equal(first, tree.NewObject([]tree.Member{{Key: "a", Value: tree.NewNumber("1", true)}}, true)))
}
