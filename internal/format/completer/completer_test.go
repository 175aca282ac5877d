package completer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

func TestCompleteAlreadyValidShortCircuits(t *testing.T) {
	res := Complete(`{"a": 1, "b": [1,2,3]}`, Options{})
	require.True(t, res.Valid)
	require.Equal(t, 1.0, res.Confidence)
	require.Len(t, res.Trace.appliedSteps(), 1)
	require.Equal(t, "already-valid", res.Trace.Steps[0].Operation)
}

func TestCompleteEmptyInputSynthesizesNull(t *testing.T) {
	res := Complete("", Options{})
	require.True(t, res.Valid)
	require.Equal(t, "null", res.RepairedText)
	require.Equal(t, 0.0, res.Confidence)

	agg := Complete("   ", Options{Strategy: Aggressive})
	require.True(t, agg.Valid)
	require.Equal(t, 1.0, agg.Confidence)
}

// TestSmartCompletesTruncatedObject matches spec §8 scenario 1: a truncated
// object completes to valid JSON with all present fields preserved.
func TestSmartCompletesTruncatedObject(t *testing.T) {
	input := `{"name": "alice", "age": 30, "tags": ["a", "b`
	res := Complete(input, Options{Strategy: Smart})
	require.True(t, res.Valid)

	v, err := tree.Parse([]byte(res.RepairedText))
	require.NoError(t, err)
	obj, ok := v.(tree.Object)
	require.True(t, ok)

	name, ok := obj.Get("name")
	require.True(t, ok)
	require.Equal(t, "alice", name.(tree.String).V)

	age, ok := obj.Get("age")
	require.True(t, ok)
	require.Equal(t, "30", age.(tree.Number).Raw)
}

// TestStrategiesAgreeOnMidKeyTruncation matches spec §8 scenario 2: a
// fragment truncated mid-key is handled differently per strategy, but all
// three strategies must still produce valid JSON.
func TestStrategiesAgreeOnMidKeyTruncation(t *testing.T) {
	input := `{"name": "alice", "em`

	for _, strategy := range []Strategy{Conservative, Smart, Aggressive} {
		res := Complete(input, Options{Strategy: strategy})
		require.Truef(t, res.Valid, "strategy %s must produce valid JSON", strategy)
		_, err := tree.Parse([]byte(res.RepairedText))
		require.NoErrorf(t, err, "strategy %s output must parse: %q", strategy, res.RepairedText)
	}
}

func TestConservativeNeverFabricatesTypedDefaults(t *testing.T) {
	input := `{"items": [1, 2, `
	res := Complete(input, Options{Strategy: Conservative})
	require.True(t, res.Valid)
	v, err := tree.Parse([]byte(res.RepairedText))
	require.NoError(t, err)
	obj := v.(tree.Object)
	items, ok := obj.Get("items")
	require.True(t, ok)
	arr := items.(tree.Array)
	require.Len(t, arr.Items, 2)
}

func TestSmartStrategyValidForEveryPrefix(t *testing.T) {
	full := `{"a": 1, "b": {"c": [1, 2, 3], "d": "hello"}, "e": true}`
	for i := 1; i <= len(full); i++ {
		prefix := full[:i]
		res := Complete(prefix, Options{Strategy: Smart})
		require.Truef(t, res.Valid, "prefix %d (%q) must repair to valid JSON", i, prefix)
		_, err := tree.Parse([]byte(res.RepairedText))
		require.NoErrorf(t, err, "prefix %d produced unparsable output %q", i, res.RepairedText)
	}
}

func TestSchemaHookAppliedCountFoldsIntoConfidence(t *testing.T) {
	hook := func(v tree.Value, root path.Path) []Suggestion {
		return []Suggestion{
			{Path: path.Append(root, path.Key("missing")), Value: tree.Null{}, Confidence: 0.5},
		}
	}

	withHook := Complete(`{"a": 1`, Options{Strategy: Smart, SchemaHook: hook})
	require.True(t, withHook.Valid)
	require.Equal(t, 1, withHook.SuggestionsApplied)

	without := Complete(`{"a": 1`, Options{Strategy: Smart})
	require.True(t, without.Valid)
	require.Equal(t, 0, without.SuggestionsApplied)
}

func TestHistoricalSuccessRateIsEchoedBack(t *testing.T) {
	rate := 0.82
	res := Complete(`{"a": 1}`, Options{HistoricalSuccessRate: &rate})
	require.Equal(t, rate, res.HistoricalSuccessRate)
}

// TestTrailingWhitespaceInsideOpenStringIsPreserved matches spec §9: Phase
// L must never trim whitespace that is still inside an unterminated
// string literal, since that whitespace is string content, not padding.
func TestTrailingWhitespaceInsideOpenStringIsPreserved(t *testing.T) {
	input := `{"msg": "hello   `
	res := Complete(input, Options{Strategy: Smart})
	require.True(t, res.Valid)

	v, err := tree.Parse([]byte(res.RepairedText))
	require.NoError(t, err)
	obj := v.(tree.Object)
	msg, ok := obj.Get("msg")
	require.True(t, ok)
	require.Equal(t, "hello   ", msg.(tree.String).V)
}

func TestCompleteIsSafeForConcurrentUse(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b": "hi`,
		`{"x": [1, 2, 3`,
		`{"nested": {"y": tru`,
		``,
		`{"ok": true}`,
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Complete(inputs[(n+j)%len(inputs)], Options{Strategy: Strategy(j % 3)})
			}
		}(i)
	}
	wg.Wait()
}
