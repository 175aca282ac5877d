package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndMarshalRoundTrip(t *testing.T) {
	cases := []string{
		`{"a":1,"b":[1,2,3],"c":{"d":"e"}}`,
		`[]`,
		`{}`,
		`"hello\nworld"`,
		`-12.5e3`,
		`null`,
		`true`,
	}
	for _, c := range cases {
		v, err := Parse([]byte(c))
		require.NoError(t, err, c)
		require.Equal(t, c, string(Marshal(v)), c)
	}
}

func TestObjectPreservesInsertionOrder(t *testing.T) {
	v, err := Parse([]byte(`{"z":1,"a":2,"m":3}`))
	require.NoError(t, err)
	obj := v.(Object)
	require.Equal(t, []string{"z", "a", "m"}, obj.Keys())
}

func TestObjectSetOverwritesKeepsPosition(t *testing.T) {
	obj := NewObject([]Member{{Key: "a", Value: NewNumber("1", true)}, {Key: "b", Value: NewNumber("2", true)}}, true)
	obj.Set("a", NewNumber("99", true))
	require.Equal(t, []string{"a", "b"}, obj.Keys())
	v, ok := obj.Get("a")
	require.True(t, ok)
	require.Equal(t, "99", v.(Number).Raw)
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := Parse([]byte(`{"a":1,`))
	require.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse([]byte(`{"a":1}x`))
	require.ErrorIs(t, err, ErrSyntax)
}

func TestEqualAndClone(t *testing.T) {
	v, err := Parse([]byte(`{"a":[1,2,{"b":true}]}`))
	require.NoError(t, err)
	clone := Clone(v)
	require.True(t, Equal(v, clone))

	obj := clone.(Object)
	arr := obj.members[0].Value.(Array)
	arr.Items[0] = NewNumber("999", true)
	require.False(t, Equal(v, clone), "clone must have mutated independently of the original")

	original, err := Parse([]byte(`{"a":[1,2,{"b":true}]}`))
	require.NoError(t, err)
	require.True(t, Equal(v, original), "mutating the clone must not have affected the original")
}

func TestSketchSummarizesContainers(t *testing.T) {
	v, err := Parse([]byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	s := NewSketch(v)
	require.Equal(t, KindObject, s.Kind)
	require.Equal(t, "{2 keys}", s.Text)
}
