package path

import (
	"testing"

	"github.com/ailijian/AgentlyFormat/internal/format/tree"
	"github.com/stretchr/testify/require"
)

func TestParseRenderRoundTrip(t *testing.T) {
	cases := []struct {
		style Style
		in    string
	}{
		{StyleDot, "a.b[0].c"},
		{StyleDot, "api.users[1].name"},
		{StyleSlash, "/a/b/0/c"},
		{StyleBracket, "a[b][0][c]"},
	}
	for _, tc := range cases {
		p, err := Parse(tc.in, tc.style)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.in, Render(p, tc.style), tc.in)
	}
}

func TestParseDotRejectsUnterminatedBracket(t *testing.T) {
	_, err := Parse("a[0", StyleDot)
	require.Error(t, err)
	var bad *ErrBadPath
	require.ErrorAs(t, err, &bad)
}

func TestParseSlashRejectsMissingLeadingSlash(t *testing.T) {
	_, err := Parse("a/b", StyleSlash)
	require.Error(t, err)
}

func TestTraverseArrayIndex(t *testing.T) {
	v, err := tree.Parse([]byte(`{"api":{"users":[{"name":"Alice"},{"name":"Bob"}]}}`))
	require.NoError(t, err)

	p, err := Parse("api.users[1].name", StyleDot)
	require.NoError(t, err)
	found, val := Traverse(v, p)
	require.True(t, found)
	require.Equal(t, "Bob", val.(tree.String).V)

	p2, err := Parse("api.users[5].name", StyleDot)
	require.NoError(t, err)
	found2, _ := Traverse(v, p2)
	require.False(t, found2)
}

func TestTraverseWrongKindNeverPanics(t *testing.T) {
	v, err := tree.Parse([]byte(`{"a":{"b":1}}`))
	require.NoError(t, err)
	p, err := Parse("a[0]", StyleDot)
	require.NoError(t, err)
	found, _ := Traverse(v, p)
	require.False(t, found)
}

func TestEnumerateDeterministicOrder(t *testing.T) {
	v, err := tree.Parse([]byte(`{"z":1,"a":[1,2],"m":{"x":true}}`))
	require.NoError(t, err)
	leaves := Enumerate(v)
	want := []string{"z", "a[0]", "a[1]", "m.x"}
	require.Len(t, leaves, len(want))
	for i, w := range want {
		require.Equal(t, w, Render(leaves[i].Path, StyleDot))
	}
}

func TestEnumerateEmptyContainerIsLeaf(t *testing.T) {
	v, err := tree.Parse([]byte(`{"a":[],"b":{}}`))
	require.NoError(t, err)
	leaves := Enumerate(v)
	require.Len(t, leaves, 2)
}
