package snapshot

import (
	"bytes"
	"os"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackgraph/internal/gittest"
	"stackgraph/internal/graph"
	"stackgraph/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Setup(os.Stderr, zerolog.WarnLevel, true)
	os.Exit(m.Run())
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"b": 1, "a": 2},
		"a": []any{map[string]any{"y": 1, "x": 2}},
	}

	got, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"x":2,"y":1}],"z":{"a":2,"b":1}}`, string(got))
}

func TestCanonicalJSONKeepsLargeIntegers(t *testing.T) {
	got, err := CanonicalJSON(map[string]int64{"n": 1 << 60})
	require.NoError(t, err)
	assert.Equal(t, `{"n":1152921504606846976}`, string(got))
}

func buildMain(t *testing.T, opts graph.Options) *graph.Graph {
	t.Helper()
	fx := gittest.New(t)
	main := fx.Chain("", 4, plumbing.ZeroHash)
	fx.Branch("main", main[0])
	fx.Tag("v1", main[2])
	g, err := graph.FromHead(fx.Repository(), nil, opts)
	require.NoError(t, err)
	return g
}

func TestDigestIsStable(t *testing.T) {
	first, err := FromGraph(buildMain(t, graph.Options{})).Digest()
	require.NoError(t, err)
	second, err := FromGraph(buildMain(t, graph.Options{})).Digest()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	tagged, err := FromGraph(buildMain(t, graph.Options{}.WithTags())).Digest()
	require.NoError(t, err)
	assert.NotEqual(t, first, tagged)
}

func TestEncodeDecode(t *testing.T) {
	doc := FromGraph(buildMain(t, graph.Options{}.WithLimitHint(2)))

	var buf bytes.Buffer
	require.NoError(t, doc.Encode(&buf))
	got, err := Decode(&buf)
	require.NoError(t, err)

	if diff := cmp.Diff(doc, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("decoded document differs (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsOtherVersions(t *testing.T) {
	doc := &Document{Version: Version + 1}
	var buf bytes.Buffer
	require.NoError(t, doc.Encode(&buf))

	_, err := Decode(&buf)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not zstd")))
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	a := &Document{
		Version:    Version,
		Entrypoint: Entrypoint{Segment: 0, Commit: 0},
		Segments: []Segment{
			{Index: 0, RefName: "refs/heads/main", Commits: []Commit{{ID: "aaaaaaaaaa", Flags: "-"}}},
			{Index: 1, Commits: []Commit{{ID: "bbbbbbbbbb", Flags: "-"}}},
		},
		Edges: []Edge{{Src: 0, SrcCommit: 0, SrcID: "aaaaaaaaaa", Dst: 1, DstCommit: 0, DstID: "bbbbbbbbbb"}},
	}
	b := &Document{
		Version:    Version,
		Entrypoint: Entrypoint{Segment: 0, Commit: 0},
		Segments: []Segment{
			{Index: 0, RefName: "refs/heads/main", Commits: []Commit{{ID: "aaaaaaaaaa", Flags: "Integrated"}}},
			{Index: 1, RefName: "refs/heads/feature", Commits: []Commit{{ID: "cccccccccc", Flags: "-"}}},
		},
		Edges: []Edge{{Src: 1, SrcCommit: 0, SrcID: "cccccccccc", Dst: 0, DstCommit: 0, DstID: "aaaaaaaaaa"}},
	}

	want := []Change{
		{Kind: Removed, Subject: "segment", Key: "anon:bbbbbbbbbb", Detail: "1 commits"},
		{Kind: Added, Subject: "segment", Key: "refs/heads/feature", Detail: "1 commits"},
		{Kind: Changed, Subject: "segment", Key: "refs/heads/main", Detail: "flags of aaaaaaa - -> Integrated"},
		{Kind: Added, Subject: "edge", Key: "refs/heads/feature@ccccccc -> refs/heads/main@aaaaaaa"},
		{Kind: Removed, Subject: "edge", Key: "refs/heads/main@aaaaaaa -> anon:bbbbbbbbbb@bbbbbbb"},
	}
	if diff := cmp.Diff(want, Diff(a, b)); diff != "" {
		t.Errorf("Diff (-want +got):\n%s", diff)
	}
	assert.Empty(t, Diff(a, a))
}

func TestDiffOfLimitedBuild(t *testing.T) {
	full := FromGraph(buildMain(t, graph.Options{}))
	limited := FromGraph(buildMain(t, graph.Options{}.WithLimitHint(1)))

	changes := Diff(full, limited)

	require.NotEmpty(t, changes)
	assert.Equal(t, Changed, changes[0].Kind)
	assert.Equal(t, "refs/heads/main", changes[0].Key)
	assert.Equal(t, "changed segment refs/heads/main: "+changes[0].Detail, changes[0].String())
}
