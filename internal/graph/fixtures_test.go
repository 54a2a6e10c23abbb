package graph_test

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"stackgraph/internal/gittest"
	"stackgraph/internal/graph"
	"stackgraph/internal/logging"
	"stackgraph/internal/refmeta"
)

func TestMain(m *testing.M) {
	logging.Setup(os.Stderr, zerolog.WarnLevel, true)
	os.Exit(m.Run())
}

const workspaceRef = "refs/heads/gitbutler/workspace"

// tripleMerge is the history
//
//	M (C) merges C3, A3 (A) and B3 (B)
//	C3 C2 C1, A3 A2 A1 and B3 B2 B1 all start at main
//	main: 5 4 3 2 1
type tripleMerge struct {
	fx     *gittest.Repo
	ids    map[string]plumbing.Hash
	merge  plumbing.Hash
	mainID []plumbing.Hash
}

func newTripleMerge(t *testing.T) *tripleMerge {
	t.Helper()
	fx := gittest.New(t)
	tm := &tripleMerge{fx: fx, ids: make(map[string]plumbing.Hash)}
	tm.mainID = fx.Chain("", 5, plumbing.ZeroHash)
	fx.Branch("main", tm.mainID[0])

	var lanes []plumbing.Hash
	for _, lane := range []string{"C", "A", "B"} {
		chain := fx.Chain(lane, 3, tm.mainID[0])
		for i, id := range chain {
			tm.ids[fmt.Sprintf("%s%d", lane, 3-i)] = id
		}
		lanes = append(lanes, chain[0])
	}
	fx.Branch("A", tm.ids["A3"])
	fx.Branch("B", tm.ids["B3"])
	tm.merge = fx.Commit("Merge branches 'A' and 'B' into C", lanes...)
	fx.Branch("C", tm.merge)
	fx.Checkout("C")
	return tm
}

// fourDiamond is the history
//
//	merged merges A and C
//	A merges A1 and B, C merges C1 and D
//	A1, B, C1 and D all start at main
func newFourDiamond(t *testing.T) *gittest.Repo {
	t.Helper()
	fx := gittest.New(t)
	base := fx.Commit("base")
	fx.Branch("main", base)
	a1 := fx.Commit("A", base)
	b := fx.Commit("B", base)
	fx.Branch("B", b)
	a := fx.Commit("Merge branch 'B' into A", a1, b)
	fx.Branch("A", a)
	d := fx.Commit("D", base)
	fx.Branch("D", d)
	c1 := fx.Commit("C", base)
	c := fx.Commit("Merge branch 'D' into C", c1, d)
	fx.Branch("C", c)
	merged := fx.Commit("Merge branch 'C' into merged", a, c)
	fx.Branch("merged", merged)
	fx.Checkout("merged")
	return fx
}

// workspaceWithStack has the workspace ref and the branches A, B and C on one commit,
// with the stored stack A, B, C listed top to bottom.
func newWorkspaceWithStack(t *testing.T) (*gittest.Repo, *refmeta.MemoryStore, plumbing.Hash) {
	t.Helper()
	fx := gittest.New(t)
	x := fx.Commit("X")
	fx.Ref(workspaceRef, x)
	for _, name := range []string{"A", "B", "C"} {
		fx.Branch(name, x)
	}
	fx.Checkout("gitbutler/workspace")

	meta := refmeta.NewMemoryStore()
	ws := &refmeta.Workspace{}
	ws.AddStack("refs/heads/A", "refs/heads/B", "refs/heads/C")
	require.NoError(t, meta.SetWorkspace(workspaceRef, ws))
	return fx, meta, x
}

func buildFromHead(t *testing.T, fx *gittest.Repo, meta refmeta.Source, opts graph.Options) *graph.Graph {
	t.Helper()
	g, err := graph.FromHead(fx.Repository(), meta, opts)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	return g
}

// segmentNames returns the short names of all segments by index, "anon:" for anonymous ones.
func segmentNames(g *graph.Graph) []string {
	var out []string
	for _, s := range g.Segments() {
		out = append(out, s.DisplayName())
	}
	return out
}

func segmentCommits(g *graph.Graph, sidx graph.SegmentIndex) []plumbing.Hash {
	var out []plumbing.Hash
	for _, c := range g.Segment(sidx).Commits {
		out = append(out, c.ID)
	}
	return out
}

func mustSegment(t *testing.T, g *graph.Graph, refName string) *graph.Segment {
	t.Helper()
	s, ok := g.SegmentByRefName(refName)
	require.True(t, ok, "segment %s not found in %s", refName, strings.Join(segmentNames(g), ","))
	return s
}

func earlyEnds(g *graph.Graph) []plumbing.Hash {
	var out []plumbing.Hash
	for _, s := range g.Segments() {
		for _, c := range s.Commits {
			if c.Flags.Has(graph.FlagEarlyEnd) {
				out = append(out, c.ID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sortedIDs(ids ...plumbing.Hash) []plumbing.Hash {
	out := append([]plumbing.Hash(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
