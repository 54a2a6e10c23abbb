package graph

import (
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoSegmentGraph() *Graph {
	g := newGraph(Options{})
	top := g.insertSegment(&Segment{RefName: "refs/heads/top", Commits: []Commit{
		{ID: plumbing.NewHash("1111111111111111111111111111111111111111")},
		{ID: plumbing.NewHash("2222222222222222222222222222222222222222")},
	}})
	bottom := g.insertSegment(&Segment{RefName: "refs/heads/bottom", Commits: []Commit{
		{ID: plumbing.NewHash("3333333333333333333333333333333333333333")},
	}})
	g.connect(top, 1, bottom, 0)
	g.entrySegment, g.entryCommit = top, 0
	return g
}

func TestValidate(t *testing.T) {
	require.NoError(t, twoSegmentGraph().Validate())

	tests := []struct {
		name    string
		corrupt func(g *Graph)
	}{
		{"edge from the middle of a segment", func(g *Graph) { g.connect(0, 0, 1, 0) }},
		{"edge into the middle of a segment", func(g *Graph) {
			g.segments[1].Commits = append(g.segments[1].Commits, Commit{ID: plumbing.NewHash("4444444444444444444444444444444444444444")})
			g.connect(0, 1, 1, 1)
		}},
		{"stale edge ids", func(g *Graph) { g.edges[0].DstID = plumbing.ZeroHash }},
		{"commit owned twice", func(g *Graph) {
			g.segments[1].Commits = append(g.segments[1].Commits, g.segments[0].Commits[0])
		}},
		{"duplicate reference", func(g *Graph) { g.segments[1].RefName = "refs/heads/top" }},
		{"missing entrypoint", func(g *Graph) { g.entrySegment = 5 }},
		{"entry commit out of range", func(g *Graph) { g.entryCommit = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := twoSegmentGraph()
			tt.corrupt(g)

			err := g.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidGraph))
		})
	}
}

func TestSplitAtKeepsEdgesValid(t *testing.T) {
	g := twoSegmentGraph()
	b := &builder{g: g, seen: map[plumbing.Hash]SegmentIndex{}}
	for _, s := range g.segments {
		for _, c := range s.Commits {
			b.seen[c.ID] = s.Index
		}
	}

	below := b.split(0, 1)

	require.NoError(t, g.Validate())
	assert.Len(t, g.segments[0].Commits, 1)
	assert.Equal(t, below, b.seen[plumbing.NewHash("2222222222222222222222222222222222222222")])
	out := g.Outgoing(below)
	require.Len(t, out, 1)
	assert.Equal(t, SegmentIndex(1), out[0].Dst)
}

func TestLimitPerParent(t *testing.T) {
	assert.Equal(t, limit{n: 0}, limit{n: 1}.perParent(3))
	assert.Equal(t, limit{n: 1}, limit{n: 2}.perParent(3))
	assert.Equal(t, limit{n: 2}, limit{n: 5}.perParent(2))
	assert.Equal(t, limit{n: 4}, limit{n: 5}.perParent(1))
	assert.Equal(t, limit{unlimited: true}, limit{unlimited: true}.perParent(4))
	assert.True(t, limit{unlimited: true}.better(limit{n: 100}))
	assert.False(t, limit{n: 100}.better(limit{unlimited: true}))
}
