package graph_test

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"stackgraph/internal/graph"
	"stackgraph/internal/projection"
	"stackgraph/internal/refmeta"
)

// memRepo is a graph.Repository over commits held in maps.
type memRepo struct {
	commits  map[plumbing.Hash]*graph.CommitInfo
	refs     map[string]plumbing.Hash
	upstream map[string]string
	head     graph.Head
}

func newMemRepo() *memRepo {
	return &memRepo{
		commits:  make(map[plumbing.Hash]*graph.CommitInfo),
		refs:     make(map[string]plumbing.Hash),
		upstream: make(map[string]string),
	}
}

func syntheticID(n int) plumbing.Hash {
	var h plumbing.Hash
	binary.BigEndian.PutUint64(h[12:], uint64(n+1))
	h[0] = 0xc0
	return h
}

func (r *memRepo) add(n int, parents ...plumbing.Hash) plumbing.Hash {
	id := syntheticID(n)
	r.commits[id] = &graph.CommitInfo{ID: id, ParentIDs: parents, TreeID: id, Message: fmt.Sprintf("commit %d", n)}
	return id
}

func (r *memRepo) Head() (graph.Head, error) { return r.head, nil }

func (r *memRepo) ResolveRef(name string) (plumbing.Hash, bool, error) {
	id, ok := r.refs[name]
	return id, ok, nil
}

func (r *memRepo) Commit(id plumbing.Hash) (*graph.CommitInfo, error) {
	c, ok := r.commits[id]
	if !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	return c, nil
}

func (r *memRepo) ancestors(id plumbing.Hash) []plumbing.Hash {
	seen := map[plumbing.Hash]bool{id: true}
	order := []plumbing.Hash{id}
	for i := 0; i < len(order); i++ {
		for _, p := range r.commits[order[i]].ParentIDs {
			if !seen[p] {
				seen[p] = true
				order = append(order, p)
			}
		}
	}
	return order
}

func (r *memRepo) MergeBase(first plumbing.Hash, others ...plumbing.Hash) (plumbing.Hash, bool, error) {
	base := first
	for _, other := range others {
		inFirst := make(map[plumbing.Hash]bool)
		for _, id := range r.ancestors(base) {
			inFirst[id] = true
		}
		found := false
		for _, id := range r.ancestors(other) {
			if inFirst[id] {
				base, found = id, true
				break
			}
		}
		if !found {
			return plumbing.ZeroHash, false, nil
		}
	}
	return base, true, nil
}

func (r *memRepo) References(prefix string) ([]graph.Reference, error) {
	var out []graph.Reference
	for name, id := range r.refs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, graph.Reference{Name: name, ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) IsRemoteTracking(name string) bool {
	return strings.HasPrefix(name, "refs/remotes/")
}

func (r *memRepo) Upstream(branch string) (string, bool, error) {
	up, ok := r.upstream[branch]
	return up, ok, nil
}

// drawRepo draws a random DAG with local branches, some of which have a remote
// counterpart. HEAD is a branch at the newest commit.
func drawRepo(t *rapid.T) *memRepo {
	r := newMemRepo()
	n := rapid.IntRange(1, 24).Draw(t, "commits")
	ids := make([]plumbing.Hash, n)
	for i := range ids {
		var parents []plumbing.Hash
		if i > 0 {
			numParents := rapid.IntRange(0, min(3, i)).Draw(t, fmt.Sprintf("parents-%d", i))
			if numParents == 0 && rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("root-%d", i)) != 0 {
				numParents = 1
			}
			picked := make(map[int]bool)
			for p := 0; p < numParents; p++ {
				idx := rapid.IntRange(0, i-1).Draw(t, fmt.Sprintf("parent-%d-%d", i, p))
				if !picked[idx] {
					picked[idx] = true
					parents = append(parents, ids[idx])
				}
			}
		}
		ids[i] = r.add(i, parents...)
	}

	numBranches := rapid.IntRange(0, 6).Draw(t, "branches")
	for b := 0; b < numBranches; b++ {
		name := fmt.Sprintf("refs/heads/b%d", b)
		r.refs[name] = ids[rapid.IntRange(0, n-1).Draw(t, fmt.Sprintf("branch-%d", b))]
		if rapid.Bool().Draw(t, fmt.Sprintf("has-remote-%d", b)) {
			remote := fmt.Sprintf("refs/remotes/origin/b%d", b)
			r.refs[remote] = ids[rapid.IntRange(0, n-1).Draw(t, fmt.Sprintf("remote-%d", b))]
			r.upstream[name] = remote
		}
	}
	r.refs["refs/heads/main"] = ids[n-1]
	r.head = graph.Head{RefName: "refs/heads/main", ID: ids[n-1]}
	return r
}

func drawOptions(t *rapid.T, r *memRepo) graph.Options {
	var opts graph.Options
	if rapid.Bool().Draw(t, "limited") {
		opts = opts.WithLimitHint(rapid.IntRange(0, 4).Draw(t, "hint"))
	}
	if rapid.Bool().Draw(t, "hard-limited") {
		opts = opts.WithHardLimit(rapid.IntRange(1, 20).Draw(t, "hard"))
	}
	ids := make([]plumbing.Hash, 0, len(r.commits))
	for id := range r.commits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for i := rapid.IntRange(0, 2).Draw(t, "extensions"); i > 0; i-- {
		opts = opts.WithLimitExtensionAt(ids[rapid.IntRange(0, len(ids)-1).Draw(t, fmt.Sprintf("extension-%d", i))])
	}
	return opts
}

func TestPropertyBuiltGraphsAreConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repo := drawRepo(t)
		opts := drawOptions(t, repo)

		g, err := graph.FromHead(repo, nil, opts)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := g.Validate(); err != nil {
			t.Fatalf("invalid graph: %v", err)
		}

		owners := make(map[plumbing.Hash]int)
		for _, s := range g.Segments() {
			for _, c := range s.Commits {
				owners[c.ID]++
			}
			if !s.IsEmpty() && s.Flags() != s.Commits[0].Flags {
				t.Fatalf("segment %d flags %s differ from first commit %s", s.Index, s.Flags(), s.Commits[0].Flags)
			}
			if s.IsEmpty() && s.Flags() != 0 {
				t.Fatalf("empty segment %d has flags %s", s.Index, s.Flags())
			}
		}
		for id, n := range owners {
			if n != 1 {
				t.Fatalf("commit %s owned %d times", id, n)
			}
		}

		ep := g.EntryPoint()
		if ep.Segment == nil {
			t.Fatal("entrypoint does not resolve")
		}
		if opts.HardLimit != nil && g.NumCommits() > *opts.HardLimit {
			t.Fatalf("collected %d commits with a hard limit of %d", g.NumCommits(), *opts.HardLimit)
		}
		if opts.HardLimit == nil {
			if ep.Commit == nil || ep.Commit.ID != repo.head.ID {
				t.Fatalf("entry commit %s was not collected", repo.head.ID)
			}
			if g.HardLimitHit() {
				t.Fatal("hard limit hit without a hard limit")
			}
		}
	})
}

func TestPropertyLimitZeroVisitsEntry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repo := drawRepo(t)

		g, err := graph.FromHead(repo, nil, graph.Options{}.WithLimitHint(0))
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		ep := g.EntryPoint()
		if ep.Commit == nil || ep.Commit.ID != repo.head.ID {
			t.Fatalf("entry commit not visited")
		}
	})
}

func TestPropertyRemotesAreComplete(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repo := drawRepo(t)
		opts := graph.Options{}.WithLimitHint(rapid.IntRange(0, 3).Draw(t, "hint"))

		g, err := graph.FromHead(repo, nil, opts)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		for _, s := range g.Segments() {
			if !repo.IsRemoteTracking(s.RefName) {
				continue
			}
			tip := repo.refs[s.RefName]
			for _, id := range repo.ancestors(tip) {
				if _, _, ok := g.CommitByID(id); !ok {
					t.Fatalf("commit %s of %s is missing", id, s.RefName)
				}
			}
		}
	})
}

// drawWorkspace draws a linear history with a workspace commit on top and stored
// stacks whose branches are listed top to bottom. One stack spreads its branches over
// the history, the others sit on a commit one of its branches points at.
// It returns the number of stored stacks.
func drawWorkspace(t *rapid.T) (*memRepo, *refmeta.MemoryStore, int) {
	r := newMemRepo()
	n := rapid.IntRange(1, 6).Draw(t, "chain")
	ids := make([]plumbing.Hash, n)
	for i := range ids {
		var parents []plumbing.Hash
		if i > 0 {
			parents = []plumbing.Hash{ids[i-1]}
		}
		ids[i] = r.add(i, parents...)
	}
	ws := r.add(n, ids[n-1])
	r.refs[workspaceRef] = ws
	r.head = graph.Head{RefName: workspaceRef, ID: ws}

	type placed struct {
		name string
		pos  int
		tie  int
	}
	var branches []placed
	for b := rapid.IntRange(1, 5).Draw(t, "branches"); b > 0; b-- {
		p := placed{
			name: fmt.Sprintf("refs/heads/s%d", b),
			pos:  rapid.IntRange(0, n-1).Draw(t, fmt.Sprintf("pos-%d", b)),
			tie:  rapid.IntRange(0, 100).Draw(t, fmt.Sprintf("tie-%d", b)),
		}
		r.refs[p.name] = ids[p.pos]
		branches = append(branches, p)
	}
	sort.Slice(branches, func(i, j int) bool {
		if branches[i].pos != branches[j].pos {
			return branches[i].pos > branches[j].pos
		}
		return branches[i].tie < branches[j].tie
	})
	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.name
	}

	stacks := [][]string{names}
	for s := rapid.IntRange(0, 2).Draw(t, "shared-stacks"); s > 0; s-- {
		pos := branches[rapid.IntRange(0, len(branches)-1).Draw(t, fmt.Sprintf("shared-anchor-%d", s))].pos
		var stack []string
		for k := rapid.IntRange(1, 2).Draw(t, fmt.Sprintf("shared-branches-%d", s)); k > 0; k-- {
			name := fmt.Sprintf("refs/heads/x%d-%d", s, k)
			r.refs[name] = ids[pos]
			stack = append(stack, name)
		}
		stacks = append(stacks, stack)
	}
	first := rapid.IntRange(0, len(stacks)-1).Draw(t, "spread-stack")
	stacks[0], stacks[first] = stacks[first], stacks[0]

	meta := refmeta.NewMemoryStore()
	stored := &refmeta.Workspace{}
	for _, stack := range stacks {
		stored.AddStack(stack...)
	}
	if err := meta.SetWorkspace(workspaceRef, stored); err != nil {
		t.Fatalf("storing workspace: %v", err)
	}
	return r, meta, len(stacks)
}

func TestPropertyReconcileIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repo, meta, _ := drawWorkspace(t)

		g, err := graph.FromHead(repo, meta, graph.Options{})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		commits := g.NumCommits()
		if err := graph.Reconcile(g, meta); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if err := g.Validate(); err != nil {
			t.Fatalf("invalid graph after reconcile: %v", err)
		}
		if g.NumCommits() != commits {
			t.Fatalf("reconcile changed the number of commits from %d to %d", commits, g.NumCommits())
		}
		once := g.Clone()

		if err := graph.Reconcile(g, meta); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if diff := cmp.Diff(once.Segments(), g.Segments()); diff != "" {
			t.Fatalf("segments changed (-once +twice):\n%s", diff)
		}
		if diff := cmp.Diff(once.Edges(), g.Edges()); diff != "" {
			t.Fatalf("edges changed (-once +twice):\n%s", diff)
		}
	})
}

func TestPropertyReconcileKeepsStoredStacks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repo, meta, numStacks := drawWorkspace(t)

		g, err := graph.FromHead(repo, meta, graph.Options{})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := graph.Reconcile(g, meta); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if err := g.Validate(); err != nil {
			t.Fatalf("invalid graph after reconcile: %v", err)
		}
		ws, err := projection.Project(g)
		if err != nil {
			t.Fatalf("project: %v", err)
		}
		if len(ws.Stacks) != numStacks {
			t.Fatalf("projected %d stacks, stored %d", len(ws.Stacks), numStacks)
		}
		for i, st := range ws.Stacks {
			if want := ws.Metadata.Stacks[i].ID; st.ID != want {
				t.Fatalf("stack %d has id %q, want %q", i, st.ID, want)
			}
		}
	})
}
