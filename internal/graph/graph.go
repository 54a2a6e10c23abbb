// Package graph provides the segmented commit graph: segments of linear history
// owned by references, connected by edges, built from a Git repository.
package graph

import (
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"stackgraph/internal/refmeta"
)

// SegmentIndex identifies a segment within its Graph.
type SegmentIndex int

// NoSegment marks an absent segment index.
const NoSegment SegmentIndex = -1

// CommitIndex is the position of a commit within its segment, 0 being the tip.
type CommitIndex int

// NoCommit marks the absent commit of an empty segment.
const NoCommit CommitIndex = -1

// Valid reports whether c refers to a commit.
func (c CommitIndex) Valid() bool { return c >= 0 }

// Flags summarize what traversal learned about a commit.
type Flags uint8

const (
	// FlagInWorkspace is set on commits reachable from a workspace reference.
	FlagInWorkspace Flags = 1 << iota
	// FlagIntegrated is set on commits reachable from an integration target.
	FlagIntegrated
	// FlagReachableByRemote is set on commits reachable from any remote-tracking reference.
	FlagReachableByRemote
	// FlagReachableByMatchingRemote is set on commits reachable from the remote-tracking
	// counterpart of a local branch that reaches them as well.
	FlagReachableByMatchingRemote
	// FlagEarlyEnd is set on commits whose parents were not traversed because of a limit.
	FlagEarlyEnd
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagInWorkspace, "InWorkspace"},
	{FlagIntegrated, "Integrated"},
	{FlagReachableByRemote, "ReachableByRemote"},
	{FlagReachableByMatchingRemote, "ReachableByMatchingRemote"},
	{FlagEarlyEnd, "EarlyEnd"},
}

// Has reports whether all bits of other are set.
func (f Flags) Has(other Flags) bool { return f&other == other }

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Signature is the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a Git commit as seen by the graph.
type Commit struct {
	ID        plumbing.Hash
	ParentIDs []plumbing.Hash
	TreeID    plumbing.Hash
	Message   string
	Author    Signature
	Committer Signature
	// Refs are references pointing at this commit other than the owning segment's name.
	Refs  []string
	Flags Flags
}

// Title returns the first line of the commit message.
func (c *Commit) Title() string {
	title, _, _ := strings.Cut(c.Message, "\n")
	return title
}

// SegmentMetadata is stored data attached to a segment by its reference name.
// At most one of the fields is set.
type SegmentMetadata struct {
	Workspace *refmeta.Workspace
	Branch    *refmeta.Branch
}

// Segment is a run of commits connected by their first parent, owned by at most one reference.
type Segment struct {
	Index SegmentIndex
	// RefName is the full reference name, empty for anonymous segments.
	RefName string
	// RemoteTrackingRef is the full name of the remote-tracking counterpart of RefName.
	RemoteTrackingRef string
	// Commits are ordered tip first.
	Commits  []Commit
	Metadata *SegmentMetadata
}

// Flags returns the flags of the first commit, or none for an empty segment.
func (s *Segment) Flags() Flags {
	if len(s.Commits) == 0 {
		return 0
	}
	return s.Commits[0].Flags
}

// IsEmpty reports whether the segment owns no commits.
func (s *Segment) IsEmpty() bool { return len(s.Commits) == 0 }

// IsAnonymous reports whether no reference owns the segment.
func (s *Segment) IsAnonymous() bool { return s.RefName == "" }

// WorkspaceMetadata returns the workspace data of the segment, if any.
func (s *Segment) WorkspaceMetadata() *refmeta.Workspace {
	if s.Metadata == nil {
		return nil
	}
	return s.Metadata.Workspace
}

// BranchMetadata returns the branch data of the segment, if any.
func (s *Segment) BranchMetadata() *refmeta.Branch {
	if s.Metadata == nil {
		return nil
	}
	return s.Metadata.Branch
}

// LastCommitIndex returns the index of the bottom commit, or NoCommit.
func (s *Segment) LastCommitIndex() CommitIndex {
	return CommitIndex(len(s.Commits) - 1)
}

// CommitIndexOf returns the position of id within the segment.
func (s *Segment) CommitIndexOf(id plumbing.Hash) (CommitIndex, bool) {
	for i := range s.Commits {
		if s.Commits[i].ID == id {
			return CommitIndex(i), true
		}
	}
	return NoCommit, false
}

// DisplayName returns a short name for logs and diagnostics.
func (s *Segment) DisplayName() string {
	if s.RefName == "" {
		return "anon:"
	}
	return ShortName(s.RefName)
}

func (s *Segment) clone() *Segment {
	out := *s
	out.Commits = make([]Commit, len(s.Commits))
	for i, c := range s.Commits {
		c.ParentIDs = append([]plumbing.Hash(nil), c.ParentIDs...)
		c.Refs = append([]string(nil), c.Refs...)
		out.Commits[i] = c
	}
	if s.Metadata != nil {
		out.Metadata = &SegmentMetadata{
			Workspace: s.Metadata.Workspace.Clone(),
			Branch:    s.Metadata.Branch.Clone(),
		}
	}
	return &out
}

// Edge connects a commit of one segment to a commit of another.
type Edge struct {
	Src       SegmentIndex
	SrcCommit CommitIndex
	SrcID     plumbing.Hash
	Dst       SegmentIndex
	DstCommit CommitIndex
	DstID     plumbing.Hash
}

// LowerBound is the commit below which history is shared with the integration target.
type LowerBound struct {
	ID plumbing.Hash
	// Fallback is set when no merge-base existed and the entry tip was used instead.
	Fallback bool
}

// Graph is a directed graph of segments.
// It is built once, reconciled once, and only read afterwards.
type Graph struct {
	segments     []*Segment
	edges        []Edge
	entrySegment SegmentIndex
	entryCommit  CommitIndex
	extraTarget  SegmentIndex
	hardLimitHit bool
	lowerBound   *LowerBound
	options      Options
}

func newGraph(opts Options) *Graph {
	return &Graph{
		entrySegment: NoSegment,
		entryCommit:  NoCommit,
		extraTarget:  NoSegment,
		options:      opts,
	}
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	out := *g
	out.segments = make([]*Segment, len(g.segments))
	for i, s := range g.segments {
		out.segments[i] = s.clone()
	}
	out.edges = append([]Edge(nil), g.edges...)
	if g.lowerBound != nil {
		lb := *g.lowerBound
		out.lowerBound = &lb
	}
	out.options = g.options.clone()
	return &out
}

// ShortName strips the well-known prefix of a full reference name.
func ShortName(refName string) string {
	for _, prefix := range []string{"refs/heads/", "refs/remotes/", "refs/tags/"} {
		if strings.HasPrefix(refName, prefix) {
			return strings.TrimPrefix(refName, prefix)
		}
	}
	return refName
}

// IsLocalBranch reports whether refName is under refs/heads/.
func IsLocalBranch(refName string) bool {
	return strings.HasPrefix(refName, "refs/heads/")
}
