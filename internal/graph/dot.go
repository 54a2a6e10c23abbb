package graph

import (
	"fmt"
	"io"
	"strings"
)

const shortHex = 7

// WriteDot writes g in Graphviz dot format. Edges that violate the edge invariants
// are labelled with the reason, unless traversal stopped at the hard limit.
func (g *Graph) WriteDot(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("digraph {\n")
	for _, s := range g.segments {
		fmt.Fprintf(&sb, "    %d [ label = %q, shape = box, fontname = Courier, margin = 0.2 ]\n",
			s.Index, g.segmentLabel(s))
	}
	for _, e := range g.edges {
		label := ""
		if !g.hardLimitHit {
			label = g.edgeProblem(e)
		}
		fmt.Fprintf(&sb, "    %d -> %d [ label = %q ]\n", e.Src, e.Dst, label)
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func (g *Graph) segmentLabel(s *Segment) string {
	name := "<anon>"
	if s.RefName != "" {
		name = ShortName(s.RefName)
	}
	if s.RemoteTrackingRef != "" {
		name += " <> " + ShortName(s.RemoteTrackingRef)
	}
	// Named entry segments carry the marker instead of their first commit.
	segmentEntry := s.RefName != "" && s.Index == g.entrySegment && g.entryCommit <= 0

	var sb strings.Builder
	if segmentEntry {
		sb.WriteString("👉")
	}
	fmt.Fprintf(&sb, "%d:%s", s.Index, name)
	for i := range s.Commits {
		sb.WriteString("\n")
		isEntry := !segmentEntry && s.Index == g.entrySegment && CommitIndex(i) == g.entryCommit
		sb.WriteString(g.commitLabel(s, CommitIndex(i), isEntry))
	}
	return sb.String()
}

// commitLabel renders a commit as its short hash with markers, flags and references.
func (g *Graph) commitLabel(s *Segment, cidx CommitIndex, isEntry bool) string {
	c := &s.Commits[cidx]
	var sb strings.Builder
	if isEntry {
		sb.WriteString("👉")
	}
	if g.isEarlyEnd(s, cidx) {
		if g.hardLimitHit {
			sb.WriteString("❌")
		} else {
			sb.WriteString("✂")
		}
	}
	sb.WriteString(c.ID.String()[:shortHex])
	if c.Flags != 0 {
		fmt.Fprintf(&sb, " (%s)", c.Flags)
	}
	for i, ref := range c.Refs {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString("►" + ShortName(ref))
	}
	return sb.String()
}

// isEarlyEnd reports whether traversal stopped at the last commit of s although it has parents.
func (g *Graph) isEarlyEnd(s *Segment, cidx CommitIndex) bool {
	if cidx != s.LastCommitIndex() || len(s.Commits[cidx].ParentIDs) == 0 {
		return false
	}
	return s.Commits[cidx].Flags.Has(FlagEarlyEnd) || len(g.Outgoing(s.Index)) == 0
}

func (g *Graph) edgeProblem(e Edge) string {
	src, dst := g.Segment(e.Src), g.Segment(e.Dst)
	if src == nil || dst == nil {
		return "⚠ missing segment"
	}
	first := NoCommit
	if !dst.IsEmpty() {
		first = 0
	}
	if e.SrcCommit == src.LastCommitIndex() && e.DstCommit == first {
		return ""
	}
	from, to := "src", "dst"
	if id := commitIDAt(src, e.SrcCommit); !id.IsZero() {
		from = id.String()[:shortHex]
	}
	if id := commitIDAt(dst, e.DstCommit); !id.IsZero() {
		to = id.String()[:shortHex]
	}
	return fmt.Sprintf("⚠%s → %s (edge must go from last commit to first)", from, to)
}
