package graph

// Statistics summarizes the shape of a graph.
type Statistics struct {
	Segments                         int `json:"segments"`
	SegmentsIntegrated               int `json:"segments_integrated"`
	SegmentsRemote                   int `json:"segments_remote"`
	SegmentsWithRemoteTrackingBranch int `json:"segments_with_remote_tracking_branch"`
	SegmentsEmpty                    int `json:"segments_empty"`
	SegmentsUnnamed                  int `json:"segments_unnamed"`
	SegmentsInWorkspace              int `json:"segments_in_workspace"`
	SegmentsInWorkspaceAndIntegrated int `json:"segments_in_workspace_and_integrated"`
	SegmentsWithWorkspaceMetadata    int `json:"segments_with_workspace_metadata"`
	SegmentsWithBranchMetadata       int `json:"segments_with_branch_metadata"`

	// EntrypointInWorkspace is nil if the entry segment is empty.
	EntrypointInWorkspace      *bool `json:"entrypoint_in_workspace,omitempty"`
	SegmentsBehindOfEntrypoint int   `json:"segments_behind_of_entrypoint"`
	SegmentsAheadOfEntrypoint  int   `json:"segments_ahead_of_entrypoint"`

	EntrypointSegment         SegmentIndex `json:"entrypoint_segment"`
	EntrypointCommit          CommitIndex  `json:"entrypoint_commit"`
	SegmentEntrypointIncoming int          `json:"segment_entrypoint_incoming"`
	SegmentEntrypointOutgoing int          `json:"segment_entrypoint_outgoing"`

	TopSegments      []SegmentIndex `json:"top_segments"`
	SegmentsAtBottom int            `json:"segments_at_bottom"`
	Connections      int            `json:"connections"`
	Commits          int            `json:"commits"`
	CommitReferences int            `json:"commit_references"`
	CommitsAtCutoff  int            `json:"commits_at_cutoff"`
}

// Statistics computes counts over segments, edges and commits.
func (g *Graph) Statistics() Statistics {
	st := Statistics{
		Segments:          len(g.segments),
		Connections:       len(g.edges),
		EntrypointSegment: g.entrySegment,
		EntrypointCommit:  g.entryCommit,
		TopSegments:       g.TipSegments(),
		SegmentsAtBottom:  len(g.BaseSegments()),
	}

	for _, s := range g.segments {
		if s.IsAnonymous() {
			st.SegmentsUnnamed++
		}
		if s.RemoteTrackingRef != "" {
			st.SegmentsWithRemoteTrackingBranch++
		}
		if s.WorkspaceMetadata() != nil {
			st.SegmentsWithWorkspaceMetadata++
		}
		if s.BranchMetadata() != nil {
			st.SegmentsWithBranchMetadata++
		}
		if s.IsEmpty() {
			st.SegmentsEmpty++
		} else {
			f := s.Commits[0].Flags
			if f.Has(FlagInWorkspace) {
				st.SegmentsInWorkspace++
			}
			if f.Has(FlagIntegrated) {
				st.SegmentsIntegrated++
			}
			if f.Has(FlagInWorkspace | FlagIntegrated) {
				st.SegmentsInWorkspaceAndIntegrated++
			}
			if f.Has(FlagReachableByRemote) {
				st.SegmentsRemote++
			}
		}
		st.Commits += len(s.Commits)
		for _, c := range s.Commits {
			st.CommitReferences += len(c.Refs)
		}
		if n := len(s.Commits); n > 0 && len(s.Commits[n-1].ParentIDs) > 0 && len(g.Outgoing(s.Index)) == 0 {
			st.CommitsAtCutoff++
		}
	}

	if ep := g.EntryPoint(); ep.Segment != nil {
		if !ep.Segment.IsEmpty() {
			in := ep.Segment.Commits[0].Flags.Has(FlagInWorkspace)
			st.EntrypointInWorkspace = &in
		}
		st.SegmentEntrypointIncoming = len(g.Incoming(ep.SegmentIndex))
		st.SegmentEntrypointOutgoing = len(g.Outgoing(ep.SegmentIndex))
		st.SegmentsBehindOfEntrypoint = g.countReachable(ep.SegmentIndex, true)
		st.SegmentsAheadOfEntrypoint = g.countReachable(ep.SegmentIndex, false)
	}
	return st
}

// countReachable counts the segments reachable from start along outgoing edges, or
// incoming ones if down is false, start excluded.
func (g *Graph) countReachable(start SegmentIndex, down bool) int {
	seen := map[SegmentIndex]bool{start: true}
	queue := []SegmentIndex{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.edges {
			var next SegmentIndex
			switch {
			case down && e.Src == cur:
				next = e.Dst
			case !down && e.Dst == cur:
				next = e.Src
			default:
				continue
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return len(seen) - 1
}
