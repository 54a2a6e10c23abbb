package main

import (
	"github.com/go-git/go-git/v5/plumbing"

	"stackgraph/internal/projection"
)

type workspaceView struct {
	Kind       string      `yaml:"kind"`
	Ref        string      `yaml:"ref,omitempty"`
	Target     string      `yaml:"target,omitempty"`
	LowerBound string      `yaml:"lower_bound,omitempty"`
	Stacks     []stackView `yaml:"stacks"`
}

type stackView struct {
	ID       string        `yaml:"id,omitempty"`
	Tip      string        `yaml:"tip,omitempty"`
	Base     string        `yaml:"base,omitempty"`
	Stash    string        `yaml:"stash,omitempty"`
	Segments []segmentView `yaml:"segments"`
}

type segmentView struct {
	Ref        string       `yaml:"ref,omitempty"`
	Remote     string       `yaml:"remote,omitempty"`
	Location   string       `yaml:"location"`
	Entrypoint bool         `yaml:"entrypoint,omitempty"`
	Archived   bool         `yaml:"archived,omitempty"`
	Commits    []commitView `yaml:"commits,omitempty"`
	Upstream   []commitView `yaml:"upstream,omitempty"`
}

type commitView struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Relation string `yaml:"relation"`
	Remote   string `yaml:"remote,omitempty"`
}

func shortHash(id plumbing.Hash) string {
	if id.IsZero() {
		return ""
	}
	return id.String()[:12]
}

func newCommitViews(commits []projection.Commit) []commitView {
	var out []commitView
	for _, c := range commits {
		v := commitView{ID: shortHash(c.ID), Title: c.Title, Relation: c.Relation.Kind.String()}
		if c.Relation.Kind == projection.LocalAndRemote && c.Relation.RemoteID != c.ID {
			v.Remote = shortHash(c.Relation.RemoteID)
		}
		out = append(out, v)
	}
	return out
}

func newWorkspaceView(ws *projection.Workspace) workspaceView {
	view := workspaceView{
		Kind:       ws.Kind.String(),
		Ref:        ws.RefName,
		Target:     ws.TargetRef,
		LowerBound: shortHash(ws.LowerBound),
		Stacks:     []stackView{},
	}
	for _, st := range ws.Stacks {
		sv := stackView{ID: st.ID, Tip: shortHash(st.Tip), Base: shortHash(st.Base), Stash: string(st.Stash)}
		for _, seg := range st.Segments {
			sv.Segments = append(sv.Segments, segmentView{
				Ref:        seg.RefName,
				Remote:     seg.RemoteTrackingRef,
				Location:   seg.RefLocation.String(),
				Entrypoint: seg.IsEntrypoint,
				Archived:   seg.Archived,
				Commits:    newCommitViews(seg.Commits),
				Upstream:   newCommitViews(seg.CommitsUnintegratedUpstream),
			})
		}
		view.Stacks = append(view.Stacks, sv)
	}
	return view
}
