// Package gittest builds small in-memory Git repositories for tests.
package gittest

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"stackgraph/internal/gitio"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Repo is an in-memory repository with helpers to write objects and references.
type Repo struct {
	t    testing.TB
	Git  *git.Repository
	tick int
}

// New creates an empty repository whose HEAD points at the unborn branch main.
func New(t testing.TB) *Repo {
	t.Helper()
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		t.Fatalf("initializing repository: %v", err)
	}
	r := &Repo{t: t, Git: repo}
	r.Checkout("main")
	return r
}

// Repository returns the repository wrapped for graph traversal.
func (r *Repo) Repository() *gitio.Repository {
	return gitio.New(r.Git)
}

// Commit writes a commit whose tree holds a single file containing msg.
func (r *Repo) Commit(msg string, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	return r.CommitTree(msg, msg, parents...)
}

// CommitTree writes a commit whose tree holds a single file with content.
// Commits with the same content share a tree.
func (r *Repo) CommitTree(msg, content string, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	tree := r.tree(content)
	r.tick++
	sig := object.Signature{
		Name:  "Test Author",
		Email: "author@example.com",
		When:  epoch.Add(time.Duration(r.tick) * time.Minute),
	}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.Git.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		r.t.Fatalf("encoding commit: %v", err)
	}
	return r.store(obj)
}

// Chain writes n commits on top of parent, which may be zero, and returns them tip first.
func (r *Repo) Chain(prefix string, n int, parent plumbing.Hash) []plumbing.Hash {
	r.t.Helper()
	out := make([]plumbing.Hash, n)
	for i := 0; i < n; i++ {
		var parents []plumbing.Hash
		if !parent.IsZero() {
			parents = []plumbing.Hash{parent}
		}
		parent = r.Commit(fmt.Sprintf("%s%d", prefix, i+1), parents...)
		out[n-1-i] = parent
	}
	return out
}

func (r *Repo) tree(content string) plumbing.Hash {
	r.t.Helper()
	blob := r.Git.Storer.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	if err != nil {
		r.t.Fatalf("opening blob: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		r.t.Fatalf("writing blob: %v", err)
	}
	if err := w.Close(); err != nil {
		r.t.Fatalf("closing blob: %v", err)
	}
	blobID := r.store(blob)

	tree := &object.Tree{Entries: []object.TreeEntry{{Name: "file", Mode: filemode.Regular, Hash: blobID}}}
	obj := r.Git.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		r.t.Fatalf("encoding tree: %v", err)
	}
	return r.store(obj)
}

func (r *Repo) store(obj plumbing.EncodedObject) plumbing.Hash {
	r.t.Helper()
	id, err := r.Git.Storer.SetEncodedObject(obj)
	if err != nil {
		r.t.Fatalf("storing object: %v", err)
	}
	return id
}

// Ref points the full reference name at id.
func (r *Repo) Ref(refName string, id plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.ReferenceName(refName), id)
	if err := r.Git.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("setting %s: %v", refName, err)
	}
}

// Branch points refs/heads/name at id and returns the full name.
func (r *Repo) Branch(name string, id plumbing.Hash) string {
	r.t.Helper()
	full := plumbing.NewBranchReferenceName(name).String()
	r.Ref(full, id)
	return full
}

// RemoteBranch points refs/remotes/remote/name at id and returns the full name.
func (r *Repo) RemoteBranch(remote, name string, id plumbing.Hash) string {
	r.t.Helper()
	full := plumbing.NewRemoteReferenceName(remote, name).String()
	r.Ref(full, id)
	return full
}

// Tag points the lightweight tag refs/tags/name at id.
func (r *Repo) Tag(name string, id plumbing.Hash) string {
	r.t.Helper()
	full := plumbing.NewTagReferenceName(name).String()
	r.Ref(full, id)
	return full
}

// AnnotatedTag writes a tag object for id and points refs/tags/name at it.
func (r *Repo) AnnotatedTag(name string, id plumbing.Hash) string {
	r.t.Helper()
	tag := &object.Tag{
		Name:       name,
		Tagger:     object.Signature{Name: "Test Tagger", Email: "tagger@example.com", When: epoch},
		Message:    name,
		TargetType: plumbing.CommitObject,
		Target:     id,
	}
	obj := r.Git.Storer.NewEncodedObject()
	if err := tag.Encode(obj); err != nil {
		r.t.Fatalf("encoding tag: %v", err)
	}
	return r.Tag(name, r.store(obj))
}

// SetUpstream configures remote as the upstream of the local branch name.
func (r *Repo) SetUpstream(name, remote string) {
	r.t.Helper()
	cfg, err := r.Git.Config()
	if err != nil {
		r.t.Fatalf("reading config: %v", err)
	}
	cfg.Branches[name] = &config.Branch{
		Name:   name,
		Remote: remote,
		Merge:  plumbing.NewBranchReferenceName(name),
	}
	if err := r.Git.SetConfig(cfg); err != nil {
		r.t.Fatalf("writing config: %v", err)
	}
}

// Checkout points HEAD at the branch name, which may not exist yet.
func (r *Repo) Checkout(name string) {
	r.t.Helper()
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(name))
	if err := r.Git.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("setting HEAD: %v", err)
	}
}

// Detach points HEAD directly at id.
func (r *Repo) Detach(id plumbing.Hash) {
	r.t.Helper()
	r.Ref(plumbing.HEAD.String(), id)
}
