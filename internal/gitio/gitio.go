// Package gitio provides read-only Git repository access using go-git.
package gitio

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"stackgraph/internal/graph"
)

// AmbiguityError indicates that a hash prefix matches more than one commit.
type AmbiguityError struct {
	Prefix     string
	Candidates []plumbing.Hash
}

func (e *AmbiguityError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = c.String()[:16]
	}
	return fmt.Sprintf("ambiguous prefix '%s' matches:\n  %s\nprovide more characters or use a ref", e.Prefix, strings.Join(parts, "\n  "))
}

// NotFoundError indicates that a revision names nothing.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Input)
}

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	path string
}

var _ graph.Repository = (*Repository)(nil)

// Open opens an existing Git repository.
func Open(repoPath string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: repoPath}, nil
}

// New wraps an already opened repository, for instance one backed by memory storage.
func New(repo *git.Repository) *Repository {
	return &Repository{repo: repo}
}

// Path returns the path the repository was opened from, if any.
func (r *Repository) Path() string { return r.path }

// Head returns the checked-out branch and the commit it points to.
func (r *Repository) Head() (graph.Head, error) {
	head, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return graph.Head{}, fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() == plumbing.HashReference {
		id, err := r.peel(head.Hash())
		if err != nil {
			return graph.Head{}, err
		}
		return graph.Head{ID: id}, nil
	}

	target := head.Target()
	id, ok, err := r.ResolveRef(target.String())
	if err != nil {
		return graph.Head{}, err
	}
	if !ok {
		return graph.Head{RefName: target.String()}, nil
	}
	return graph.Head{RefName: target.String(), ID: id}, nil
}

// ResolveRef peels the full reference name to a commit.
func (r *Repository) ResolveRef(refName string) (plumbing.Hash, bool, error) {
	ref, err := r.repo.Reference(plumbing.ReferenceName(refName), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("reading reference %s: %w", refName, err)
	}
	id, err := r.peel(ref.Hash())
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	return id, true, nil
}

// peel follows annotated tags until it reaches a non-tag object.
func (r *Repository) peel(id plumbing.Hash) (plumbing.Hash, error) {
	for {
		tag, err := r.repo.TagObject(id)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return id, nil
		}
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("reading tag %s: %w", id, err)
		}
		id = tag.Target
	}
}

// Commit reads a commit object.
func (r *Repository) Commit(id plumbing.Hash) (*graph.CommitInfo, error) {
	c, err := r.repo.CommitObject(id)
	if err != nil {
		return nil, fmt.Errorf("getting commit %s: %w", id, err)
	}
	return commitInfo(c), nil
}

func commitInfo(c *object.Commit) *graph.CommitInfo {
	return &graph.CommitInfo{
		ID:        c.Hash,
		ParentIDs: append([]plumbing.Hash(nil), c.ParentHashes...),
		TreeID:    c.TreeHash,
		Message:   c.Message,
		Author:    graph.Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer: graph.Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
	}
}

// MergeBase returns the best common ancestor of all commits, folding pairwise from first.
func (r *Repository) MergeBase(first plumbing.Hash, others ...plumbing.Hash) (plumbing.Hash, bool, error) {
	base, err := r.repo.CommitObject(first)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("getting commit %s: %w", first, err)
	}
	for _, id := range others {
		other, err := r.repo.CommitObject(id)
		if err != nil {
			return plumbing.ZeroHash, false, fmt.Errorf("getting commit %s: %w", id, err)
		}
		bases, err := base.MergeBase(other)
		if err != nil {
			return plumbing.ZeroHash, false, fmt.Errorf("computing merge-base of %s and %s: %w", base.Hash, id, err)
		}
		if len(bases) == 0 {
			return plumbing.ZeroHash, false, nil
		}
		sort.Slice(bases, func(i, j int) bool { return bases[i].Hash.String() < bases[j].Hash.String() })
		base = bases[0]
	}
	return base.Hash, true, nil
}

// References lists references under prefix, peeled to commits and sorted by name.
// Symbolic references and references to non-commits are skipped.
func (r *Repository) References(prefix string) ([]graph.Reference, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	var out []graph.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(ref.Name().String(), prefix) {
			return nil
		}
		id, err := r.peel(ref.Hash())
		if err != nil {
			return err
		}
		if _, err := r.repo.Storer.EncodedObject(plumbing.CommitObject, id); err != nil {
			return nil
		}
		out = append(out, graph.Reference{Name: ref.Name().String(), ID: id})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// IsRemoteTracking reports whether refName lives under refs/remotes/.
func (r *Repository) IsRemoteTracking(refName string) bool {
	return plumbing.ReferenceName(refName).IsRemote()
}

// Upstream returns the remote-tracking reference configured for a local branch.
// A branch with a remote but no merge ref maps to the branch of the same name on that remote.
func (r *Repository) Upstream(branchRefName string) (string, bool, error) {
	name := plumbing.ReferenceName(branchRefName)
	if !name.IsBranch() {
		return "", false, nil
	}
	cfg, err := r.repo.Config()
	if err != nil {
		return "", false, fmt.Errorf("reading config: %w", err)
	}
	b, ok := cfg.Branches[name.Short()]
	if !ok || b.Remote == "" || b.Remote == "." {
		return "", false, nil
	}
	short := name.Short()
	if b.Merge != "" {
		short = b.Merge.Short()
	}
	return plumbing.NewRemoteReferenceName(b.Remote, short).String(), true, nil
}

// ResolveRevision resolves a branch name, tag, remote branch, full reference name or
// hash prefix to a commit.
func (r *Repository) ResolveRevision(rev string) (plumbing.Hash, string, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.ReferenceName(rev),
		plumbing.NewBranchReferenceName(rev),
		plumbing.NewTagReferenceName(rev),
		plumbing.ReferenceName("refs/remotes/" + rev),
	}
	for _, name := range candidates {
		if !strings.HasPrefix(name.String(), "refs/") && name != plumbing.HEAD {
			continue
		}
		id, ok, err := r.ResolveRef(name.String())
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		if ok {
			if name == plumbing.HEAD {
				head, err := r.Head()
				if err != nil {
					return plumbing.ZeroHash, "", err
				}
				return id, head.RefName, nil
			}
			return id, name.String(), nil
		}
	}

	if len(rev) < 4 || !isHex(rev) {
		return plumbing.ZeroHash, "", &NotFoundError{Input: rev}
	}
	if len(rev) == 40 {
		id := plumbing.NewHash(rev)
		if _, err := r.repo.CommitObject(id); err != nil {
			return plumbing.ZeroHash, "", &NotFoundError{Input: rev}
		}
		return id, "", nil
	}
	matches, err := r.commitsWithPrefix(strings.ToLower(rev))
	if err != nil {
		return plumbing.ZeroHash, "", err
	}
	switch len(matches) {
	case 0:
		return plumbing.ZeroHash, "", &NotFoundError{Input: rev}
	case 1:
		return matches[0], "", nil
	default:
		return plumbing.ZeroHash, "", &AmbiguityError{Prefix: rev, Candidates: matches}
	}
}

func (r *Repository) commitsWithPrefix(prefix string) ([]plumbing.Hash, error) {
	iter, err := r.repo.Storer.IterEncodedObjects(plumbing.CommitObject)
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}
	var out []plumbing.Hash
	err = iter.ForEach(func(o plumbing.EncodedObject) error {
		if strings.HasPrefix(o.Hash().String(), prefix) {
			out = append(out, o.Hash())
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
