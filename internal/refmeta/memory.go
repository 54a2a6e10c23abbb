package refmeta

import (
	"sort"
	"sync"
)

// MemoryStore keeps metadata in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
	branches   map[string]*Branch
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]*Workspace),
		branches:   make(map[string]*Branch),
	}
}

// Workspace returns a copy of the stored workspace data for refName.
func (m *MemoryStore) Workspace(refName string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workspaces[refName].Clone(), nil
}

// Branch returns a copy of the stored branch data for refName.
func (m *MemoryStore) Branch(refName string) (*Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.branches[refName].Clone(), nil
}

// WorkspaceRefs lists all references with workspace data.
func (m *MemoryStore) WorkspaceRefs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]string, 0, len(m.workspaces))
	for name := range m.workspaces {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs, nil
}

// SetWorkspace stores ws for refName, replacing previous data.
func (m *MemoryStore) SetWorkspace(refName string, ws *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[refName] = ws.Clone()
	return nil
}

// SetBranch stores b for refName, replacing previous data.
func (m *MemoryStore) SetBranch(refName string, b *Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[refName] = b.Clone()
	return nil
}

// Remove deletes all metadata of refName.
func (m *MemoryStore) Remove(refName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, hasWS := m.workspaces[refName]
	_, hasBranch := m.branches[refName]
	if !hasWS && !hasBranch {
		return ErrNotFound
	}
	delete(m.workspaces, refName)
	delete(m.branches, refName)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
