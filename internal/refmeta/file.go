package refmeta

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk YAML layout of a FileStore.
type fileDocument struct {
	Workspaces map[string]*Workspace `yaml:"workspaces,omitempty"`
	Branches   map[string]*Branch    `yaml:"branches,omitempty"`
}

// FileStore keeps metadata in a single YAML file and rewrites it on every change.
type FileStore struct {
	path string
	mem  *MemoryStore
}

// OpenFile loads the store at path. A missing file yields an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing metadata file %s: %w", path, err)
	}
	for name, ws := range doc.Workspaces {
		s.mem.workspaces[name] = ws
	}
	for name, b := range doc.Branches {
		s.mem.branches[name] = b
	}
	return s, nil
}

func (s *FileStore) Workspace(refName string) (*Workspace, error) { return s.mem.Workspace(refName) }
func (s *FileStore) Branch(refName string) (*Branch, error)       { return s.mem.Branch(refName) }
func (s *FileStore) WorkspaceRefs() ([]string, error)             { return s.mem.WorkspaceRefs() }

// SetWorkspace stores ws and persists the file.
func (s *FileStore) SetWorkspace(refName string, ws *Workspace) error {
	if err := s.mem.SetWorkspace(refName, ws); err != nil {
		return err
	}
	return s.save()
}

// SetBranch stores b and persists the file.
func (s *FileStore) SetBranch(refName string, b *Branch) error {
	if err := s.mem.SetBranch(refName, b); err != nil {
		return err
	}
	return s.save()
}

// Remove deletes the metadata of refName and persists the file.
func (s *FileStore) Remove(refName string) error {
	if err := s.mem.Remove(refName); err != nil {
		return err
	}
	return s.save()
}

// Close is a no-op; every write is already persisted.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) save() error {
	s.mem.mu.RLock()
	doc := fileDocument{Workspaces: s.mem.workspaces, Branches: s.mem.branches}
	data, err := yaml.Marshal(&doc)
	s.mem.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating metadata dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing metadata file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing metadata file: %w", err)
	}
	return nil
}
