package refmeta

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	ref TEXT PRIMARY KEY,
	target_ref TEXT NOT NULL DEFAULT '',
	push_remote TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stacks (
	workspace_ref TEXT NOT NULL,
	position INTEGER NOT NULL,
	id TEXT NOT NULL,
	stash TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (workspace_ref, position)
);
CREATE TABLE IF NOT EXISTS stack_branches (
	workspace_ref TEXT NOT NULL,
	stack_position INTEGER NOT NULL,
	position INTEGER NOT NULL,
	ref TEXT NOT NULL,
	archived INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (workspace_ref, stack_position, position)
);
CREATE TABLE IF NOT EXISTS branches (
	ref TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	review_url TEXT NOT NULL DEFAULT '',
	review_number INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps metadata in a SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens or creates the database at dbPath and applies the schema.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Workspace reads the workspace data of refName, or nil if there is none.
func (s *SQLiteStore) Workspace(refName string) (*Workspace, error) {
	var ws Workspace
	err := s.conn.QueryRow(`
		SELECT target_ref, push_remote FROM workspaces WHERE ref = ?
	`, refName).Scan(&ws.TargetRef, &ws.PushRemote)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}

	rows, err := s.conn.Query(`
		SELECT position, id, stash FROM stacks WHERE workspace_ref = ? ORDER BY position
	`, refName)
	if err != nil {
		return nil, fmt.Errorf("querying stacks: %w", err)
	}
	defer rows.Close()

	positions := make(map[int]int)
	for rows.Next() {
		var pos int
		var stack WorkspaceStack
		var stash string
		if err := rows.Scan(&pos, &stack.ID, &stash); err != nil {
			return nil, fmt.Errorf("scanning stack: %w", err)
		}
		stack.Stash = StashStatus(stash)
		positions[pos] = len(ws.Stacks)
		ws.Stacks = append(ws.Stacks, stack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stacks: %w", err)
	}

	branchRows, err := s.conn.Query(`
		SELECT stack_position, ref, archived FROM stack_branches
		WHERE workspace_ref = ? ORDER BY stack_position, position
	`, refName)
	if err != nil {
		return nil, fmt.Errorf("querying stack branches: %w", err)
	}
	defer branchRows.Close()

	for branchRows.Next() {
		var stackPos int
		var b WorkspaceBranch
		if err := branchRows.Scan(&stackPos, &b.RefName, &b.Archived); err != nil {
			return nil, fmt.Errorf("scanning stack branch: %w", err)
		}
		idx, ok := positions[stackPos]
		if !ok {
			return nil, fmt.Errorf("stack branch %s refers to missing stack %d", b.RefName, stackPos)
		}
		ws.Stacks[idx].Branches = append(ws.Stacks[idx].Branches, b)
	}
	if err := branchRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stack branches: %w", err)
	}

	return &ws, nil
}

// Branch reads the branch data of refName, or nil if there is none.
func (s *SQLiteStore) Branch(refName string) (*Branch, error) {
	var b Branch
	var createdAt, updatedAt int64
	err := s.conn.QueryRow(`
		SELECT description, review_url, review_number, created_at, updated_at
		FROM branches WHERE ref = ?
	`, refName).Scan(&b.Description, &b.ReviewURL, &b.ReviewNumber, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying branch: %w", err)
	}
	b.CreatedAt = fromMs(createdAt)
	b.UpdatedAt = fromMs(updatedAt)
	return &b, nil
}

// WorkspaceRefs lists all references with workspace data.
func (s *SQLiteStore) WorkspaceRefs() ([]string, error) {
	rows, err := s.conn.Query(`SELECT ref FROM workspaces ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// SetWorkspace replaces the workspace data of refName in a single transaction.
func (s *SQLiteStore) SetWorkspace(refName string, ws *Workspace) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteWorkspace(tx, refName); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO workspaces (ref, target_ref, push_remote, updated_at) VALUES (?, ?, ?, ?)
	`, refName, ws.TargetRef, ws.PushRemote, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}
	for si, stack := range ws.Stacks {
		if _, err := tx.Exec(`
			INSERT INTO stacks (workspace_ref, position, id, stash) VALUES (?, ?, ?, ?)
		`, refName, si, stack.ID, string(stack.Stash)); err != nil {
			return fmt.Errorf("inserting stack: %w", err)
		}
		for bi, b := range stack.Branches {
			if _, err := tx.Exec(`
				INSERT INTO stack_branches (workspace_ref, stack_position, position, ref, archived)
				VALUES (?, ?, ?, ?, ?)
			`, refName, si, bi, b.RefName, b.Archived); err != nil {
				return fmt.Errorf("inserting stack branch: %w", err)
			}
		}
	}

	return tx.Commit()
}

// SetBranch inserts or replaces the branch data of refName.
func (s *SQLiteStore) SetBranch(refName string, b *Branch) error {
	now := time.Now()
	created, updated := b.CreatedAt, b.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO branches (ref, description, review_url, review_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, refName, b.Description, b.ReviewURL, b.ReviewNumber, created.UnixMilli(), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting branch: %w", err)
	}
	return nil
}

// Remove deletes every record of refName.
func (s *SQLiteStore) Remove(refName string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var affected int64
	res, err := tx.Exec(`DELETE FROM workspaces WHERE ref = ?`, refName)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	n, _ := res.RowsAffected()
	affected += n
	if err := deleteWorkspace(tx, refName); err != nil {
		return err
	}
	res, err = tx.Exec(`DELETE FROM branches WHERE ref = ?`, refName)
	if err != nil {
		return fmt.Errorf("deleting branch: %w", err)
	}
	n, _ = res.RowsAffected()
	affected += n
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func deleteWorkspace(tx *sql.Tx, refName string) error {
	for _, stmt := range []string{
		`DELETE FROM stack_branches WHERE workspace_ref = ?`,
		`DELETE FROM stacks WHERE workspace_ref = ?`,
		`DELETE FROM workspaces WHERE ref = ?`,
	} {
		if _, err := tx.Exec(stmt, refName); err != nil {
			return fmt.Errorf("clearing workspace: %w", err)
		}
	}
	return nil
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
