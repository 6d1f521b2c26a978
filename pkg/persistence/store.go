// Package persistence saves and restores curation snapshots in a SQLite file.
//
// A snapshot is the wholesale content of a raster store plus the cell type
// labels. Each layer is kept as a JSON blob so a round trip is exact.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"cinacgt/pkg/raster"
)

var (
	// ErrNotFound is returned when no snapshot has the requested id
	ErrNotFound = errors.New("snapshot not found")
)

// Snapshot is one saved state of a curation session
type Snapshot struct {
	ID        uuid.UUID
	Name      string
	Cells     int
	Frames    int
	Layers    raster.Snapshot
	CellTypes []string
	SavedAt   time.Time
}

// Summary describes a saved snapshot without its layers
type Summary struct {
	ID      uuid.UUID
	Name    string
	Cells   int
	Frames  int
	SavedAt time.Time
}

// Store persists snapshots in SQLite
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if path == "" {
		path = "cinacgt.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			n_cells INTEGER NOT NULL,
			n_frames INTEGER NOT NULL,
			cell_types BLOB NOT NULL,
			saved_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS layers (
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			layer TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (snapshot_id, layer)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database path
func (s *Store) Path() string { return s.path }

// Close closes the database
func (s *Store) Close() error { return s.db.Close() }

// Save writes snap, replacing any snapshot with the same id. A zero id is
// replaced by a fresh one. Every layer must be Cells x Frames.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (retErr error) {
	if err := checkShape(snap); err != nil {
		return err
	}
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	cellTypes, err := json.Marshal(snap.CellTypes)
	if err != nil {
		return fmt.Errorf("encode cell types: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	id := snap.ID.String()
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots(id,name,n_cells,n_frames,cell_types,saved_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, n_cells=excluded.n_cells, n_frames=excluded.n_frames,
		cell_types=excluded.cell_types, saved_at=excluded.saved_at`,
		id, snap.Name, snap.Cells, snap.Frames, cellTypes, snap.SavedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE snapshot_id = ?`, id); err != nil {
		return fmt.Errorf("clear layers: %w", err)
	}
	for _, layer := range raster.Layers {
		matrix, ok := snap.Layers[layer]
		if !ok {
			continue
		}
		data, err := json.Marshal(matrix)
		if err != nil {
			return fmt.Errorf("encode %s: %w", layer, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO layers(snapshot_id,layer,payload) VALUES(?,?,?)`, id, layer.String(), data); err != nil {
			return fmt.Errorf("insert %s: %w", layer, err)
		}
	}
	return tx.Commit()
}

func checkShape(snap *Snapshot) error {
	if snap.Cells < 1 || snap.Frames < 1 {
		return fmt.Errorf("%w: %d cells x %d frames", raster.ErrShapeMismatch, snap.Cells, snap.Frames)
	}
	if snap.CellTypes != nil && len(snap.CellTypes) != snap.Cells {
		return fmt.Errorf("%w: %d cell types for %d cells", raster.ErrShapeMismatch, len(snap.CellTypes), snap.Cells)
	}
	for layer, m := range snap.Layers {
		if len(m) != snap.Cells {
			return fmt.Errorf("%w: %s has %d cells, expected %d", raster.ErrShapeMismatch, layer, len(m), snap.Cells)
		}
		for c, row := range m {
			if len(row) != snap.Frames {
				return fmt.Errorf("%w: %s cell %d has %d frames, expected %d", raster.ErrShapeMismatch, layer, c, len(row), snap.Frames)
			}
		}
	}
	return nil
}

// Load reads the snapshot with the given id
func (s *Store) Load(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{ID: id, Layers: make(raster.Snapshot)}
	var cellTypes []byte
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT name, n_cells, n_frames, cell_types, saved_at FROM snapshots WHERE id = ?`, id.String()).
		Scan(&snap.Name, &snap.Cells, &snap.Frames, &cellTypes, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	if err := json.Unmarshal(cellTypes, &snap.CellTypes); err != nil {
		return nil, fmt.Errorf("decode cell types: %w", err)
	}
	if snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return nil, fmt.Errorf("decode saved_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT layer, payload FROM layers WHERE snapshot_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("select layers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		layer, ok := raster.ParseLayer(name)
		if !ok {
			return nil, fmt.Errorf("unknown layer %q", name)
		}
		var m [][]int8
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		snap.Layers[layer] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// List returns every saved snapshot, most recent first
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, n_cells, n_frames, saved_at FROM snapshots ORDER BY saved_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var id, savedAt string
		if err := rows.Scan(&id, &sum.Name, &sum.Cells, &sum.Frames, &savedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("decode id: %w", err)
		}
		if sum.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
			return nil, fmt.Errorf("decode saved_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a snapshot and its layers
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE snapshot_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete layers: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}
