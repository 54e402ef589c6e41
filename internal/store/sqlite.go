package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/cryguy/render/internal/core"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	set_name TEXT NOT NULL,
	short_id TEXT NOT NULL,
	id       TEXT NOT NULL DEFAULT '',
	name     TEXT NOT NULL,
	folder   TEXT NOT NULL DEFAULT '',
	engine   TEXT NOT NULL DEFAULT '',
	content  BLOB,
	helpers  BLOB,
	PRIMARY KEY (set_name, short_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS entities_path ON entities (set_name, folder, name);
`

// SQLite stores entities in a SQLite database. Content and helper source
// are brotli-compressed.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening entity store %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating entity schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, set string, e *core.Entity) error {
	if err := validate(set, e); err != nil {
		return err
	}
	e = normalize(e)
	content, err := compress(e.Content)
	if err != nil {
		return err
	}
	helpers, err := compress(e.Helpers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO entities (set_name, short_id, id, name, folder, engine, content, helpers)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (set_name, short_id) DO UPDATE SET
	id = excluded.id, name = excluded.name, folder = excluded.folder,
	engine = excluded.engine, content = excluded.content, helpers = excluded.helpers`,
		set, e.ShortID, e.ID, e.Name, e.Folder, e.Engine, content, helpers)
	if err != nil {
		return fmt.Errorf("storing %s/%s: %w", set, e.ShortID, err)
	}
	return nil
}

const selectEntity = `SELECT short_id, id, name, folder, engine, content, helpers FROM entities`

func (s *SQLite) Get(ctx context.Context, set, shortID string) (*core.Entity, error) {
	row := s.db.QueryRowContext(ctx, selectEntity+` WHERE set_name = ? AND short_id = ?`, set, shortID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *SQLite) List(ctx context.Context, set string) ([]*core.Entity, error) {
	rows, err := s.db.QueryContext(ctx, selectEntity+` WHERE set_name = ? ORDER BY folder, name`, set)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", set, err)
	}
	defer rows.Close()
	var out []*core.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) ResolvePath(ctx context.Context, e *core.Entity, set string) (string, error) {
	var folder, name string
	err := s.db.QueryRowContext(ctx,
		`SELECT folder, name FROM entities WHERE set_name = ? AND short_id = ?`, set, e.ShortID).
		Scan(&folder, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return EntityPath(&core.Entity{Folder: folder, Name: name}), nil
}

func (s *SQLite) ResolveFromPath(ctx context.Context, p, set, currentPath string) (*core.Entity, error) {
	folder, name := split(Resolve(p, currentPath))
	row := s.db.QueryRowContext(ctx, selectEntity+` WHERE set_name = ? AND folder = ? AND name = ?`, set, folder, name)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*core.Entity, error) {
	var (
		e                core.Entity
		content, helpers []byte
	)
	if err := row.Scan(&e.ShortID, &e.ID, &e.Name, &e.Folder, &e.Engine, &content, &helpers); err != nil {
		return nil, err
	}
	var err error
	if e.Content, err = decompress(content); err != nil {
		return nil, fmt.Errorf("decoding content of %s: %w", e.ShortID, err)
	}
	if e.Helpers, err = decompress(helpers); err != nil {
		return nil, fmt.Errorf("decoding helpers of %s: %w", e.ShortID, err)
	}
	return &e, nil
}

func compress(s string) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := io.WriteString(w, s); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
