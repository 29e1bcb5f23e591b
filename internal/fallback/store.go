package fallback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	apperrors "hdxscraper/internal/errors"
)

// Store persists fallback sets between runs.
type Store interface {
	Load(ctx context.Context) (*Set, error)
	Save(ctx context.Context, set *Set) error
}

// FileStore keeps the set in a JSON file.
type FileStore struct {
	Path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the file. A missing file is a NotFound error.
func (s *FileStore) Load(ctx context.Context) (*Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NewNotFoundError("fallback file " + s.Path)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("read fallback file", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, apperrors.NewFormatError("fallback file "+s.Path, err)
	}
	return set, nil
}

// Save writes the file, creating its directory.
func (s *FileStore) Save(ctx context.Context, set *Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("encode fallback set", err)
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.NewStorageError("create fallback dir", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return apperrors.NewStorageError("write fallback file", err)
	}
	return nil
}

// PostgresStore keeps named sets in a Postgres table as JSONB.
type PostgresStore struct {
	db   *sql.DB
	name string

	schemaOnce sync.Once
	schemaErr  error
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn, name string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, apperrors.NewStorageError("open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.NewStorageError("ping postgres", err)
	}
	return NewPostgresStore(db, name), nil
}

// NewPostgresStore wraps an open database. name selects the row, "latest"
// when empty.
func NewPostgresStore(db *sql.DB, name string) *PostgresStore {
	if strings.TrimSpace(name) == "" {
		name = "latest"
	}
	return &PostgresStore{db: db, name: name}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS scraper_fallbacks (
    name TEXT PRIMARY KEY,
    content JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);`)
	})
	return s.schemaErr
}

// Load implements Store
func (s *PostgresStore) Load(ctx context.Context) (*Set, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, apperrors.NewStorageError("fallback schema", err)
	}
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM scraper_fallbacks WHERE name=$1`, s.name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("fallback set " + s.name)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("load fallback set", err)
	}
	set, err := Parse(content)
	if err != nil {
		return nil, apperrors.NewFormatError("fallback set "+s.name, err)
	}
	return set, nil
}

// Save implements Store
func (s *PostgresStore) Save(ctx context.Context, set *Set) error {
	if err := s.ensureSchema(ctx); err != nil {
		return apperrors.NewStorageError("fallback schema", err)
	}
	content, err := json.Marshal(set)
	if err != nil {
		return apperrors.NewStorageError("encode fallback set", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scraper_fallbacks (name, content, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name)
DO UPDATE SET content=EXCLUDED.content, updated_at=EXCLUDED.updated_at
`, s.name, content, time.Now().UTC())
	if err != nil {
		return apperrors.NewStorageError("save fallback set", err)
	}
	return nil
}

// Close releases the database.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
