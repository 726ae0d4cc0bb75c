// Package configstore is the fleet-wide key-value configuration store.
// Secret values are masked on read unless explicitly revealed or
// exported for agent environment injection.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Entry types.
const (
	TypeConfig = "config"
	TypeSecret = "secret"
)

const schema = `
CREATE TABLE IF NOT EXISTS config_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'config',
	updated_at TEXT NOT NULL
);
`

// Store is the SQLite-backed config KV.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the config database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate config store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Set upserts one entry. entryType defaults to config.
func (s *Store) Set(ctx context.Context, key, value, entryType string) (models.ConfigEntry, error) {
	if strings.TrimSpace(key) == "" {
		return models.ConfigEntry{}, apperr.Validation("key is required")
	}
	if entryType == "" {
		entryType = TypeConfig
	}
	if entryType != TypeConfig && entryType != TypeSecret {
		return models.ConfigEntry{}, apperr.Validation("unknown entry type: %s", entryType)
	}
	e := models.ConfigEntry{
		Key:       key,
		Value:     value,
		Type:      entryType,
		UpdatedAt: ids.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_entries (key, value, type, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, type = excluded.type, updated_at = excluded.updated_at`,
		e.Key, e.Value, e.Type, e.UpdatedAt)
	if err != nil {
		return models.ConfigEntry{}, err
	}
	return e, nil
}

// Get returns one entry, masked unless reveal is set.
func (s *Store) Get(ctx context.Context, key string, reveal bool) (models.ConfigEntry, error) {
	var e models.ConfigEntry
	err := s.db.GetContext(ctx, &e, `SELECT * FROM config_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConfigEntry{}, apperr.NotFound("config entry", key)
	}
	if err != nil {
		return models.ConfigEntry{}, err
	}
	if !reveal {
		e = mask(e)
	}
	return e, nil
}

// List returns all entries sorted by key, masked unless reveal is set.
func (s *Store) List(ctx context.Context, reveal bool) ([]models.ConfigEntry, error) {
	var out []models.ConfigEntry
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM config_entries ORDER BY key`)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.ConfigEntry{}
	}
	if !reveal {
		for i := range out {
			out[i] = mask(out[i])
		}
	}
	return out, nil
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_entries WHERE key = ?`, key)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("config entry", key)
	}
	return nil
}

// Env renders every entry as KEY=value lines for injection into an
// agent's environment. Secrets are never masked here.
func (s *Store) Env(ctx context.Context) (string, error) {
	entries, err := s.List(ctx, true)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Key)
		b.WriteString("=")
		b.WriteString(e.Value)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// mask hides a secret value, leaving a recognizable prefix.
func mask(e models.ConfigEntry) models.ConfigEntry {
	if e.Type != TypeSecret {
		return e
	}
	if len(e.Value) > 6 {
		e.Value = e.Value[:6] + "***"
	} else {
		e.Value = "***"
	}
	return e
}
