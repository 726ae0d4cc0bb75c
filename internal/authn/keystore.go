// Package authn owns the API-key store: hash-on-insert keys in an embedded
// SQLite table, lookup by hash, revocation. Raw keys exist only in the
// creation response.
package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	key_hash   TEXT NOT NULL UNIQUE,
	key_prefix TEXT NOT NULL,
	created_at TEXT NOT NULL,
	revoked_at TEXT,
	scopes     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);
`

// KeyStore is the SQLite-backed API-key store. The single connection is
// serialized by the engine; callers share one instance.
type KeyStore struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the key database at path.
func Open(path string) (*KeyStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key store: %w", err)
	}
	return &KeyStore{db: db}, nil
}

// Close releases the database handle.
func (s *KeyStore) Close() error { return s.db.Close() }

type keyRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	KeyHash   string         `db:"key_hash"`
	KeyPrefix string         `db:"key_prefix"`
	CreatedAt string         `db:"created_at"`
	RevokedAt sql.NullString `db:"revoked_at"`
	Scopes    string         `db:"scopes"`
}

func (r keyRow) public() models.APIKey {
	k := models.APIKey{
		ID:        r.ID,
		Name:      r.Name,
		KeyPrefix: r.KeyPrefix,
		CreatedAt: r.CreatedAt,
	}
	if r.RevokedAt.Valid {
		k.RevokedAt = r.RevokedAt.String
	}
	if err := json.Unmarshal([]byte(r.Scopes), &k.Scopes); err != nil || k.Scopes == nil {
		k.Scopes = []string{}
	}
	return k
}

// Create mints a raw key "vk_" + 64 hex chars, stores only its SHA-256,
// and returns the public fields plus the raw key. The raw key is never
// retrievable again.
func (s *KeyStore) Create(ctx context.Context, name string, scopes []string) (models.APIKey, string, error) {
	if name == "" {
		return models.APIKey{}, "", apperr.Validation("key name is required")
	}
	raw, err := mintRawKey()
	if err != nil {
		return models.APIKey{}, "", err
	}
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return models.APIKey{}, "", err
	}

	row := keyRow{
		ID:        ids.New(),
		Name:      name,
		KeyHash:   HashKey(raw),
		KeyPrefix: raw[:7],
		CreatedAt: ids.Now(),
		Scopes:    string(scopesJSON),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, scopes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.Name, row.KeyHash, row.KeyPrefix, row.CreatedAt, row.Scopes)
	if err != nil {
		return models.APIKey{}, "", fmt.Errorf("insert key: %w", err)
	}
	pub := row.public()
	pub.Scopes = scopes
	return pub, raw, nil
}

// Verify hashes raw and looks the key up by hash. Returns NotFound when
// the key is unknown or revoked.
func (s *KeyStore) Verify(ctx context.Context, raw string) (models.APIKey, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM api_keys WHERE key_hash = ?`, HashKey(raw))
	if errors.Is(err, sql.ErrNoRows) {
		return models.APIKey{}, apperr.NotFound("api key", "by hash")
	}
	if err != nil {
		return models.APIKey{}, err
	}
	if row.RevokedAt.Valid {
		return models.APIKey{}, apperr.NotFound("api key", "by hash")
	}
	return row.public(), nil
}

// Get returns the public fields of one key by id.
func (s *KeyStore) Get(ctx context.Context, id string) (models.APIKey, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM api_keys WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.APIKey{}, apperr.NotFound("api key", id)
	}
	if err != nil {
		return models.APIKey{}, err
	}
	return row.public(), nil
}

// List returns all keys, newest first, public fields only.
func (s *KeyStore) List(ctx context.Context) ([]models.APIKey, error) {
	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM api_keys ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	keys := make([]models.APIKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.public())
	}
	return keys, nil
}

// Revoke sets revoked_at only when it is currently null. Returns Conflict
// on double revoke and NotFound for an unknown id.
func (s *KeyStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		ids.Now(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return apperr.Conflict("api key already revoked: %s", id)
	}
	return nil
}

// HashKey returns the SHA-256 hex of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func mintRawKey() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("mint key: %w", err)
	}
	return "vk_" + hex.EncodeToString(buf[:]), nil
}
