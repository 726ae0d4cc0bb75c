package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

const shareSchema = `
CREATE TABLE IF NOT EXISTS share_links (
	link_id    TEXT PRIMARY KEY,
	report_id  TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	revoked    INTEGER NOT NULL DEFAULT 0,
	label      TEXT
);
CREATE TABLE IF NOT EXISTS share_access (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	link_id    TEXT NOT NULL,
	ip         TEXT,
	user_agent TEXT,
	referrer   TEXT,
	timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_share_access_link ON share_access(link_id);
`

// ShareStore is the SQLite-backed share-link and access-log store.
type ShareStore struct {
	db *sqlx.DB
}

// OpenShares opens (creating if needed) the share database at path.
func OpenShares(path string) (*ShareStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open share store: %w", err)
	}
	if _, err := db.Exec(shareSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate share store: %w", err)
	}
	return &ShareStore{db: db}, nil
}

// Close releases the database handle.
func (s *ShareStore) Close() error { return s.db.Close() }

type shareRow struct {
	LinkID    string         `db:"link_id"`
	ReportID  string         `db:"report_id"`
	CreatedBy string         `db:"created_by"`
	CreatedAt string         `db:"created_at"`
	ExpiresAt sql.NullString `db:"expires_at"`
	Revoked   int            `db:"revoked"`
	Label     sql.NullString `db:"label"`
}

func (r shareRow) link() models.ShareLink {
	l := models.ShareLink{
		LinkID:    r.LinkID,
		ReportID:  r.ReportID,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		Revoked:   r.Revoked,
	}
	if r.ExpiresAt.Valid {
		l.ExpiresAt = r.ExpiresAt.String
	}
	if r.Label.Valid {
		l.Label = r.Label.String
	}
	return l
}

// CreateLink mints a share link for reportID. expiresAt may be empty for
// a non-expiring link.
func (s *ShareStore) CreateLink(ctx context.Context, reportID, createdBy, label, expiresAt string) (models.ShareLink, error) {
	link := models.ShareLink{
		LinkID:    uuid.New().String(),
		ReportID:  reportID,
		CreatedBy: createdBy,
		CreatedAt: ids.Now(),
		ExpiresAt: expiresAt,
		Label:     label,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO share_links (link_id, report_id, created_by, created_at, expires_at, revoked, label)
		 VALUES (?, ?, ?, ?, NULLIF(?, ''), 0, NULLIF(?, ''))`,
		link.LinkID, link.ReportID, link.CreatedBy, link.CreatedAt, link.ExpiresAt, link.Label)
	if err != nil {
		return models.ShareLink{}, fmt.Errorf("insert share link: %w", err)
	}
	return link, nil
}

// Get returns one link regardless of validity.
func (s *ShareStore) Get(ctx context.Context, linkID string) (models.ShareLink, error) {
	var row shareRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM share_links WHERE link_id = ?`, linkID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ShareLink{}, apperr.NotFound("share link", linkID)
	}
	if err != nil {
		return models.ShareLink{}, err
	}
	return row.link(), nil
}

// GetValid returns the link only when it is not revoked and not expired.
// Invalid links are indistinguishable from missing ones.
func (s *ShareStore) GetValid(ctx context.Context, linkID string) (models.ShareLink, error) {
	link, err := s.Get(ctx, linkID)
	if err != nil {
		return models.ShareLink{}, err
	}
	if link.Revoked != 0 {
		return models.ShareLink{}, apperr.NotFound("share link", linkID)
	}
	if link.ExpiresAt != "" && link.ExpiresAt <= ids.Now() {
		return models.ShareLink{}, apperr.NotFound("share link", linkID)
	}
	return link, nil
}

// ListLinks returns all links for a report, newest first.
func (s *ShareStore) ListLinks(ctx context.Context, reportID string) ([]models.ShareLink, error) {
	var rows []shareRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM share_links WHERE report_id = ? ORDER BY created_at DESC`, reportID)
	if err != nil {
		return nil, err
	}
	links := make([]models.ShareLink, 0, len(rows))
	for _, r := range rows {
		links = append(links, r.link())
	}
	return links, nil
}

// Revoke marks a link revoked. Conflict on double revoke.
func (s *ShareStore) Revoke(ctx context.Context, linkID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET revoked = 1 WHERE link_id = ? AND revoked = 0`, linkID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.Get(ctx, linkID); err != nil {
			return err
		}
		return apperr.Conflict("share link already revoked: %s", linkID)
	}
	return nil
}

// RecordAccess appends one visit to the access log.
func (s *ShareStore) RecordAccess(ctx context.Context, e models.AccessEntry) error {
	if e.Timestamp == "" {
		e.Timestamp = ids.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO share_access (link_id, ip, user_agent, referrer, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		e.LinkID, e.IP, e.UserAgent, e.Referrer, e.Timestamp)
	return err
}

// ListAccess returns the access log for a link, newest first.
func (s *ShareStore) ListAccess(ctx context.Context, linkID string) ([]models.AccessEntry, error) {
	var out []models.AccessEntry
	err := s.db.SelectContext(ctx, &out,
		`SELECT link_id, COALESCE(ip, '') AS ip, COALESCE(user_agent, '') AS user_agent,
		        COALESCE(referrer, '') AS referrer, timestamp
		 FROM share_access WHERE link_id = ? ORDER BY timestamp DESC`, linkID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.AccessEntry{}
	}
	return out, nil
}
