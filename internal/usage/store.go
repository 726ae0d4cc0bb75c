// Package usage is the accounting layer: per-session token and cost
// records plus VM lifecycle records, with time-ranged rollups. It runs
// on an embedded analytic engine so summary queries stay cheap as the
// history grows.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL,
	agent             TEXT NOT NULL,
	parent_agent      TEXT,
	model             TEXT,
	tokens_input      BIGINT NOT NULL DEFAULT 0,
	tokens_output     BIGINT NOT NULL DEFAULT 0,
	tokens_cache_read BIGINT NOT NULL DEFAULT 0,
	tokens_cache_write BIGINT NOT NULL DEFAULT 0,
	tokens_total      BIGINT NOT NULL DEFAULT 0,
	cost_input        DOUBLE NOT NULL DEFAULT 0,
	cost_output       DOUBLE NOT NULL DEFAULT 0,
	cost_cache_read   DOUBLE NOT NULL DEFAULT 0,
	cost_cache_write  DOUBLE NOT NULL DEFAULT 0,
	cost_total        DOUBLE NOT NULL DEFAULT 0,
	turns             INTEGER NOT NULL DEFAULT 0,
	tool_calls        TEXT,
	started_at        TEXT,
	ended_at          TEXT,
	recorded_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vm_records (
	id           TEXT PRIMARY KEY,
	vm_id        TEXT NOT NULL,
	role         TEXT,
	agent        TEXT,
	commit_id    TEXT,
	created_at   TEXT,
	destroyed_at TEXT,
	recorded_at  TEXT NOT NULL
);
`

var rangePattern = regexp.MustCompile(`^(\d+)(h|d)$`)

// Store is the DuckDB-backed usage store.
type Store struct {
	db *sqlx.DB

	// now is the clock; tests swap it for a fake.
	now func() time.Time
}

// Open opens (creating if needed) the usage database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SessionInput is the accepted shape for session accounting.
type SessionInput struct {
	SessionID   string            `json:"sessionId"`
	Agent       string            `json:"agent"`
	ParentAgent string            `json:"parentAgent"`
	Model       string            `json:"model"`
	Tokens      models.TokenUsage `json:"tokens"`
	Cost        models.CostUsage  `json:"cost"`
	Turns       int               `json:"turns"`
	ToolCalls   map[string]int    `json:"toolCalls"`
	StartedAt   string            `json:"startedAt"`
	EndedAt     string            `json:"endedAt"`
}

func (in SessionInput) validate() error {
	if in.SessionID == "" {
		return apperr.Validation("sessionId is required")
	}
	if in.Agent == "" {
		return apperr.Validation("agent is required")
	}
	if in.Turns < 0 {
		return apperr.Validation("turns cannot be negative")
	}
	return nil
}

func (in SessionInput) record(id, recordedAt string) models.SessionRecord {
	rec := models.SessionRecord{
		ID:          id,
		SessionID:   in.SessionID,
		Agent:       in.Agent,
		ParentAgent: in.ParentAgent,
		Model:       in.Model,
		Tokens:      in.Tokens,
		Cost:        in.Cost,
		Turns:       in.Turns,
		ToolCalls:   in.ToolCalls,
		StartedAt:   in.StartedAt,
		EndedAt:     in.EndedAt,
		RecordedAt:  recordedAt,
	}
	if rec.ToolCalls == nil {
		rec.ToolCalls = map[string]int{}
	}
	return rec
}

// RecordSession inserts a new session row.
func (s *Store) RecordSession(ctx context.Context, in SessionInput) (models.SessionRecord, error) {
	if err := in.validate(); err != nil {
		return models.SessionRecord{}, err
	}
	rec := in.record(ids.New(), ids.Format(s.now()))
	if rec.StartedAt == "" {
		rec.StartedAt = rec.RecordedAt
	}
	if err := s.insertSession(ctx, rec); err != nil {
		return models.SessionRecord{}, err
	}
	return rec, nil
}

// UpsertSession updates the row with the given business key, keeping its
// id and startedAt, or inserts when no such row exists. Agents use it to
// flush in-flight sessions repeatedly under one sessionId.
func (s *Store) UpsertSession(ctx context.Context, sessionID string, in SessionInput) (models.SessionRecord, error) {
	in.SessionID = sessionID
	if err := in.validate(); err != nil {
		return models.SessionRecord{}, err
	}

	existing, err := s.sessionByBusinessKey(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.RecordSession(ctx, in)
	}
	if err != nil {
		return models.SessionRecord{}, err
	}

	rec := in.record(existing.ID, ids.Format(s.now()))
	rec.StartedAt = existing.StartedAt
	toolCalls, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		return models.SessionRecord{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET
			agent = ?, parent_agent = ?, model = ?,
			tokens_input = ?, tokens_output = ?, tokens_cache_read = ?, tokens_cache_write = ?, tokens_total = ?,
			cost_input = ?, cost_output = ?, cost_cache_read = ?, cost_cache_write = ?, cost_total = ?,
			turns = ?, tool_calls = ?, ended_at = ?, recorded_at = ?
		WHERE id = ?`,
		rec.Agent, rec.ParentAgent, rec.Model,
		rec.Tokens.Input, rec.Tokens.Output, rec.Tokens.CacheRead, rec.Tokens.CacheWrite, rec.Tokens.Total,
		rec.Cost.Input, rec.Cost.Output, rec.Cost.CacheRead, rec.Cost.CacheWrite, rec.Cost.Total,
		rec.Turns, string(toolCalls), rec.EndedAt, rec.RecordedAt,
		rec.ID)
	if err != nil {
		return models.SessionRecord{}, err
	}
	return rec, nil
}

func (s *Store) insertSession(ctx context.Context, rec models.SessionRecord) error {
	toolCalls, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, session_id, agent, parent_agent, model,
			tokens_input, tokens_output, tokens_cache_read, tokens_cache_write, tokens_total,
			cost_input, cost_output, cost_cache_read, cost_cache_write, cost_total,
			turns, tool_calls, started_at, ended_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Agent, rec.ParentAgent, rec.Model,
		rec.Tokens.Input, rec.Tokens.Output, rec.Tokens.CacheRead, rec.Tokens.CacheWrite, rec.Tokens.Total,
		rec.Cost.Input, rec.Cost.Output, rec.Cost.CacheRead, rec.Cost.CacheWrite, rec.Cost.Total,
		rec.Turns, string(toolCalls), rec.StartedAt, rec.EndedAt, rec.RecordedAt)
	return err
}

type sessionRow struct {
	ID               string         `db:"id"`
	SessionID        string         `db:"session_id"`
	Agent            string         `db:"agent"`
	ParentAgent      sql.NullString `db:"parent_agent"`
	Model            sql.NullString `db:"model"`
	TokensInput      int64          `db:"tokens_input"`
	TokensOutput     int64          `db:"tokens_output"`
	TokensCacheRead  int64          `db:"tokens_cache_read"`
	TokensCacheWrite int64          `db:"tokens_cache_write"`
	TokensTotal      int64          `db:"tokens_total"`
	CostInput        float64        `db:"cost_input"`
	CostOutput       float64        `db:"cost_output"`
	CostCacheRead    float64        `db:"cost_cache_read"`
	CostCacheWrite   float64        `db:"cost_cache_write"`
	CostTotal        float64        `db:"cost_total"`
	Turns            int            `db:"turns"`
	ToolCalls        sql.NullString `db:"tool_calls"`
	StartedAt        sql.NullString `db:"started_at"`
	EndedAt          sql.NullString `db:"ended_at"`
	RecordedAt       string         `db:"recorded_at"`
}

func (r sessionRow) record() models.SessionRecord {
	rec := models.SessionRecord{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Agent:       r.Agent,
		ParentAgent: r.ParentAgent.String,
		Model:       r.Model.String,
		Tokens: models.TokenUsage{
			Input:      r.TokensInput,
			Output:     r.TokensOutput,
			CacheRead:  r.TokensCacheRead,
			CacheWrite: r.TokensCacheWrite,
			Total:      r.TokensTotal,
		},
		Cost: models.CostUsage{
			Input:      r.CostInput,
			Output:     r.CostOutput,
			CacheRead:  r.CostCacheRead,
			CacheWrite: r.CostCacheWrite,
			Total:      r.CostTotal,
		},
		Turns:      r.Turns,
		ToolCalls:  map[string]int{},
		StartedAt:  r.StartedAt.String,
		EndedAt:    r.EndedAt.String,
		RecordedAt: r.RecordedAt,
	}
	if r.ToolCalls.Valid && r.ToolCalls.String != "" {
		_ = json.Unmarshal([]byte(r.ToolCalls.String), &rec.ToolCalls)
	}
	return rec
}

func (s *Store) sessionByBusinessKey(ctx context.Context, sessionID string) (models.SessionRecord, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM sessions WHERE session_id = ? ORDER BY recorded_at DESC LIMIT 1`, sessionID)
	if err != nil {
		return models.SessionRecord{}, err
	}
	return row.record(), nil
}

// VMInput is the accepted shape for VM accounting.
type VMInput struct {
	VMID        string `json:"vmId"`
	Role        string `json:"role"`
	Agent       string `json:"agent"`
	CommitID    string `json:"commitId"`
	CreatedAt   string `json:"createdAt"`
	DestroyedAt string `json:"destroyedAt"`
}

// RecordVM inserts a VM lifecycle row. When destroyedAt is supplied and
// a prior row with the same vmId exists, that row's destroyed_at is
// updated instead.
func (s *Store) RecordVM(ctx context.Context, in VMInput) (models.VMRecord, error) {
	if in.VMID == "" {
		return models.VMRecord{}, apperr.Validation("vmId is required")
	}
	now := ids.Format(s.now())

	if in.DestroyedAt != "" {
		var existing models.VMRecord
		err := s.db.GetContext(ctx, &existing, `
			SELECT id, vm_id, COALESCE(role, '') AS role, COALESCE(agent, '') AS agent,
			       COALESCE(commit_id, '') AS commit_id, COALESCE(created_at, '') AS created_at,
			       COALESCE(destroyed_at, '') AS destroyed_at, recorded_at
			FROM vm_records WHERE vm_id = ? ORDER BY recorded_at DESC LIMIT 1`, in.VMID)
		if err == nil {
			_, uerr := s.db.ExecContext(ctx,
				`UPDATE vm_records SET destroyed_at = ?, recorded_at = ? WHERE id = ?`,
				in.DestroyedAt, now, existing.ID)
			if uerr != nil {
				return models.VMRecord{}, uerr
			}
			existing.DestroyedAt = in.DestroyedAt
			existing.RecordedAt = now
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.VMRecord{}, err
		}
	}

	rec := models.VMRecord{
		ID:          ids.New(),
		VMID:        in.VMID,
		Role:        in.Role,
		Agent:       in.Agent,
		CommitID:    in.CommitID,
		CreatedAt:   in.CreatedAt,
		DestroyedAt: in.DestroyedAt,
		RecordedAt:  now,
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vm_records (id, vm_id, role, agent, commit_id, created_at, destroyed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.VMID, rec.Role, rec.Agent, rec.CommitID, rec.CreatedAt, rec.DestroyedAt, rec.RecordedAt)
	if err != nil {
		return models.VMRecord{}, err
	}
	return rec, nil
}

// cutoff converts a range like "24h" or "7d" into an ISO cutoff.
// Anything else means all history.
func (s *Store) cutoff(rng string) string {
	m := rangePattern.FindStringSubmatch(rng)
	if m == nil {
		return ids.Format(time.Unix(0, 0))
	}
	n, _ := strconv.Atoi(m[1])
	d := time.Duration(n) * time.Hour
	if m[2] == "d" {
		d = time.Duration(n) * 24 * time.Hour
	}
	return ids.Format(s.now().Add(-d))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Summary rolls up sessions and VMs recorded after the range cutoff.
func (s *Store) Summary(ctx context.Context, rng string) (models.UsageSummary, error) {
	cutoff := s.cutoff(rng)
	sum := models.UsageSummary{Range: rng, ByAgent: []models.AgentUsage{}}

	var totals struct {
		Tokens   sql.NullInt64   `db:"tokens"`
		Cost     sql.NullFloat64 `db:"cost"`
		Sessions int             `db:"sessions"`
	}
	err := s.db.GetContext(ctx, &totals, `
		SELECT COALESCE(SUM(tokens_total), 0) AS tokens,
		       COALESCE(SUM(cost_total), 0) AS cost,
		       COUNT(*) AS sessions
		FROM sessions WHERE recorded_at >= ?`, cutoff)
	if err != nil {
		return models.UsageSummary{}, err
	}
	sum.Tokens = totals.Tokens.Int64
	sum.Cost = round2(totals.Cost.Float64)
	sum.Sessions = totals.Sessions

	// Raw row count, not deduplicated by vm_id.
	if err := s.db.GetContext(ctx, &sum.VMs,
		`SELECT COUNT(*) FROM vm_records WHERE recorded_at >= ?`, cutoff); err != nil {
		return models.UsageSummary{}, err
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT agent,
		       COALESCE(SUM(tokens_total), 0) AS tokens,
		       COALESCE(SUM(cost_total), 0) AS cost,
		       COUNT(*) AS sessions
		FROM sessions WHERE recorded_at >= ?
		GROUP BY agent ORDER BY cost DESC`, cutoff)
	if err != nil {
		return models.UsageSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.AgentUsage
		if err := rows.Scan(&a.Agent, &a.Tokens, &a.Cost, &a.Sessions); err != nil {
			return models.UsageSummary{}, err
		}
		a.Cost = round2(a.Cost)
		sum.ByAgent = append(sum.ByAgent, a)
	}
	return sum, rows.Err()
}

// ListFilter selects accounting rows for listing.
type ListFilter struct {
	Agent string
	Role  string
	Range string
}

// ListSessions returns sessions after the range cutoff, newest first.
func (s *Store) ListSessions(ctx context.Context, f ListFilter) ([]models.SessionRecord, error) {
	q := `SELECT * FROM sessions WHERE recorded_at >= ?`
	args := []any{s.cutoff(f.Range)}
	if f.Agent != "" {
		q += ` AND agent = ?`
		args = append(args, f.Agent)
	}
	q += ` ORDER BY recorded_at DESC`

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]models.SessionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// ListVMs returns VM rows after the range cutoff, newest first,
// deduplicated by vm_id keeping the most recent record.
func (s *Store) ListVMs(ctx context.Context, f ListFilter) ([]models.VMRecord, error) {
	q := `
		SELECT id, vm_id, COALESCE(role, '') AS role, COALESCE(agent, '') AS agent,
		       COALESCE(commit_id, '') AS commit_id, COALESCE(created_at, '') AS created_at,
		       COALESCE(destroyed_at, '') AS destroyed_at, recorded_at
		FROM vm_records WHERE recorded_at >= ?`
	args := []any{s.cutoff(f.Range)}
	if f.Agent != "" {
		q += ` AND agent = ?`
		args = append(args, f.Agent)
	}
	if f.Role != "" {
		q += ` AND role = ?`
		args = append(args, f.Role)
	}
	q += ` ORDER BY recorded_at DESC`

	var all []models.VMRecord
	if err := s.db.SelectContext(ctx, &all, q, args...); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(all))
	out := []models.VMRecord{}
	for _, rec := range all {
		if seen[rec.VMID] {
			continue
		}
		seen[rec.VMID] = true
		out = append(out, rec)
	}
	return out, nil
}
