// Package ledger is the append-only audit store for manifests, seals, and
// auth events. All writes go through pgx against PostgreSQL; the only
// mutation to an existing row is the race-safe mark-executed transition on
// a seal.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay/internal/model"
)

// ErrNotFound is returned when a manifest, seal, or auth event lookup finds
// no row.
var ErrNotFound = errors.New("ledger: not found")

// Ledger is the repository for manifests, seals, and auth events.
type Ledger struct {
	db *pgxpool.Pool
}

// New creates a Ledger backed by the given pool.
func New(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

// WriteManifestAndSeal inserts a manifest and its seal in a single
// transaction. Both rows are committed together or neither is — a manifest
// never exists in the ledger without its decision, and vice versa.
func (l *Ledger) WriteManifestAndSeal(ctx context.Context, m *model.Manifest, s *model.Seal) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertManifest(ctx, tx, m); err != nil {
		return err
	}
	if err := insertSeal(ctx, tx, s); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertManifest(ctx context.Context, tx pgx.Tx, m *model.Manifest) error {
	params, err := json.Marshal(m.Action.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	raw := m.RawDocument
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	const query = `
		INSERT INTO manifests (
			manifest_id, created_at, agent_id, org_id, user_id,
			provider, method, parameters, reasoning, confidence,
			environment, raw_document
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		)`

	_, err = tx.Exec(ctx, query,
		m.ManifestID, m.CreatedAt, m.Agent.AgentID, m.Agent.OrgID, m.Agent.UserID,
		m.Action.Provider, m.Action.Method, params, m.Justification.Reasoning, m.Justification.Confidence,
		m.Environment, []byte(raw),
	)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func insertSeal(ctx context.Context, tx pgx.Tx, s *model.Seal) error {
	const query = `
		INSERT INTO seals (
			seal_id, manifest_id, approved, policy_version, denial_reason,
			signature, public_key, issued_at, expires_at, executed, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err := tx.Exec(ctx, query,
		s.SealID, s.ManifestID, s.Approved, s.PolicyVersion, s.DenialReason,
		s.Signature, s.PublicKey, s.IssuedAt, s.ExpiresAt, s.Executed, s.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert seal: %w", err)
	}
	return nil
}

// WriteAuthEvent inserts a single auth event row. Called synchronously at
// the point the auth decision is made, before the HTTP response is sent.
func (l *Ledger) WriteAuthEvent(ctx context.Context, e *model.AuthEvent) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	const query = `
		INSERT INTO auth_events (
			event_id, event_type, agent_id, org_id, endpoint,
			ip, success, failure_reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`
	_, err := l.db.Exec(ctx, query,
		e.EventID, e.EventType, e.AgentID, e.OrgID, e.Endpoint,
		e.IP, e.Success, e.FailureReason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert auth event: %w", err)
	}
	return nil
}

// GetManifest retrieves a manifest by ID.
func (l *Ledger) GetManifest(ctx context.Context, id uuid.UUID) (*model.Manifest, error) {
	const query = `
		SELECT manifest_id, created_at, agent_id, org_id, user_id,
		       provider, method, parameters, reasoning, confidence,
		       environment, raw_document
		FROM manifests WHERE manifest_id = $1`

	row := l.db.QueryRow(ctx, query, id)
	return scanManifest(row)
}

func scanManifest(row pgx.Row) (*model.Manifest, error) {
	var m model.Manifest
	var params, raw []byte
	err := row.Scan(
		&m.ManifestID, &m.CreatedAt, &m.Agent.AgentID, &m.Agent.OrgID, &m.Agent.UserID,
		&m.Action.Provider, &m.Action.Method, &params, &m.Justification.Reasoning, &m.Justification.Confidence,
		&m.Environment, &raw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	var p json.RawMessage
	if err := json.Unmarshal(params, &p); err == nil {
		m.Action.Parameters = p
	}
	m.RawDocument = raw
	return &m, nil
}

// GetSeal retrieves a seal by ID.
func (l *Ledger) GetSeal(ctx context.Context, sealID string) (*model.Seal, error) {
	const query = `
		SELECT seal_id, manifest_id, approved, policy_version, denial_reason,
		       signature, public_key, issued_at, expires_at, executed, executed_at
		FROM seals WHERE seal_id = $1`

	row := l.db.QueryRow(ctx, query, sealID)
	var s model.Seal
	err := row.Scan(
		&s.SealID, &s.ManifestID, &s.Approved, &s.PolicyVersion, &s.DenialReason,
		&s.Signature, &s.PublicKey, &s.IssuedAt, &s.ExpiresAt, &s.Executed, &s.ExecutedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan seal: %w", err)
	}
	return &s, nil
}

// MarkExecuted atomically transitions a seal to executed, consuming its
// one-time use. The conditional WHERE executed = false makes this safe
// under concurrent callers racing to mark the same seal — only one UPDATE
// can affect a row, so only one caller observes RowsAffected() == 1. This
// is a deliberate strengthening of the original check-then-set logic, which
// was not itself race-safe.
func (l *Ledger) MarkExecuted(ctx context.Context, sealID string) error {
	const query = `
		UPDATE seals SET executed = true, executed_at = now()
		WHERE seal_id = $1 AND executed = false`

	tag, err := l.db.Exec(ctx, query, sealID)
	if err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Either the seal doesn't exist, or it was already executed (possibly by
	// a concurrent caller that won the race). Disambiguate for the caller.
	if _, err := l.GetSeal(ctx, sealID); err != nil {
		return err // ErrNotFound
	}
	return ErrAlreadyExecuted
}

// ErrAlreadyExecuted is returned by MarkExecuted when the seal exists but
// was already consumed.
var ErrAlreadyExecuted = errors.New("ledger: seal already executed")

// QueryFilter narrows a manifest query. ApprovedOnly is tri-state: nil
// means no filter on decision, true means approved-only, false means
// denied-only.
type QueryFilter struct {
	OrgID        string
	AgentID      string
	Provider     string
	ApprovedOnly *bool
	Limit        int
	Offset       int
}

// Record is one audit row: a manifest joined with its seal's decision
// fields. Seal-derived fields are nil when the manifest has no seal yet
// (e.g. a dry-run submission, which never reaches insertSeal).
type Record struct {
	*model.Manifest
	SealID        *string
	Approved      *bool
	PolicyVersion *string
	DenialReason  *string
	WasExecuted   *bool
}

// Query returns manifests matching the filter joined with their seals,
// newest first. The seal join is always a LEFT JOIN so manifests without a
// seal still appear; when ApprovedOnly is set it additionally filters on
// the joined seal's decision.
func (l *Ledger) Query(ctx context.Context, f QueryFilter) ([]*Record, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	var (
		where []string
		args  []any
		idx   = 1
	)
	add := func(cond string, val any) {
		where = append(where, fmt.Sprintf(cond, idx))
		args = append(args, val)
		idx++
	}
	if f.OrgID != "" {
		add("m.org_id = $%d", f.OrgID)
	}
	if f.AgentID != "" {
		add("m.agent_id = $%d", f.AgentID)
	}
	if f.Provider != "" {
		add("m.provider = $%d", f.Provider)
	}
	if f.ApprovedOnly != nil {
		add("s.approved = $%d", *f.ApprovedOnly)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + joinOr(where, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT m.manifest_id, m.created_at, m.agent_id, m.org_id, m.user_id,
		       m.provider, m.method, m.parameters, m.reasoning, m.confidence,
		       m.environment, m.raw_document,
		       s.seal_id, s.approved, s.policy_version, s.denial_reason, s.executed
		FROM manifests m
		LEFT JOIN seals s ON s.manifest_id = m.manifest_id
		%s
		ORDER BY m.created_at DESC
		LIMIT $%d OFFSET $%d`, whereClause, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanManifestRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanManifestRecord(row pgx.Row) (*Record, error) {
	var m model.Manifest
	var params, raw []byte
	var r Record
	err := row.Scan(
		&m.ManifestID, &m.CreatedAt, &m.Agent.AgentID, &m.Agent.OrgID, &m.Agent.UserID,
		&m.Action.Provider, &m.Action.Method, &params, &m.Justification.Reasoning, &m.Justification.Confidence,
		&m.Environment, &raw,
		&r.SealID, &r.Approved, &r.PolicyVersion, &r.DenialReason, &r.WasExecuted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan manifest record: %w", err)
	}
	var p json.RawMessage
	if err := json.Unmarshal(params, &p); err == nil {
		m.Action.Parameters = p
	}
	m.RawDocument = raw
	r.Manifest = &m
	return &r, nil
}

func joinOr(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Stats is the aggregate audit summary returned by GET /v1/audit/stats.
type Stats struct {
	TotalManifests int     `json:"total_manifests"`
	Approved       int     `json:"approved"`
	Denied         int     `json:"denied"`
	Executed       int     `json:"executed"`
	ApprovalRate   float64 `json:"approval_rate"`
}

// StatsFor computes aggregate counts, optionally scoped to an org.
func (l *Ledger) StatsFor(ctx context.Context, orgID string) (*Stats, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE true) AS total,
			count(*) FILTER (WHERE s.approved) AS approved,
			count(*) FILTER (WHERE NOT s.approved) AS denied,
			count(*) FILTER (WHERE s.executed) AS executed
		FROM manifests m
		JOIN seals s ON s.manifest_id = m.manifest_id`
	var args []any
	if orgID != "" {
		query += " WHERE m.org_id = $1"
		args = append(args, orgID)
	}

	var st Stats
	row := l.db.QueryRow(ctx, query, args...)
	if err := row.Scan(&st.TotalManifests, &st.Approved, &st.Denied, &st.Executed); err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	if st.TotalManifests > 0 {
		rate := float64(st.Approved) / float64(st.TotalManifests) * 100
		st.ApprovalRate = roundTo2(rate)
	}
	return &st, nil
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
