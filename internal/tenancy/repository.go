// Package tenancy manages organizations and agents: the registry that
// authgate consults to resolve a bearer token's claims into an active
// caller, and that the registration endpoints mutate.
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay/internal/model"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting the insert
// helpers below run standalone or as part of a caller's transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrNotFound is returned when an organization or agent lookup finds no row.
var ErrNotFound = errors.New("tenancy: not found")

// Repository provides CRUD operations for organizations and agents.
type Repository struct {
	db *pgxpool.Pool
}

// New creates a Repository backed by the given pool.
func New(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateOrg inserts a new organization.
func (r *Repository) CreateOrg(ctx context.Context, org *model.Organization) error {
	return insertOrg(ctx, r.db, org)
}

// CreateOrgWithAdmin inserts an organization and its admin agent in a single
// transaction, so a failure partway through never leaves an org with no
// admin agent.
func (r *Repository) CreateOrgWithAdmin(ctx context.Context, org *model.Organization, admin *model.Agent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertOrg(ctx, tx, org); err != nil {
		return err
	}
	if err := insertAgent(ctx, tx, admin); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertOrg(ctx context.Context, db execer, org *model.Organization) error {
	const query = `
		INSERT INTO organizations (org_id, name, contact_email, created_at, active)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := db.Exec(ctx, query, org.OrgID, org.Name, org.ContactEmail, org.CreatedAt, org.Active)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// GetOrg retrieves an organization by ID.
func (r *Repository) GetOrg(ctx context.Context, orgID string) (*model.Organization, error) {
	const query = `SELECT org_id, name, contact_email, created_at, active FROM organizations WHERE org_id = $1`
	row := r.db.QueryRow(ctx, query, orgID)
	var o model.Organization
	if err := row.Scan(&o.OrgID, &o.Name, &o.ContactEmail, &o.CreatedAt, &o.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	return &o, nil
}

// OrgExists reports whether an org_id is already in use (used to detect
// collisions when minting a fresh random org ID).
func (r *Repository) OrgExists(ctx context.Context, orgID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM organizations WHERE org_id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, orgID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check organization exists: %w", err)
	}
	return exists, nil
}

// CreateAgent inserts a new agent.
func (r *Repository) CreateAgent(ctx context.Context, a *model.Agent) error {
	return insertAgent(ctx, r.db, a)
}

func insertAgent(ctx context.Context, db execer, a *model.Agent) error {
	const query = `
		INSERT INTO agents (agent_id, org_id, name, description, created_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := db.Exec(ctx, query, a.AgentID, a.OrgID, a.Name, a.Description, a.CreatedAt, a.Active)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// AgentExists reports whether an agent_id is already in use.
func (r *Repository) AgentExists(ctx context.Context, agentID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM agents WHERE agent_id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, agentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check agent exists: %w", err)
	}
	return exists, nil
}

// GetAgent retrieves an agent by ID. Satisfies the narrow agent-lookup
// interface authgate depends on.
func (r *Repository) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	const query = `SELECT agent_id, org_id, name, description, created_at, active FROM agents WHERE agent_id = $1`
	row := r.db.QueryRow(ctx, query, agentID)
	var a model.Agent
	if err := row.Scan(&a.AgentID, &a.OrgID, &a.Name, &a.Description, &a.CreatedAt, &a.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}

// ListAgentsByOrg returns every agent belonging to an org.
func (r *Repository) ListAgentsByOrg(ctx context.Context, orgID string) ([]*model.Agent, error) {
	const query = `SELECT agent_id, org_id, name, description, created_at, active FROM agents WHERE org_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(&a.AgentID, &a.OrgID, &a.Name, &a.Description, &a.CreatedAt, &a.Active); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
