// Package postgres persists selected contacts and answers blocklist queries
// against PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

// DBPool is the subset of *pgxpool.Pool used here; pgxmock satisfies it.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping postgres")
	}
	return pool, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS prospect_contacts (
	id TEXT PRIMARY KEY,
	prospect_id TEXT NOT NULL,
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	source_metadata JSONB,
	confidence_score INTEGER NOT NULL,
	score_breakdown JSONB NOT NULL,
	tier TEXT NOT NULL,
	verification_status TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (prospect_id, email)
);
CREATE TABLE IF NOT EXISTS email_blocklist (
	email TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_email_blocklist_email ON email_blocklist (email);
CREATE INDEX IF NOT EXISTS idx_email_blocklist_domain ON email_blocklist (domain);
`

// InitSchema creates the contact and blocklist tables when missing.
func InitSchema(ctx context.Context, pool DBPool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return eris.Wrap(err, "create schema")
	}
	return nil
}

type Repository struct {
	pool DBPool
	now  func() time.Time
}

func NewRepository(pool DBPool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

const insertContactSQL = `
INSERT INTO prospect_contacts (
	id, prospect_id, email, name, title, linkedin_url, source, source_metadata,
	confidence_score, score_breakdown, tier, verification_status, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (prospect_id, email) DO NOTHING`

// Create stores one selected contact for a prospect. Re-running a job for the
// same prospect does not duplicate rows.
func (r *Repository) Create(ctx context.Context, prospectID string, c contact.Scored) error {
	meta, err := json.Marshal(c.SourceMetadata)
	if err != nil {
		return eris.Wrap(err, "encode source metadata")
	}
	breakdown, err := json.Marshal(c.Breakdown)
	if err != nil {
		return eris.Wrap(err, "encode score breakdown")
	}
	_, err = r.pool.Exec(ctx, insertContactSQL,
		uuid.NewString(),
		prospectID,
		c.Email,
		c.Name,
		c.Title,
		c.LinkedInURL,
		string(c.Source),
		meta,
		c.ConfidenceScore,
		breakdown,
		string(c.Tier),
		string(c.VerificationStatus),
		r.now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "insert contact for prospect %s", prospectID)
	}
	return nil
}

type Blocklist struct {
	pool DBPool
}

func NewBlocklist(pool DBPool) *Blocklist {
	return &Blocklist{pool: pool}
}

const blockedSQL = `
SELECT EXISTS (
	SELECT 1 FROM email_blocklist
	WHERE email = $1 OR (domain <> '' AND domain = $2)
)`

// IsEmailBlocked matches the exact address or a whole-domain block.
func (b *Blocklist) IsEmailBlocked(ctx context.Context, email string) (bool, error) {
	email = contact.NormalizeEmail(email)
	var blocked bool
	if err := b.pool.QueryRow(ctx, blockedSQL, email, contact.DomainOf(email)).Scan(&blocked); err != nil {
		return false, eris.Wrap(err, "query blocklist")
	}
	return blocked, nil
}
