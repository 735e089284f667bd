package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pgPool is the slice of pgxpool.Pool the sink uses, satisfiable by pgxmock.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresSink writes audit records to a Postgres table via pgx.
type PostgresSink struct {
	pool pgPool
}

const pgMigration = `
CREATE TABLE IF NOT EXISTS validation_audit (
	id         TEXT PRIMARY KEY,
	company    TEXT NOT NULL,
	request    JSONB NOT NULL,
	response   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_audit_company ON validation_audit(company);
CREATE INDEX IF NOT EXISTS idx_validation_audit_created_at ON validation_audit(created_at);
`

// NewPostgres connects to connString and ensures the audit table exists.
func NewPostgres(ctx context.Context, connString string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "audit: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "audit: ping postgres")
	}
	s := &PostgresSink{pool: pool}
	if _, err := pool.Exec(ctx, pgMigration); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "audit: migrate postgres")
	}
	return s, nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO validation_audit (id, company, request, response, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Company, rec.Request, rec.Response, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "audit: insert record")
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
