package audit

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteSink writes audit records to a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn, configures WAL mode, and creates the
// audit table if needed.
func NewSQLite(dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "audit: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "audit: exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS validation_audit (
	id         TEXT PRIMARY KEY,
	company    TEXT NOT NULL,
	request    TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_audit_company ON validation_audit(company);
CREATE INDEX IF NOT EXISTS idx_validation_audit_created_at ON validation_audit(created_at);
`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "audit: migrate sqlite")
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_audit (id, company, request, response, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Company, string(rec.Request), string(rec.Response), rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "audit: insert record")
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
