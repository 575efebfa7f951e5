package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/company-registry/internal/model"
	"github.com/sells-group/company-registry/internal/resilience"
)

// dbtx is the query subset shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepo implements Repository using modernc.org/sqlite. SQLite
// allows a single writer at a time, which satisfies the
// overlapping-identifier ordering guarantee without extra locking.
type SQLiteRepo struct {
	db *sql.DB // nil when this instance is scoped to a transaction
	q  dbtx
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Transactions start with BEGIN IMMEDIATE so a writer takes the
// write lock before reading; two concurrent writers for the same
// identifiers then serialize instead of both observing "no prior
// version" from their own read snapshots.
func NewSQLite(dsn string) (*SQLiteRepo, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	// DSN parameters apply to every pooled connection, unlike PRAGMA
	// statements executed on one.
	dsn += sep + strings.Join([]string{
		"_txlock=immediate",
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
	}, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "repo: open sqlite")
	}
	return &SQLiteRepo{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS company_records (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	company_name TEXT NOT NULL DEFAULT '',
	isic         TEXT NOT NULL DEFAULT '',
	data_source  TEXT NOT NULL DEFAULT '',
	tax_id       TEXT NOT NULL DEFAULT '',
	org_nbr      TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	is_deleted   BOOLEAN NOT NULL DEFAULT 0,
	created      DATETIME NOT NULL,
	last_updated DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_company_records_lineage ON company_records(company_id, created DESC);
CREATE INDEX IF NOT EXISTS idx_company_records_tax_id ON company_records(tax_id);
CREATE INDEX IF NOT EXISTS idx_company_records_org_nbr ON company_records(org_nbr, country);
CREATE INDEX IF NOT EXISTS idx_company_records_name ON company_records(company_name);

CREATE TABLE IF NOT EXISTS incoming_requests (
	request_type TEXT NOT NULL,
	company_id   TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	isic         TEXT NOT NULL DEFAULT '',
	data_source  TEXT NOT NULL DEFAULT '',
	tax_id       TEXT NOT NULL DEFAULT '',
	org_nbr      TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	created      DATETIME NOT NULL
);
`

func (s *SQLiteRepo) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "repo: migrate sqlite")
}

func (s *SQLiteRepo) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteRepo) Find(ctx context.Context, matchers []FieldMatcher, atTime *time.Time) ([]model.Company, error) {
	var args []any
	where := sqliteMatcherWhere(matchers, &args)
	if atTime != nil {
		where += " AND created <= ?"
		args = append(args, atTime.UTC())
	}

	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT company_id FROM company_records WHERE `+where, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: find company ids")
	}
	ids, err := scanStringRows(rows)
	if err != nil {
		return nil, eris.Wrap(err, "repo: scan company ids")
	}

	var out []model.Company
	for _, id := range ids {
		cur, err := s.versionAsOf(ctx, id, atTime)
		if err != nil {
			return nil, err
		}
		if cur == nil || cur.IsDeleted {
			continue
		}
		out = append(out, *cur)
	}
	sortByCreated(out)
	return out, nil
}

// versionAsOf reads one lineage's version with the greatest created not
// after atTime (or the overall latest when atTime is nil).
func (s *SQLiteRepo) versionAsOf(ctx context.Context, companyID string, atTime *time.Time) (*model.Company, error) {
	query := `SELECT ` + recordColumns + ` FROM company_records WHERE company_id = ?`
	args := []any{companyID}
	if atTime != nil {
		query += ` AND created <= ?`
		args = append(args, atTime.UTC())
	}
	query += ` ORDER BY created DESC LIMIT 1`

	var c model.Company
	err := s.q.QueryRowContext(ctx, query, args...).Scan(recordDests(&c)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "repo: version of %s", companyID)
	}
	return &c, nil
}

func (s *SQLiteRepo) GetMostRecentCompany(ctx context.Context, companyID string) (*model.Company, error) {
	return s.versionAsOf(ctx, companyID, nil)
}

func (s *SQLiteRepo) InsertOrUpdate(ctx context.Context, audit model.IncomingRequest, candidate model.Company, existing *model.Company) (model.Company, string, error) {
	if err := s.insertAudit(ctx, audit); err != nil {
		return model.Company{}, "", err
	}

	if existing == nil {
		if err := s.insertRecord(ctx, candidate); err != nil {
			return model.Company{}, "", err
		}
		return candidate, msgInserted(candidate), nil
	}

	if candidate.MetadataEquals(*existing) {
		bumped, err := s.bump(ctx, *existing)
		if err != nil {
			return model.Company{}, "", err
		}
		return bumped, msgUpToDate(audit), nil
	}

	if err := s.insertRecord(ctx, candidate); err != nil {
		return model.Company{}, "", err
	}
	return candidate, msgUpdated(candidate), nil
}

func (s *SQLiteRepo) MarkDeleted(ctx context.Context, audit model.IncomingRequest, mostRecent model.Company) (model.Company, string, error) {
	if err := s.insertAudit(ctx, audit); err != nil {
		return model.Company{}, "", err
	}

	if mostRecent.IsDeleted {
		bumped, err := s.bump(ctx, mostRecent)
		if err != nil {
			return model.Company{}, "", err
		}
		return bumped, msgAlreadyDeleted(audit), nil
	}

	tombstone := model.NewTombstone(mostRecent)
	if err := s.insertRecord(ctx, tombstone); err != nil {
		return model.Company{}, "", err
	}
	return tombstone, msgDeleted(audit), nil
}

// WithTransaction runs fn in an immediate-mode transaction, retrying
// when the write lock cannot be taken within the busy timeout.
func (s *SQLiteRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if s.db == nil {
		// Already inside a transaction.
		return fn(ctx, s)
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		ShouldRetry:    isSQLiteBusy,
	}
	return resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrap(err, "repo: begin tx")
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(ctx, &SQLiteRepo{q: tx}); err != nil {
			return err
		}
		return eris.Wrap(tx.Commit(), "repo: commit tx")
	})
}

// isSQLiteBusy matches the lock-contention errors the driver surfaces
// when another connection holds the write lock past the busy timeout.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLiteRepo) CountCompanies(ctx context.Context, matchers []FieldMatcher) (int, error) {
	companies, err := s.Find(ctx, matchers, nil)
	if err != nil {
		return 0, err
	}
	return len(companies), nil
}

func (s *SQLiteRepo) ListAll(ctx context.Context) ([]model.Company, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+recordColumns+` FROM company_records ORDER BY created`)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list records")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(recordDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "repo: scan record")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteRepo) ListIncomingRequests(ctx context.Context) ([]model.IncomingRequest, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT request_type, company_id, company_name, isic, data_source, tax_id, org_nbr, country, created
		FROM incoming_requests ORDER BY created`)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list incoming requests")
	}
	defer rows.Close()

	var out []model.IncomingRequest
	for rows.Next() {
		var q model.IncomingRequest
		if err := rows.Scan(&q.RequestType, &q.CompanyID, &q.CompanyName, &q.ISIC, &q.DataSource,
			&q.TaxID, &q.OrgNbr, &q.Country, &q.Created); err != nil {
			return nil, eris.Wrap(err, "repo: scan incoming request")
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteRepo) insertRecord(ctx context.Context, c model.Company) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO company_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CompanyID, c.CompanyName, c.ISIC, c.DataSource,
		c.TaxID, c.OrgNbr, c.Country, c.IsDeleted, c.Created.UTC(), c.LastUpdated.UTC(),
	)
	return eris.Wrap(err, "repo: insert record")
}

func (s *SQLiteRepo) insertAudit(ctx context.Context, q model.IncomingRequest) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO incoming_requests (request_type, company_id, company_name, isic, data_source, tax_id, org_nbr, country, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.RequestType, q.CompanyID, q.CompanyName, q.ISIC, q.DataSource,
		q.TaxID, q.OrgNbr, q.Country, q.Created.UTC(),
	)
	return eris.Wrap(err, "repo: insert audit entry")
}

func (s *SQLiteRepo) bump(ctx context.Context, c model.Company) (model.Company, error) {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `UPDATE company_records SET last_updated = ? WHERE id = ?`, now, c.ID)
	if err != nil {
		return model.Company{}, eris.Wrapf(err, "repo: bump %s", c.ID)
	}
	c.LastUpdated = now
	return c, nil
}

func sqliteMatcherWhere(matchers []FieldMatcher, args *[]any) string {
	if len(matchers) == 0 {
		return "1=1"
	}
	clauses := make([]string, 0, len(matchers))
	for _, m := range matchers {
		clauses = append(clauses, "("+sqliteMatcherClause(m, args)+")")
	}
	return strings.Join(clauses, " OR ")
}

func sqliteMatcherClause(m FieldMatcher, args *[]any) string {
	var parts []string
	add := func(col, val string) {
		if val == "" {
			return
		}
		parts = append(parts, col+" = ?")
		*args = append(*args, val)
	}
	add("tax_id", m.TaxID)
	add("org_nbr", m.OrgNbr)
	add("country", m.Country)
	add("company_name", m.CompanyName)
	if len(parts) == 0 {
		return "1=0"
	}
	return strings.Join(parts, " AND ")
}

func scanStringRows(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
