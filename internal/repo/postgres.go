package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/company-registry/internal/model"
	"github.com/sells-group/company-registry/internal/resilience"
)

// Querier is the query subset shared by a pgx pool and a pgx
// transaction, so the same repository code runs inside and outside
// WithTransaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the pgxpool surface the repository needs. Satisfied by
// *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresRepo implements Repository on PostgreSQL via pgx. Transaction
// scoping works by value: WithTransaction hands fn a copy whose Querier
// is the open transaction.
type PostgresRepo struct {
	pool Pool // nil when this instance is scoped to a transaction
	q    Querier
}

// NewPostgres creates a PostgresRepo with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresRepo, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "repo: parse postgres config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "repo: connect postgres")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool, q: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS company_records (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	company_name TEXT NOT NULL DEFAULT '',
	isic         TEXT NOT NULL DEFAULT '',
	data_source  TEXT NOT NULL DEFAULT '',
	tax_id       TEXT NOT NULL DEFAULT '',
	org_nbr      TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	is_deleted   BOOLEAN NOT NULL DEFAULT false,
	created      TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_company_records_lineage ON company_records(company_id, created DESC);
CREATE INDEX IF NOT EXISTS idx_company_records_tax_id ON company_records(tax_id) WHERE tax_id <> '';
CREATE INDEX IF NOT EXISTS idx_company_records_org_nbr ON company_records(org_nbr, country) WHERE org_nbr <> '';
CREATE INDEX IF NOT EXISTS idx_company_records_name ON company_records(company_name) WHERE company_name <> '';

CREATE TABLE IF NOT EXISTS incoming_requests (
	request_type TEXT NOT NULL,
	company_id   TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	isic         TEXT NOT NULL DEFAULT '',
	data_source  TEXT NOT NULL DEFAULT '',
	tax_id       TEXT NOT NULL DEFAULT '',
	org_nbr      TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	created      TIMESTAMPTZ NOT NULL
);
`

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	_, err := r.q.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "repo: migrate postgres")
}

func (r *PostgresRepo) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// recordColumns is the standard column list for company record queries.
const recordColumns = `id, company_id, company_name, isic, data_source, tax_id, org_nbr, country, is_deleted, created, last_updated`

func recordDests(c *model.Company) []any {
	return []any{
		&c.ID, &c.CompanyID, &c.CompanyName, &c.ISIC, &c.DataSource,
		&c.TaxID, &c.OrgNbr, &c.Country, &c.IsDeleted, &c.Created, &c.LastUpdated,
	}
}

// Find resolves matching lineages in two steps: collect the distinct
// company ids with any matching version, then read each lineage's
// version as of atTime and drop tombstones.
func (r *PostgresRepo) Find(ctx context.Context, matchers []FieldMatcher, atTime *time.Time) ([]model.Company, error) {
	var args []any
	where := matcherWhere(matchers, &args)
	if atTime != nil {
		args = append(args, *atTime)
		where += placeholderf(" AND created <= $%d", len(args))
	}

	rows, err := r.q.Query(ctx, `SELECT DISTINCT company_id FROM company_records WHERE `+where, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: find company ids")
	}
	ids, err := scanStrings(rows)
	if err != nil {
		return nil, eris.Wrap(err, "repo: scan company ids")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	versionSQL := `
		SELECT DISTINCT ON (company_id) ` + recordColumns + `
		FROM company_records
		WHERE company_id = ANY($1)`
	versionArgs := []any{ids}
	if atTime != nil {
		versionSQL += ` AND created <= $2`
		versionArgs = append(versionArgs, *atTime)
	}
	versionSQL += ` ORDER BY company_id, created DESC`

	rows, err = r.q.Query(ctx, versionSQL, versionArgs...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: find versions")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(recordDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "repo: scan record")
		}
		if c.IsDeleted {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "repo: find versions")
	}
	sortByCreated(out)
	return out, nil
}

func (r *PostgresRepo) GetMostRecentCompany(ctx context.Context, companyID string) (*model.Company, error) {
	var c model.Company
	err := r.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM company_records
		WHERE company_id = $1
		ORDER BY created DESC
		LIMIT 1`, companyID).
		Scan(recordDests(&c)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "repo: get most recent %s", companyID)
	}
	return &c, nil
}

func (r *PostgresRepo) InsertOrUpdate(ctx context.Context, audit model.IncomingRequest, candidate model.Company, existing *model.Company) (model.Company, string, error) {
	if err := r.insertAudit(ctx, audit); err != nil {
		return model.Company{}, "", err
	}

	if existing == nil {
		if err := r.insertRecord(ctx, candidate); err != nil {
			return model.Company{}, "", err
		}
		return candidate, msgInserted(candidate), nil
	}

	if candidate.MetadataEquals(*existing) {
		bumped, err := r.bump(ctx, *existing)
		if err != nil {
			return model.Company{}, "", err
		}
		return bumped, msgUpToDate(audit), nil
	}

	if err := r.insertRecord(ctx, candidate); err != nil {
		return model.Company{}, "", err
	}
	return candidate, msgUpdated(candidate), nil
}

func (r *PostgresRepo) MarkDeleted(ctx context.Context, audit model.IncomingRequest, mostRecent model.Company) (model.Company, string, error) {
	if err := r.insertAudit(ctx, audit); err != nil {
		return model.Company{}, "", err
	}

	if mostRecent.IsDeleted {
		bumped, err := r.bump(ctx, mostRecent)
		if err != nil {
			return model.Company{}, "", err
		}
		return bumped, msgAlreadyDeleted(audit), nil
	}

	tombstone := model.NewTombstone(mostRecent)
	if err := r.insertRecord(ctx, tombstone); err != nil {
		return model.Company{}, "", err
	}
	return tombstone, msgDeleted(audit), nil
}

// WithTransaction runs fn in a serializable pgx transaction, retrying
// on serialization conflicts (SQLSTATE 40001/40P01) so concurrent
// writes for overlapping identifiers serialize instead of both
// observing "no prior version".
func (r *PostgresRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		// Already inside a transaction.
		return fn(ctx, r)
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		ShouldRetry:    isSerializationFailure,
	}
	return resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return eris.Wrap(err, "repo: begin tx")
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if err := fn(ctx, &PostgresRepo{q: tx}); err != nil {
			return err
		}
		return eris.Wrap(tx.Commit(ctx), "repo: commit tx")
	})
}

func (r *PostgresRepo) CountCompanies(ctx context.Context, matchers []FieldMatcher) (int, error) {
	companies, err := r.Find(ctx, matchers, nil)
	if err != nil {
		return 0, err
	}
	return len(companies), nil
}

func (r *PostgresRepo) ListAll(ctx context.Context) ([]model.Company, error) {
	rows, err := r.q.Query(ctx, `SELECT `+recordColumns+` FROM company_records ORDER BY created`)
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

func (r *PostgresRepo) ListIncomingRequests(ctx context.Context) ([]model.IncomingRequest, error) {
	rows, err := r.q.Query(ctx, `
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

func (r *PostgresRepo) insertRecord(ctx context.Context, c model.Company) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO company_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.CompanyID, c.CompanyName, c.ISIC, c.DataSource,
		c.TaxID, c.OrgNbr, c.Country, c.IsDeleted, c.Created, c.LastUpdated,
	)
	return eris.Wrap(err, "repo: insert record")
}

func (r *PostgresRepo) insertAudit(ctx context.Context, q model.IncomingRequest) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO incoming_requests (request_type, company_id, company_name, isic, data_source, tax_id, org_nbr, country, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.RequestType, q.CompanyID, q.CompanyName, q.ISIC, q.DataSource,
		q.TaxID, q.OrgNbr, q.Country, q.Created,
	)
	return eris.Wrap(err, "repo: insert audit entry")
}

func (r *PostgresRepo) bump(ctx context.Context, c model.Company) (model.Company, error) {
	now := time.Now().UTC()
	_, err := r.q.Exec(ctx, `UPDATE company_records SET last_updated = $2 WHERE id = $1`, c.ID, now)
	if err != nil {
		return model.Company{}, eris.Wrapf(err, "repo: bump %s", c.ID)
	}
	c.LastUpdated = now
	return c, nil
}

// matcherWhere renders a matcher disjunction as SQL, appending
// positional args. An empty list matches everything.
func matcherWhere(matchers []FieldMatcher, args *[]any) string {
	if len(matchers) == 0 {
		return "TRUE"
	}
	clause := ""
	for i, m := range matchers {
		if i > 0 {
			clause += " OR "
		}
		clause += "(" + matcherClause(m, args) + ")"
	}
	return clause
}

func matcherClause(m FieldMatcher, args *[]any) string {
	clause := ""
	add := func(col, val string) {
		if val == "" {
			return
		}
		if clause != "" {
			clause += " AND "
		}
		*args = append(*args, val)
		clause += placeholderf(col+" = $%d", len(*args))
	}
	add("tax_id", m.TaxID)
	add("org_nbr", m.OrgNbr)
	add("country", m.Country)
	add("company_name", m.CompanyName)
	if clause == "" {
		return "FALSE"
	}
	return clause
}

func scanStrings(rows pgx.Rows) ([]string, error) {
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

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
