package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fin-groups/internal/entity"
)

// sqliteExecutor is implemented by both *sql.DB and *sql.Tx.
type sqliteExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	q  sqliteExecutor
	tx *sql.Tx
}

// sqlitePragmas are applied to every pooled connection through the DSN, so
// foreign keys are enforced no matter which connection serves a call.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path with foreign keys and
// WAL mode enabled. An in-memory database is limited to one connection, since
// every connection would otherwise open its own empty database.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, q: db}, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" ||
		strings.HasPrefix(dsn, "file::memory:") ||
		strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(path string) string {
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	entity_id   TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	name        TEXT NOT NULL,
	country     TEXT,
	tax_id      TEXT,
	source_url  TEXT
);

CREATE TABLE IF NOT EXISTS ownerships (
	owner_id      TEXT NOT NULL REFERENCES entities(entity_id),
	owned_id      TEXT NOT NULL REFERENCES entities(entity_id),
	role          TEXT,
	share_percent REAL CHECK (share_percent IS NULL OR (share_percent >= 0 AND share_percent <= 100)),
	capital_uah   INTEGER CHECK (capital_uah IS NULL OR capital_uah >= 0),
	control_level TEXT NOT NULL,
	source        TEXT NOT NULL,
	source_url    TEXT,
	PRIMARY KEY (owner_id, owned_id)
);

CREATE TABLE IF NOT EXISTS crawl_state (
	entity_id   TEXT PRIMARY KEY,
	entity_type TEXT,
	status      TEXT,
	depth       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_owner ON ownerships(owner_id);
CREATE INDEX IF NOT EXISTS idx_owned ON ownerships(owned_id);
CREATE INDEX IF NOT EXISTS idx_crawl_state_status ON crawl_state(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close releases the database. It is a no-op on a transaction-bound store.
func (s *SQLiteStore) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&SQLiteStore{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e entity.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO entities (entity_id, entity_type, name, country, tax_id, source_url)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET
			name = excluded.name,
			source_url = excluded.source_url`,
		e.ID, string(e.Type), e.Name, nullIfEmpty(e.Country), nullIfEmpty(e.TaxID), nullIfEmpty(e.SourceURL),
	)
	return eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
}

func (s *SQLiteStore) UpsertOwnership(ctx context.Context, o entity.Ownership) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO ownerships (owner_id, owned_id, role, share_percent, capital_uah, control_level, source, source_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, owned_id) DO NOTHING`,
		o.OwnerID, o.OwnedID, nullIfEmpty(o.Role), o.SharePercent, o.CapitalUAH,
		string(o.ControlLevel), o.Source, nullIfEmpty(o.SourceURL),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert ownership %s -> %s", o.OwnerID, o.OwnedID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdateCrawlState(ctx context.Context, id string, typ entity.Type, status string, depth int) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO crawl_state (entity_id, entity_type, status, depth)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET
			status = excluded.status,
			depth = excluded.depth`,
		id, string(typ), status, depth,
	)
	return eris.Wrapf(err, "sqlite: update crawl state %s", id)
}

func (s *SQLiteStore) GetCrawlState(ctx context.Context, id string) (*entity.CrawlState, error) {
	var cs entity.CrawlState
	var typ, status sql.NullString
	var depth sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT entity_id, entity_type, status, depth FROM crawl_state WHERE entity_id = ?`, id,
	).Scan(&cs.EntityID, &typ, &status, &depth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get crawl state %s", id)
	}
	cs.EntityType = entity.Type(typ.String)
	cs.Status = status.String
	cs.Depth = int(depth.Int64)
	return &cs, nil
}

func (s *SQLiteStore) ListCrawlState(ctx context.Context, status string, limit int) ([]entity.CrawlState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT entity_id, entity_type, status, depth FROM crawl_state
		 WHERE status = ? ORDER BY depth, entity_id LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list crawl state")
	}
	defer rows.Close() //nolint:errcheck

	var out []entity.CrawlState
	for rows.Next() {
		var cs entity.CrawlState
		var typ, st sql.NullString
		var depth sql.NullInt64
		if err := rows.Scan(&cs.EntityID, &typ, &st, &depth); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crawl state")
		}
		cs.EntityType = entity.Type(typ.String)
		cs.Status = st.String
		cs.Depth = int(depth.Int64)
		out = append(out, cs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list crawl state iterate")
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT entity_id, entity_type, name, country, tax_id, source_url FROM entities WHERE entity_id = ?`, id,
	)
	e, err := scanSQLiteEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) GetEntityType(ctx context.Context, id string) (entity.Type, bool, error) {
	var typ string
	err := s.q.QueryRowContext(ctx, `SELECT entity_type FROM entities WHERE entity_id = ?`, id).Scan(&typ)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get entity type %s", id)
	}
	return entity.Type(typ), true, nil
}

func (s *SQLiteStore) ExtractGroupIDs(ctx context.Context, startID string) ([]string, error) {
	var ids []string
	err := s.WithTx(ctx, func(tx Store) error {
		q := tx.(*SQLiteStore).q
		var err error
		ids, err = walkComponent(ctx, startID, func(ctx context.Context, id string) ([]string, error) {
			return sqliteNeighbors(ctx, q, id)
		})
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: extract group %s", startID)
	}
	zap.L().Debug("store: extracted group",
		zap.String("start_id", startID),
		zap.Int("size", len(ids)),
	)
	return ids, nil
}

func sqliteNeighbors(ctx context.Context, q sqliteExecutor, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT owner_id AS id FROM ownerships WHERE owned_id = ?
		 UNION
		 SELECT owned_id AS id FROM ownerships WHERE owner_id = ?`,
		id, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetGroup(ctx context.Context, startID string) ([]entity.Entity, error) {
	ids, err := s.ExtractGroupIDs(ctx, startID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []entity.Entity{}, nil
	}

	set, err := jsonIDs(ids)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get group")
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT entity_id, entity_type, name, country, tax_id, source_url FROM entities
		 WHERE entity_id IN (SELECT value FROM json_each(?)) ORDER BY entity_id`,
		set,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get group")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]entity.Entity, 0, len(ids))
	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan group entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get group iterate")
}

func (s *SQLiteStore) GroupOwnerships(ctx context.Context, ids []string) ([]entity.Ownership, error) {
	if len(ids) == 0 {
		return []entity.Ownership{}, nil
	}
	set, err := jsonIDs(ids)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: group ownerships")
	}
	rows, err := s.q.QueryContext(ctx,
		`WITH ids(id) AS (SELECT value FROM json_each(?))
		 SELECT owner_id, owned_id, role, share_percent, capital_uah, control_level, source, source_url
		 FROM ownerships
		 WHERE owner_id IN (SELECT id FROM ids) AND owned_id IN (SELECT id FROM ids)
		 ORDER BY owner_id, owned_id`,
		set,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: group ownerships")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]entity.Ownership, 0)
	for rows.Next() {
		var o entity.Ownership
		var role, sourceURL sql.NullString
		var share sql.NullFloat64
		var capital sql.NullInt64
		var level string
		if err := rows.Scan(&o.OwnerID, &o.OwnedID, &role, &share, &capital, &level, &o.Source, &sourceURL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ownership")
		}
		o.Role = role.String
		o.SourceURL = sourceURL.String
		o.ControlLevel = entity.ControlLevel(level)
		if share.Valid {
			v := share.Float64
			o.SharePercent = &v
		}
		if capital.Valid {
			v := capital.Int64
			o.CapitalUAH = &v
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: group ownerships iterate")
}

func (s *SQLiteStore) ControlEdges(ctx context.Context, filter ControlFilter) ([]Edge, error) {
	query := `SELECT owner_id, owned_id FROM ownerships WHERE control_level = ?`
	args := []any{string(entity.ControlBeneficial)}
	if len(filter.FounderRoles) > 0 {
		query += ` OR (role IN (` + placeholders(len(filter.FounderRoles)) + `) AND share_percent >= ?)`
		args = append(args, stringArgs(filter.FounderRoles)...)
		args = append(args, filter.FounderThreshold)
	}
	query += ` ORDER BY owner_id, owned_id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: control edges")
	}
	defer rows.Close() //nolint:errcheck

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.OwnerID, &e.OwnedID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan control edge")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: control edges iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteEntity(row scannable) (*entity.Entity, error) {
	var e entity.Entity
	var typ string
	var country, taxID, sourceURL sql.NullString
	if err := row.Scan(&e.ID, &typ, &e.Name, &country, &taxID, &sourceURL); err != nil {
		return nil, err
	}
	e.Type = entity.Type(typ)
	e.Country = country.String
	e.TaxID = taxID.String
	e.SourceURL = sourceURL.String
	return &e, nil
}

// jsonIDs encodes ids as one JSON array parameter for json_each, which keeps
// large id sets clear of SQLite's bound-variable limit.
func jsonIDs(ids []string) (string, error) {
	b, err := json.Marshal(ids)
	return string(b), err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
