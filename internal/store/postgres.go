package store

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-groups/internal/db"
	"github.com/sells-group/fin-groups/internal/entity"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 5174203

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	q       db.Querier
	tx      pgx.Tx
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// snapshotTx is used for traversals so one call sees one consistent graph.
var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
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
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool, closeFn: closeFn}
}

// Migrate applies the embedded migrations that have not been recorded in
// schema_migrations yet, in lexicographic order. Everything runs in one
// transaction holding a transaction-scoped advisory lock, so the lock lives on
// the same connection as the migrations and is released on commit or rollback.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return migrate(ctx, tx)
	})
}

func migrate(ctx context.Context, q db.Querier) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}

	if _, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := appliedMigrations(ctx, q)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		log.Info("applying migration", zap.String("file", name))
		if _, err := q.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := q.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, q db.Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Close releases the pool. It is a no-op on a transaction-bound store.
func (s *PostgresStore) Close() error {
	if s.tx == nil && s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, q: tx, tx: tx})
	})
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e entity.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO entities (entity_id, entity_type, name, country, tax_id, source_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (entity_id) DO UPDATE SET
			name = EXCLUDED.name,
			source_url = EXCLUDED.source_url`,
		e.ID, string(e.Type), e.Name, nullIfEmpty(e.Country), nullIfEmpty(e.TaxID), nullIfEmpty(e.SourceURL),
	)
	return eris.Wrapf(err, "postgres: upsert entity %s", e.ID)
}

func (s *PostgresStore) UpsertOwnership(ctx context.Context, o entity.Ownership) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, err
	}
	tag, err := s.q.Exec(ctx,
		`INSERT INTO ownerships (owner_id, owned_id, role, share_percent, capital_uah, control_level, source, source_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (owner_id, owned_id) DO NOTHING`,
		o.OwnerID, o.OwnedID, nullIfEmpty(o.Role), o.SharePercent, o.CapitalUAH,
		string(o.ControlLevel), o.Source, nullIfEmpty(o.SourceURL),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert ownership %s -> %s", o.OwnerID, o.OwnedID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateCrawlState(ctx context.Context, id string, typ entity.Type, status string, depth int) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO crawl_state (entity_id, entity_type, status, depth)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id) DO UPDATE SET
			status = EXCLUDED.status,
			depth = EXCLUDED.depth`,
		id, string(typ), status, depth,
	)
	return eris.Wrapf(err, "postgres: update crawl state %s", id)
}

func (s *PostgresStore) GetCrawlState(ctx context.Context, id string) (*entity.CrawlState, error) {
	cs, err := scanPostgresCrawlState(s.q.QueryRow(ctx,
		`SELECT entity_id, entity_type, status, depth FROM crawl_state WHERE entity_id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get crawl state %s", id)
	}
	return cs, nil
}

func (s *PostgresStore) ListCrawlState(ctx context.Context, status string, limit int) ([]entity.CrawlState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT entity_id, entity_type, status, depth FROM crawl_state
		 WHERE status = $1 ORDER BY depth, entity_id LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list crawl state")
	}
	defer rows.Close()

	var out []entity.CrawlState
	for rows.Next() {
		cs, err := scanPostgresCrawlState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan crawl state")
		}
		out = append(out, *cs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list crawl state iterate")
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	e, err := scanPostgresEntity(s.q.QueryRow(ctx,
		`SELECT entity_id, entity_type, name, country, tax_id, source_url FROM entities WHERE entity_id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}
	return e, nil
}

func (s *PostgresStore) GetEntityType(ctx context.Context, id string) (entity.Type, bool, error) {
	var typ string
	err := s.q.QueryRow(ctx, `SELECT entity_type FROM entities WHERE entity_id = $1`, id).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: get entity type %s", id)
	}
	return entity.Type(typ), true, nil
}

func (s *PostgresStore) ExtractGroupIDs(ctx context.Context, startID string) ([]string, error) {
	var ids []string
	walk := func(q db.Querier) error {
		var err error
		ids, err = walkComponent(ctx, startID, func(ctx context.Context, id string) ([]string, error) {
			return postgresNeighbors(ctx, q, id)
		})
		return err
	}

	var err error
	if s.tx != nil {
		err = walk(s.q)
	} else {
		err = db.WithTx(ctx, s.pool, snapshotTx, func(tx pgx.Tx) error { return walk(tx) })
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: extract group %s", startID)
	}
	zap.L().Debug("store: extracted group",
		zap.String("start_id", startID),
		zap.Int("size", len(ids)),
	)
	return ids, nil
}

func postgresNeighbors(ctx context.Context, q db.Querier, id string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT owner_id AS id FROM ownerships WHERE owned_id = $1
		 UNION
		 SELECT owned_id AS id FROM ownerships WHERE owner_id = $1`,
		id,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) GetGroup(ctx context.Context, startID string) ([]entity.Entity, error) {
	ids, err := s.ExtractGroupIDs(ctx, startID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []entity.Entity{}, nil
	}

	rows, err := s.q.Query(ctx,
		`SELECT entity_id, entity_type, name, country, tax_id, source_url FROM entities
		 WHERE entity_id = ANY($1) ORDER BY entity_id`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get group")
	}
	defer rows.Close()

	out := make([]entity.Entity, 0, len(ids))
	for rows.Next() {
		e, err := scanPostgresEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan group entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get group iterate")
}

func (s *PostgresStore) GroupOwnerships(ctx context.Context, ids []string) ([]entity.Ownership, error) {
	if len(ids) == 0 {
		return []entity.Ownership{}, nil
	}
	rows, err := s.q.Query(ctx,
		`SELECT owner_id, owned_id, role, share_percent, capital_uah, control_level, source, source_url
		 FROM ownerships
		 WHERE owner_id = ANY($1) AND owned_id = ANY($1)
		 ORDER BY owner_id, owned_id`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: group ownerships")
	}
	defer rows.Close()

	out := make([]entity.Ownership, 0)
	for rows.Next() {
		var o entity.Ownership
		var role, sourceURL *string
		var level string
		if err := rows.Scan(&o.OwnerID, &o.OwnedID, &role, &o.SharePercent, &o.CapitalUAH, &level, &o.Source, &sourceURL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ownership")
		}
		o.Role = deref(role)
		o.SourceURL = deref(sourceURL)
		o.ControlLevel = entity.ControlLevel(level)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: group ownerships iterate")
}

func (s *PostgresStore) ControlEdges(ctx context.Context, filter ControlFilter) ([]Edge, error) {
	query := `SELECT owner_id, owned_id FROM ownerships WHERE control_level = $1`
	args := []any{string(entity.ControlBeneficial)}
	if len(filter.FounderRoles) > 0 {
		query += ` OR (role = ANY($2) AND share_percent >= $3)`
		args = append(args, filter.FounderRoles, filter.FounderThreshold)
	}
	query += ` ORDER BY owner_id, owned_id`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: control edges")
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.OwnerID, &e.OwnedID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan control edge")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: control edges iterate")
}

func scanPostgresEntity(row scannable) (*entity.Entity, error) {
	var e entity.Entity
	var typ string
	var country, taxID, sourceURL *string
	if err := row.Scan(&e.ID, &typ, &e.Name, &country, &taxID, &sourceURL); err != nil {
		return nil, err
	}
	e.Type = entity.Type(typ)
	e.Country = deref(country)
	e.TaxID = deref(taxID)
	e.SourceURL = deref(sourceURL)
	return &e, nil
}

func scanPostgresCrawlState(row scannable) (*entity.CrawlState, error) {
	var cs entity.CrawlState
	var typ, status *string
	var depth *int32
	if err := row.Scan(&cs.EntityID, &typ, &status, &depth); err != nil {
		return nil, err
	}
	cs.EntityType = entity.Type(deref(typ))
	cs.Status = deref(status)
	if depth != nil {
		cs.Depth = int(*depth)
	}
	return &cs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
