package business

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leadfactory/leadfactory/internal/db"
	"github.com/leadfactory/leadfactory/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "business: parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "business: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "business: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	domain           TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	contact_name     TEXT NOT NULL DEFAULT '',
	geo_bucket       TEXT NOT NULL,
	vert_bucket      TEXT NOT NULL,
	campaign_id      TEXT NOT NULL DEFAULT '',
	last_enriched_at TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_businesses_buckets ON businesses(geo_bucket, vert_bucket);
CREATE INDEX IF NOT EXISTS idx_businesses_last_enriched ON businesses(last_enriched_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "business: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Import(ctx context.Context, businesses []model.Business) (int64, error) {
	rows := make([][]any, 0, len(businesses))
	now := time.Now().UTC()
	for _, b := range businesses {
		rows = append(rows, []any{b.ID, b.Name, b.Domain, b.Email, b.ContactName, b.GeoBucket, b.VertBucket, b.CampaignID, b.LastEnrichedAt, now})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "businesses",
		Columns:      []string{"id", "name", "domain", "email", "contact_name", "geo_bucket", "vert_bucket", "campaign_id", "last_enriched_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"name", "domain", "geo_bucket", "vert_bucket", "campaign_id", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "business: import")
}

func (s *PostgresStore) Segments(ctx context.Context, olderThan time.Duration) ([]model.Segment, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.pool.Query(ctx,
		`SELECT geo_bucket, vert_bucket, COUNT(*) FILTER (WHERE last_enriched_at IS NULL OR last_enriched_at < $1)
		 FROM businesses
		 GROUP BY geo_bucket, vert_bucket
		 ORDER BY 3 DESC`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "business: segments")
	}
	defer rows.Close()

	var segments []model.Segment
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.GeoBucket, &seg.VertBucket, &seg.Pending); err != nil {
			return nil, eris.Wrap(err, "business: scan segment")
		}
		segments = append(segments, seg)
	}
	return segments, eris.Wrap(rows.Err(), "business: segments iterate")
}

func (s *PostgresStore) ListStale(ctx context.Context, geo, vert string, olderThan time.Duration, limit int) ([]model.Business, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, domain, email, contact_name, geo_bucket, vert_bucket, campaign_id, last_enriched_at
		 FROM businesses
		 WHERE geo_bucket = $1 AND vert_bucket = $2
		   AND (last_enriched_at IS NULL OR last_enriched_at < $3)
		 ORDER BY last_enriched_at ASC NULLS FIRST
		 LIMIT $4`,
		geo, vert, cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "business: list stale %s/%s", geo, vert)
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		var b model.Business
		if err := rows.Scan(&b.ID, &b.Name, &b.Domain, &b.Email, &b.ContactName, &b.GeoBucket, &b.VertBucket, &b.CampaignID, &b.LastEnrichedAt); err != nil {
			return nil, eris.Wrap(err, "business: scan business")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "business: list stale iterate")
}

func (s *PostgresStore) StampEnriched(ctx context.Context, b model.Business, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses
		 SET domain = $1, email = $2, contact_name = $3, last_enriched_at = $4, updated_at = $4
		 WHERE id = $5`,
		b.Domain, b.Email, b.ContactName, at.UTC(), b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "business: stamp enriched %s", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", b.ID)
	}
	return nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM businesses WHERE last_enriched_at IS NULL`,
	).Scan(&count)
	return count, eris.Wrap(err, "business: count pending")
}
