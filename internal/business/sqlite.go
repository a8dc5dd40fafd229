package business

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leadfactory/leadfactory/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "business: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "business: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	domain           TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	contact_name     TEXT NOT NULL DEFAULT '',
	geo_bucket       TEXT NOT NULL,
	vert_bucket      TEXT NOT NULL,
	campaign_id      TEXT NOT NULL DEFAULT '',
	last_enriched_at DATETIME,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_buckets ON businesses(geo_bucket, vert_bucket);
CREATE INDEX IF NOT EXISTS idx_businesses_last_enriched ON businesses(last_enriched_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "business: sqlite migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Import(ctx context.Context, businesses []model.Business) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "business: sqlite begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, b := range businesses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO businesses (id, name, domain, email, contact_name, geo_bucket, vert_bucket, campaign_id, last_enriched_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   name = excluded.name, domain = excluded.domain,
			   geo_bucket = excluded.geo_bucket, vert_bucket = excluded.vert_bucket,
			   campaign_id = excluded.campaign_id, updated_at = excluded.updated_at`,
			b.ID, b.Name, b.Domain, b.Email, b.ContactName, b.GeoBucket, b.VertBucket, b.CampaignID, b.LastEnrichedAt, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "business: sqlite import %s", b.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "business: sqlite commit import")
	}
	return n, nil
}

func (s *SQLiteStore) Segments(ctx context.Context, olderThan time.Duration) ([]model.Segment, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx,
		`SELECT geo_bucket, vert_bucket,
		        SUM(CASE WHEN last_enriched_at IS NULL OR last_enriched_at < ? THEN 1 ELSE 0 END)
		 FROM businesses
		 GROUP BY geo_bucket, vert_bucket
		 ORDER BY 3 DESC`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "business: sqlite segments")
	}
	defer rows.Close()

	var segments []model.Segment
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.GeoBucket, &seg.VertBucket, &seg.Pending); err != nil {
			return nil, eris.Wrap(err, "business: sqlite scan segment")
		}
		segments = append(segments, seg)
	}
	return segments, eris.Wrap(rows.Err(), "business: sqlite segments iterate")
}

func (s *SQLiteStore) ListStale(ctx context.Context, geo, vert string, olderThan time.Duration, limit int) ([]model.Business, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, domain, email, contact_name, geo_bucket, vert_bucket, campaign_id, last_enriched_at
		 FROM businesses
		 WHERE geo_bucket = ? AND vert_bucket = ?
		   AND (last_enriched_at IS NULL OR last_enriched_at < ?)
		 ORDER BY last_enriched_at IS NOT NULL, last_enriched_at ASC
		 LIMIT ?`,
		geo, vert, cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "business: sqlite list stale %s/%s", geo, vert)
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		var b model.Business
		if err := rows.Scan(&b.ID, &b.Name, &b.Domain, &b.Email, &b.ContactName, &b.GeoBucket, &b.VertBucket, &b.CampaignID, &b.LastEnrichedAt); err != nil {
			return nil, eris.Wrap(err, "business: sqlite scan business")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "business: sqlite list stale iterate")
}

func (s *SQLiteStore) StampEnriched(ctx context.Context, b model.Business, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses
		 SET domain = ?, email = ?, contact_name = ?, last_enriched_at = ?, updated_at = ?
		 WHERE id = ?`,
		b.Domain, b.Email, b.ContactName, at.UTC(), at.UTC(), b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "business: sqlite stamp enriched %s", b.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "business: sqlite rows affected")
	}
	if n == 0 {
		return eris.Errorf("business not found: %s", b.ID)
	}
	return nil
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM businesses WHERE last_enriched_at IS NULL`,
	).Scan(&count)
	return count, eris.Wrap(err, "business: sqlite count pending")
}
