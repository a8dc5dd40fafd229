package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leadfactory/leadfactory/internal/db"
	"github.com/leadfactory/leadfactory/internal/model"
)

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection. The
// record insert runs on every gated provider call, so it is the hot path.
var preparedStatements = map[string]string{
	"insert_cost_record": `INSERT INTO cost_records (id, provider, operation, cost_usd, lead_id, campaign_id, request_id, metadata, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "ledger: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ledger: ping")
	}
	return &PostgresLedger{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests and by callers
// that share one pool across stores.
func NewPostgresWithPool(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cost_records (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	operation   TEXT NOT NULL,
	cost_usd    DOUBLE PRECISION NOT NULL CHECK (cost_usd >= 0),
	lead_id     TEXT NOT NULL DEFAULT '',
	campaign_id TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cost_records_provider_recorded ON cost_records(provider, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_cost_records_campaign ON cost_records(campaign_id);
CREATE INDEX IF NOT EXISTS idx_cost_records_recorded_at ON cost_records(recorded_at);

CREATE TABLE IF NOT EXISTS daily_cost_aggregates (
	day            DATE NOT NULL,
	provider       TEXT NOT NULL,
	operation      TEXT NOT NULL DEFAULT '',
	campaign_id    TEXT NOT NULL DEFAULT '',
	total_cost_usd DOUBLE PRECISION NOT NULL,
	request_count  BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (day, provider, operation, campaign_id)
);

CREATE INDEX IF NOT EXISTS idx_daily_aggregates_provider ON daily_cost_aggregates(provider, day DESC);
`

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "ledger: migrate")
}

func (l *PostgresLedger) Close() error {
	if l.closeFn != nil {
		l.closeFn()
	}
	return nil
}

func (l *PostgresLedger) Record(ctx context.Context, rec model.CostRecord) error {
	if rec.Provider == "" {
		return eris.New("ledger: record missing provider")
	}
	if rec.CostUSD < 0 {
		return eris.Errorf("ledger: negative cost %.4f for %s", rec.CostUSD, rec.Provider)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if len(rec.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "ledger: marshal metadata")
		}
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO cost_records (id, provider, operation, cost_usd, lead_id, campaign_id, request_id, metadata, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Provider, rec.Operation, rec.CostUSD,
		rec.LeadID, rec.CampaignID, rec.RequestID, metadataJSON, rec.RecordedAt,
	)
	return eris.Wrapf(err, "ledger: insert cost record for %s", rec.Provider)
}

func (l *PostgresLedger) ProviderCosts(ctx context.Context, provider string, days int) (*model.ProviderCosts, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := l.pool.Query(ctx,
		`SELECT operation, COALESCE(SUM(cost_usd), 0), COUNT(*)
		 FROM cost_records
		 WHERE provider = $1 AND recorded_at >= $2
		 GROUP BY operation
		 ORDER BY SUM(cost_usd) DESC`,
		provider, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: provider costs for %s", provider)
	}
	defer rows.Close()

	pc := &model.ProviderCosts{Provider: provider, Days: days}
	for rows.Next() {
		var oc model.OperationCosts
		if err := rows.Scan(&oc.Operation, &oc.TotalCostUSD, &oc.RequestCount); err != nil {
			return nil, eris.Wrap(err, "ledger: scan operation costs")
		}
		pc.TotalCostUSD += oc.TotalCostUSD
		pc.RequestCount += oc.RequestCount
		pc.ByOperation = append(pc.ByOperation, oc)
	}
	return pc, eris.Wrap(rows.Err(), "ledger: provider costs iterate")
}

func (l *PostgresLedger) CampaignCosts(ctx context.Context, campaignID string) (*model.CampaignCosts, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT provider, operation, COALESCE(SUM(cost_usd), 0), COUNT(*)
		 FROM cost_records
		 WHERE campaign_id = $1
		 GROUP BY provider, operation
		 ORDER BY SUM(cost_usd) DESC`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: campaign costs for %s", campaignID)
	}
	defer rows.Close()

	cc := &model.CampaignCosts{CampaignID: campaignID}
	for rows.Next() {
		var po model.ProviderOperationCosts
		if err := rows.Scan(&po.Provider, &po.Operation, &po.TotalCostUSD, &po.RequestCount); err != nil {
			return nil, eris.Wrap(err, "ledger: scan campaign costs")
		}
		cc.TotalCostUSD += po.TotalCostUSD
		cc.RequestCount += po.RequestCount
		cc.Breakdown = append(cc.Breakdown, po)
	}
	return cc, eris.Wrap(rows.Err(), "ledger: campaign costs iterate")
}

func (l *PostgresLedger) SumCosts(ctx context.Context, f Filter) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM cost_records WHERE true`
	args := []any{}
	argIdx := 1

	if f.Provider != "" {
		query += fmt.Sprintf(` AND provider = $%d`, argIdx)
		args = append(args, f.Provider)
		argIdx++
	}
	if f.Operation != "" {
		query += fmt.Sprintf(` AND operation = $%d`, argIdx)
		args = append(args, f.Operation)
		argIdx++
	}
	if f.CampaignID != "" {
		query += fmt.Sprintf(` AND campaign_id = $%d`, argIdx)
		args = append(args, f.CampaignID)
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(` AND recorded_at >= $%d`, argIdx)
		args = append(args, f.Since)
		argIdx++
	}

	var total float64
	err := l.pool.QueryRow(ctx, query, args...).Scan(&total)
	return total, eris.Wrap(err, "ledger: sum costs")
}

func (l *PostgresLedger) AggregateDaily(ctx context.Context, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := l.pool.Query(ctx,
		`SELECT provider, operation, campaign_id, COALESCE(SUM(cost_usd), 0), COUNT(*)
		 FROM cost_records
		 WHERE recorded_at >= $1 AND recorded_at < $2
		 GROUP BY provider, operation, campaign_id`,
		dayStart, dayEnd,
	)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: aggregate query")
	}
	defer rows.Close()

	now := time.Now().UTC()
	var upsertRows [][]any
	for rows.Next() {
		var provider, operation, campaignID string
		var total float64
		var count int64
		if err := rows.Scan(&provider, &operation, &campaignID, &total, &count); err != nil {
			return 0, eris.Wrap(err, "ledger: scan aggregate row")
		}
		upsertRows = append(upsertRows, []any{dayStart, provider, operation, campaignID, total, count, now, now})
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "ledger: aggregate iterate")
	}

	return db.BulkUpsert(ctx, l.pool, db.UpsertConfig{
		Table:        "daily_cost_aggregates",
		Columns:      []string{"day", "provider", "operation", "campaign_id", "total_cost_usd", "request_count", "created_at", "updated_at"},
		ConflictKeys: []string{"day", "provider", "operation", "campaign_id"},
		UpdateCols:   []string{"total_cost_usd", "request_count", "updated_at"},
	}, upsertRows)
}

func (l *PostgresLedger) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, eris.Errorf("ledger: daysToKeep must be positive, got %d", daysToKeep)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	tag, err := l.pool.Exec(ctx,
		`DELETE FROM cost_records WHERE recorded_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: cleanup")
	}
	return tag.RowsAffected(), nil
}
