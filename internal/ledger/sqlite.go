package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leadfactory/leadfactory/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "ledger: sqlite exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cost_records (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	operation   TEXT NOT NULL,
	cost_usd    REAL NOT NULL CHECK (cost_usd >= 0),
	lead_id     TEXT NOT NULL DEFAULT '',
	campaign_id TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_records_provider_recorded ON cost_records(provider, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_cost_records_campaign ON cost_records(campaign_id);
CREATE INDEX IF NOT EXISTS idx_cost_records_recorded_at ON cost_records(recorded_at);

CREATE TABLE IF NOT EXISTS daily_cost_aggregates (
	day            DATETIME NOT NULL,
	provider       TEXT NOT NULL,
	operation      TEXT NOT NULL DEFAULT '',
	campaign_id    TEXT NOT NULL DEFAULT '',
	total_cost_usd REAL NOT NULL,
	request_count  INTEGER NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	PRIMARY KEY (day, provider, operation, campaign_id)
);
`

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "ledger: sqlite migrate")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Record(ctx context.Context, rec model.CostRecord) error {
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

	var metadataJSON string
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "ledger: marshal metadata")
		}
		metadataJSON = string(b)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cost_records (id, provider, operation, cost_usd, lead_id, campaign_id, request_id, metadata, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.Operation, rec.CostUSD,
		rec.LeadID, rec.CampaignID, rec.RequestID, metadataJSON, rec.RecordedAt,
	)
	return eris.Wrapf(err, "ledger: sqlite insert cost record for %s", rec.Provider)
}

func (l *SQLiteLedger) ProviderCosts(ctx context.Context, provider string, days int) (*model.ProviderCosts, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := l.db.QueryContext(ctx,
		`SELECT operation, COALESCE(SUM(cost_usd), 0), COUNT(*)
		 FROM cost_records
		 WHERE provider = ? AND recorded_at >= ?
		 GROUP BY operation
		 ORDER BY SUM(cost_usd) DESC`,
		provider, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: sqlite provider costs for %s", provider)
	}
	defer rows.Close()

	pc := &model.ProviderCosts{Provider: provider, Days: days}
	for rows.Next() {
		var oc model.OperationCosts
		if err := rows.Scan(&oc.Operation, &oc.TotalCostUSD, &oc.RequestCount); err != nil {
			return nil, eris.Wrap(err, "ledger: sqlite scan operation costs")
		}
		pc.TotalCostUSD += oc.TotalCostUSD
		pc.RequestCount += oc.RequestCount
		pc.ByOperation = append(pc.ByOperation, oc)
	}
	return pc, eris.Wrap(rows.Err(), "ledger: sqlite provider costs iterate")
}

func (l *SQLiteLedger) CampaignCosts(ctx context.Context, campaignID string) (*model.CampaignCosts, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider, operation, COALESCE(SUM(cost_usd), 0), COUNT(*)
		 FROM cost_records
		 WHERE campaign_id = ?
		 GROUP BY provider, operation
		 ORDER BY SUM(cost_usd) DESC`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: sqlite campaign costs for %s", campaignID)
	}
	defer rows.Close()

	cc := &model.CampaignCosts{CampaignID: campaignID}
	for rows.Next() {
		var po model.ProviderOperationCosts
		if err := rows.Scan(&po.Provider, &po.Operation, &po.TotalCostUSD, &po.RequestCount); err != nil {
			return nil, eris.Wrap(err, "ledger: sqlite scan campaign costs")
		}
		cc.TotalCostUSD += po.TotalCostUSD
		cc.RequestCount += po.RequestCount
		cc.Breakdown = append(cc.Breakdown, po)
	}
	return cc, eris.Wrap(rows.Err(), "ledger: sqlite campaign costs iterate")
}

func (l *SQLiteLedger) SumCosts(ctx context.Context, f Filter) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM cost_records WHERE 1=1`
	var args []any

	if f.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, f.Provider)
	}
	if f.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, f.Operation)
	}
	if f.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, f.CampaignID)
	}
	if !f.Since.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, f.Since)
	}

	var total float64
	err := l.db.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, eris.Wrap(err, "ledger: sqlite sum costs")
}

func (l *SQLiteLedger) AggregateDaily(ctx context.Context, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	now := time.Now().UTC()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO daily_cost_aggregates (day, provider, operation, campaign_id, total_cost_usd, request_count, created_at, updated_at)
		 SELECT ?, provider, operation, campaign_id, COALESCE(SUM(cost_usd), 0), COUNT(*), ?, ?
		 FROM cost_records
		 WHERE recorded_at >= ? AND recorded_at < ?
		 GROUP BY provider, operation, campaign_id
		 ON CONFLICT (day, provider, operation, campaign_id) DO UPDATE SET
		   total_cost_usd = excluded.total_cost_usd,
		   request_count = excluded.request_count,
		   updated_at = excluded.updated_at`,
		dayStart, now, now, dayStart, dayEnd,
	)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: sqlite aggregate daily")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "ledger: sqlite rows affected")
}

func (l *SQLiteLedger) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, eris.Errorf("ledger: daysToKeep must be positive, got %d", daysToKeep)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	res, err := l.db.ExecContext(ctx,
		`DELETE FROM cost_records WHERE recorded_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: sqlite cleanup")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "ledger: sqlite rows affected")
}
