package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfactory/leadfactory/internal/model"
)

func TestPostgresRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO cost_records").
		WithArgs(pgxmock.AnyArg(), "hunter", "email_lookup", 0.01, "lead-1", "camp-1", "req-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	l := NewPostgresWithPool(mock)
	err = l.Record(context.Background(), model.CostRecord{
		Provider:   "hunter",
		Operation:  "email_lookup",
		CostUSD:    0.01,
		LeadID:     "lead-1",
		CampaignID: "camp-1",
		RequestID:  "req-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecord_Invalid(t *testing.T) {
	l := NewPostgresWithPool(nil)

	err := l.Record(context.Background(), model.CostRecord{Operation: "email_lookup", CostUSD: 0.01})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing provider")

	err = l.Record(context.Background(), model.CostRecord{Provider: "hunter", CostUSD: -0.01})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative cost")
}

func TestPostgresSumCosts_Filters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost_usd\), 0\) FROM cost_records WHERE true AND provider = \$1 AND recorded_at >= \$2`).
		WithArgs("hunter", since).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(4.95))

	l := NewPostgresWithPool(mock)
	total, err := l.SumCosts(context.Background(), Filter{Provider: "hunter", Since: since})
	require.NoError(t, err)
	assert.InDelta(t, 4.95, total, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProviderCosts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT operation, COALESCE\(SUM\(cost_usd\), 0\), COUNT\(\*\)`).
		WithArgs("hunter", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"operation", "sum", "count"}).
			AddRow("email_lookup", 3.00, int64(300)).
			AddRow("domain_search", 1.50, int64(50)))

	l := NewPostgresWithPool(mock)
	pc, err := l.ProviderCosts(context.Background(), "hunter", 7)
	require.NoError(t, err)
	assert.Equal(t, "hunter", pc.Provider)
	assert.Equal(t, 7, pc.Days)
	assert.InDelta(t, 4.50, pc.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(350), pc.RequestCount)
	require.Len(t, pc.ByOperation, 2)
	assert.Equal(t, "email_lookup", pc.ByOperation[0].Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCampaignCosts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT provider, operation, COALESCE\(SUM\(cost_usd\), 0\), COUNT\(\*\)`).
		WithArgs("camp-1").
		WillReturnRows(pgxmock.NewRows([]string{"provider", "operation", "sum", "count"}).
			AddRow("dataaxle", "business_match", 5.00, int64(100)).
			AddRow("hunter", "email_lookup", 1.00, int64(100)))

	l := NewPostgresWithPool(mock)
	cc, err := l.CampaignCosts(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.InDelta(t, 6.00, cc.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(200), cc.RequestCount)
	require.Len(t, cc.Breakdown, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanup_InvalidDays(t *testing.T) {
	l := NewPostgresWithPool(nil)
	_, err := l.Cleanup(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestPostgresCleanup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM cost_records WHERE recorded_at <").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	l := NewPostgresWithPool(mock)
	n, err := l.Cleanup(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
