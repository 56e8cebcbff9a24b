package model

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"chartlab-api/pkg/candle"
)

func newSQLiteBars(t *testing.T, opts BarsOptions) BarsModel {
	t.Helper()
	conn := NewConn(DialectSQLite, filepath.Join(t.TempDir(), "bars.db"))
	m := NewBarsModel(conn, DialectSQLite, opts)
	require.NoError(t, m.Migrate(context.Background()))
	return m
}

func minuteBars(start time.Time, n int, price float64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		p := price + float64(i)
		out[i] = candle.Candle{
			Time: start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1,
		}
	}
	return out
}

func TestBarsUpsertIgnoresExisting(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteBars(t, BarsOptions{})
	bars := minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, 100)

	n, err := m.Upsert(ctx, "eurusd", candle.M1, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	changed := append([]candle.Candle(nil), bars...)
	changed[0].Close = 999
	n, err = m.Upsert(ctx, "eurusd", candle.M1, changed)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	got, err := m.Window(ctx, "eurusd", candle.M1, 0, 10)
	require.NoError(t, err)
	require.Equal(t, bars, got)
}

func TestBarsUpsertReplacePolicy(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteBars(t, BarsOptions{Conflict: ConflictReplace, BatchSize: 2})
	bars := minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, 100)
	_, err := m.Upsert(ctx, "eurusd", candle.M1, bars)
	require.NoError(t, err)

	changed := append([]candle.Candle(nil), bars...)
	changed[4].Close = 999
	_, err = m.Upsert(ctx, "eurusd", candle.M1, changed)
	require.NoError(t, err)

	got, err := m.Window(ctx, "eurusd", candle.M1, 0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.InDelta(t, 999.0, got[0].Close, 1e-9)
}

func TestBarsWindowAndSummary(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteBars(t, BarsOptions{BatchSize: 3})
	bars := minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 1)
	_, err := m.Upsert(ctx, "eurusd", candle.M1, bars)
	require.NoError(t, err)
	_, err = m.Upsert(ctx, "eurusd", candle.M5, minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 2, 1))
	require.NoError(t, err)

	got, err := m.Window(ctx, "eurusd", candle.M1, bars[6].Time, 3)
	require.NoError(t, err)
	require.Equal(t, bars[4:7], got)

	got, err = m.Window(ctx, "eurusd", candle.M1, 0, 4)
	require.NoError(t, err)
	require.Equal(t, bars[6:], got)

	got, err = m.Window(ctx, "gbpusd", candle.M1, 0, 4)
	require.NoError(t, err)
	require.Nil(t, got)

	sum, err := m.Summary(ctx, "eurusd", candle.M1)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.EqualValues(t, 10, sum.Count)
	assert.Equal(t, candle.Range{Start: bars[0].Time, End: bars[9].Time}, sum.Range)

	sum, err = m.Summary(ctx, "eurusd", candle.H1)
	require.NoError(t, err)
	require.Nil(t, sum)
}

func TestBarsDeleteAsset(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteBars(t, BarsOptions{})
	_, err := m.Upsert(ctx, "eurusd", candle.M1, minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3, 1))
	require.NoError(t, err)
	_, err = m.Upsert(ctx, "gbpusd", candle.M1, minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3, 1))
	require.NoError(t, err)

	n, err := m.DeleteAsset(ctx, "eurusd")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	sum, err := m.Summary(ctx, "gbpusd", candle.M1)
	require.NoError(t, err)
	require.NotNil(t, sum)
}

// Runs against a live database when CHARTLAB_TEST_POSTGRES_DSN is set.
func TestBarsPostgres(t *testing.T) {
	dsn := os.Getenv("CHARTLAB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHARTLAB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	m := NewBarsModel(NewConn(DialectPostgres, dsn), DialectPostgres, BarsOptions{})
	require.NoError(t, m.Migrate(ctx))
	asset := "pgtest" + time.Now().Format("150405")
	defer m.DeleteAsset(ctx, asset)

	bars := minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 4, 1)
	n, err := m.Upsert(ctx, asset, candle.M1, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	n, err = m.Upsert(ctx, asset, candle.M1, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	got, err := m.Window(ctx, asset, candle.M1, 0, 2)
	require.NoError(t, err)
	require.Equal(t, bars[2:], got)
}

func TestRebind(t *testing.T) {
	require.Equal(t, "a = $1 and b = $2", DialectPostgres.rebind("a = ? and b = ?"))
	require.Equal(t, "a = ?", DialectSQLite.rebind("a = ?"))
}

type noRowCount struct{}

func (noRowCount) LastInsertId() (int64, error) { return 0, nil }
func (noRowCount) RowsAffected() (int64, error) { return 0, errors.New("driver does not report affected rows") }

// countlessSession executes statements but cannot report how many rows changed.
type countlessSession struct {
	sqlx.Session
}

func (countlessSession) ExecCtx(context.Context, string, ...any) (sql.Result, error) {
	return noRowCount{}, nil
}

func TestInsertChunkReportsRowsAffectedFailure(t *testing.T) {
	m := NewBarsModel(nil, DialectSQLite, BarsOptions{}).(*defaultBarsModel)
	bars := minuteBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 2, 100)
	_, err := m.insertChunk(context.Background(), countlessSession{}, "eurusd", "m1", bars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not report affected rows")
}
