package model

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"chartlab-api/pkg/candle"
)

const (
	barsTable        = "bars"
	defaultBatchSize = 500
	barRowFields     = "ts, open, high, low, close, volume"
)

var _ BarsModel = (*defaultBarsModel)(nil)

type (
	// BarsModel is the indexed candle store keyed by (asset, timeframe, ts).
	BarsModel interface {
		Migrate(ctx context.Context) error
		Upsert(ctx context.Context, asset string, tf candle.Timeframe, candles []candle.Candle) (int64, error)
		Window(ctx context.Context, asset string, tf candle.Timeframe, to int64, limit int) ([]candle.Candle, error)
		Summary(ctx context.Context, asset string, tf candle.Timeframe) (*candle.Summary, error)
		DeleteAsset(ctx context.Context, asset string) (int64, error)
	}

	// BarsOptions tunes write behaviour.
	BarsOptions struct {
		Conflict  ConflictPolicy
		BatchSize int
	}

	defaultBarsModel struct {
		conn      sqlx.SqlConn
		dialect   Dialect
		conflict  ConflictPolicy
		batchSize int
	}

	barRow struct {
		Ts     int64   `db:"ts"`
		Open   float64 `db:"open"`
		High   float64 `db:"high"`
		Low    float64 `db:"low"`
		Close  float64 `db:"close"`
		Volume float64 `db:"volume"`
	}

	summaryRow struct {
		Cnt     int64         `db:"cnt"`
		StartTs sql.NullInt64 `db:"start_ts"`
		EndTs   sql.NullInt64 `db:"end_ts"`
	}
)

// NewBarsModel returns a model for the bars table.
func NewBarsModel(conn sqlx.SqlConn, dialect Dialect, opts BarsOptions) BarsModel {
	if opts.Conflict == "" {
		opts.Conflict = ConflictIgnore
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &defaultBarsModel{
		conn:      conn,
		dialect:   dialect,
		conflict:  opts.Conflict,
		batchSize: opts.BatchSize,
	}
}

func (m *defaultBarsModel) Migrate(ctx context.Context) error {
	var stmts []string
	switch m.dialect {
	case DialectPostgres:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS bars (
				asset     TEXT             NOT NULL,
				timeframe TEXT             NOT NULL,
				ts        BIGINT           NOT NULL,
				open      DOUBLE PRECISION NOT NULL,
				high      DOUBLE PRECISION NOT NULL,
				low       DOUBLE PRECISION NOT NULL,
				close     DOUBLE PRECISION NOT NULL,
				volume    DOUBLE PRECISION NOT NULL DEFAULT 0,
				PRIMARY KEY (asset, timeframe, ts)
			)`,
		}
	default:
		stmts = []string{
			`PRAGMA journal_mode=WAL`,
			`CREATE TABLE IF NOT EXISTS bars (
				asset     TEXT    NOT NULL,
				timeframe TEXT    NOT NULL,
				ts        INTEGER NOT NULL,
				open      REAL    NOT NULL,
				high      REAL    NOT NULL,
				low       REAL    NOT NULL,
				close     REAL    NOT NULL,
				volume    REAL    NOT NULL DEFAULT 0,
				PRIMARY KEY (asset, timeframe, ts)
			) WITHOUT ROWID`,
		}
	}
	for _, stmt := range stmts {
		if _, err := m.conn.ExecCtx(ctx, stmt); err != nil {
			return fmt.Errorf("model: migrate bars: %w", err)
		}
	}
	return nil
}

func (m *defaultBarsModel) conflictClause() string {
	if m.conflict == ConflictReplace {
		return ` ON CONFLICT (asset, timeframe, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`
	}
	return ` ON CONFLICT (asset, timeframe, ts) DO NOTHING`
}

// Upsert writes candles in a single transaction and returns the number of rows changed.
func (m *defaultBarsModel) Upsert(ctx context.Context, asset string, tf candle.Timeframe, candles []candle.Candle) (int64, error) {
	rows := make([]candle.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Valid() {
			rows = append(rows, c)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	// a batch must not carry the same key twice for ON CONFLICT DO UPDATE
	rows = candle.Dedup(rows)

	var affected int64
	err := m.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for start := 0; start < len(rows); start += m.batchSize {
			end := min(start+m.batchSize, len(rows))
			n, err := m.insertChunk(ctx, session, asset, string(tf), rows[start:end])
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("model: upsert bars asset=%s timeframe=%s: %w", asset, tf, err)
	}
	return affected, nil
}

func (m *defaultBarsModel) insertChunk(ctx context.Context, session sqlx.Session, asset, tf string, rows []candle.Candle) (int64, error) {
	var (
		query string
		args  []any
	)
	if m.dialect == DialectPostgres {
		n := len(rows)
		ts := make([]int64, n)
		open, high, low, closes, volume := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
		for i, c := range rows {
			ts[i], open[i], high[i], low[i], closes[i], volume[i] = c.Time, c.Open, c.High, c.Low, c.Close, c.Volume
		}
		query = `INSERT INTO bars (asset, timeframe, ts, open, high, low, close, volume)
			SELECT $1, $2, u.ts, u.open, u.high, u.low, u.close, u.volume
			FROM UNNEST($3::bigint[], $4::float8[], $5::float8[], $6::float8[], $7::float8[], $8::float8[])
				AS u(ts, open, high, low, close, volume)` + m.conflictClause()
		args = []any{asset, tf, pq.Array(ts), pq.Array(open), pq.Array(high), pq.Array(low), pq.Array(closes), pq.Array(volume)}
	} else {
		var b strings.Builder
		b.WriteString(`INSERT INTO bars (asset, timeframe, ts, open, high, low, close, volume) VALUES `)
		args = make([]any, 0, len(rows)*8)
		for i, c := range rows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, asset, tf, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		b.WriteString(m.conflictClause())
		query = b.String()
	}
	res, err := session.ExecCtx(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Window returns up to limit bars with ts <= to (the latest bars when to is 0), ascending.
func (m *defaultBarsModel) Window(ctx context.Context, asset string, tf candle.Timeframe, to int64, limit int) ([]candle.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	if to <= 0 {
		to = math.MaxInt64
	}
	query := m.dialect.rebind(fmt.Sprintf(
		"select %s from %s where asset = ? and timeframe = ? and ts <= ? order by ts desc limit ?",
		barRowFields, barsTable))
	var rows []*barRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, asset, string(tf), to, limit); err != nil {
		return nil, fmt.Errorf("model: window bars asset=%s timeframe=%s: %w", asset, tf, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]candle.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = candle.Candle{Time: r.Ts, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return out, nil
}

// Summary returns the range and count of a series, nil when it has no rows.
func (m *defaultBarsModel) Summary(ctx context.Context, asset string, tf candle.Timeframe) (*candle.Summary, error) {
	query := m.dialect.rebind(fmt.Sprintf(
		"select count(*) as cnt, min(ts) as start_ts, max(ts) as end_ts from %s where asset = ? and timeframe = ?",
		barsTable))
	var row summaryRow
	if err := m.conn.QueryRowCtx(ctx, &row, query, asset, string(tf)); err != nil {
		return nil, fmt.Errorf("model: summary bars asset=%s timeframe=%s: %w", asset, tf, err)
	}
	if row.Cnt == 0 || !row.StartTs.Valid || !row.EndTs.Valid {
		return nil, nil
	}
	return &candle.Summary{
		Range: candle.Range{Start: row.StartTs.Int64, End: row.EndTs.Int64},
		Count: row.Cnt,
	}, nil
}

func (m *defaultBarsModel) DeleteAsset(ctx context.Context, asset string) (int64, error) {
	query := m.dialect.rebind(fmt.Sprintf("delete from %s where asset = ?", barsTable))
	res, err := m.conn.ExecCtx(ctx, query, asset)
	if err != nil {
		return 0, fmt.Errorf("model: delete bars asset=%s: %w", asset, err)
	}
	return res.RowsAffected()
}
