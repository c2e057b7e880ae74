package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"groupe-e-consumption/internal/consumption"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS statistic_metadata (
        statistic_id TEXT PRIMARY KEY,
        source       TEXT NOT NULL,
        name         TEXT NOT NULL,
        unit         TEXT NOT NULL,
        has_mean     BOOLEAN NOT NULL DEFAULT FALSE,
        has_sum      BOOLEAN NOT NULL DEFAULT FALSE,
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS statistics (
        statistic_id TEXT NOT NULL REFERENCES statistic_metadata (statistic_id),
        start_ts     TIMESTAMPTZ NOT NULL,
        state        NUMERIC NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (statistic_id, start_ts)
    );`

	upsertMetadataSQL = `INSERT INTO statistic_metadata (
        statistic_id,
        source,
        name,
        unit,
        has_mean,
        has_sum
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (statistic_id) DO UPDATE
    SET
        source     = EXCLUDED.source,
        name       = EXCLUDED.name,
        unit       = EXCLUDED.unit,
        has_mean   = EXCLUDED.has_mean,
        has_sum    = EXCLUDED.has_sum,
        updated_at = now();`

	upsertStatisticSQL = `INSERT INTO statistics (
        statistic_id,
        start_ts,
        state
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (statistic_id, start_ts) DO UPDATE
    SET
        state      = EXCLUDED.state,
        updated_at = now();`

	listStatisticsBetweenSQL = `SELECT
        statistic_id,
        start_ts,
        state::text,
        created_at,
        updated_at
    FROM statistics
    WHERE statistic_id = $1
      AND start_ts >= $2
      AND start_ts < $3
    ORDER BY start_ts;`

	listRecentStatisticsSQL = `SELECT
        statistic_id,
        start_ts,
        state::text,
        created_at,
        updated_at
    FROM statistics
    WHERE statistic_id = $1
    ORDER BY start_ts DESC
    LIMIT $2;`

	countStatisticsSQL = `SELECT COUNT(*) FROM statistics WHERE statistic_id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// StatisticStore is the external time-series sink for hourly consumption.
type StatisticStore interface {
	ImportStatistics(ctx context.Context, meta StatisticMetadata, stats []consumption.HourlyStatistic) error
}

// StatisticReader exposes stored statistics to the CLI.
type StatisticReader interface {
	ListStatisticsBetween(ctx context.Context, statisticID string, from, to time.Time) ([]StatisticRow, error)
	ListRecentStatistics(ctx context.Context, statisticID string, limit int) ([]StatisticRow, error)
	CountStatistics(ctx context.Context, statisticID string) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists consumption statistics in postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the statistics tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ImportStatistics upserts the metadata and every hourly value in one transaction.
func (s *Store) ImportStatistics(ctx context.Context, meta StatisticMetadata, stats []consumption.HourlyStatistic) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertMetadataSQL,
			meta.StatisticID,
			meta.Source,
			meta.Name,
			meta.Unit,
			meta.HasMean,
			meta.HasSum,
		); err != nil {
			return fmt.Errorf("upsert statistic metadata: %w", err)
		}

		if len(stats) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, stat := range stats {
			batch.Queue(upsertStatisticSQL, meta.StatisticID, stat.Start, stat.State.String())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert statistics: %w", err)
		}
		return nil
	})
}

// ListStatisticsBetween lists statistics within [from, to).
func (s *Store) ListStatisticsBetween(ctx context.Context, statisticID string, from, to time.Time) ([]StatisticRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStatisticsBetweenSQL, statisticID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list statistics between: %w", queryErr)
	}
	defer rows.Close()

	return collectStatistics(rows, 0)
}

// ListRecentStatistics lists the newest statistics ordered by descending start.
func (s *Store) ListRecentStatistics(ctx context.Context, statisticID string, limit int) ([]StatisticRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentStatisticsSQL, statisticID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent statistics: %w", queryErr)
	}
	defer rows.Close()

	return collectStatistics(rows, limit)
}

// CountStatistics counts stored hourly values for a series.
func (s *Store) CountStatistics(ctx context.Context, statisticID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countStatisticsSQL, statisticID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count statistics: %w", scanErr)
	}
	return count, nil
}

func collectStatistics(rows pgx.Rows, capacity int) ([]StatisticRow, error) {
	stats := make([]StatisticRow, 0, capacity)
	for rows.Next() {
		stat, scanErr := scanStatistic(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		stats = append(stats, stat)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

func scanStatistic(rows pgx.Rows) (StatisticRow, error) {
	var (
		row      StatisticRow
		stateStr string
	)
	if err := rows.Scan(
		&row.StatisticID,
		&row.Start,
		&stateStr,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return StatisticRow{}, err
	}

	state, err := decimal.NewFromString(stateStr)
	if err != nil {
		return StatisticRow{}, fmt.Errorf("parse statistic state: %w", err)
	}
	row.State = state
	row.Start = row.Start.In(consumption.Location)
	return row, nil
}

var (
	_ StatisticStore  = (*Store)(nil)
	_ StatisticReader = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
