package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the archive pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS block_samples (
        target_date DATE PRIMARY KEY,
        height      BIGINT NOT NULL,
        block_time  TIMESTAMPTZ NOT NULL,
        seconds_off DOUBLE PRECISION NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS supply_points (
        target_date DATE PRIMARY KEY,
        height      BIGINT NOT NULL,
        supply      NUMERIC,
        supply_diff NUMERIC,
        status      TEXT NOT NULL,
        error       TEXT,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertBlockSampleSQL = `INSERT INTO block_samples (
        target_date,
        height,
        block_time,
        seconds_off
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (target_date) DO UPDATE
    SET
        height      = EXCLUDED.height,
        block_time  = EXCLUDED.block_time,
        seconds_off = EXCLUDED.seconds_off;`

	upsertSupplyPointSQL = `INSERT INTO supply_points (
        target_date,
        height,
        supply,
        supply_diff,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (target_date) DO UPDATE
    SET
        height      = EXCLUDED.height,
        supply      = COALESCE(EXCLUDED.supply, supply_points.supply),
        supply_diff = EXCLUDED.supply_diff,
        status      = CASE WHEN EXCLUDED.supply IS NULL AND supply_points.supply IS NOT NULL
                           THEN supply_points.status ELSE EXCLUDED.status END,
        error       = EXCLUDED.error;`

	listSupplyBetweenSQL = `SELECT
        target_date,
        height,
        supply::text,
        supply_diff::text,
        status,
        error,
        created_at
    FROM supply_points
    WHERE target_date >= $1
      AND target_date < $2
    ORDER BY target_date;`

	listRecentSupplySQL = `SELECT
        target_date,
        height,
        supply::text,
        supply_diff::text,
        status,
        error,
        created_at
    FROM supply_points
    ORDER BY target_date DESC
    LIMIT $1;`

	countSupplySQL = `SELECT COUNT(*) FROM supply_points;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SupplyStore defines operations for the supply archive.
type SupplyStore interface {
	UpsertBlockSamples(ctx context.Context, samples []BlockSample) error
	UpsertSupplyPoints(ctx context.Context, points []SupplyPoint) error
	ListSupplyBetween(ctx context.Context, from, to time.Time) ([]SupplyPoint, error)
	ListRecentSupply(ctx context.Context, limit int) ([]SupplyPoint, error)
	CountSupplyPoints(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL archive of located blocks and supply points.
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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertBlockSamples persists located blocks keyed by target date.
func (s *Store) UpsertBlockSamples(ctx context.Context, samples []BlockSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(upsertBlockSampleSQL, sample.TargetDate, sample.Height, sample.BlockTime, sample.SecondsOff)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert block samples: %w", err)
	}
	return nil
}

// UpsertSupplyPoints persists supply points keyed by target date. A point
// without a supply never overwrites a supply archived by an earlier run.
func (s *Store) UpsertSupplyPoints(ctx context.Context, points []SupplyPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		var errMsg interface{}
		if p.Error != nil {
			errMsg = *p.Error
		}
		batch.Queue(upsertSupplyPointSQL,
			p.TargetDate,
			p.Height,
			decimalArg(p.Supply),
			decimalArg(p.SupplyDiff),
			p.Status,
			errMsg,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert supply points: %w", err)
	}
	return nil
}

// ListSupplyBetween lists supply points with from <= target_date < to.
func (s *Store) ListSupplyBetween(ctx context.Context, from, to time.Time) ([]SupplyPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSupplyBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list supply between: %w", queryErr)
	}
	return collectPoints(rows, 0)
}

// ListRecentSupply lists the most recent supply points, newest first.
func (s *Store) ListRecentSupply(ctx context.Context, limit int) ([]SupplyPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSupplySQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent supply: %w", queryErr)
	}
	return collectPoints(rows, limit)
}

// CountSupplyPoints counts archived supply points.
func (s *Store) CountSupplyPoints(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSupplySQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count supply points: %w", scanErr)
	}
	return count, nil
}

func collectPoints(rows pgx.Rows, capacity int) ([]SupplyPoint, error) {
	defer rows.Close()
	points := make([]SupplyPoint, 0, capacity)
	for rows.Next() {
		point, err := scanSupplyPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

func scanSupplyPoint(rows pgx.Rows) (SupplyPoint, error) {
	var (
		point     SupplyPoint
		supply    sql.NullString
		diff      sql.NullString
		errMsg    sql.NullString
		createdAt time.Time
	)
	if err := rows.Scan(
		&point.TargetDate,
		&point.Height,
		&supply,
		&diff,
		&point.Status,
		&errMsg,
		&createdAt,
	); err != nil {
		return SupplyPoint{}, err
	}
	point.CreatedAt = createdAt

	var err error
	if point.Supply, err = parseNullDecimal(supply); err != nil {
		return SupplyPoint{}, fmt.Errorf("parse supply: %w", err)
	}
	if point.SupplyDiff, err = parseNullDecimal(diff); err != nil {
		return SupplyPoint{}, fmt.Errorf("parse supply diff: %w", err)
	}
	if errMsg.Valid {
		msg := errMsg.String
		point.Error = &msg
	}
	return point, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var (
	_ SupplyStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
