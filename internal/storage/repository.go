package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"futurecrop/internal/alerting"
	"futurecrop/internal/model"
	"futurecrop/internal/series"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	listPricePointsSQL = `SELECT market_id, commodity_id, obs_date, price, unit
    FROM price_points
    WHERE market_id = $1
      AND commodity_id = $2
      AND obs_date >= $3
      AND obs_date <= $4
    ORDER BY obs_date;`

	listWeatherPointsSQL = `SELECT region_id, obs_date, temperature, rainfall, humidity
    FROM weather_points
    WHERE region_id = $1
      AND obs_date >= $2
      AND obs_date <= $3
    ORDER BY obs_date;`

	upsertForecastSQL = `INSERT INTO forecasts (
        market_id,
        commodity_id,
        issue_date,
        horizon_days,
        predicted_price,
        confidence_low,
        confidence_high,
        model_version,
        stale
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (market_id, commodity_id, issue_date, horizon_days, model_version) DO UPDATE
    SET predicted_price = EXCLUDED.predicted_price,
        confidence_low  = EXCLUDED.confidence_low,
        confidence_high = EXCLUDED.confidence_high,
        stale           = EXCLUDED.stale;`

	latestForecastSQL = `SELECT
        market_id, commodity_id, issue_date, horizon_days,
        predicted_price, confidence_low, confidence_high, model_version, stale
    FROM forecasts
    WHERE market_id = $1
      AND commodity_id = $2
      AND horizon_days = $3
    ORDER BY issue_date DESC, created_at DESC
    LIMIT 1;`

	listRecentForecastsSQL = `SELECT
        market_id, commodity_id, issue_date, horizon_days,
        predicted_price, confidence_low, confidence_high, model_version, stale
    FROM forecasts
    ORDER BY created_at DESC
    LIMIT $1;`

	insertAlertEventSQL = `INSERT INTO alert_events (
        farmer_id, market_id, commodity_id, issue_date, threshold_type, forecast_ref
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (farmer_id, market_id, commodity_id, issue_date, threshold_type) DO NOTHING;`

	listRecentAlertEventsSQL = `SELECT
        farmer_id, market_id, commodity_id, issue_date, threshold_type, forecast_ref, created_at
    FROM alert_events
    ORDER BY created_at DESC
    LIMIT $1;`

	saveModelVersionSQL = `INSERT INTO model_versions (version, trained_at, payload)
    VALUES ($1, $2, $3)
    ON CONFLICT (version) DO NOTHING;`

	latestModelVersionSQL = `SELECT payload
    FROM model_versions
    ORDER BY trained_at DESC
    LIMIT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ForecastStore persists and serves forecasts.
type ForecastStore interface {
	UpsertForecast(ctx context.Context, fc model.Forecast) error
	LatestForecast(ctx context.Context, marketID, commodityID string, horizonDays int) (model.Forecast, error)
	ListRecentForecasts(ctx context.Context, limit int) ([]model.Forecast, error)
}

// SnapshotStore persists trained model snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates database access for the pipeline. It implements
// series.Source, alerting.EventStore, ForecastStore, and SnapshotStore.
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
		// Best effort: the lock is released with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// PricePoints lists observed prices for a (market, commodity) date range.
func (s *Store) PricePoints(ctx context.Context, marketID, commodityID string, from, to time.Time) ([]series.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSQL, marketID, commodityID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]series.PricePoint, 0)
	for rows.Next() {
		var p series.PricePoint
		var priceStr string
		if err := rows.Scan(&p.MarketID, &p.CommodityID, &p.Date, &priceStr, &p.Unit); err != nil {
			return nil, err
		}
		p.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// WeatherPoints lists observed weather for a region date range.
func (s *Store) WeatherPoints(ctx context.Context, regionID string, from, to time.Time) ([]series.WeatherPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWeatherPointsSQL, regionID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list weather points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]series.WeatherPoint, 0)
	for rows.Next() {
		var w series.WeatherPoint
		if err := rows.Scan(&w.RegionID, &w.Date, &w.Temperature, &w.Rainfall, &w.Humidity); err != nil {
			return nil, err
		}
		points = append(points, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// UpsertForecast persists a forecast; re-issuing the same key with the same
// model version updates in place, a new model version supersedes via a new row.
func (s *Store) UpsertForecast(ctx context.Context, fc model.Forecast) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertForecastSQL,
		fc.MarketID,
		fc.CommodityID,
		fc.IssueDate,
		fc.HorizonDays,
		fc.PredictedPrice.String(),
		fc.ConfidenceLow.String(),
		fc.ConfidenceHigh.String(),
		fc.ModelVersion,
		fc.Stale,
	)
	if execErr != nil {
		return fmt.Errorf("upsert forecast: %w", execErr)
	}
	return nil
}

// LatestForecast returns the most recent forecast for a (market, commodity,
// horizon), or ErrNotFound.
func (s *Store) LatestForecast(ctx context.Context, marketID, commodityID string, horizonDays int) (model.Forecast, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Forecast{}, err
	}

	row := pool.QueryRow(ctx, latestForecastSQL, marketID, commodityID, horizonDays)
	fc, scanErr := scanForecast(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return model.Forecast{}, fmt.Errorf("%w: forecast %s/%s h=%d", ErrNotFound, marketID, commodityID, horizonDays)
		}
		return model.Forecast{}, scanErr
	}
	return fc, nil
}

// ListRecentForecasts lists most recently created forecasts.
func (s *Store) ListRecentForecasts(ctx context.Context, limit int) ([]model.Forecast, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentForecastsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent forecasts: %w", queryErr)
	}
	defer rows.Close()

	forecasts := make([]model.Forecast, 0, limit)
	for rows.Next() {
		fc, scanErr := scanForecast(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		forecasts = append(forecasts, fc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return forecasts, nil
}

// InsertEventIfAbsent stores an alert event, reporting false when the same
// (farmer, market, commodity, issue_date, threshold_type) already fired.
func (s *Store) InsertEventIfAbsent(ctx context.Context, ev alerting.Event) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertAlertEventSQL,
		ev.FarmerID,
		ev.MarketID,
		ev.CommodityID,
		ev.IssueDate,
		ev.ThresholdType,
		ev.ForecastRef,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert alert event: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListRecentAlertEvents lists most recent alert events.
func (s *Store) ListRecentAlertEvents(ctx context.Context, limit int) ([]alerting.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]alerting.Event, 0, limit)
	for rows.Next() {
		var ev alerting.Event
		if err := rows.Scan(&ev.FarmerID, &ev.MarketID, &ev.CommodityID, &ev.IssueDate, &ev.ThresholdType, &ev.ForecastRef, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// SaveSnapshot persists a trained model snapshot as JSON payload.
func (s *Store) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, execErr := pool.Exec(ctx, saveModelVersionSQL, snap.Version, snap.TrainedAt, payload); execErr != nil {
		return fmt.Errorf("save model version: %w", execErr)
	}
	return nil
}

// LatestSnapshot loads the most recently trained snapshot, or ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if scanErr := pool.QueryRow(ctx, latestModelVersionSQL).Scan(&payload); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no trained model version", ErrNotFound)
		}
		return nil, fmt.Errorf("load model version: %w", scanErr)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func scanForecast(row pgx.Row) (model.Forecast, error) {
	var (
		fc        model.Forecast
		predicted string
		low       string
		high      string
	)
	if err := row.Scan(
		&fc.MarketID,
		&fc.CommodityID,
		&fc.IssueDate,
		&fc.HorizonDays,
		&predicted,
		&low,
		&high,
		&fc.ModelVersion,
		&fc.Stale,
	); err != nil {
		return model.Forecast{}, err
	}

	var convErr error
	fc.PredictedPrice, convErr = decimal.NewFromString(predicted)
	if convErr != nil {
		return model.Forecast{}, fmt.Errorf("parse predicted price: %w", convErr)
	}
	fc.ConfidenceLow, convErr = decimal.NewFromString(low)
	if convErr != nil {
		return model.Forecast{}, fmt.Errorf("parse confidence low: %w", convErr)
	}
	fc.ConfidenceHigh, convErr = decimal.NewFromString(high)
	if convErr != nil {
		return model.Forecast{}, fmt.Errorf("parse confidence high: %w", convErr)
	}
	return fc, nil
}
