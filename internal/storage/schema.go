package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Schema declares the tables this core reads and writes. price_points and
// weather_points are owned by the collection collaborator, which normally
// creates them; the pipeline only reads them. EnsureSchema covers fresh
// deployments and local setups.
const Schema = `
CREATE TABLE IF NOT EXISTS price_points (
    market_id     TEXT        NOT NULL,
    commodity_id  TEXT        NOT NULL,
    obs_date      DATE        NOT NULL,
    price         NUMERIC     NOT NULL CHECK (price > 0),
    unit          TEXT        NOT NULL DEFAULT 'kg',
    PRIMARY KEY (market_id, commodity_id, obs_date)
);

CREATE TABLE IF NOT EXISTS weather_points (
    region_id    TEXT        NOT NULL,
    obs_date     DATE        NOT NULL,
    temperature  DOUBLE PRECISION,
    rainfall     DOUBLE PRECISION,
    humidity     DOUBLE PRECISION,
    PRIMARY KEY (region_id, obs_date)
);

CREATE TABLE IF NOT EXISTS forecasts (
    market_id       TEXT        NOT NULL,
    commodity_id    TEXT        NOT NULL,
    issue_date      DATE        NOT NULL,
    horizon_days    INT         NOT NULL,
    predicted_price NUMERIC     NOT NULL,
    confidence_low  NUMERIC     NOT NULL,
    confidence_high NUMERIC     NOT NULL,
    model_version   TEXT        NOT NULL,
    stale           BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (market_id, commodity_id, issue_date, horizon_days, model_version)
);

CREATE TABLE IF NOT EXISTS alert_events (
    farmer_id      TEXT        NOT NULL,
    market_id      TEXT        NOT NULL,
    commodity_id   TEXT        NOT NULL,
    issue_date     DATE        NOT NULL,
    threshold_type TEXT        NOT NULL,
    forecast_ref   TEXT        NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (farmer_id, market_id, commodity_id, issue_date, threshold_type)
);

CREATE TABLE IF NOT EXISTS model_versions (
    version    TEXT        PRIMARY KEY,
    trained_at TIMESTAMPTZ NOT NULL,
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates any missing tables. Safe to re-run; every statement is
// IF NOT EXISTS. Simple protocol because the script holds multiple statements.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, Schema, pgx.QueryExecModeSimpleProtocol); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}
