package storage

import (
	"strings"
	"testing"
)

// The repository's SQL consts and the schema are maintained by hand; this
// keeps them from drifting apart.
func TestSchemaDeclaresRepositoryColumns(t *testing.T) {
	tables := map[string][]string{
		"price_points":   {"market_id", "commodity_id", "obs_date", "price", "unit"},
		"weather_points": {"region_id", "obs_date", "temperature", "rainfall", "humidity"},
		"forecasts": {
			"market_id", "commodity_id", "issue_date", "horizon_days",
			"predicted_price", "confidence_low", "confidence_high",
			"model_version", "stale", "created_at",
		},
		"alert_events": {
			"farmer_id", "market_id", "commodity_id", "issue_date",
			"threshold_type", "forecast_ref", "created_at",
		},
		"model_versions": {"version", "trained_at", "payload"},
	}

	for table, columns := range tables {
		idx := strings.Index(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
		if idx < 0 {
			t.Fatalf("schema is missing table %s", table)
		}
		block := Schema[idx:]
		if end := strings.Index(block, ";"); end >= 0 {
			block = block[:end]
		}
		for _, col := range columns {
			if !strings.Contains(block, col) {
				t.Fatalf("schema table %s is missing column %s", table, col)
			}
		}
	}

	queries := map[string]string{
		"listPricePoints":       listPricePointsSQL,
		"listWeatherPoints":     listWeatherPointsSQL,
		"upsertForecast":        upsertForecastSQL,
		"latestForecast":        latestForecastSQL,
		"listRecentForecasts":   listRecentForecastsSQL,
		"insertAlertEvent":      insertAlertEventSQL,
		"listRecentAlertEvents": listRecentAlertEventsSQL,
		"saveModelVersion":      saveModelVersionSQL,
		"latestModelVersion":    latestModelVersionSQL,
	}
	for name, q := range queries {
		found := false
		for table := range tables {
			if strings.Contains(q, table) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("query %s references no declared table", name)
		}
	}
}
