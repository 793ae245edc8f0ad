package catalog

import (
	"fmt"
	"math"
)

// VolatilityClass buckets commodities by typical month-over-month price
// variability. Drives the baseline model's uncertainty band.
type VolatilityClass string

const (
	VolatilityLow    VolatilityClass = "low"
	VolatilityMedium VolatilityClass = "medium"
	VolatilityHigh   VolatilityClass = "high"
)

// Market identifies a physical mandi with its location and region.
type Market struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	District    string   `mapstructure:"district"`
	State       string   `mapstructure:"state"`
	RegionID    string   `mapstructure:"region_id"`
	Latitude    float64  `mapstructure:"latitude"`
	Longitude   float64  `mapstructure:"longitude"`
	Commodities []string `mapstructure:"commodities"`
}

// Commodity describes a crop in the configured catalog.
type Commodity struct {
	ID         string          `mapstructure:"id"`
	Name       string          `mapstructure:"name"`
	Unit       string          `mapstructure:"unit"`
	Volatility VolatilityClass `mapstructure:"volatility"`
	BasePrice  float64         `mapstructure:"base_price"`
	// WeightFactor scales per-km transport cost relative to a 1x reference
	// load. Bulky or perishable crops cost more to move.
	WeightFactor float64 `mapstructure:"weight_factor"`
}

// Threshold is a farmer-configured alert condition.
type Threshold struct {
	Type        string  `mapstructure:"type"`
	Value       float64 `mapstructure:"value"`
	MarketID    string  `mapstructure:"market_id"`
	CommodityID string  `mapstructure:"commodity_id"`
}

// Farmer holds a subscriber's location and alert thresholds.
type Farmer struct {
	ID         string      `mapstructure:"id"`
	Latitude   float64     `mapstructure:"latitude"`
	Longitude  float64     `mapstructure:"longitude"`
	Thresholds []Threshold `mapstructure:"thresholds"`
}

// Location is a geographic point.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Pair is one (market, commodity) pipeline unit.
type Pair struct {
	MarketID    string
	CommodityID string
}

// Catalog is the static market/commodity/farmer configuration. The core
// treats it as read-only input; collectors own the relational schema.
type Catalog struct {
	Markets     []Market    `mapstructure:"markets"`
	Commodities []Commodity `mapstructure:"commodities"`
	Farmers     []Farmer    `mapstructure:"farmers"`
}

// Market returns the market with the given id.
func (c *Catalog) Market(id string) (Market, bool) {
	for _, m := range c.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return Market{}, false
}

// Commodity returns the commodity with the given id.
func (c *Catalog) Commodity(id string) (Commodity, bool) {
	for _, com := range c.Commodities {
		if com.ID == id {
			return com, true
		}
	}
	return Commodity{}, false
}

// MarketsFor lists markets trading the given commodity.
func (c *Catalog) MarketsFor(commodityID string) []Market {
	var out []Market
	for _, m := range c.Markets {
		for _, cid := range m.Commodities {
			if cid == commodityID {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Pairs enumerates every (market, commodity) unit the batch covers.
func (c *Catalog) Pairs() []Pair {
	var pairs []Pair
	for _, m := range c.Markets {
		for _, cid := range m.Commodities {
			pairs = append(pairs, Pair{MarketID: m.ID, CommodityID: cid})
		}
	}
	return pairs
}

// Validate checks referential integrity between markets, commodities, and
// farmer thresholds.
func (c *Catalog) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("catalog.markets must not be empty")
	}
	if len(c.Commodities) == 0 {
		return fmt.Errorf("catalog.commodities must not be empty")
	}

	commodities := make(map[string]struct{}, len(c.Commodities))
	for _, com := range c.Commodities {
		if com.ID == "" {
			return fmt.Errorf("catalog commodity missing id")
		}
		switch com.Volatility {
		case VolatilityLow, VolatilityMedium, VolatilityHigh, "":
		default:
			return fmt.Errorf("commodity %s: unknown volatility class %q", com.ID, com.Volatility)
		}
		commodities[com.ID] = struct{}{}
	}

	markets := make(map[string]struct{}, len(c.Markets))
	for _, m := range c.Markets {
		if m.ID == "" {
			return fmt.Errorf("catalog market missing id")
		}
		if _, dup := markets[m.ID]; dup {
			return fmt.Errorf("duplicate market id %s", m.ID)
		}
		markets[m.ID] = struct{}{}
		for _, cid := range m.Commodities {
			if _, ok := commodities[cid]; !ok {
				return fmt.Errorf("market %s references unknown commodity %s", m.ID, cid)
			}
		}
	}

	for _, f := range c.Farmers {
		for _, th := range f.Thresholds {
			if _, ok := markets[th.MarketID]; th.MarketID != "" && !ok {
				return fmt.Errorf("farmer %s threshold references unknown market %s", f.ID, th.MarketID)
			}
			if _, ok := commodities[th.CommodityID]; !ok {
				return fmt.Errorf("farmer %s threshold references unknown commodity %s", f.ID, th.CommodityID)
			}
		}
	}

	return nil
}

const earthRadiusKm = 6371.0

// DistanceKm computes the haversine distance between two locations.
func DistanceKm(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Location returns the market's geographic point.
func (m Market) Location() Location {
	return Location{Latitude: m.Latitude, Longitude: m.Longitude}
}

// Location returns the farmer's geographic point.
func (f Farmer) Location() Location {
	return Location{Latitude: f.Latitude, Longitude: f.Longitude}
}
