package models

import "time"

// TrackedItem is one market instrument under observation. Name is the lookup
// key against the price feed and is unique across the table.
type TrackedItem struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	CurrentPrice  float64      `json:"currentPrice"`
	TargetPrice   float64      `json:"targetPrice"`
	ExternalPrice float64      `json:"externalPrice"`
	ImageURL      string       `json:"imageUrl,omitempty"`
	PriceHistory  []PricePoint `json:"priceHistory"`
	LastUpdated   time.Time    `json:"lastUpdated"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// AlertArmed reports whether a target price is set.
func (t *TrackedItem) AlertArmed() bool {
	return t.TargetPrice > 0
}

// Prices returns the history prices in chronological order.
func (t *TrackedItem) Prices() []float64 {
	out := make([]float64, len(t.PriceHistory))
	for i, p := range t.PriceHistory {
		out[i] = p.Price
	}
	return out
}

type PricePoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observedAt"`
}

// ChartPoint is a history point with the moving average merged in.
type ChartPoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observedAt"`
	SMA        float64   `json:"sma"`
}

// ItemPatch is a partial update; nil fields are left unchanged.
type ItemPatch struct {
	TargetPrice   *float64
	ExternalPrice *float64
}

func (p ItemPatch) Empty() bool {
	return p.TargetPrice == nil && p.ExternalPrice == nil
}
