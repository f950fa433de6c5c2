package external

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Shape names a provider response layout. Each shape has one adapter that
// turns the raw body into Quotes; the scanner never sees provider JSON.
type Shape string

const (
	// ShapeSkinport is a JSON array of items with a flat min_price.
	ShapeSkinport Shape = "skinport"
	// ShapeBackpack is a map keyed by item name with a nested 24h average.
	ShapeBackpack Shape = "backpack"
)

const steamImageBase = "https://community.cloudflare.steamstatic.com/economy/image/"

type adapter func(body []byte) (Quotes, error)

var adapters = map[Shape]adapter{
	ShapeSkinport: decodeSkinport,
	ShapeBackpack: decodeBackpack,
}

func ParseShape(s string) (Shape, error) {
	sh := Shape(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := adapters[sh]; !ok {
		return "", fmt.Errorf("unknown feed shape %q", s)
	}
	return sh, nil
}

// --- skinport ---

type skinportItem struct {
	MarketHashName string          `json:"market_hash_name"`
	MinPrice       json.RawMessage `json:"min_price"`
	Image          string          `json:"image"`
}

func decodeSkinport(body []byte) (Quotes, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("expected item array: %w", err)
	}

	out := make(Quotes, len(raw))
	for _, r := range raw {
		var it skinportItem
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		name := strings.TrimSpace(it.MarketHashName)
		if name == "" {
			continue
		}
		if _, dup := out[name]; dup {
			continue
		}
		price, ok := parsePrice(it.MinPrice)
		if !ok {
			continue
		}
		out[name] = Quote{Price: price, ImageURL: imageURL(it.Image)}
	}
	return out, nil
}

// --- csgobackpack ---

type backpackResponse struct {
	Success   *bool                      `json:"success"`
	ItemsList map[string]json.RawMessage `json:"items_list"`
}

type backpackItem struct {
	IconURL string `json:"icon_url"`
	Price   struct {
		Day struct {
			Average json.RawMessage `json:"average"`
		} `json:"24_hours"`
	} `json:"price"`
}

func decodeBackpack(body []byte) (Quotes, error) {
	var resp backpackResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("expected items object: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("provider reported success=false")
	}
	if resp.ItemsList == nil {
		return nil, fmt.Errorf("response has no items_list")
	}

	out := make(Quotes, len(resp.ItemsList))
	for name, r := range resp.ItemsList {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var it backpackItem
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		price, ok := parsePrice(it.Price.Day.Average)
		if !ok {
			continue
		}
		out[name] = Quote{Price: price, ImageURL: imageURL(it.IconURL)}
	}
	return out, nil
}

// --- normalization helpers ---

// parsePrice accepts a JSON number or numeric string. Missing, null,
// non-numeric and non-positive values are rejected so a bad field never
// becomes a zero price.
func parsePrice(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(str)
	}

	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	f, _ := d.Round(4).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) || f <= 0 {
		return 0, false
	}
	return f, true
}

// imageURL expands bare Steam economy icon ids into full CDN URLs.
func imageURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return steamImageBase + strings.TrimPrefix(s, "/")
}
