package events

import (
	"context"
	"time"
)

// PriceUpdate is emitted once per item that received a new observation in a
// scan cycle.
type PriceUpdate struct {
	ItemID      string    `json:"itemId"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	TargetPrice float64   `json:"targetPrice"`
	AlertFired  bool      `json:"alertFired"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	ObservedAt  time.Time `json:"observedAt"`
}

// Publisher delivers price updates best effort. Implementations log their own
// failures; callers never wait on downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, u PriceUpdate)
}

// Multi fans one update out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, u PriceUpdate) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, u)
		}
	}
}

type nop struct{}

func (nop) Publish(context.Context, PriceUpdate) {}

// Nop discards every update.
var Nop Publisher = nop{}
