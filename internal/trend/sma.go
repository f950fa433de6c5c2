package trend

import "github.com/kjannette/sniper-backend/internal/models"

// DefaultWindow is used whenever a non-positive window is requested.
const DefaultWindow = 10

// MovingAverage returns, for every index i, the mean of the trailing
// min(i+1, window) prices ending at i. Short histories are averaged over what
// is available; nothing is padded.
func MovingAverage(prices []float64, window int) []float64 {
	if window <= 0 {
		window = DefaultWindow
	}

	out := make([]float64, len(prices))
	for i := range prices {
		out[i] = trailingMean(prices[:i+1], window)
	}
	return out
}

// Latest returns the moving average at the last index, or 0 for an empty history.
func Latest(prices []float64, window int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return trailingMean(prices, window)
}

// trailingMean averages the last min(len, window) prices. Each window is
// summed from scratch so the series and Latest agree bit for bit.
func trailingMean(prices []float64, window int) float64 {
	start := len(prices) - window
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, p := range prices[start:] {
		sum += p
	}
	return sum / float64(len(prices)-start)
}

// Annotate merges the per-point moving average into a price history.
func Annotate(history []models.PricePoint, window int) []models.ChartPoint {
	prices := make([]float64, len(history))
	for i, h := range history {
		prices[i] = h.Price
	}
	sma := MovingAverage(prices, window)

	out := make([]models.ChartPoint, len(history))
	for i, h := range history {
		out[i] = models.ChartPoint{Price: h.Price, ObservedAt: h.ObservedAt, SMA: sma[i]}
	}
	return out
}
