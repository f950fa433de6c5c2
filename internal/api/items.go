package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/models"
	"github.com/kjannette/sniper-backend/internal/repository"
	"github.com/kjannette/sniper-backend/internal/trend"
)

const (
	maxWindow    = 200
	maxBodyBytes = 1 << 20
	maxNameLen   = 256
)

type itemResponse struct {
	ID            string              `json:"id"`
	LegacyID      string              `json:"_id"`
	Name          string              `json:"name"`
	CurrentPrice  float64             `json:"currentPrice"`
	TargetPrice   float64             `json:"targetPrice"`
	ExternalPrice float64             `json:"externalPrice"`
	ImageURL      string              `json:"imageUrl,omitempty"`
	SMA           float64             `json:"sma"`
	PriceHistory  []models.ChartPoint `json:"priceHistory"`
	LastUpdated   time.Time           `json:"lastUpdated"`
	CreatedAt     time.Time           `json:"createdAt"`
}

func toItemResponse(it *models.TrackedItem, window int) itemResponse {
	return itemResponse{
		ID:            it.ID,
		LegacyID:      it.ID,
		Name:          it.Name,
		CurrentPrice:  it.CurrentPrice,
		TargetPrice:   it.TargetPrice,
		ExternalPrice: it.ExternalPrice,
		ImageURL:      it.ImageURL,
		SMA:           trend.Latest(it.Prices(), window),
		PriceHistory:  trend.Annotate(it.PriceHistory, window),
		LastUpdated:   it.LastUpdated,
		CreatedAt:     it.CreatedAt,
	}
}

func (s *Server) parseWindow(r *http.Request) (int, error) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return s.smaWindow, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxWindow {
		return 0, fmt.Errorf("window must be an integer between 1 and %d", maxWindow)
	}
	return n, nil
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	window, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	gen := int64(-1)
	if s.cache != nil {
		body, g, ok := s.cache.Get(ctx, window)
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.Write(body)
			return
		}
		gen = g
	}

	items, err := s.store.ListAll(ctx)
	if err != nil {
		s.log.Error("list tracked items", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch tracked items")
		return
	}

	out := make([]itemResponse, len(items))
	for i := range items {
		out[i] = toItemResponse(&items[i], window)
	}

	body, err := json.Marshal(out)
	if err != nil {
		s.log.Error("marshal tracked items", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode tracked items")
		return
	}
	if s.cache != nil {
		s.cache.Set(ctx, gen, window, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type trackRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleTrackItem(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(name) > maxNameLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("name must be at most %d bytes", maxNameLen))
		return
	}

	item, created, err := s.store.UpsertByName(r.Context(), name)
	if err != nil {
		s.log.Error("track item", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to track item")
		return
	}
	if created {
		s.log.Info("now tracking", zap.String("name", name), zap.String("id", item.ID))
		s.invalidateListing(r.Context())
	}

	// Refresh right away so a new item gets a price before the next tick.
	// A scan already running will pick the item up anyway.
	if s.scanner != nil {
		if err := s.scanner.TriggerAsync(); err != nil {
			s.log.Debug("post-track scan not started", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, toItemResponse(item, s.smaWindow))
}

type updateRequest struct {
	TargetPrice   json.RawMessage `json:"targetPrice"`
	ExternalPrice json.RawMessage `json:"externalPrice"`
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var patch models.ItemPatch
	var err error
	if patch.TargetPrice, err = parseAmount("targetPrice", req.TargetPrice); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.ExternalPrice, err = parseAmount("externalPrice", req.ExternalPrice); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "nothing to update: send targetPrice and/or externalPrice")
		return
	}

	item, err := s.store.Update(r.Context(), id, patch)
	if errors.Is(err, repository.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "tracked item not found")
		return
	}
	if err != nil {
		s.log.Error("update item", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	s.invalidateListing(r.Context())

	writeJSON(w, http.StatusOK, toItemResponse(item, s.smaWindow))
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "tracked item not found")
		return
	}
	if err != nil {
		s.log.Error("delete item", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	s.invalidateListing(r.Context())

	writeJSON(w, http.StatusOK, messageResponse{Message: "deleted"})
}

func (s *Server) invalidateListing(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// parseAmount reads a price field that may be a JSON number or a numeric
// string (form inputs send the raw text). Absent or null means unchanged; an
// empty string means zero.
func parseAmount(field string, raw json.RawMessage) (*float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, fmt.Errorf("%s must be a number", field)
		}
		s = strings.TrimSpace(str)
		if s == "" {
			zero := 0.0
			return &zero, nil
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", field)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	f, _ := d.Round(4).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%s is out of range", field)
	}
	return &f, nil
}
