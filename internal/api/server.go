package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/logger"
	"github.com/kjannette/sniper-backend/internal/metrics"
	"github.com/kjannette/sniper-backend/internal/models"
	"github.com/kjannette/sniper-backend/internal/trend"
)

type ItemStore interface {
	UpsertByName(ctx context.Context, name string) (*models.TrackedItem, bool, error)
	ListAll(ctx context.Context) ([]models.TrackedItem, error)
	Update(ctx context.Context, id string, patch models.ItemPatch) (*models.TrackedItem, error)
	Delete(ctx context.Context, id string) error
}

type ScanTrigger interface {
	TriggerAsync() error
	Busy() bool
	Running() bool
}

// ListingCache holds rendered listings. Get returns the generation the lookup
// ran under; Set must be given that same generation so a write that races an
// Invalidate is discarded.
type ListingCache interface {
	Get(ctx context.Context, window int) (body []byte, gen int64, ok bool)
	Set(ctx context.Context, gen int64, window int, body []byte)
	Invalidate(ctx context.Context)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfterSec int, err error)
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	SMAWindow  int

	Store   ItemStore
	Scanner ScanTrigger
	Ping    func(ctx context.Context) error

	// optional
	Cache   ListingCache
	Limiter RateLimiter
	Live    http.Handler

	// Peers whose X-Forwarded-For is believed. Empty means the header is ignored.
	TrustedProxies []netip.Prefix
}

type Server struct {
	store      ItemStore
	scanner    ScanTrigger
	ping       func(ctx context.Context) error
	cache      ListingCache
	limiter    RateLimiter
	proxies    []netip.Prefix
	smaWindow  int
	apiKey     string
	handler    http.Handler
	httpServer *http.Server
	log        *zap.Logger
}

func NewServer(opts Options) *Server {
	if opts.SMAWindow <= 0 {
		opts.SMAWindow = trend.DefaultWindow
	}
	s := &Server{
		store:     opts.Store,
		scanner:   opts.Scanner,
		ping:      opts.Ping,
		cache:     opts.Cache,
		limiter:   opts.Limiter,
		proxies:   opts.TrustedProxies,
		smaWindow: opts.SMAWindow,
		apiKey:    opts.APIKey,
		log:       logger.Log.Named("api"),
	}

	mux := http.NewServeMux()

	// Item routes
	mux.HandleFunc("GET /tracked-items", s.handleListItems)
	mux.HandleFunc("POST /track-item", s.handleTrackItem)
	mux.HandleFunc("PATCH /update-data/{id}", s.handleUpdateItem)
	mux.HandleFunc("DELETE /delete-item/{id}", s.handleDeleteItem)

	// Same routes under the names the dashboard was built against
	mux.HandleFunc("GET /api/tracked-skins", s.handleListItems)
	mux.HandleFunc("POST /api/track-skin", s.handleTrackItem)
	mux.HandleFunc("PATCH /api/update-data/{id}", s.handleUpdateItem)
	mux.HandleFunc("DELETE /api/delete-skin/{id}", s.handleDeleteItem)

	// Scan control
	mux.HandleFunc("POST /scan", s.handleScan)

	// Live price stream
	if opts.Live != nil {
		mux.Handle("GET /ws/prices", opts.Live)
	}

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.handler = s.logMiddleware(corsMiddleware(s.authMiddleware(s.rateLimitMiddleware(mux)), opts.CORSOrigin))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.log.Info("REST API server started",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("auth", s.apiKey != ""),
		zap.Bool("rate_limit", s.limiter != nil),
		zap.Bool("listing_cache", s.cache != nil),
	)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- response helpers ---

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Status: status})
}
