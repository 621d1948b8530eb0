// Package service exposes scraping over HTTP: a server-sent event stream and a websocket
// variant, plus health, leaderboard and admin endpoints.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/scrape"
	"github.com/WillyEverGreen/CRCE-calc/internal/stats"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	report_service_stream      = "service.stream"
	report_service_websocket   = "service.websocket"
	report_service_stats       = "service.stats"
	report_service_admin       = "service.admin"
	report_service_encode_json = "service.encode-json"
)

// Scraper runs scrapes and exposes the state admins look at.
//
// note: fault injection point
type Scraper interface {
	Scrape(ctx context.Context, req scrape.Request, emit func(scrape.Event)) error
	QueueSnapshot() admission.Snapshot
	ClearCache(ctx context.Context) (int, error)
}

type Options struct {
	// AdminKey guards the admin endpoints, they are disabled when it is empty.
	AdminKey string
	// RateLimit and RateBurst bound how often a single client ip may start a scrape.
	RateLimit rate.Limit
	RateBurst int
	// LeaderboardSize is how many entries the leaderboard endpoints return.
	LeaderboardSize int
}

func DefaultOptions() Options {
	return Options{
		RateLimit:       rate.Every(10 * time.Second),
		RateBurst:       3,
		LeaderboardSize: 50,
	}
}

type Service struct {
	scraper Scraper
	stats   stats.Recorder
	time    chrono.TimeAPI
	tel     telemetry.API
	opts    Options

	started time.Time
	limiter *ipLimiter
}

type serviceConfig struct {
	tel telemetry.API
}

type Option func(cfg *serviceConfig)

func WithCustomTelemetryAPI(tel telemetry.API) Option {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

func NewService(opts Options, scraper Scraper, recorder stats.Recorder, timeAPI chrono.TimeAPI, options ...Option) *Service {
	assert.NotNil(scraper)
	assert.NotNil(recorder)
	assert.NotNil(timeAPI)
	assert.Positive("rate burst", opts.RateBurst)
	assert.Positive("leaderboard size", opts.LeaderboardSize)

	cfg := serviceConfig{}
	for _, opt := range options {
		opt(&cfg)
	}
	var tel telemetry.API = telemetry.SlogAPI{}
	if cfg.tel != nil {
		tel = cfg.tel
	}

	return &Service{
		scraper: scraper,
		stats:   recorder,
		time:    timeAPI,
		tel:     telemetry.NewScopedAPI("service", tel),
		opts:    opts,
		started: timeAPI.Now(),
		limiter: newIPLimiter(opts.RateLimit, opts.RateBurst),
	}
}

// Router returns the http handler for every endpoint.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/leaderboard", s.handleLeaderboard)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/api/scrape", s.handleScrape)
		r.Get("/api/scrape/ws", s.handleScrapeWebsocket)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.handleAdminStats)
		r.Delete("/", s.handleAdminReset)
		r.Post("/", s.handleAdminClearCache)
	})

	return r
}
