package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/cache"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/credits"
	"github.com/WillyEverGreen/CRCE-calc/internal/portal"
	"github.com/WillyEverGreen/CRCE-calc/internal/scrape"
	"github.com/WillyEverGreen/CRCE-calc/internal/service"
	"github.com/WillyEverGreen/CRCE-calc/internal/stats"
	"github.com/WillyEverGreen/CRCE-calc/lib/configutil"
	"github.com/WillyEverGreen/CRCE-calc/lib/restyutil"
	"github.com/WillyEverGreen/CRCE-calc/lib/serviceutil"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the config file.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg, err := configutil.ReadWithDefaults(*configPath, defaultConfig())
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		serviceutil.Fatal("invalid config", err)
	}

	tel, flushTelemetry := InitTelemetry(ctx, *verbose, cfg.Telemetry)
	defer flushTelemetry()

	timeAPI, err := chrono.NewStandardImpl()
	if err != nil {
		serviceutil.Fatal("init time", err)
	}

	store, recorder, err := initStorage(ctx, cfg, timeAPI, tel)
	if err != nil {
		serviceutil.Fatal("init storage", err)
	}

	driver := portal.NewRodDriver(cfg.Portal.Browser, tel)
	defer driver.Close()

	scraper, err := initScraper(cfg, *verbose, driver, store, recorder, timeAPI, tel)
	if err != nil {
		serviceutil.Fatal("init scraper", err)
	}

	opts := service.DefaultOptions()
	opts.AdminKey = cfg.Http.AdminKey
	opts.RateLimit = rate.Every(time.Minute / time.Duration(cfg.Http.RatePerMinute))
	opts.RateBurst = cfg.Http.RateBurst
	opts.LeaderboardSize = cfg.Http.LeaderboardSize
	if opts.AdminKey == "" {
		slog.WarnContext(ctx, "admin key is not set, admin endpoints are disabled")
	}

	svc := service.NewService(opts, scraper, recorder, timeAPI, service.WithCustomTelemetryAPI(tel))

	// returns after ctx is cancelled and in-flight scrapes have drained
	serviceutil.StartHttpServer(ctx, cfg.Http.Port, svc.Router())
}

// initStorage picks redis when an address is configured, then a sql database, then memory.
// Statistics only persist with redis.
func initStorage(ctx context.Context, cfg Config, timeAPI chrono.TimeAPI, tel telemetry.API) (cache.Store, stats.Recorder, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		slog.InfoContext(ctx, "using redis for cache and stats", "addr", cfg.RedisAddr)
		return cache.NewRedisStore(client), stats.NewRedisRecorder(client, timeAPI, tel), nil
	}

	recorder := stats.NewMemoryRecorder(timeAPI)
	if !cfg.Cache.Database.Empty() {
		db, err := cfg.Cache.Database.Open()
		if err != nil {
			return nil, nil, err
		}
		store, err := cache.NewSQLStore(ctx, db, timeAPI)
		if err != nil {
			return nil, nil, err
		}
		slog.InfoContext(ctx, "using sql database for cache")
		return store, recorder, nil
	}

	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	return cache.NewMemoryStore(cfg.Cache.MemorySize, ttl, timeAPI), recorder, nil
}

func initScraper(cfg Config, verbose bool, driver portal.Driver, store cache.Store, recorder stats.Recorder, timeAPI chrono.TimeAPI, tel telemetry.API) (*scrape.Service, error) {
	lookup, err := credits.Load(cfg.Portal.Credits, tel)
	if err != nil {
		return nil, err
	}

	bootstrapOpts := portal.DefaultBootstrapOptions()
	bootstrapOpts.BaseURL = cfg.Portal.BaseURL
	bootstrapper, err := portal.NewBootstrapper(
		driver,
		bootstrapOpts,
		timeAPI,
		tel,
	)
	if err != nil {
		return nil, err
	}

	fetchOpts := portal.DefaultFetchOptions()
	fetchOpts.BaseURL = cfg.Portal.BaseURL
	fetchOpts.Timeout = time.Duration(cfg.Portal.FetchTimeoutMs) * time.Millisecond
	if verbose {
		dump, err := restyutil.NewFilesystemOutput(".dev/resty/portal")
		if err != nil {
			return nil, err
		}
		fetchOpts.Dump = dump
	}
	fetcher, err := portal.NewFetcher(fetchOpts, lookup, tel)
	if err != nil {
		return nil, err
	}

	scrapeOpts := scrape.DefaultOptions()
	scrapeOpts.CacheTTL = time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	scrapeOpts.FetchConcurrency = cfg.Portal.FetchConcurrency

	return scrape.NewService(
		scrapeOpts,
		admission.NewQueue(cfg.Queue.options(), timeAPI, tel),
		bootstrapper,
		fetcher,
		store,
		recorder,
		timeAPI,
		tel,
	), nil
}
