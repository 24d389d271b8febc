package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	"harvestd/internal/agent"
	"harvestd/internal/config"
	"harvestd/internal/coordinator"
	"harvestd/internal/crawler"
	"harvestd/internal/governor"
	"harvestd/internal/httpapi"
	"harvestd/internal/jobs"
	"harvestd/internal/llm"
	"harvestd/internal/migrate"
	"harvestd/internal/model"
	"harvestd/internal/pagecache"
	"harvestd/internal/ratelimit"
	"harvestd/internal/robots"
	"harvestd/internal/scraper"
	"harvestd/internal/search"
	"harvestd/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	if cfg.Auth.InitialAdminKey != "" {
		if _, err := st.EnsureAdminAPIKey(context.Background(), cfg.Auth.InitialAdminKey, "initial-admin"); err != nil {
			log.Fatalf("ensure admin api key failed: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	var govOpts []governor.Option
	if cfg.Governor.PerHostCapacity > 0 {
		govOpts = append(govOpts, governor.WithCapacity(cfg.Governor.PerHostCapacity))
	}
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			govOpts = append(govOpts, governor.WithRedis(redis.NewClient(opt)))
		} else {
			logger.Warn("ignoring invalid redis.url", "error", err)
		}
	}

	robotsCache := robots.New(&http.Client{Timeout: 10 * time.Second}, cfg.Scraper.UserAgent)
	gov := governor.New(govOpts...)
	fetcher := scraper.NewAdaptiveFetcher(
		time.Duration(cfg.Scraper.TimeoutMs)*time.Millisecond,
		time.Duration(cfg.Scraper.RenderTimeoutMs)*time.Millisecond,
	)
	cache := pagecache.New(st)
	coord := coordinator.New(robotsCache, gov, fetcher, cache)

	crawl := crawler.New(coord, st)

	newLLMClient := func(providerOverride, modelOverride string) (llm.Client, error) {
		client, _, _, err := llm.NewClientFromConfig(cfg, providerOverride, modelOverride)
		return client, err
	}
	extractAgent := agent.New(coord, newLLMClient)

	queue := jobs.NewQueue(st, cfg.Worker.QueueWatermark)
	runner := jobs.NewRunner(cfg, st, jobs.Executors{
		model.JobTypeMap:          jobs.NewMapExecutor(crawl, st),
		model.JobTypeAgentExtract: jobs.NewAgentExtractExecutor(extractAgent, st),
	})

	var searchProvider search.Provider
	if cfg.Search.Enabled {
		searchProvider, err = search.NewProviderFromConfig(cfg)
		if err != nil {
			logger.Warn("search provider unavailable", "error", err)
		}
	}

	limiter := ratelimit.New()

	rootCtx := context.Background()
	go runner.Start(rootCtx)

	srv := httpapi.NewServer(cfg, st, coord, queue, searchProvider, limiter, newLLMClient, logger)

	if err := srv.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
