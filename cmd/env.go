package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/company-registry/internal/repo"
	"github.com/sells-group/company-registry/internal/resilience"
	"github.com/sells-group/company-registry/internal/scraper"
	"github.com/sells-group/company-registry/internal/service"
)

func initRepo(ctx context.Context) (repo.Repository, error) {
	switch cfg.Store.Driver {
	case "memory":
		return repo.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "companyreg.db"
		}
		return repo.NewSQLite(dsn)
	case "postgres":
		return repo.NewPostgres(ctx, cfg.Store.DatabaseURL, &repo.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initScraper builds the scraper client from config. Returns nil when no
// scraper is configured, which disables the search fallback.
func initScraper() (scraper.Client, error) {
	sc := cfg.Scraper
	if sc.Address == "" && sc.RegistryPath == "" {
		return nil, nil
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: sc.BreakerThreshold,
		// Only transport-level failures count; an upstream saying "no
		// suitable scrapers" is a healthy upstream.
		ShouldTrip: func(err error) bool { return errors.Is(err, scraper.ErrUnavailable) },
	})

	opts := []scraper.Option{
		scraper.WithRateLimit(sc.RateLimitPerSec, 1),
		scraper.WithRetry(resilience.RetryConfig{
			MaxAttempts:    sc.Retries + 1,
			InitialBackoff: 200 * time.Millisecond,
		}),
		scraper.WithBreaker(breaker),
	}
	if sc.TimeoutSecs > 0 {
		opts = append(opts, scraper.WithHTTPClient(httpClientWithTimeout(sc.TimeoutSecs)))
	}

	if sc.RegistryPath != "" {
		regCfg, err := scraper.LoadRegistryConfig(sc.RegistryPath)
		if err != nil {
			return nil, err
		}
		return scraper.NewRegistry(regCfg, opts...)
	}
	return scraper.NewHTTPClient(sc.Address, opts...), nil
}

func httpClientWithTimeout(secs int) *http.Client {
	return &http.Client{Timeout: time.Duration(secs) * time.Second}
}

func initService(ctx context.Context) (*service.Service, repo.Repository, error) {
	r, err := initRepo(ctx)
	if err != nil {
		return nil, nil, err
	}
	sc, err := initScraper()
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return service.New(r, sc), r, nil
}
