// Entry point for the pagemd service: URL-to-markdown resolution over a
// fallback ladder of extraction engines, with snapshot caching and version
// history.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/genai"
	_ "modernc.org/sqlite"

	"github.com/pagemd/pagemd/api"
	"github.com/pagemd/pagemd/browser"
	"github.com/pagemd/pagemd/config"
	"github.com/pagemd/pagemd/dbopen"
	"github.com/pagemd/pagemd/engine"
	"github.com/pagemd/pagemd/mdconv"
	"github.com/pagemd/pagemd/ratelimit"
	"github.com/pagemd/pagemd/safefetch"
	"github.com/pagemd/pagemd/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(snapshot.Schema),
	)
	if err != nil {
		slog.Error("database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	fetcher := safefetch.New(safefetch.Config{
		Timeout:        cfg.Fetch.Timeout,
		MaxBytes:       cfg.Fetch.MaxBytes,
		MaxRedirects:   cfg.Fetch.MaxRedirects,
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		HostHeaders:    cfg.Fetch.HostHeaders,
	})
	converter := mdconv.New()

	// The ladder: native and local always run; browser, readers and llm
	// join when configured. Order is cost order.
	engines := []engine.Engine{
		engine.NewNative(fetcher),
		engine.NewLocal(fetcher, converter),
	}

	if cfg.Browser.Enabled {
		mgr := browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			SettleDelay:      cfg.Browser.SettleDelay,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Logger:           logger,
		})
		// Best effort: a host without Chrome still serves the other stages.
		if err := mgr.Start(ctx); err != nil {
			slog.Warn("browser unavailable, render stage disabled", "error", err)
		}
		defer mgr.Close()
		engines = append(engines, engine.NewBrowser(mgr, converter))
	}

	for _, rc := range cfg.Engines.Readers {
		reader := engine.NewReader(rc)
		if err := reader.Validate(); err != nil {
			slog.Error("reader config", "error", err)
			os.Exit(1)
		}
		engines = append(engines, reader)
	}

	if cfg.Engines.LLM.Enabled {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Engines.LLM.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			slog.Warn("llm unavailable, refinement stage disabled", "error", err)
		} else {
			engines = append(engines, engine.NewLLM(client, cfg.Engines.LLM.Model))
		}
	}

	orch := engine.NewOrchestrator(engine.Config{
		StageTimeout: cfg.Engines.StageTimeout,
		Logger:       logger,
	}, engines...)

	svc := snapshot.NewService(snapshot.Config{
		TTL:    cfg.TTL(),
		Logger: logger,
	}, snapshot.NewStore(db), orch)

	limiter := ratelimit.New(cfg.RateLimit)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(svc, limiter, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen, "engines", len(engines))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
