// Package main is the entry point for the cost-aware LLM gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"costgate/config"
	"costgate/internal/budget"
	"costgate/internal/core"
	"costgate/internal/cost"
	"costgate/internal/dispatch"
	"costgate/internal/logging"
	"costgate/internal/optimizer"
	"costgate/internal/providers"

	// Import provider packages to trigger their init() registration
	_ "costgate/internal/providers/anthropic"
	_ "costgate/internal/providers/gemini"
	_ "costgate/internal/providers/ollama"
	_ "costgate/internal/providers/openai"
	"costgate/internal/server"
	"costgate/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to config file (default "+config.DefaultPath+" if present)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging)

	slog.Info("starting costgate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	if len(cfg.Providers) == 0 {
		slog.Error("at least one provider must be configured")
		os.Exit(1)
	}

	provs := make(map[string]core.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p, err := providers.Create(providers.Config{
			Type:    pc.Type,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
		})
		if err != nil {
			slog.Error("failed to initialize provider", "provider", name, "error", err)
			os.Exit(1)
		}
		provs[name] = p
		slog.Info("provider configured", "provider", name, "type", pc.Type)
	}

	analyzer := cost.NewAnalyzer(nil)
	for key, pricing := range cfg.Pricing {
		provider, model, ok := strings.Cut(key, "/")
		if !ok {
			slog.Error("invalid pricing key, want provider/model", "key", key)
			os.Exit(1)
		}
		analyzer.SetPricing(provider, model, pricing)
	}

	var store budget.LedgerStore
	if cfg.Ledger.Path != "" {
		sqlStore, err := budget.OpenSQLite(cfg.Ledger.Path, cfg.Ledger.RetentionDays)
		if err != nil {
			slog.Error("failed to open cost ledger", "path", cfg.Ledger.Path, "error", err)
			os.Exit(1)
		}
		store = sqlStore
		slog.Info("cost ledger opened", "path", cfg.Ledger.Path, "retention_days", cfg.Ledger.RetentionDays)
	} else {
		store = budget.NewMemoryStore()
		slog.Warn("no ledger path configured, cost history will not survive restarts")
	}
	defer store.Close()

	budgets, err := budget.NewManager(store, cfg.Budgets)
	if err != nil {
		slog.Error("invalid budget configuration", "error", err)
		os.Exit(1)
	}
	for _, b := range cfg.Budgets {
		slog.Info("budget configured", "period", b.Period, "limit_usd", b.Limit)
	}

	recorder := budget.NewRecorder(store, cfg.Recorder)
	defer recorder.Close()

	opt := optimizer.New(analyzer, budgets, optimizer.NewStatsTracker())
	if err := opt.SetRules(cfg.Optimizer.Rules); err != nil {
		slog.Error("invalid optimizer rules", "error", err)
		os.Exit(1)
	}
	if len(cfg.Optimizer.LatencyPenalties) > 0 {
		opt.SetLatencyPenalties(cfg.Optimizer.LatencyPenalties)
	}

	dispatcher := dispatch.New(provs, opt, analyzer, budgets, recorder, cfg.Routing)

	if cfg.Server.HTTP.MasterKey == "" {
		slog.Warn("SECURITY WARNING: COSTGATE_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set COSTGATE_MASTER_KEY environment variable to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	srv := server.New(server.Deps{
		Dispatcher: dispatcher,
		Budgets:    budgets,
		Ledger:     store,
		Optimizer:  opt,
	}, &cfg.Server.HTTP)

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := cfg.Server.Addr()
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		slog.Error("server failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped gracefully")
}
