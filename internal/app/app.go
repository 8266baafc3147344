package app

import (
	"context"
	"fmt"

	"bragi/internal/batch"
	"bragi/internal/billing"
	"bragi/internal/config"
	"bragi/internal/pacing"
	"bragi/internal/services"
	"bragi/internal/store"
	"bragi/internal/store/memory"
	"bragi/internal/store/primary"

	log "github.com/sirupsen/logrus"
)

// App wires the engine's components over the store interfaces. With a
// database DSN configured the ledger, registry and usage log live in
// Postgres; otherwise everything runs in memory for the process lifetime.
type App struct {
	Config *config.Config

	Ledger     store.Ledger
	Registry   store.BatchRegistry
	UsageStore store.UsageStore

	Runner     *batch.Runner
	Settlement *billing.Settlement
	Pacing     *pacing.Queue

	// Executors maps a task type (e.g. "text", "image") to the executor
	// that produces that content.
	Executors map[string]services.Executor

	// TextExecutor is the provider behind interactive single calls.
	TextExecutor *services.OpenAITextExecutor

	pg *primary.StoreImpl
}

// NewApp initializes stores, executors and schedulers from config.
func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg}

	if err := app.initStores(ctx); err != nil {
		return nil, err
	}
	if err := app.initExecutors(); err != nil {
		app.Close()
		return nil, err
	}
	app.initSchedulers()

	log.Println("Application initialization complete.")
	return app, nil
}

func (a *App) initStores(ctx context.Context) error {
	dsn := a.Config.Database.Primary.DSN
	if dsn == "" {
		log.Println("No database DSN configured, using in-memory stores.")
		a.Ledger = memory.NewLedger()
		a.Registry = memory.NewRegistry()
		a.UsageStore = memory.NewUsageStore()
		return nil
	}

	pg, err := primary.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("init primary store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return fmt.Errorf("init primary store: %w", err)
	}
	a.pg = pg
	a.Ledger = pg
	a.Registry = pg
	a.UsageStore = pg
	return nil
}

func (a *App) initExecutors() error {
	cfg := a.Config
	a.Executors = make(map[string]services.Executor)

	openaiPricing := cfg.Pricing["openai"]
	geminiPricing := cfg.Pricing["gemini"]

	textExec, err := services.NewOpenAITextExecutor(
		cfg.Providers.OpenaiApiKey, cfg.Providers.TextModel, a.UsageStore, openaiPricing)
	if err != nil {
		return fmt.Errorf("init OpenAI text executor: %w", err)
	}
	a.TextExecutor = textExec

	switch cfg.Providers.TextProvider {
	case "openai":
		a.Executors["text"] = textExec
	case "gemini":
		geminiExec, err := services.NewGeminiTextExecutor(
			cfg.Providers.GoogleApiKey, cfg.Providers.GeminiModel, a.UsageStore, geminiPricing)
		if err != nil {
			return fmt.Errorf("init Gemini text executor: %w", err)
		}
		a.Executors["text"] = geminiExec
	case "noop":
		a.Executors["text"] = services.NewNoopExecutor()
	default:
		return fmt.Errorf("unknown text provider configured: %s", cfg.Providers.TextProvider)
	}

	imageExec, err := services.NewOpenAIImageExecutor(
		cfg.Providers.OpenaiApiKey, cfg.Providers.ImageModel, a.UsageStore, openaiPricing)
	if err != nil {
		return fmt.Errorf("init OpenAI image executor: %w", err)
	}
	a.Executors["image"] = imageExec

	return nil
}

func (a *App) initSchedulers() {
	cfg := a.Config
	a.Runner = batch.NewRunner(a.Registry)
	a.Settlement = billing.NewSettlement(a.Ledger, a.Runner, cfg.PollInterval(), cfg.Batch.PollAttempts)
	a.Pacing = pacing.New(pacing.Config{
		MinGap:      cfg.PacingMinGap(),
		MaxRetries:  cfg.Pacing.MaxRetries,
		BackoffBase: cfg.PacingBackoffBase(),
	})
}

// Executor returns the executor for a task type.
func (a *App) Executor(taskType string) (services.Executor, bool) {
	exec, ok := a.Executors[taskType]
	return exec, ok
}

// Ping checks backing-store connectivity.
func (a *App) Ping(ctx context.Context) error {
	if a.pg != nil {
		return a.pg.Ping(ctx)
	}
	return nil
}

// Close releases pooled resources.
func (a *App) Close() {
	if a.Pacing != nil {
		a.Pacing.Close()
	}
	if closer, ok := a.Executors["text"].(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("Error closing text executor: %v", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
