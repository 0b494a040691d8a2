// Package app wires all chat subsystems: store, LLM client, turn pipeline
// and long-memory summarizer. Construction is explicit dependency injection;
// there are no package-level singletons.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wjt2018/chromachat/common/redact"
	"github.com/wjt2018/chromachat/common/version"
	"github.com/wjt2018/chromachat/internal/chat/config"
	"github.com/wjt2018/chromachat/internal/chat/llm"
	"github.com/wjt2018/chromachat/internal/chat/memory"
	"github.com/wjt2018/chromachat/internal/chat/observability"
	"github.com/wjt2018/chromachat/internal/chat/pipeline"
	"github.com/wjt2018/chromachat/internal/chat/store"
)

// App owns the wired subsystems and their shutdown order.
type App struct {
	cfg        *config.Config
	store      *store.Store
	pipeline   *pipeline.Pipeline
	summarizer *memory.Summarizer
	logger     *slog.Logger
}

// New opens the store and wires the pipeline and summarizer. The LLM client
// reads endpoint settings from the store on every call, so settings edited at
// runtime take effect on the next turn without restarting.
func New(cfg *config.Config) (*App, error) {
	observability.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := slog.Default()

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := &settingsClient{store: s, fallback: cfg.LLM}

	app := &App{
		cfg:        cfg,
		store:      s,
		pipeline:   pipeline.New(s, client, logger),
		summarizer: memory.New(s, client, logger),
		logger:     logger,
	}

	logger.Info("chromachat initialized",
		"build", version.Info(),
		"db_path", cfg.DBPath,
	)
	return app, nil
}

// Store exposes the persistence layer.
func (a *App) Store() *store.Store { return a.store }

// Pipeline exposes the turn pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Summarizer exposes the long-memory summarizer.
func (a *App) Summarizer() *memory.Summarizer { return a.summarizer }

// Close cancels pending auto-reply timers, then closes the store.
func (a *App) Close() error {
	a.pipeline.Shutdown()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// settingsClient is an llm.Client that resolves the endpoint configuration
// from the settings table on each call, falling back to the static config
// for values the user never set.
type settingsClient struct {
	store    *store.Store
	fallback config.LLMConfig
}

func (c *settingsClient) resolve(ctx context.Context) (llm.Client, error) {
	all, err := c.store.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load llm settings: %w", err)
	}

	attrs := make(map[string]any, len(all))
	for k, v := range all {
		attrs[k] = v
	}
	slog.Debug("llm settings resolved", "settings", redact.Map(attrs))

	cfg := llm.Config{
		APIKey:    all[store.SettingAPIKey],
		BaseURL:   all[store.SettingBaseURL],
		Model:     all[store.SettingModel],
		Timeout:   c.fallback.Timeout,
		MaxTokens: c.fallback.MaxTokens,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = c.fallback.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = c.fallback.Model
	}
	return llm.New(cfg), nil
}

func (c *settingsClient) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	client, err := c.resolve(ctx)
	if err != nil {
		return "", err
	}
	return client.Complete(ctx, req)
}

func (c *settingsClient) ListModels(ctx context.Context) ([]string, error) {
	client, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return client.ListModels(ctx)
}

var _ llm.Client = (*settingsClient)(nil)
