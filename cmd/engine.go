package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/trvdang/memex/internal/config"
	"github.com/trvdang/memex/internal/embed"
	"github.com/trvdang/memex/internal/search"
	"github.com/trvdang/memex/internal/sources"
	"github.com/trvdang/memex/internal/store"
	"github.com/trvdang/memex/internal/syncer"
)

// engine bundles the wired components behind the CLI commands.
type engine struct {
	cfg        *config.Config
	store      *store.Store
	gateway    *embed.Gateway
	controller *syncer.Controller
	search     *search.Engine
}

// loadEngine wires config → store → gateway → adapters → controller →
// query engine. A missing provider key degrades to keyword-only mode
// instead of failing.
func loadEngine() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.IndexPath())
	if err != nil {
		return nil, err
	}

	gateway, err := buildGateway(cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	controller := syncer.NewController(st, gateway, buildAdapters(cfg), syncer.Config{
		Concurrency:  cfg.Sync.Concurrency,
		TokenBudget:  cfg.Chunk.TokenBudget,
		SessionsFile: cfg.SessionsFile,
	})

	eng := search.NewEngine(st, gateway, search.Config{
		VectorWeight:  cfg.Search.VectorWeight,
		TextWeight:    cfg.Search.TextWeight,
		MinScore:      cfg.Search.MinScore,
		MaxResults:    cfg.Search.MaxResults,
		SnippetMaxLen: cfg.Search.SnippetMaxLen,
	})

	return &engine{cfg: cfg, store: st, gateway: gateway, controller: controller, search: eng}, nil
}

func (e *engine) close() {
	e.store.Close()
}

func buildGateway(cfg *config.Config, st *store.Store) (*embed.Gateway, error) {
	var provider embed.Provider
	switch cfg.Embedding.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		key := os.Getenv(cfg.Embedding.APIKeyEnv)
		if key == "" {
			fmt.Fprintf(os.Stderr, "warning: %s not set, semantic search disabled\n", cfg.Embedding.APIKeyEnv)
			return nil, nil
		}
		provider = embed.NewOpenAIProvider(key, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	case "ollama":
		provider = embed.NewOllamaProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	return embed.NewGateway(provider, st, embed.GatewayConfig{
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrent:  cfg.Embedding.MaxConcurrent,
		RequestsPerSec: cfg.Embedding.RequestsPerSec,
		Timeout:        time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
		AsyncBatches:   cfg.Embedding.AsyncBatches,
		CacheSize:      cfg.Embedding.CacheSize,
	})
}

func buildAdapters(cfg *config.Config) []sources.Adapter {
	var adapters []sources.Adapter
	if cfg.Sources.Notes.Enabled {
		adapters = append(adapters, &sources.NotesAdapter{Root: cfg.Sources.Notes.Path})
	}
	if cfg.Sources.Sessions.Enabled {
		adapters = append(adapters, &sources.SessionsAdapter{Root: cfg.Sources.Sessions.Path})
	}
	if cfg.Sources.Assistant.Enabled {
		adapters = append(adapters, &sources.AssistantAdapter{Root: cfg.Sources.Assistant.Path})
	}
	if cfg.Sources.Workspace.Enabled {
		adapters = append(adapters, &sources.WorkspaceAdapter{Roots: cfg.Sources.Workspace.Paths})
	}
	return adapters
}

// sourceRoots lists every configured root for watch mode.
func sourceRoots(cfg *config.Config) []string {
	var roots []string
	if cfg.Sources.Notes.Enabled {
		roots = append(roots, cfg.Sources.Notes.Path)
	}
	if cfg.Sources.Sessions.Enabled {
		roots = append(roots, cfg.Sources.Sessions.Path)
	}
	if cfg.Sources.Assistant.Enabled {
		roots = append(roots, cfg.Sources.Assistant.Path)
	}
	if cfg.Sources.Workspace.Enabled {
		roots = append(roots, cfg.Sources.Workspace.Paths...)
	}
	return roots
}
