package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/trvdang/memex/internal/index"
)

// GatewayConfig tunes batching, concurrency, and the async mode.
type GatewayConfig struct {
	BatchSize     int
	MaxConcurrent int
	// RequestsPerSec caps provider calls; 0 means unlimited.
	RequestsPerSec int
	Timeout        time.Duration
	// AsyncBatches enables the job-based batch mode for providers that
	// support it. Off by default; any async failure falls back to the
	// synchronous path.
	AsyncBatches bool
	CacheSize    int
}

// Gateway resolves texts to vectors through a layered cache (in-process
// LRU, then the persistent cache) before batching the remainder to the
// provider with bounded concurrency.
type Gateway struct {
	provider Provider
	cache    Cache
	lru      *lru.Cache[string, []float32]
	limiter  *rate.Limiter
	cfg      GatewayConfig
}

// NewGateway wires a provider to the persistent cache. cache may be nil in
// tests; the LRU still applies.
func NewGateway(provider Provider, cache Cache, cfg GatewayConfig) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}

	l, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding lru: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec)
	}

	return &Gateway{
		provider: provider,
		cache:    cache,
		lru:      l,
		limiter:  limiter,
		cfg:      cfg,
	}, nil
}

func (g *Gateway) Provider() Provider { return g.provider }

// EmbedTexts returns one vector per input text, in order. Cached texts are
// never sent to the provider.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var pendingIdx []int
	var pendingTexts []string
	for i, text := range texts {
		if v, ok := g.lookup(text); ok {
			vectors[i] = v
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingTexts = append(pendingTexts, text)
	}
	if len(pendingTexts) == 0 {
		return vectors, nil
	}

	got, err := g.embedBatched(ctx, pendingTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range got {
		vectors[pendingIdx[j]] = v
		g.remember(pendingTexts[j], v)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	return vectors[0], nil
}

func (g *Gateway) cacheKey(text string) string {
	return index.ContentHash(text)
}

func (g *Gateway) lookup(text string) ([]float32, bool) {
	key := g.cacheKey(text)
	if v, ok := g.lru.Get(key); ok {
		return v, true
	}
	if g.cache != nil {
		if v, ok := g.cache.GetCachedEmbedding(key, g.provider.Name(), g.provider.Model()); ok {
			g.lru.Add(key, v)
			return v, true
		}
	}
	return nil, false
}

func (g *Gateway) remember(text string, vec []float32) {
	key := g.cacheKey(text)
	g.lru.Add(key, vec)
	if g.cache != nil {
		if err := g.cache.CacheEmbedding(key, g.provider.Name(), g.provider.Model(), vec); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
}

// embedBatched splits texts into provider-sized batches and runs them with
// bounded concurrency. Every batch carries its own timeout so one stuck
// call cannot hold a worker slot indefinitely.
func (g *Gateway) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.cfg.MaxConcurrent)

	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, len(texts))
		start := start
		grp.Go(func() error {
			batch := texts[start:end]
			got, err := g.embedOnce(ctx, batch)
			if err != nil {
				return err
			}
			if len(got) != len(batch) {
				return fmt.Errorf("provider returned %d vectors for %d texts", len(got), len(batch))
			}
			copy(vectors[start:end], got)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (g *Gateway) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if g.cfg.AsyncBatches {
		if async, ok := g.provider.(AsyncProvider); ok {
			got, err := g.embedAsync(ctx, async, batch)
			if err == nil {
				return got, nil
			}
			slog.Warn("async batch failed, falling back to sync", "error", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.provider.Embed(callCtx, batch)
}

// embedAsync drives one job through the optional batch API: submit, then
// poll until the job completes or the gateway timeout elapses.
func (g *Gateway) embedAsync(ctx context.Context, provider AsyncProvider, batch []string) ([][]float32, error) {
	submitCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	jobID, err := provider.SubmitBatch(submitCtx, batch)
	cancel()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(10 * g.cfg.Timeout)
	interval := 2 * time.Second
	for {
		pollCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		vectors, done, err := provider.PollBatch(pollCtx, jobID)
		cancel()
		if err != nil {
			return nil, err
		}
		if done {
			return vectors, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("batch job %s timed out", jobID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
