// Package syncer orchestrates a sync pass: source adapters feed the
// change detector, changed files are chunked and embedded, and the store
// is updated with per-source failure isolation and stale-record
// reconciliation.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trvdang/memex/internal/chunker"
	"github.com/trvdang/memex/internal/embed"
	"github.com/trvdang/memex/internal/index"
	"github.com/trvdang/memex/internal/sources"
	"github.com/trvdang/memex/internal/store"
)

// assistantCLIName keys the foreign session id inside the session-tracking
// store's cliSessionIds map.
const assistantCLIName = "assistant"

// Progress reports advisory sync progress to an external observer. It
// never gates correctness.
type Progress func(done, total int, label string)

// Options configures one sync call.
type Options struct {
	Force bool
}

// Report aggregates the outcome of a sync pass. Per-file failures are
// counted, not raised.
type Report struct {
	Mode    string `json:"mode"`
	Indexed int    `json:"indexed"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Deleted int    `json:"deleted"`
}

// Config tunes the controller.
type Config struct {
	Concurrency  int
	TokenBudget  int
	SessionsFile string
}

// Controller runs sync passes over the configured sources. The gateway
// may be nil; files are then indexed for keyword search only.
type Controller struct {
	store    *store.Store
	gateway  *embed.Gateway
	adapters []sources.Adapter
	cfg      Config
	progress Progress
}

func NewController(st *store.Store, gateway *embed.Gateway, adapters []sources.Adapter, cfg Config) *Controller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 250
	}
	return &Controller{store: st, gateway: gateway, adapters: adapters, cfg: cfg}
}

// SetProgress installs the advisory progress callback.
func (c *Controller) SetProgress(p Progress) { c.progress = p }

// Sync runs one pass over all sources. Adapter and provider failures are
// isolated per source and per file; only storage-level errors fail the
// call.
func (c *Controller) Sync(ctx context.Context, opts Options) (Report, error) {
	providerDims := 0
	if c.gateway != nil {
		providerDims = c.gateway.Provider().Dimensions()
	}

	mode := DecideMode(c.store, providerDims, opts.Force)
	report := Report{Mode: mode.String()}

	target := c.store
	var rebuild *store.Rebuild
	if mode == ModeFull {
		var err error
		rebuild, err = c.store.BeginRebuild()
		if err != nil {
			return report, fmt.Errorf("begin rebuild: %w", err)
		}
		target = rebuild.Store
	}

	start := time.Now()
	for _, adapter := range c.adapters {
		if err := c.syncSource(ctx, target, adapter, &report); err != nil {
			if rebuild != nil {
				rebuild.Abort()
			}
			return report, err
		}
	}

	// Metadata is written only after every source's chunk writes are
	// durable, so a crash never leaves the store claiming consistency it
	// does not have.
	if err := c.writeMeta(target, mode); err != nil {
		if rebuild != nil {
			rebuild.Abort()
		}
		return report, fmt.Errorf("write sync metadata: %w", err)
	}

	if rebuild != nil {
		if err := rebuild.Commit(); err != nil {
			return report, err
		}
	}

	slog.Info("sync complete",
		"mode", report.Mode,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"deleted", report.Deleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// syncSource indexes one source: list, filter excluded ids, fan out file
// tasks over a bounded pool, then reconcile stale records. Reconciliation
// runs strictly after every task finished, so it never deletes a record
// for a file that is mid-indexing.
func (c *Controller) syncSource(ctx context.Context, target *store.Store, adapter sources.Adapter, report *Report) error {
	source := adapter.Source()

	entries, err := adapter.ListEntries(ctx)
	if err != nil {
		slog.Error("source listing failed, skipping source", "source", source, "error", err)
		return nil
	}

	if source == index.SourceAssistant && c.cfg.SessionsFile != "" {
		excluded := sources.LoadExcludedSessionIDs(c.cfg.SessionsFile, assistantCLIName)
		if len(excluded) > 0 {
			kept := entries[:0]
			for _, e := range entries {
				if _, ok := excluded[e.SourceID]; ok {
					continue
				}
				kept = append(kept, e)
			}
			entries = kept
		}
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Path] = struct{}{}
	}

	var indexed, skipped, failed, done atomic.Int64
	total := len(entries)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(c.cfg.Concurrency)

	for _, entry := range entries {
		entry := entry
		grp.Go(func() error {
			defer func() {
				if c.progress != nil {
					c.progress(int(done.Add(1)), total, string(source))
				}
			}()

			if prev, ok := target.GetFileHash(entry.Path, source); ok && prev == entry.Hash {
				skipped.Add(1)
				return nil
			}

			if err := c.indexEntry(gctx, target, source, entry); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if _, fatal := err.(*storageError); fatal {
					return err
				}
				slog.Warn("file skipped this pass", "source", source, "path", entry.Path, "error", err)
				failed.Add(1)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}

	deleted, err := c.reconcile(target, source, seen)
	if err != nil {
		return &storageError{err}
	}

	report.Indexed += int(indexed.Load())
	report.Skipped += int(skipped.Load())
	report.Failed += int(failed.Load())
	report.Deleted += deleted
	return nil
}

// indexEntry chunks and embeds one entry and writes the file record plus
// its full chunk set as a single atomic unit. An embedding failure leaves
// the file's previous state untouched for retry on the next pass.
func (c *Controller) indexEntry(ctx context.Context, target *store.Store, source index.Source, entry index.Entry) error {
	pieces := chunker.Split(entry.Content, c.cfg.TokenBudget)

	model := ""
	var vectors [][]float32
	if c.gateway != nil && len(pieces) > 0 {
		model = c.gateway.Provider().Model()
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.Text
		}
		var err error
		vectors, err = c.gateway.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
	}

	now := time.Now().Unix()
	chunks := make([]index.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = index.Chunk{
			ID:        index.ChunkID(source, entry.Path, i),
			Path:      entry.Path,
			Source:    source,
			Project:   entry.Project,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
			Hash:      index.ContentHash(p.Text),
			Model:     model,
			Text:      p.Text,
			UpdatedAt: now,
		}
		if vectors != nil {
			chunks[i].Embedding = vectors[i]
		}
	}

	file := index.FileRecord{
		Path:    entry.Path,
		Source:  source,
		Project: entry.Project,
		Hash:    entry.Hash,
	}
	if err := target.ReplaceFileChunks(ctx, file, chunks); err != nil {
		return &storageError{fmt.Errorf("write chunks: %w", err)}
	}
	return nil
}

// reconcile deletes records for paths the adapter no longer reports,
// scoped to one source.
func (c *Controller) reconcile(target *store.Store, source index.Source, seen map[string]struct{}) (int, error) {
	stored, err := target.ListFilePaths(source)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, path := range stored {
		if _, ok := seen[path]; ok {
			continue
		}
		if err := target.DeleteFile(path, source); err != nil {
			return deleted, err
		}
		slog.Info("removed stale record", "source", source, "path", path)
		deleted++
	}
	return deleted, nil
}

func (c *Controller) writeMeta(target *store.Store, mode Mode) error {
	if err := target.SetMeta(store.MetaSchemaVersion, strconv.Itoa(store.SchemaVersion)); err != nil {
		return err
	}
	if c.gateway != nil {
		if dims := c.gateway.Provider().Dimensions(); dims > 0 {
			if err := target.SetMeta(store.MetaVectorDims, strconv.Itoa(dims)); err != nil {
				return err
			}
		}
	}
	if mode == ModeFull {
		if err := target.SetMeta(store.MetaLastFullReindexAt, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
			return err
		}
	}
	return nil
}

// storageError marks failures that must abort the whole sync attempt
// rather than being absorbed as a per-file skip.
type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }
