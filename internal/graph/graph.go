// Package graph is the entry point to the content graph. An Interface owns
// the store connection and runs builds, inference and queries against it.
package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/contentkit/contentgraph/internal/builder"
	"github.com/contentkit/contentgraph/internal/cache"
	"github.com/contentkit/contentgraph/internal/config"
	"github.com/contentkit/contentgraph/internal/dependencies"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/reasons"
	"github.com/contentkit/contentgraph/internal/store"
)

// ExportName is the file name ExportGraph writes inside the export dir.
const ExportName = "content_graph" + store.SnapshotExt

type Interface struct {
	cfg      *config.Config
	log      *logging.Logger
	st       *store.Store
	cache    cache.Cache
	closers  []func() error
	progress builder.Progress
}

// Open connects to the configured store and sets up the parse cache. A
// Redis address that cannot be reached leaves the cache in memory only.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Interface, error) {
	st, err := store.Open(ctx, cfg.Store.Store(), log)
	if err != nil {
		return nil, err
	}
	g := &Interface{cfg: cfg, log: log, st: st}
	g.closers = append(g.closers, st.Close)

	if cfg.Cache.Size > 0 {
		mem := cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL())
		g.cache = mem
		if cfg.Cache.RedisAddr != "" {
			r, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL(), log)
			if err != nil {
				log.Warnw("redis cache unavailable, using memory only", "addr", cfg.Cache.RedisAddr, "err", err)
			} else {
				g.cache = cache.NewTiered(mem, r)
				g.closers = append(g.closers, r.Close)
			}
		}
	}
	return g, nil
}

// Close releases everything Open acquired.
func (g *Interface) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		errs = append(errs, g.closers[i]())
	}
	g.closers = nil
	return errors.Join(errs...)
}

// With opens an Interface, runs fn and closes it whatever fn returns.
func With(ctx context.Context, cfg *config.Config, log *logging.Logger, fn func(*Interface) error) (err error) {
	g, err := Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close graph: %w", cerr))
		}
	}()
	return fn(g)
}

func (g *Interface) Store() *store.Store { return g.st }

func (g *Interface) WithProgress(p builder.Progress) *Interface {
	g.progress = p
	return g
}

func (g *Interface) builder() (*builder.Builder, error) {
	ms, err := g.cfg.MarketplaceFilter()
	if err != nil {
		return nil, err
	}
	b := builder.New(g.st, g.cache, builder.Options{
		Concurrency:     g.cfg.Concurrency,
		BatchMax:        g.cfg.BatchMax,
		FlushEvery:      time.Duration(g.cfg.BatchFlushSec) * time.Second,
		RetryMaxElapsed: g.cfg.Store.Store().RetryMaxElapsed,
		Marketplaces:    ms,
	}, g.log)
	if g.progress != nil {
		b.WithProgress(g.progress)
	}
	return b, nil
}

// CreateGraph rebuilds the graph from the configured repository and infers
// pack dependencies. Anything already in the store is dropped.
func (g *Interface) CreateGraph(ctx context.Context) (*builder.Summary, error) {
	b, err := g.builder()
	if err != nil {
		return nil, err
	}
	sum, err := b.Build(ctx, g.cfg.RepoPath)
	if err != nil {
		return nil, err
	}
	if err := g.infer(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

// UpdateGraph imports exported graphs, re-parses packs and infers pack
// dependencies again.
func (g *Interface) UpdateGraph(ctx context.Context, importPaths, packs []string) (*builder.Summary, error) {
	b, err := g.builder()
	if err != nil {
		return nil, err
	}
	sum, err := b.Update(ctx, g.cfg.RepoPath, importPaths, packs)
	if err != nil {
		return nil, err
	}
	if err := g.infer(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

func (g *Interface) infer(ctx context.Context) error {
	res, err := dependencies.New(g.st, g.log).Run(ctx)
	if err != nil {
		return fmt.Errorf("infer pack dependencies: %w", err)
	}
	for _, r := range res.Removals {
		g.log.Infow("removed from marketplace", "node_id", r.NodeID, "marketplace", r.Marketplace, "missing", r.Reasons)
	}
	return nil
}

// GetDependenciesReasons explains why q.Source depends on q.Target.
func (g *Interface) GetDependenciesReasons(ctx context.Context, q reasons.Query) ([]reasons.PathRecord, error) {
	return reasons.New(g.st, g.cfg.ReasonsMaxDepth, g.log).Get(ctx, q)
}

// ExportGraph writes a snapshot into dir (the configured export dir when
// empty) and returns its path.
func (g *Interface) ExportGraph(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		dir = g.cfg.ExportDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export dir: %w", err)
	}
	path := filepath.Join(dir, ExportName)
	snap, err := g.st.ExportFile(ctx, path)
	if err != nil {
		return "", err
	}
	g.log.Infow("graph exported", "path", path, "snapshot", snap.ID, "nodes", len(snap.Nodes), "relationships", len(snap.Relationships))
	return path, nil
}
