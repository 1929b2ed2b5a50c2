// Package builder walks a content repository and loads it into the graph
// store. Packs are parsed in parallel; nodes and their local edges are
// written first, dependency edges once every node exists.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/contentkit/contentgraph/internal/cache"
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/dedup"
	"github.com/contentkit/contentgraph/internal/emit"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/metrics"
	"github.com/contentkit/contentgraph/internal/parser"
	"github.com/contentkit/contentgraph/internal/store"
	"github.com/contentkit/contentgraph/internal/telemetry"
)

type Options struct {
	Concurrency     int
	BatchMax        int
	FlushEvery      time.Duration
	RetryMaxElapsed time.Duration
	// Marketplaces narrows every pack and item. Empty keeps all of them.
	Marketplaces []contenttype.Marketplace
}

// Progress receives build counters. ui.InteractiveLogger implements it.
type Progress interface {
	SetTotal(total int64)
	UpdateProgress(packs, parsed, failed, edges int64)
	Finish()
}

type Builder struct {
	st       *store.Store
	cache    cache.Cache
	opts     Options
	log      *logging.Logger
	progress Progress
}

// New returns a builder writing into st. c may be nil to parse every item.
func New(st *store.Store, c cache.Cache, opts Options, log *logging.Logger) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Builder{st: st, cache: c, opts: opts, log: log}
}

func (b *Builder) WithProgress(p Progress) *Builder {
	b.progress = p
	return b
}

// run is the state of one Build or Update. Only the collecting goroutine
// touches it.
type run struct {
	repo    string
	summary *Summary
	seen    *dedup.Memory
	deps    []store.DependencyWrite
	edges   atomic.Int64
	packs   int
	started time.Time
}

func (b *Builder) newRun(repo string) *run {
	return &run{
		repo:    repo,
		summary: &Summary{RunID: uuid.NewString()},
		seen:    dedup.NewMemory(),
		started: time.Now(),
	}
}

// Build replaces the graph with every pack under repo/Packs. Per-item
// failures end up in the summary; store failures abort the build.
func (b *Builder) Build(ctx context.Context, repo string) (sum *Summary, err error) {
	ctx, end := telemetry.Phase(ctx, "build", attribute.String("repo", repo))
	defer func() { end(err) }()

	r := b.newRun(repo)
	b.log.Infow("build started", "run_id", r.summary.RunID, "repo", repo)
	if err := b.st.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if err := b.st.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset graph: %w", err)
	}
	dirs, err := listPacks(repo)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", repo, err)
	}
	if err := b.load(ctx, r, dirs, nil, false); err != nil {
		return nil, err
	}
	return r.summary, nil
}

// Update merges exported graphs into the store, then replaces the listed
// packs with a fresh parse. Edges other packs had into the replaced items
// are written again.
func (b *Builder) Update(ctx context.Context, repo string, importPaths, packs []string) (sum *Summary, err error) {
	ctx, end := telemetry.Phase(ctx, "update", attribute.String("repo", repo), attribute.StringSlice("packs", packs))
	defer func() { end(err) }()

	r := b.newRun(repo)
	b.log.Infow("update started", "run_id", r.summary.RunID, "imports", len(importPaths), "packs", packs)
	if err := b.st.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	for _, p := range importPaths {
		snap, err := b.st.ImportFile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", p, err)
		}
		b.log.Infow("graph imported", "path", p, "snapshot", snap.ID, "nodes", len(snap.Nodes))
	}

	preserved, err := b.st.DeletePacks(ctx, packs)
	if err != nil {
		return nil, fmt.Errorf("remove packs: %w", err)
	}
	var dirs []string
	for _, id := range packs {
		dir := filepath.Join(repo, PacksDir, id)
		if _, err := os.Stat(dir); err != nil {
			b.log.Warnw("pack not in repository, left removed", "pack", id)
			continue
		}
		dirs = append(dirs, dir)
	}
	if err := b.load(ctx, r, dirs, preserved, true); err != nil {
		return nil, err
	}
	return r.summary, nil
}

func (b *Builder) load(ctx context.Context, r *run, dirs []string, extra []store.DependencyWrite, detach bool) error {
	if b.progress != nil {
		b.progress.SetTotal(int64(len(dirs)))
		defer b.progress.Finish()
	}
	jobs, err := b.writePacks(ctx, r, dirs)
	if err != nil {
		return err
	}
	if err := b.parseItems(ctx, r, jobs); err != nil {
		return err
	}
	if err := b.writeDependencies(ctx, r, append(r.deps, extra...)); err != nil {
		return err
	}
	if err := b.finalize(ctx, r, detach); err != nil {
		return err
	}
	sort.Strings(r.summary.UnknownFolders)
	r.summary.Duration = time.Since(r.started)
	b.log.Infow("build finished", "run_id", r.summary.RunID, "summary", r.summary.String(), "duration", r.summary.Duration)
	return nil
}

type packJob struct {
	dir    string
	info   parser.PackInfo
	nodeID string
}

// writePacks stores the pack nodes. A pack whose metadata cannot be parsed
// is reported and its items are not walked.
func (b *Builder) writePacks(ctx context.Context, r *run, dirs []string) ([]packJob, error) {
	var jobs []packJob
	for _, dir := range dirs {
		rec, err := parser.ParsePack(dir)
		if err != nil {
			r.fail(contenttype.Pack, err)
			b.log.Warnw("pack skipped", "dir", dir, "err", err)
			continue
		}
		ms := b.narrow(rec.Marketplaces)
		if len(ms) == 0 {
			r.summary.Skipped++
			metrics.ItemsTotal.WithLabelValues(string(contenttype.Pack), "skipped").Inc()
			b.log.Debugw("pack outside marketplace filter", "pack", rec.ObjectID)
			continue
		}
		rec.Marketplaces = ms
		node := b.node(r, &rec.Record)
		node.Properties["author"] = rec.Author
		node.Properties["certification"] = rec.Certification
		node.Properties["categories"] = rec.Categories
		node.Properties["tags"] = rec.Tags
		if _, err := b.st.WritePack(ctx, node); err != nil {
			return nil, fmt.Errorf("write pack %s: %w", rec.ObjectID, err)
		}
		metrics.ItemsTotal.WithLabelValues(string(contenttype.Pack), "ok").Inc()
		r.summary.Packs++
		jobs = append(jobs, packJob{dir: dir, info: rec.Info(), nodeID: rec.NodeID})
	}
	return jobs, nil
}

func (b *Builder) narrow(ms []contenttype.Marketplace) []contenttype.Marketplace {
	if len(b.opts.Marketplaces) == 0 {
		return ms
	}
	return contenttype.NewMarketplaceSet(ms...).Intersect(contenttype.NewMarketplaceSet(b.opts.Marketplaces...)).Sorted()
}

// result is one message from a pack worker.
type result struct {
	rec      *parser.Record
	pack     string
	ct       contenttype.ContentType
	err      error
	cached   bool
	folder   string
	packDone bool
}

// parseItems fans pack folders out to the workers and streams their
// records into the item emitter.
func (b *Builder) parseItems(ctx context.Context, r *run, jobs []packJob) error {
	ctx, end := telemetry.Phase(ctx, "parse_items", attribute.Int("packs", len(jobs)))
	var err error
	defer func() { end(err) }()

	items := make(chan store.ItemWrite)
	em := emit.NewEmitter[store.ItemWrite]("items", b.itemSink(r), b.opts.BatchMax, b.opts.FlushEvery, b.opts.RetryMaxElapsed)
	emitted := make(chan struct{})
	go func() {
		em.Run(ctx, items, b.log)
		close(emitted)
	}()

	tasks := make(chan packJob)
	results := make(chan result, 64)
	go func() {
		defer close(tasks)
		for _, j := range jobs {
			select {
			case tasks <- j:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		b.runWorkers(ctx, tasks, results)
		close(results)
	}()

	for res := range results {
		if w, ok := b.collect(r, res); ok {
			select {
			case items <- w:
			case <-ctx.Done():
			}
		}
	}
	close(items)
	<-emitted

	if _, err = em.Drain(ctx, b.log); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (b *Builder) runWorkers(ctx context.Context, tasks <-chan packJob, results chan<- result) {
	done := make(chan struct{})
	for i := 0; i < b.opts.Concurrency; i++ {
		go func() {
			for job := range tasks {
				b.parsePack(ctx, job, results)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < b.opts.Concurrency; i++ {
		<-done
	}
}

func (b *Builder) itemSink(r *run) emit.Sink[store.ItemWrite] {
	return func(ctx context.Context, batch []store.ItemWrite) error {
		n, err := b.st.WriteItems(ctx, batch)
		if err != nil {
			if store.IsUnavailable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		r.edges.Add(int64(n))
		metrics.EdgesTotal.WithLabelValues("local").Add(float64(n))
		return nil
	}
}

// collect folds one worker result into the run. It returns the write for a
// parsed item that made it through the marketplace filter.
func (b *Builder) collect(r *run, res result) (store.ItemWrite, bool) {
	switch {
	case res.packDone:
		r.packs++
		b.report(r)
		return store.ItemWrite{}, false
	case res.folder != "":
		if !r.seen.Seen(dedup.Key("folder", res.folder)) {
			r.summary.UnknownFolders = append(r.summary.UnknownFolders, res.folder)
			b.log.Debugw("not a content folder", "folder", res.folder)
		}
		return store.ItemWrite{}, false
	case res.err != nil:
		r.fail(res.ct, res.err)
		b.log.Warnw("item skipped", "type", res.ct, "err", res.err)
		return store.ItemWrite{}, false
	}

	rec := res.rec
	if len(rec.Marketplaces) == 0 {
		r.summary.Skipped++
		metrics.ItemsTotal.WithLabelValues(string(rec.ContentType), "skipped").Inc()
		return store.ItemWrite{}, false
	}
	if r.seen.Seen(dedup.Key("node", rec.NodeID, rec.FromVersion)) {
		b.log.Warnw("duplicate content id", "node_id", rec.NodeID, "path", rec.Path)
	}
	r.summary.Parsed++
	status := "ok"
	if res.cached {
		r.summary.Cached++
		status = "cached"
	}
	metrics.ItemsTotal.WithLabelValues(string(rec.ContentType), status).Inc()

	node := b.node(r, rec)
	for _, d := range rec.Dependencies {
		typ := contenttype.Uses
		if d.Ambiguous() {
			typ = contenttype.UsesCommandOrScript
		}
		r.addDependency(store.DependencyWrite{
			SourcePath:     node.Path,
			Type:           typ,
			TargetType:     d.TargetType,
			TargetObjectID: d.Target,
			Mandatorily:    d.Mandatory,
		})
	}
	for _, t := range rec.Tests {
		r.addDependency(store.DependencyWrite{
			SourcePath:     node.Path,
			Type:           contenttype.TestedBy,
			TargetType:     contenttype.TestPlaybook,
			TargetObjectID: t,
		})
	}
	w := store.ItemWrite{Node: node, Pack: res.pack}
	for _, c := range rec.Commands {
		w.Commands = append(w.Commands, store.CommandRef{Name: c.Name, Description: c.Description, Deprecated: c.Deprecated})
	}
	return w, true
}

func (b *Builder) report(r *run) {
	if b.progress == nil {
		return
	}
	b.progress.UpdateProgress(int64(r.packs), int64(r.summary.Parsed), int64(r.summary.Failed), r.edges.Load())
}

// addDependency queues a declaration unless the same one was queued already.
func (r *run) addDependency(d store.DependencyWrite) {
	key := dedup.Key("dep", d.SourcePath, string(d.Type), string(d.TargetType), d.TargetObjectID, strconv.FormatBool(d.Mandatorily))
	if r.seen.Seen(key) {
		return
	}
	r.deps = append(r.deps, d)
}

func (r *run) fail(ct contenttype.ContentType, err error) {
	r.summary.Failed++
	r.summary.Errors = append(r.summary.Errors, err)
	metrics.ItemsTotal.WithLabelValues(string(ct), "failed").Inc()
}

// node converts a record into a store node with a repository-relative path.
func (b *Builder) node(r *run, rec *parser.Record) store.Node {
	path := rec.Path
	if rel, err := filepath.Rel(r.repo, rec.Path); err == nil {
		path = rel
	}
	props := make(map[string]any, len(rec.Properties))
	for k, v := range rec.Properties {
		props[k] = v
	}
	return store.Node{
		NodeID:       rec.NodeID,
		ContentType:  rec.ContentType,
		ObjectID:     rec.ObjectID,
		Name:         rec.Name,
		Path:         filepath.ToSlash(path),
		Description:  rec.Description,
		FromVersion:  rec.FromVersion,
		ToVersion:    rec.ToVersion,
		Deprecated:   rec.Deprecated,
		Marketplaces: b.narrow(rec.Marketplaces),
		Properties:   props,
	}
}

// parsePack walks one pack. Everything found is sent to results; the last
// message marks the pack as done.
func (b *Builder) parsePack(ctx context.Context, job packJob, results chan<- result) {
	ctx, end := telemetry.Phase(ctx, "parse_pack", attribute.String("pack", job.info.ID))
	defer end(nil)
	defer func() { results <- result{packDone: true} }()

	folders, unknown, err := typeFolders(job.dir)
	if err != nil {
		results <- result{ct: contenttype.Pack, err: &parser.ParsingError{Path: job.dir, Err: err}}
		return
	}
	for _, name := range unknown {
		results <- result{folder: name}
	}
	dirs := make([]string, 0, len(folders))
	for dir := range folders {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		ct := folders[dir]
		if !parser.Supported(ct) {
			results <- result{folder: filepath.Base(dir)}
			continue
		}
		files, err := itemFiles(dir, ct)
		if err != nil {
			results <- result{ct: ct, err: &parser.ParsingError{Path: dir, Err: err}}
			continue
		}
		for _, f := range files {
			if ctx.Err() != nil {
				return
			}
			rec, cached, err := b.parseOne(ctx, f, job.info)
			results <- result{rec: rec, pack: job.nodeID, ct: ct, err: err, cached: cached}
		}
	}
}

// parseOne parses a file, going through the cache when one is configured.
func (b *Builder) parseOne(ctx context.Context, f itemFile, pack parser.PackInfo) (*parser.Record, bool, error) {
	if b.cache == nil {
		rec, err := parser.Parse(f.path, f.ct, pack)
		return rec, false, err
	}
	key, err := cache.Key(pack, string(f.ct), append([]string{f.path}, f.siblings...)...)
	if err != nil {
		return nil, false, &parser.ParsingError{Path: f.path, Err: err}
	}
	if rec, ok := b.cache.Get(ctx, key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		cp := *rec
		cp.Path = f.path
		return &cp, true, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	rec, err := parser.Parse(f.path, f.ct, pack)
	if err != nil {
		return nil, false, err
	}
	b.cache.Put(ctx, key, rec)
	return rec, false, nil
}

// writeDependencies writes dependency edges in batches. Targets that are
// not in the repository get placeholders.
func (b *Builder) writeDependencies(ctx context.Context, r *run, deps []store.DependencyWrite) (err error) {
	ctx, end := telemetry.Phase(ctx, "write_dependencies", attribute.Int("declarations", len(deps)))
	defer func() { end(err) }()

	sink := func(ctx context.Context, batch []store.DependencyWrite) error {
		n, err := b.st.WriteDependencies(ctx, batch)
		if err != nil {
			if store.IsUnavailable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		r.edges.Add(int64(n))
		metrics.EdgesTotal.WithLabelValues("dependency").Add(float64(n))
		return nil
	}
	em := emit.NewEmitter[store.DependencyWrite]("dependencies", sink, b.opts.BatchMax, b.opts.FlushEvery, b.opts.RetryMaxElapsed)
	for _, d := range deps {
		em.Add(ctx, d, b.log)
	}
	_, err = em.Drain(ctx, b.log)
	return err
}

// finalize resolves calls to commands or scripts and drops placeholders
// nothing points at. After an update, commands no integration exposes any
// more become placeholders first. Command marketplaces always follow the
// integrations exposing them.
func (b *Builder) finalize(ctx context.Context, r *run, detach bool) (err error) {
	ctx, end := telemetry.Phase(ctx, "finalize")
	defer func() { end(err) }()

	resolved, ambiguous, err := b.st.ResolveAmbiguous(ctx)
	if err != nil {
		return fmt.Errorf("resolve ambiguous: %w", err)
	}
	r.summary.Resolved = resolved
	for _, a := range ambiguous {
		sort.Strings(a.Candidates)
		e := &AmbiguousDependencyError{Ambiguity: a}
		r.summary.Ambiguous = append(r.summary.Ambiguous, e)
		b.log.Warnw("ambiguous dependency", "err", e)
	}
	if detach {
		n, err := b.st.DetachCommands(ctx)
		if err != nil {
			return fmt.Errorf("detach commands: %w", err)
		}
		b.log.Debugw("commands detached", "count", n)
	}
	if err := b.st.RefreshCommandMarketplaces(ctx); err != nil {
		return err
	}
	removed, err := b.st.RemoveOrphanPlaceholders(ctx)
	if err != nil {
		return fmt.Errorf("remove placeholders: %w", err)
	}
	b.log.Debugw("placeholders removed", "count", removed)

	nodes, edges, err := b.st.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	r.summary.Nodes, r.summary.Edges = nodes, edges
	b.report(r)
	return nil
}
