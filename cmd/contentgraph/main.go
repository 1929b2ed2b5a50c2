package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/contentkit/contentgraph/internal/builder"
	"github.com/contentkit/contentgraph/internal/config"
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/dependencies"
	"github.com/contentkit/contentgraph/internal/graph"
	"github.com/contentkit/contentgraph/internal/health"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/metrics"
	"github.com/contentkit/contentgraph/internal/output"
	"github.com/contentkit/contentgraph/internal/reasons"
	"github.com/contentkit/contentgraph/internal/store"
	"github.com/contentkit/contentgraph/internal/telemetry"
	"github.com/contentkit/contentgraph/internal/ui"
)

const version = "0.4.0"

var commands = []struct{ name, help string }{
	{"create", "build the graph from the repository"},
	{"update", "import exported graphs and re-parse the given packs"},
	{"reasons", "explain why one pack depends on another"},
	{"deps", "list inferred pack dependencies"},
	{"marshal", "print the graph of one marketplace as JSON"},
	{"prepare", "print an item as uploaded to a marketplace"},
	{"export", "write a graph snapshot"},
	{"schema", "create the store schema and print its constraints"},
}

func usage() {
	fmt.Fprintf(os.Stderr, "contentgraph builds and queries the dependency graph of a content repository\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.help)
	}
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for the options of a command.\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  %sREPO_PATH, %sSTORE_DSN, %sLOG_LEVEL, ... (a .env file is read too)\n",
		config.EnvPrefix, config.EnvPrefix, config.EnvPrefix)
}

// common are the flags every command accepts.
type common struct {
	configFile   string
	repoPath     string
	marketplaces string
	concurrency  int
	batchMax     int
	storeDriver  string
	storeDSN     string
	redisAddr    string
	metricsAddr  string
	otelEndpoint string
	otelInsecure bool
	logLevel     string
	progress     bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "path to config file (YAML or JSON)")
	fs.StringVar(&c.repoPath, "repo", "", "content repository root")
	fs.StringVar(&c.marketplaces, "marketplaces", "", "comma-separated marketplaces to load (default all)")
	fs.IntVar(&c.concurrency, "concurrency", 0, "packs parsed in parallel")
	fs.IntVar(&c.batchMax, "batch_max", 0, "max records per store write")
	fs.StringVar(&c.storeDriver, "store_driver", "", "store driver (sqlite3, pgx)")
	fs.StringVar(&c.storeDSN, "store_dsn", "", "store data source name")
	fs.StringVar(&c.redisAddr, "redis_addr", "", "shared parse cache (empty for memory only)")
	fs.StringVar(&c.metricsAddr, "metrics_addr", "", "metrics and health listen addr (empty to disable)")
	fs.StringVar(&c.otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	fs.BoolVar(&c.otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	fs.StringVar(&c.logLevel, "log_level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&c.progress, "progress", true, "show progress indicators")
}

func (c *common) load() (*config.Config, error) {
	var cfg *config.Config
	if c.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configFile); err != nil {
			return nil, err
		}
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	cfg.LoadFromEnv()

	flags := map[string]interface{}{
		"repo_path":     c.repoPath,
		"marketplaces":  c.marketplaces,
		"concurrency":   c.concurrency,
		"batch_max":     c.batchMax,
		"store_driver":  c.storeDriver,
		"store_dsn":     c.storeDSN,
		"redis_addr":    c.redisAddr,
		"metrics_addr":  c.metricsAddr,
		"otel_endpoint": c.otelEndpoint,
		"otel_insecure": c.otelInsecure,
		"log_level":     c.logLevel,
		"progress":      c.progress,
	}
	cfg.MergeWithFlags(flags)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		usage()
		return
	case "-version", "--version", "version":
		fmt.Println("contentgraph v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		return
	}

	var c common
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c.register(fs)

	var (
		imports, packs       string
		source, target       string
		marketplace          string
		mandatoryOnly, tests bool
		outDir, format       string
		nodeID               string
	)
	switch name {
	case "create":
	case "update":
		fs.StringVar(&imports, "imports", "", "comma-separated snapshot files to import")
		fs.StringVar(&packs, "packs", "", "comma-separated packs to re-parse")
	case "reasons":
		fs.StringVar(&source, "s", "", "dependent pack id (source)")
		fs.StringVar(&target, "t", "", "dependency pack id (target)")
		fs.StringVar(&marketplace, "mp", string(contenttype.XSOAR), "marketplace")
		fs.BoolVar(&mandatoryOnly, "mandatory-only", false, "only mandatory dependencies")
		fs.BoolVar(&tests, "include-test-dependencies", false, "follow TESTED_BY relationships")
		fs.StringVar(&outDir, "o", "", "directory to write "+reasons.OutputFile+" to")
	case "deps":
		fs.StringVar(&marketplace, "mp", "", "marketplace (empty for all)")
		fs.StringVar(&format, "format", "json", "output format (json, jsonl, csv)")
	case "marshal":
		fs.StringVar(&marketplace, "mp", string(contenttype.XSOAR), "marketplace")
	case "prepare":
		fs.StringVar(&nodeID, "id", "", "node id, e.g. Layout:my-layout")
		fs.StringVar(&marketplace, "mp", string(contenttype.XSOAR), "marketplace")
	case "export":
		fs.StringVar(&outDir, "o", "", "export directory (default export_dir)")
	case "schema":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(1)
	}
	_ = fs.Parse(os.Args[2:])

	cfg, err := c.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	il := ui.NewInteractiveLogger(log, cfg.Progress)
	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("command", name)
	healthHandler.SetMetadata("version", version)
	healthHandler.RegisterChecker("build", health.NewBuildChecker(il.GetStats().Counts, 0.5))
	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	failed := false
	err = graph.With(ctx, cfg, log, func(g *graph.Interface) error {
		g.WithProgress(il)
		healthHandler.RegisterChecker("store", health.NewPingChecker("graph store", g.Store().Ping))
		healthHandler.SetReady(true)

		switch name {
		case "create":
			sum, err := g.CreateGraph(ctx)
			if err != nil {
				return err
			}
			failed = report(log, sum)
		case "update":
			sum, err := g.UpdateGraph(ctx, splitCSV(imports), splitCSV(packs))
			if err != nil {
				return err
			}
			failed = report(log, sum)
		case "reasons":
			return runReasons(ctx, g, reasons.Query{
				Source:        source,
				Target:        target,
				Marketplace:   contenttype.Marketplace(marketplace),
				MandatoryOnly: mandatoryOnly,
				IncludeTests:  tests,
			}, outDir)
		case "deps":
			return runDeps(ctx, g, log, contenttype.Marketplace(marketplace), format)
		case "marshal":
			m, err := contenttype.ParseMarketplace(marketplace)
			if err != nil {
				return err
			}
			repo, err := g.MarshalGraph(ctx, m)
			if err != nil {
				return err
			}
			return printJSON(repo)
		case "prepare":
			m, err := contenttype.ParseMarketplace(marketplace)
			if err != nil {
				return err
			}
			data, err := g.PrepareForUpload(ctx, nodeID, m)
			if err != nil {
				return err
			}
			return printJSON(data)
		case "export":
			path, err := g.ExportGraph(ctx, outDir)
			if err != nil {
				return err
			}
			fmt.Println(path)
		case "schema":
			if err := g.Store().EnsureSchema(ctx); err != nil {
				return err
			}
			for _, stmt := range store.DefaultSchema().CypherStatements() {
				fmt.Println(stmt + ";")
			}
		}
		return nil
	})
	healthHandler.SetReady(false)
	if err != nil {
		log.Errorw("command failed", "command", name, "err", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

// report logs a build summary and tells whether any item failed.
func report(log *logging.Logger, sum *builder.Summary) bool {
	for _, a := range sum.Ambiguous {
		log.Warnw("unresolved dependency", "err", a)
	}
	for _, e := range sum.Errors {
		log.Errorw("item failed", "err", e)
	}
	log.Infow("graph ready", "summary", sum.String(), "run_id", sum.RunID)
	return sum.Err() != nil
}

func runReasons(ctx context.Context, g *graph.Interface, q reasons.Query, outDir string) error {
	if q.Source == "" || q.Target == "" {
		return fmt.Errorf("reasons needs -s and -t")
	}
	if _, err := contenttype.ParseMarketplace(string(q.Marketplace)); err != nil {
		return err
	}
	records, err := g.GetDependenciesReasons(ctx, q)
	if err != nil {
		return err
	}
	for _, r := range records {
		for _, p := range r.Paths {
			fmt.Println(reasons.RenderPath(p))
		}
	}
	fmt.Println(reasons.Table(records))
	if outDir != "" {
		path, err := reasons.WriteJSON(outDir, records)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "wrote", path)
	}
	return nil
}

type depRow dependencies.PackDependency

func (r depRow) CSVHeader() []string {
	return []string{"source", "target", "mandatorily", "marketplaces"}
}

func (r depRow) CSVRecord() []string {
	ms := make([]string, len(r.Marketplaces))
	for i, m := range r.Marketplaces {
		ms[i] = string(m)
	}
	return []string{r.Source, r.Target, fmt.Sprint(r.Mandatorily), strings.Join(ms, ";")}
}

func runDeps(ctx context.Context, g *graph.Interface, log *logging.Logger, m contenttype.Marketplace, format string) error {
	w, err := output.NewStdoutWriter(format)
	if err != nil {
		return err
	}
	deps, err := dependencies.New(g.Store(), log).PackDependencies(ctx, m)
	if err != nil {
		return err
	}
	rows := make([]depRow, len(deps))
	for i, d := range deps {
		rows[i] = depRow(d)
	}
	if err := output.Write(w, rows); err != nil {
		return err
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
