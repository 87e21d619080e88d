package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/noderes/internal/aggregator"
	"github.com/aaronlmathis/noderes/internal/api"
	"github.com/aaronlmathis/noderes/internal/collector"
	"github.com/aaronlmathis/noderes/internal/config"
	"github.com/aaronlmathis/noderes/internal/kube"
	"github.com/aaronlmathis/noderes/internal/kube/client"
	kubemetrics "github.com/aaronlmathis/noderes/internal/kube/metrics"
	"github.com/aaronlmathis/noderes/internal/logging"
	"github.com/aaronlmathis/noderes/internal/presenter"
	"github.com/aaronlmathis/noderes/internal/query"
	"github.com/aaronlmathis/noderes/internal/runner"
	"github.com/aaronlmathis/noderes/internal/version"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("noderes", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "Run 'noderes --help' for usage.")
		return exitUsage
	}

	if flags.ShowVersion {
		fmt.Fprintln(stdout, version.Get().String())
		return exitOK
	}

	cfg, warnings, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}
	if err := flags.Apply(cfg); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return exitUsage
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn("Ignoring invalid configuration value",
			zap.String("source", w.Source),
			zap.String("key", w.Key),
			zap.String("value", w.Value),
			zap.String("reason", w.Reason),
			zap.String("default", w.Default),
		)
	}

	info := version.Get()
	logger.Info("Starting noderes",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.Int("concurrency", cfg.Report.Concurrency),
		zap.String("nodes", cfg.Report.NodeFilter),
		zap.Duration("refresh", cfg.Report.RefreshInterval),
	)

	if err := start(ctx, logger, cfg, stdout); err != nil {
		logger.Error("noderes failed", zap.Error(err))
		return exitFailure
	}
	return exitOK
}

// start wires the cluster adapters, the collection pipeline and the optional
// HTTP surface, then runs until the report is done or ctx is cancelled
func start(ctx context.Context, logger *zap.Logger, cfg *config.Config, stdout io.Writer) error {
	// validated by config.Validate, so the parse errors are unreachable
	format, _ := presenter.ParseFormat(cfg.Report.Output)
	sortField, _ := aggregator.ParseSortField(cfg.Report.Sort)
	nodeFilter, _ := kubemetrics.ParseNodeFilter(cfg.Report.NodeFilter)

	factory, err := client.NewFactory(logger.Named("client"),
		client.ClientMode(cfg.Kubernetes.Mode),
		cfg.Kubernetes.KubeconfigPath,
		client.Options{QPS: float32(cfg.Query.QPS), Burst: cfg.Query.Burst},
	)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	if err := factory.ValidateConnection(ctx); err != nil {
		return err
	}

	queryOpts := query.DefaultOptions()
	queryOpts.InitialBackoff = cfg.Query.Backoff
	queryOpts.QPS = cfg.Query.QPS
	queryOpts.Burst = cfg.Query.Burst
	queries := query.NewClient(logger.Named("query"), queryOpts)

	cluster := kube.NewCluster(logger,
		factory.Client(),
		factory.MetricsClient(),
		factory.Config(),
		cfg.Kubernetes.KubeletInsecureTLS,
		queries,
	)

	coll := collector.New(logger.Named("collector"), cluster, collector.Options{
		DetailedConditions: cfg.Report.DetailedConditions,
		Concurrency:        cfg.Report.Concurrency,
	})
	pres := presenter.New(presenter.Options{
		Format:     format,
		ShowTotals: cfg.Report.ShowTotals,
		NoColor:    cfg.Report.ColorDisabled(),
	})
	runOpts := runner.Options{
		NodeFilter:      nodeFilter,
		Sort:            aggregator.Options{Field: sortField, Reverse: cfg.Report.Reverse},
		RefreshInterval: cfg.Report.RefreshInterval,
		OutputFile:      cfg.Report.OutputFile,
	}

	if cfg.Server.Addr == "" {
		return runner.New(logger.Named("runner"), cluster, coll, pres, stdout, runOpts).Run(ctx)
	}

	if cfg.Report.RefreshInterval == 0 {
		logger.Warn("HTTP server enabled without --watch; it stops after the single report")
	}
	server := api.NewServer(logger.Named("api"), api.Options{
		Addr:       cfg.Server.Addr,
		WithTotals: cfg.Report.ShowTotals,
	})
	r := runner.New(logger.Named("runner"), cluster, coll, pres, stdout, runOpts, server)

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		return server.Run(serverCtx)
	})
	g.Go(func() error {
		defer stopServer()
		return r.Run(gctx)
	})
	return g.Wait()
}
