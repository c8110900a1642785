package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreazorzetto/yh/highlight"
	"github.com/hokaccha/go-prettyjson"
	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"gopkg.in/yaml.v3"

	"github.com/tensorzero/gateway/internal/analytics"
	"github.com/tensorzero/gateway/internal/build"
	"github.com/tensorzero/gateway/internal/cache"
	"github.com/tensorzero/gateway/internal/chdb"
	"github.com/tensorzero/gateway/internal/chdb/migrate"
	"github.com/tensorzero/gateway/internal/chdb/migrate/migrations"
	"github.com/tensorzero/gateway/internal/deployconfig"
	"github.com/tensorzero/gateway/internal/evaluation"
	"github.com/tensorzero/gateway/internal/feedback"
	"github.com/tensorzero/gateway/internal/gateway"
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/inference"
	"github.com/tensorzero/gateway/internal/log"
	"github.com/tensorzero/gateway/internal/metrics"
	"github.com/tensorzero/gateway/internal/objectstore"
	"github.com/tensorzero/gateway/internal/observability"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/anthropic"
	"github.com/tensorzero/gateway/internal/provider/bedrock"
	"github.com/tensorzero/gateway/internal/provider/dummy"
	"github.com/tensorzero/gateway/internal/provider/fireworks"
	"github.com/tensorzero/gateway/internal/provider/openai"
	"github.com/tensorzero/gateway/internal/provider/sagemaker"
	"github.com/tensorzero/gateway/internal/provider/together"
	"github.com/tensorzero/gateway/internal/provider/vertexgemini"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			handleConfigCommand()
			return
		case "version", "--version", "-v":
			showVersion()
			return
		case "help", "--help", "-h":
			showHelp()
			return
		case "build-info":
			showBuildInfo()
			return
		}
	}

	if err := run(); err != nil {
		log.Error(context.Background(), "gateway exited with error", log.Cause(err))
		os.Exit(1)
	}
}

func showBuildInfo() {
	fmt.Println(build.GetBuildInfo())
}

func showVersion() {
	fmt.Println(build.Version)
}

func showHelp() {
	fmt.Println("TensorZero-compatible inference gateway")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  gateway                    Start the server (default)")
	fmt.Println("  gateway config preview     Preview the deployment configuration")
	fmt.Println("  gateway config validate    Validate the deployment configuration")
	fmt.Println("  gateway config get <key>   Get a specific deployment config value")
	fmt.Println("  gateway version            Show version")
	fmt.Println("  gateway build-info         Show build metadata")
	fmt.Println("  gateway help               Show this help message")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -f, --format FORMAT       Output format for config preview (yml, json)")
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: gateway config <preview|validate|get>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "validate":
		configValidate()
	case "get":
		configGet()
	default:
		fmt.Println("Usage: gateway config <preview|validate|get>")
		os.Exit(1)
	}
}

func configPreview() {
	format := "yml"

	for i := 3; i < len(os.Args); i++ {
		if os.Args[i] == "--format" || os.Args[i] == "-f" {
			if i+1 < len(os.Args) {
				format = os.Args[i+1]
			}
		}
	}

	cfg, err := deployconfig.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var output string

	switch format {
	case "json":
		b, err := prettyjson.Marshal(cfg)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	case "yml", "yaml":
		b, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output, err = highlight.Highlight(bytes.NewBuffer(b))
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unsupported format: %s\n", format)
		os.Exit(1)
	}

	fmt.Println(output)
}

func configValidate() {
	cfg, err := deployconfig.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	errs := validateConfig(cfg)

	if len(errs) == 0 {
		fmt.Println("Configuration is valid!")
		return
	}

	fmt.Println("Configuration validation failed:")

	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}

	os.Exit(1)
}

func validateConfig(cfg deployconfig.Config) []string {
	var errs []string

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if cfg.ConfigFile == "" {
		errs = append(errs, "config_file (TENSORZERO_CONFIG_FILE) cannot be empty")
	}

	if cfg.ClickHouseURL == "" {
		errs = append(errs, "clickhouse_url (CLICKHOUSE_URL) cannot be empty; analytics and evaluations require it")
	}

	return errs
}

func configGet() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: gateway config get <key>")
		fmt.Println("")
		fmt.Println("Available keys:")
		fmt.Println("  host                 Listener host")
		fmt.Println("  port                 Listener port")
		fmt.Println("  debug                Debug mode")
		fmt.Println("  config_file          Function/variant/model document path")
		fmt.Println("  clickhouse_url       Analytical store DSN")
		os.Exit(1)
	}

	key := os.Args[3]

	cfg, err := deployconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var value any

	switch key {
	case "host":
		value = cfg.Host
	case "port":
		value = cfg.Port
	case "debug":
		value = cfg.Debug
	case "config_file":
		value = cfg.ConfigFile
	case "clickhouse_url":
		value = cfg.ClickHouseURL
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	fmt.Println(value)
}

// run wires every component per SPEC_FULL.md §2's component table and
// blocks serving HTTP until it receives SIGINT/SIGTERM.
func run() error {
	cfg, err := deployconfig.Load()
	if err != nil {
		return err
	}

	log.SetDefault(log.New(cfg.LogLevel, cfg.LogFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := gwconfig.Load(cfg.ConfigFile)
	if err != nil {
		return err
	}

	cacheStore, err := cache.New(cfg.Cache)
	if err != nil {
		return err
	}

	registry := buildProviderRegistry()

	objStore, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		return err
	}

	meterProvider, err := metrics.NewProvider(ctx, metrics.Exporter(cfg.MetricsExporter), cfg.ServiceName)
	if err != nil {
		return err
	}

	if meterProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := meterProvider.Shutdown(shutdownCtx); err != nil {
				log.Warn(ctx, "metrics provider shutdown failed", log.Cause(err))
			}
		}()
	}

	recorder, err := metrics.SetupMetrics(meterProvider, cfg.ServiceName)
	if err != nil {
		return err
	}

	var (
		sink           inference.Sink
		feedbackSink   feedback.Sink
		evalRunner     *evaluation.Runner
		datasetWriter  gateway.DatasetWriter
		feedbackReader gateway.FeedbackReader
		reporter       *analytics.Reporter
	)

	if cfg.ClickHouseURL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}

		writer, err := observability.New(observability.Config{
			URL:              cfg.ClickHouseURL,
			MaxBatchRows:     cfg.BatchMaxRows,
			MaxBatchInterval: cfg.BatchMaxInterval,
		})
		if err != nil {
			return err
		}
		defer writer.Close()

		sink = writer
		feedbackSink = writer

		readConn, err := openClickHouse(cfg.ClickHouseURL)
		if err != nil {
			return err
		}
		defer readConn.Close()

		readStore := chdb.New(readConn)
		datasetWriter = readStore
		feedbackReader = chdbFeedbackReader{readStore}

		infDeps := inference.Deps{Store: store, Cache: cacheStore, Providers: registry, Sink: sink, FetchFiles: true, ObjectStore: objStore, Metrics: recorder}

		evalRunner = &evaluation.Runner{
			Store:      store,
			Datapoints: readStore,
			Feedback:   feedbackSink,
			Infer: func(ctx context.Context, req *gwtypes.Request) (*gwtypes.InferenceResult, error) {
				return inference.Process(ctx, infDeps, req)
			},
			Concurrency: cfg.EvaluationConcurrency,
			Metrics:     recorder,
		}

		reporter = &analytics.Reporter{
			DeploymentID: cfg.DeploymentID,
			Source:       readStore,
			URL:          cfg.AnalyticsURL,
			Disabled:     cfg.DisableAnalytics,
		}

		go reporter.Run(ctx)
	} else {
		log.Info(ctx, "CLICKHOUSE_URL not set: running without the analytical store (no persistence, no evaluations, analytics disabled)")
	}

	deps := gateway.Deps{
		Store:          store,
		Cache:          cacheStore,
		Providers:      registry,
		Sink:           sink,
		Feedback:       feedbackSink,
		Evaluation:     evalRunner,
		Datasets:       datasetWriter,
		FeedbackReader: feedbackReader,
		ObjectStore:    objStore,
		Metrics:        recorder,
	}

	srv := gateway.New(gateway.Config{Host: cfg.Host, Port: cfg.Port, Debug: cfg.Debug, Timeout: cfg.Timeout}, deps)

	errCh := make(chan error, 1)

	go func() {
		if err := srv.Run(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func runMigrations(ctx context.Context, cfg deployconfig.Config) error {
	conn, err := openClickHouse(cfg.ClickHouseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	return migrate.Run(ctx, conn, cfg.ClickHouseDatabase, []migrate.Migration{
		migrations.InitialSchema,
		migrations.DatasetsTable,
	})
}

func openClickHouse(url string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(url)
	if err != nil {
		return nil, err
	}

	return clickhouse.Open(opts)
}

// buildProviderRegistry registers every vendor adapter spec.md §3 names.
// fireworks and together speak an OpenAI-compatible protocol and reuse
// openai's request/response handling with a different base URL (component
// B), so they're registered as distinct provider.Type entries backed by
// openai.Provider values rather than separate implementations.
func buildProviderRegistry() *provider.Registry {
	registry := provider.NewRegistry()

	httpClient := http.DefaultClient

	oai := openai.New()
	registry.Register(&provider.Adapter{Type: provider.TypeOpenAI, Chatter: oai, StreamChatter: oai, ResponseParser: oai, Embedder: oai, Moderator: oai})

	anth := anthropic.New()
	registry.Register(&provider.Adapter{Type: provider.TypeAnthropic, Chatter: anth})

	brock := bedrock.New()
	registry.Register(&provider.Adapter{Type: provider.TypeAWSBedrock, Chatter: brock})

	sage := sagemaker.New()
	registry.Register(&provider.Adapter{Type: provider.TypeAWSSageMaker, Chatter: sage})

	vertex := vertexgemini.New()
	registry.Register(&provider.Adapter{Type: provider.TypeGCPVertex, Chatter: vertex})

	fw := fireworks.New(httpClient)
	registry.Register(&provider.Adapter{Type: provider.TypeFireworks, Chatter: fw, StreamChatter: fw, ResponseParser: fw, Embedder: fw, Moderator: fw})

	tg := together.New(httpClient)
	registry.Register(&provider.Adapter{Type: provider.TypeTogether, Chatter: tg, StreamChatter: tg, ResponseParser: tg, Embedder: tg, Moderator: tg})

	dm := dummy.New()
	registry.Register(&provider.Adapter{Type: provider.TypeDummy, Chatter: dm, StreamChatter: dm})

	return registry
}

// chdbFeedbackReader adapts chdb.Store's plain query results to
// gateway.FeedbackReader's JSON-tagged wire types, keeping component H's
// storage package free of any HTTP-layer dependency.
type chdbFeedbackReader struct {
	*chdb.Store
}

func (r chdbFeedbackReader) ByMetric(ctx context.Context, metricName, before, after string) (gateway.FeedbackPage, error) {
	page, err := r.Store.ByMetric(ctx, metricName, before, after)
	return gateway.FeedbackPage{Feedback: page.Feedback}, err
}

func (r chdbFeedbackReader) ByTarget(ctx context.Context, targetID gwtypes.ID, before, after string) (gateway.FeedbackPage, error) {
	page, err := r.Store.ByTarget(ctx, targetID, before, after)
	return gateway.FeedbackPage{Feedback: page.Feedback}, err
}

func (r chdbFeedbackReader) LatestIDByMetric(ctx context.Context, targetID gwtypes.ID) (gateway.LatestByMetric, error) {
	l, err := r.Store.LatestIDByMetric(ctx, targetID)
	return gateway.LatestByMetric{MetricName: l.MetricName, FeedbackID: l.FeedbackID}, err
}

func (r chdbFeedbackReader) Bounds(ctx context.Context, targetID gwtypes.ID) (gateway.MetricBounds, error) {
	b, err := r.Store.Bounds(ctx, targetID)
	return gateway.MetricBounds{ByCount: b.ByCount, First: b.First, Last: b.Last}, err
}

func (r chdbFeedbackReader) EvaluationRunInfos(ctx context.Context, runIDs []string) ([]gateway.EvaluationRunInfo, error) {
	infos, err := r.Store.EvaluationRunInfos(ctx, runIDs)
	if err != nil {
		return nil, err
	}

	out := make([]gateway.EvaluationRunInfo, len(infos))
	for i, info := range infos {
		out[i] = gateway.EvaluationRunInfo{
			EvaluationRunID: info.EvaluationRunID,
			EvaluationName:  info.EvaluationName,
			VariantName:     info.VariantName,
		}
	}

	return out, nil
}
