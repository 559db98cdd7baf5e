package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"spos/internal/catalogfeed"
	"spos/internal/config"
	"spos/internal/engine"
	"spos/internal/jobqueue"
	"spos/internal/logging"
	"spos/internal/metrics"
	"spos/internal/outbox"
	"spos/internal/seed"
)

type options struct {
	config.Config
	Script string
	Serve  bool
}

func main() {
	opts := readFlags()
	if err := run(opts); err != nil {
		log.Fatalf("posd failed: %v", err)
	}
}

func readFlags() options {
	opts := options{Config: config.Load()}
	cfg := &opts.Config
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json|console")
	flag.StringVar(&cfg.TaxRate, "tax-rate", cfg.TaxRate, "flat tax rate as a fraction")
	flag.StringVar(&cfg.StoreName, "store", cfg.StoreName, "store name printed on receipts")
	flag.StringVar(&cfg.Cashier, "cashier", cfg.Cashier, "operator running the session")
	flag.StringVar(&cfg.CatalogSource, "catalog-source", cfg.CatalogSource, "catalog source: seed|file|kafka")
	flag.StringVar(&cfg.CatalogDir, "catalog-dir", cfg.CatalogDir, "catalog snapshot directory")
	flag.DurationVar(&cfg.CatalogPoll, "catalog-poll", cfg.CatalogPoll, "catalog manifest poll interval (0 disables)")
	flag.StringVar(&cfg.QueueBackend, "queue-backend", cfg.QueueBackend, "job queue backend: memory|pebble|badger")
	flag.StringVar(&cfg.QueueDir, "queue-dir", cfg.QueueDir, "job queue data directory")
	flag.StringVar(&cfg.OutboxDir, "outbox-dir", cfg.OutboxDir, "outbox directory")
	flag.StringVar(&cfg.OutboxSink, "outbox-sink", cfg.OutboxSink, "outbox sink: file|kafka|both")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", cfg.KafkaBootstrap, "kafka bootstrap servers")
	flag.StringVar(&cfg.OutboxTopic, "topic-outbox", cfg.OutboxTopic, "kafka topic for the outbox")
	flag.StringVar(&cfg.CatalogTopic, "topic-catalog", cfg.CatalogTopic, "kafka topic for the catalog manifest (compacted)")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "http listen address for /metrics and /healthz")
	flag.StringVar(&opts.Script, "script", "", "register script to run (default: built-in demo ticket)")
	flag.BoolVar(&opts.Serve, "serve", false, "keep serving /metrics after the script until interrupted")
	flag.Parse()
	return opts
}

func run(opts options) error {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.QueueBackend == "memory" && cfg.OutboxSink == "kafka" {
		return errNoResume
	}
	logger, err := logging.New(logging.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, closeQueue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	writer, closeWriter, err := openOutbox(cfg)
	if err != nil {
		return err
	}
	defer closeWriter()

	mreg := metrics.NewRegistry()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mreg.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		})
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server stopped", zap.Error(err))
		}
	}()

	pusher, err := outbox.NewPusher(queue, writer,
		outbox.WithLogger(logger.Named("outbox")),
		outbox.WithMetrics(mreg))
	if err != nil {
		return fmt.Errorf("init pusher: %w", err)
	}
	outboxPath := ""
	if cfg.OutboxSink != "kafka" {
		outboxPath = filepath.Join(cfg.OutboxDir, outbox.DefaultFilename)
	}
	from, err := resume(queue, outboxPath)
	if err != nil {
		return err
	}
	logger.Info("numbering resumed", zap.Int("last_order", from.lastOrder), zap.Int64("last_session", from.lastSession))

	rate, _ := cfg.Rate()
	eng := engine.New(
		engine.WithLogger(logger.Named("engine")),
		engine.WithMetrics(mreg),
		engine.WithSyncer(pusher),
		engine.WithTaxRate(rate),
		engine.WithNumbering(from.lastOrder, from.lastSession),
	)
	guarded := engine.NewGuarded(eng)

	snapshotID, err := loadCatalog(cfg, eng)
	if err != nil {
		return err
	}
	if reader, snaps := catalogReader(cfg); reader != nil && cfg.CatalogPoll > 0 {
		go catalogfeed.Follow(ctx, reader, snaps, cfg.CatalogPoll, snapshotID, func(_ catalogfeed.Manifest, d catalogfeed.Data) error {
			return guarded.Do(func(e *engine.Engine) error {
				return e.LoadCatalog(d.Products, d.Categories, d.Partners)
			})
		}, logger.Named("catalogfeed"))
	}

	script := demoScript
	if opts.Script != "" {
		b, err := os.ReadFile(opts.Script)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		script = string(b)
	}
	reg := &register{store: cfg.StoreName, cashier: cfg.Cashier, log: logger.Named("register")}
	if err := guarded.Do(func(e *engine.Engine) error { return reg.run(e, script) }); err != nil {
		return err
	}

	counts, err := jobqueue.Counts(queue)
	if err == nil {
		logger.Info("register script finished",
			zap.Int("pending_jobs", counts[jobqueue.StatusPending]),
			zap.Int("receipts", reg.receipts))
	}

	if opts.Serve {
		logger.Info("serving metrics until interrupted", zap.String("addr", cfg.HTTPAddr))
		<-ctx.Done()
	}
	return nil
}

func openQueue(cfg config.Config) (jobqueue.Store, func(), error) {
	switch cfg.QueueBackend {
	case "pebble":
		ps, err := jobqueue.NewPebbleStore(cfg.QueueDir)
		if err != nil {
			return nil, nil, fmt.Errorf("init pebble: %w", err)
		}
		return ps, func() { _ = ps.Close() }, nil
	case "badger":
		bs, err := jobqueue.NewBadgerStore(cfg.QueueDir)
		if err != nil {
			return nil, nil, fmt.Errorf("init badger: %w", err)
		}
		return bs, func() { _ = bs.Close() }, nil
	default:
		return jobqueue.NewInMemoryStore(), func() {}, nil
	}
}

func openOutbox(cfg config.Config) (outbox.Writer, func(), error) {
	var w outbox.Writer
	closeFn := func() {}
	if cfg.OutboxSink == "file" || cfg.OutboxSink == "both" {
		fw, err := outbox.NewFileWriter(cfg.OutboxDir, outbox.DefaultFilename)
		if err != nil {
			return nil, nil, fmt.Errorf("init outbox file: %w", err)
		}
		w = fw
	}
	if (cfg.OutboxSink == "kafka" || cfg.OutboxSink == "both") && len(cfg.Brokers()) > 0 {
		kw := outbox.NewKafkaWriter(cfg.Brokers(), cfg.OutboxTopic)
		closeFn = func() { _ = kw.Close() }
		if w == nil {
			w = kw
		} else {
			w = outbox.NewMultiWriter(w, kw)
		}
	}
	return w, closeFn, nil
}

func catalogReader(cfg config.Config) (catalogfeed.Reader, catalogfeed.Snapshotter) {
	snaps := catalogfeed.NewFilesystemSnapshotter(cfg.CatalogDir)
	switch cfg.CatalogSource {
	case "file":
		return catalogfeed.NewFilesystemManifest(cfg.CatalogDir), snaps
	case "kafka":
		return catalogfeed.NewKafkaReader(cfg.Brokers(), cfg.CatalogTopic, catalogfeed.DefaultManifestKey), snaps
	default:
		return nil, nil
	}
}

// loadCatalog performs the initial bulk load and returns the snapshot id it
// came from ("" for the seed catalog).
func loadCatalog(cfg config.Config, eng *engine.Engine) (string, error) {
	reader, snaps := catalogReader(cfg)
	if reader == nil {
		d := seed.Catalog()
		return "", eng.LoadCatalog(d.Products, d.Categories, d.Partners)
	}
	m, d, err := catalogfeed.LoadLatest(reader, snaps)
	if err != nil {
		return "", fmt.Errorf("load catalog feed: %w", err)
	}
	if err := eng.LoadCatalog(d.Products, d.Categories, d.Partners); err != nil {
		return "", err
	}
	return m.SnapshotID, nil
}
