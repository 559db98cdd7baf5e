package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"spos/internal/config"
	"spos/internal/jobqueue"
	"spos/internal/logging"
	"spos/internal/metrics"
	"spos/internal/outbox"
	"spos/internal/relay"
)

type options struct {
	config.Config
	ReplaySource string // file|kafka|none
	FromOffset   int64
	Publisher    string // kafka|tx
	Once         bool
	Checkpoint   string
}

func main() {
	opts := readFlags()
	if err := run(opts); err != nil {
		log.Fatalf("relay failed: %v", err)
	}
}

func readFlags() options {
	opts := options{Config: config.Load()}
	cfg := &opts.Config
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json|console")
	flag.StringVar(&cfg.QueueBackend, "queue-backend", cfg.QueueBackend, "job queue backend: memory|pebble|badger")
	flag.StringVar(&cfg.QueueDir, "queue-dir", cfg.QueueDir, "job queue data directory")
	flag.StringVar(&cfg.OutboxDir, "outbox-dir", cfg.OutboxDir, "outbox directory for file replay")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", cfg.KafkaBootstrap, "kafka bootstrap servers")
	flag.StringVar(&cfg.OutboxTopic, "topic-outbox", cfg.OutboxTopic, "kafka topic holding the outbox")
	flag.StringVar(&cfg.SalesTopic, "topic-sales", cfg.SalesTopic, "kafka topic the back office consumes")
	flag.StringVar(&cfg.TransactionID, "tx-id", cfg.TransactionID, "transactional id for -publisher=tx")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "http listen for /metrics")
	flag.DurationVar(&cfg.RelayInterval, "interval", cfg.RelayInterval, "drain interval")
	flag.IntVar(&cfg.RelayMaxAttempts, "max-attempts", cfg.RelayMaxAttempts, "delivery attempts per job")
	flag.StringVar(&opts.ReplaySource, "replay-source", "file", "outbox replay source: file|kafka|none")
	flag.Int64Var(&opts.FromOffset, "from-offset", 0, "skip this many outbox entries on replay")
	flag.StringVar(&opts.Publisher, "publisher", "kafka", "publisher: kafka|tx")
	flag.BoolVar(&opts.Once, "once", false, "replay and drain once, then exit")
	flag.StringVar(&opts.Checkpoint, "checkpoint", "", "published-seq checkpoint file (default <queue-dir>/"+relay.CheckpointFile+")")
	flag.Parse()
	if opts.Checkpoint == "" {
		opts.Checkpoint = filepath.Join(cfg.QueueDir, relay.CheckpointFile)
	}
	return opts
}

func run(opts options) error {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		ServiceName: cfg.ServiceName + "-relay",
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

	mreg := metrics.NewRegistry()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mreg.Handler())
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server stopped", zap.Error(err))
		}
	}()

	var queue jobqueue.Store
	switch cfg.QueueBackend {
	case "pebble":
		ps, err := jobqueue.NewPebbleStore(cfg.QueueDir)
		if err != nil {
			return fmt.Errorf("init pebble: %w", err)
		}
		defer ps.Close()
		queue = ps
	case "badger":
		bs, err := jobqueue.NewBadgerStore(cfg.QueueDir)
		if err != nil {
			return fmt.Errorf("init badger: %w", err)
		}
		defer bs.Close()
		queue = bs
	default:
		queue = jobqueue.NewInMemoryStore()
	}

	var pub relay.Publisher
	switch opts.Publisher {
	case "tx":
		tp, err := newTxPublisher(strings.Join(cfg.Brokers(), ","), cfg.SalesTopic, cfg.TransactionID)
		if err != nil {
			return err
		}
		defer tp.Close()
		pub = tp
	default:
		kp := relay.NewKafkaPublisher(cfg.Brokers(), cfg.SalesTopic)
		defer kp.Close()
		pub = kp
	}

	cp, err := relay.OpenFileCheckpoint(opts.Checkpoint)
	if err != nil {
		return err
	}
	logger.Info("relay checkpoint", zap.String("path", opts.Checkpoint), zap.Int64("published_seq", cp.Seq()))

	r := relay.New(queue, pub,
		relay.WithLogger(logger.Named("relay")),
		relay.WithMetrics(mreg),
		relay.WithMaxAttempts(cfg.RelayMaxAttempts),
		relay.WithCheckpoint(cp))

	if n, err := r.RecoverInFlight(); err != nil {
		return fmt.Errorf("recover in-flight jobs: %w", err)
	} else if n > 0 {
		logger.Info("requeued interrupted jobs", zap.Int("count", n))
	}

	var res relay.ReplayResult
	switch opts.ReplaySource {
	case "file":
		res = r.ReplayOutbox(filepath.Join(cfg.OutboxDir, outbox.DefaultFilename), opts.FromOffset)
		if res.Error != nil && errors.Is(res.Error, os.ErrNotExist) {
			logger.Info("no outbox file yet, skipping replay")
			res.Error = nil
		}
	case "kafka":
		res = r.ReplayOutboxKafka(cfg.Brokers(), cfg.OutboxTopic, opts.FromOffset, 20*time.Second)
		if head := headOffset(cfg.OutboxTopic, cfg.Brokers()); head >= 0 && res.Error == nil {
			logger.Info("outbox lag", zap.Int64("lag", head-res.LastOffset))
		}
	}
	if res.Error != nil {
		return fmt.Errorf("replay outbox: %w", res.Error)
	}
	logger.Info("outbox replayed", zap.Int("applied", res.Applied), zap.Int("skipped", res.Skipped))

	if opts.Once {
		dr, err := r.Drain(ctx)
		if err != nil {
			return err
		}
		logger.Info("drained", zap.Int("published", dr.Published), zap.Int("failed", dr.Failed), zap.Int("exhausted", dr.Exhausted))
		return nil
	}
	return r.Run(ctx, cfg.RelayInterval)
}

// headOffset returns the last (high-watermark - 1) offset of partition 0 for a topic.
func headOffset(topic string, brokers []string) int64 {
	if len(brokers) == 0 {
		return -1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := kafka.DialLeader(ctx, "tcp", brokers[0], topic, 0)
	if err != nil {
		return -1
	}
	defer conn.Close()
	off, err := conn.ReadLastOffset()
	if err != nil {
		return -1
	}
	return off - 1
}
