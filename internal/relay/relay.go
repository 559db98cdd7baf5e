package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"spos/internal/jobqueue"
	"spos/internal/metrics"
	"spos/internal/outbox"
	"spos/internal/syncjob"
)

// DefaultMaxAttempts bounds delivery attempts per job before it is left failed.
const DefaultMaxAttempts = 5

// Publisher delivers one job to the back office.
type Publisher interface {
	Publish(ctx context.Context, job syncjob.Job) error
}

// KafkaPublisher publishes jobs to a Kafka topic (segmentio/kafka-go).
type KafkaPublisher struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, job syncjob.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, outbox.Message(job.ID, job.Payload.Kind(), b))
}

func (k *KafkaPublisher) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Relay moves queued jobs to a Publisher. It is the retry layer on top of
// the engine's fire-and-forget checkout.
type Relay struct {
	queue       jobqueue.Store
	pub         Publisher
	log         *zap.Logger
	metrics     *metrics.Registry
	maxAttempts int
	checkpoint  Checkpoint
}

type Option func(*Relay)

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithMaxAttempts(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithCheckpoint records every published sequence in cp and makes replays
// skip jobs at or below it.
func WithCheckpoint(cp Checkpoint) Option {
	return func(r *Relay) { r.checkpoint = cp }
}

func New(q jobqueue.Store, pub Publisher, opts ...Option) *Relay {
	r := &Relay{queue: q, pub: pub, log: zap.NewNop(), maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type ReplayResult struct {
	Applied    int
	Skipped    int
	LastOffset int64
	Error      error
}

func (r *Relay) enqueue(job syncjob.Job, res *ReplayResult) error {
	if r.checkpoint != nil && job.Seq <= r.checkpoint.Seq() {
		res.Skipped++
		return nil
	}
	created, err := r.queue.Put(job)
	if err != nil {
		return err
	}
	if created {
		res.Applied++
	} else {
		res.Skipped++
	}
	return nil
}

func (r *Relay) countReplay(res ReplayResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.JobsReplayed.Add(float64(res.Applied))
	r.metrics.JobsSkipped.Add(float64(res.Skipped))
}

// ReplayOutbox enqueues every job of a JSONL outbox after line fromOffset.
// Jobs already in the queue or behind the checkpoint are skipped.
func (r *Relay) ReplayOutbox(path string, fromOffset int64) ReplayResult {
	file, err := os.Open(path)
	if err != nil {
		return ReplayResult{Error: fmt.Errorf("open outbox: %w", err)}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	var res ReplayResult
	lineNum := int64(0)
	for scanner.Scan() {
		lineNum++
		if lineNum <= fromOffset {
			continue
		}
		var job syncjob.Job
		if err := json.Unmarshal(scanner.Bytes(), &job); err != nil {
			res.Error = fmt.Errorf("unmarshal line %d: %w", lineNum, err)
			return res
		}
		if err := r.enqueue(job, &res); err != nil {
			res.Error = fmt.Errorf("enqueue line %d: %w", lineNum, err)
			return res
		}
		res.LastOffset = lineNum
	}
	if err := scanner.Err(); err != nil {
		res.Error = fmt.Errorf("scan outbox: %w", err)
		return res
	}
	r.countReplay(res)
	return res
}

// ReplayOutboxKafka consumes jobs from partition 0 of topic and enqueues them.
// fromOffset is a message index. Reading stops once the topic stays idle
// until the timeout.
func (r *Relay) ReplayOutboxKafka(brokers []string, topic string, fromOffset int64, timeout time.Duration) ReplayResult {
	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer rd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var res ReplayResult
	idx := int64(0)
	for {
		m, err := rd.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			res.Error = fmt.Errorf("read kafka: %w", err)
			return res
		}
		idx++
		if idx <= fromOffset {
			continue
		}
		var job syncjob.Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			res.Error = fmt.Errorf("unmarshal job at offset %d: %w", m.Offset, err)
			return res
		}
		if err := r.enqueue(job, &res); err != nil {
			res.Error = fmt.Errorf("enqueue: %w", err)
			return res
		}
		res.LastOffset = m.Offset
	}
	r.countReplay(res)
	return res
}

type DrainResult struct {
	Published int
	Failed    int
	Exhausted int
}

// Drain publishes deliverable jobs in sequence order. It stops at the first
// publish failure so later jobs never overtake an earlier one; jobs that
// reached the attempt cap stay failed and are passed over.
func (r *Relay) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	due, err := jobqueue.Deliverable(r.queue)
	if err != nil {
		return res, fmt.Errorf("list deliverable: %w", err)
	}
	defer r.refreshDepth()

	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if rec.Attempts >= r.maxAttempts {
			res.Exhausted++
			continue
		}
		id := rec.Job.ID
		applied, cur, err := r.queue.Apply(id, jobqueue.StatusProcessing, rec.LastSeq+1, "")
		if err != nil {
			return res, fmt.Errorf("mark processing %s: %w", id, err)
		}
		if !applied {
			continue
		}

		start := time.Now()
		perr := r.pub.Publish(ctx, cur.Job)
		if r.metrics != nil {
			r.metrics.PublishLatencySec.Observe(time.Since(start).Seconds())
		}
		if perr != nil {
			if _, _, err := r.queue.Apply(id, jobqueue.StatusFailed, cur.LastSeq+1, perr.Error()); err != nil {
				return res, fmt.Errorf("mark failed %s: %w", id, err)
			}
			res.Failed++
			if r.metrics != nil {
				r.metrics.JobsFailed.Inc()
			}
			r.log.Warn("publish failed",
				zap.String("job_id", id),
				zap.Int64("seq", rec.Job.Seq),
				zap.Int("attempt", cur.Attempts),
				zap.Error(perr))
			return res, nil
		}
		if _, _, err := r.queue.Apply(id, jobqueue.StatusCompleted, cur.LastSeq+1, ""); err != nil {
			return res, fmt.Errorf("mark completed %s: %w", id, err)
		}
		res.Published++
		if r.metrics != nil {
			r.metrics.JobsPublished.Inc()
		}
		if r.checkpoint != nil {
			if err := r.checkpoint.Save(cur.Job.Seq); err != nil {
				r.log.Warn("checkpoint save failed", zap.Int64("seq", cur.Job.Seq), zap.Error(err))
			}
		}
		r.log.Debug("job published", zap.String("job_id", id), zap.Int64("seq", rec.Job.Seq))
	}
	return res, nil
}

// RecoverInFlight returns jobs left processing by a crashed relay to failed.
func (r *Relay) RecoverInFlight() (int, error) {
	var stuck []jobqueue.Record
	err := r.queue.Range(func(_ string, rec jobqueue.Record) error {
		if rec.Status == jobqueue.StatusProcessing {
			stuck = append(stuck, rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, rec := range stuck {
		if _, _, err := r.queue.Apply(rec.Job.ID, jobqueue.StatusFailed, rec.LastSeq+1, "interrupted"); err != nil {
			return 0, fmt.Errorf("recover %s: %w", rec.Job.ID, err)
		}
	}
	return len(stuck), nil
}

// Run drains the queue every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := r.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error("drain failed", zap.Error(err))
		} else if res.Published > 0 || res.Failed > 0 {
			r.log.Info("drain cycle",
				zap.Int("published", res.Published),
				zap.Int("failed", res.Failed),
				zap.Int("exhausted", res.Exhausted))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) refreshDepth() {
	if r.metrics == nil {
		return
	}
	counts, err := jobqueue.Counts(r.queue)
	if err != nil {
		return
	}
	r.metrics.QueueDepth.Set(float64(counts[jobqueue.StatusPending] + counts[jobqueue.StatusFailed] + counts[jobqueue.StatusProcessing]))
}
