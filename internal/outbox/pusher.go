package outbox

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spos/internal/jobqueue"
	"spos/internal/metrics"
	"spos/internal/syncjob"
)

// Pusher hands engine payloads to the job queue and the outbox writer.
// A job reaches the queue before the writer, so a failed append still leaves a
// pending job for the relay.
type Pusher struct {
	queue   jobqueue.Store
	writer  Writer
	log     *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time
	seq     atomic.Int64
}

type PusherOption func(*Pusher)

func WithLogger(l *zap.Logger) PusherOption {
	return func(p *Pusher) {
		if l != nil {
			p.log = l
		}
	}
}

func WithMetrics(m *metrics.Registry) PusherOption {
	return func(p *Pusher) { p.metrics = m }
}

func WithClock(now func() time.Time) PusherOption {
	return func(p *Pusher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPusher resumes the job sequence after the highest one already queued or
// already written by w (for file sinks). w may be nil when only the queue is
// used.
func NewPusher(q jobqueue.Store, w Writer, opts ...PusherOption) (*Pusher, error) {
	p := &Pusher{
		queue:  q,
		writer: w,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	var maxSeq int64
	err := q.Range(func(_ string, rec jobqueue.Record) error {
		if rec.Job.Seq > maxSeq {
			maxSeq = rec.Job.Seq
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	if src, ok := w.(seqSource); ok {
		last, err := src.LastSeq()
		if err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		if last > maxSeq {
			maxSeq = last
		}
	}
	p.seq.Store(maxSeq)
	return p, nil
}

// Push implements engine.Syncer. Failures are logged and counted, never
// returned to the caller.
func (p *Pusher) Push(payload syncjob.Payload) {
	if _, err := p.Enqueue(payload); err != nil {
		p.log.Error("sync push failed", zap.String("type", string(payload.Kind())), zap.Error(err))
	}
}

// Enqueue wraps payload in a new job, queues it and appends it to the outbox.
func (p *Pusher) Enqueue(payload syncjob.Payload) (syncjob.Job, error) {
	if payload == nil {
		return syncjob.Job{}, fmt.Errorf("enqueue: nil payload")
	}
	job := syncjob.Job{
		ID:        uuid.NewString(),
		Seq:       p.seq.Add(1),
		CreatedAt: p.now(),
		Payload:   payload,
	}
	if _, err := p.queue.Put(job); err != nil {
		return job, fmt.Errorf("queue put %s: %w", job.ID, err)
	}
	if p.metrics != nil {
		p.metrics.JobsEnqueued.WithLabelValues(string(payload.Kind())).Inc()
		p.metrics.QueueDepth.Inc()
	}
	if p.writer != nil {
		if err := p.writer.Append(job); err != nil {
			if p.metrics != nil {
				p.metrics.OutboxErrors.Inc()
			}
			p.log.Warn("outbox append failed, job stays queued",
				zap.String("job_id", job.ID), zap.Int64("seq", job.Seq), zap.Error(err))
			return job, nil
		}
		if p.metrics != nil {
			p.metrics.OutboxAppended.Inc()
		}
	}
	p.log.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.Int64("seq", job.Seq),
		zap.String("type", string(payload.Kind())))
	return job, nil
}
