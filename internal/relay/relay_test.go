package relay

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"spos/internal/jobqueue"
	"spos/internal/metrics"
	"spos/internal/order"
	"spos/internal/outbox"
	"spos/internal/syncjob"
)

func job(id string, seq int64) syncjob.Job {
	return syncjob.Job{
		ID:        id,
		Seq:       seq,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:   syncjob.SaleOrder{Order: order.Snapshot{OrderName: "Order " + id}},
	}
}

// fakePublisher records published jobs and fails while failN > 0.
type fakePublisher struct {
	got   []string
	failN int
}

func (f *fakePublisher) Publish(ctx context.Context, j syncjob.Job) error {
	if f.failN > 0 {
		f.failN--
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, j.ID)
	return nil
}

func TestReplayOutbox_SkipsOffsetAndKnownJobs(t *testing.T) {
	dir := t.TempDir()
	fw, err := outbox.NewFileWriter(dir, outbox.DefaultFilename)
	if err != nil {
		t.Fatalf("file writer: %v", err)
	}
	for i, id := range []string{"a", "b", "c"} {
		if err := fw.Append(job(id, int64(i+1))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	q := jobqueue.NewInMemoryStore()
	if _, err := q.Put(job("c", 3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	r := New(q, &fakePublisher{}, WithMetrics(metrics.NewRegistry()))

	// With fromOffset=1 the first line is skipped; c is already queued.
	res := r.ReplayOutbox(fw.Path(), 1)
	if res.Error != nil {
		t.Fatalf("replay: %v", res.Error)
	}
	if res.Applied != 1 || res.Skipped != 1 || res.LastOffset != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := q.Get("a"); ok {
		t.Fatalf("job before offset should not be queued")
	}
	if rec, ok := q.Get("b"); !ok || rec.Status != jobqueue.StatusPending {
		t.Fatalf("b not queued: %+v ok=%v", rec, ok)
	}
}

func TestReplayOutbox_Errors(t *testing.T) {
	r := New(jobqueue.NewInMemoryStore(), &fakePublisher{})
	if res := r.ReplayOutbox(filepath.Join(t.TempDir(), "missing.jsonl"), 0); res.Error == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte(`{"id":"x","type":"NOPE","payload":{}}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := r.ReplayOutbox(path, 0)
	if !errors.Is(res.Error, syncjob.ErrUnknownKind) {
		t.Fatalf("want unknown kind error, got %v", res.Error)
	}
}

func TestDrain_PublishesInSequenceOrder(t *testing.T) {
	q := jobqueue.NewInMemoryStore()
	for _, j := range []syncjob.Job{job("third", 3), job("first", 1), job("second", 2)} {
		if _, err := q.Put(j); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	pub := &fakePublisher{}
	res, err := New(q, pub).Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Published != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(pub.got) != 3 || pub.got[0] != "first" || pub.got[1] != "second" || pub.got[2] != "third" {
		t.Fatalf("publish order: %v", pub.got)
	}
	rec, _ := q.Get("first")
	if rec.Status != jobqueue.StatusCompleted || rec.Attempts != 1 {
		t.Fatalf("first not completed: %+v", rec)
	}

	// Nothing left to deliver.
	res, err = New(q, pub).Drain(context.Background())
	if err != nil || res.Published != 0 {
		t.Fatalf("second drain: %+v err=%v", res, err)
	}
}

func TestDrain_StopsAtFailureAndRetries(t *testing.T) {
	q := jobqueue.NewInMemoryStore()
	_, _ = q.Put(job("a", 1))
	_, _ = q.Put(job("b", 2))
	pub := &fakePublisher{failN: 1}
	m := metrics.NewRegistry()
	r := New(q, pub, WithMetrics(m))

	res, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Failed != 1 || res.Published != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec, _ := q.Get("a"); rec.Status != jobqueue.StatusFailed || rec.LastError != "broker unavailable" {
		t.Fatalf("a should be failed: %+v", rec)
	}
	if rec, _ := q.Get("b"); rec.Status != jobqueue.StatusPending || rec.Attempts != 0 {
		t.Fatalf("b must not overtake a: %+v", rec)
	}

	res, err = r.Drain(context.Background())
	if err != nil || res.Published != 2 {
		t.Fatalf("retry drain: %+v err=%v", res, err)
	}
	if rec, _ := q.Get("a"); rec.Attempts != 2 || rec.LastError != "" {
		t.Fatalf("a after retry: %+v", rec)
	}
}

func TestDrain_AttemptCap(t *testing.T) {
	q := jobqueue.NewInMemoryStore()
	_, _ = q.Put(job("poison", 1))
	_, _ = q.Put(job("next", 2))
	pub := &fakePublisher{failN: 2}
	r := New(q, pub, WithMaxAttempts(2))

	for i := 0; i < 2; i++ {
		if _, err := r.Drain(context.Background()); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}
	res, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Exhausted != 1 || res.Published != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec, _ := q.Get("poison"); rec.Status != jobqueue.StatusFailed || rec.Attempts != 2 {
		t.Fatalf("poison: %+v", rec)
	}
}

func TestDrain_HonoursCancelledContext(t *testing.T) {
	q := jobqueue.NewInMemoryStore()
	_, _ = q.Put(job("a", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(q, &fakePublisher{}).Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if rec, _ := q.Get("a"); rec.Status != jobqueue.StatusPending {
		t.Fatalf("job touched after cancel: %+v", rec)
	}
}

func TestRecoverInFlight(t *testing.T) {
	q := jobqueue.NewInMemoryStore()
	_, _ = q.Put(job("a", 1))
	if _, _, err := q.Apply("a", jobqueue.StatusProcessing, 1, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	n, err := New(q, &fakePublisher{}).RecoverInFlight()
	if err != nil || n != 1 {
		t.Fatalf("recover: n=%d err=%v", n, err)
	}
	if rec, _ := q.Get("a"); rec.Status != jobqueue.StatusFailed {
		t.Fatalf("a: %+v", rec)
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fk := &fakeKafkaWriter{}
	p := NewKafkaPublisherWith(fk)
	if err := p.Publish(context.Background(), job("k", 4)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fk.msgs) != 1 || string(fk.msgs[0].Key) != "k" {
		t.Fatalf("bad messages: %+v", fk.msgs)
	}
	var back syncjob.Job
	if err := json.Unmarshal(fk.msgs[0].Value, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Seq != 4 || back.Payload.Kind() != syncjob.KindSaleOrder {
		t.Fatalf("decoded job: %+v", back)
	}
}

func TestCheckpoint_RestartOnEmptyQueueDoesNotRepublish(t *testing.T) {
	dir := t.TempDir()
	fw, err := outbox.NewFileWriter(dir, outbox.DefaultFilename)
	if err != nil {
		t.Fatalf("file writer: %v", err)
	}
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := fw.Append(job(id, int64(i+1))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	cpPath := filepath.Join(dir, CheckpointFile)
	pub := &fakePublisher{}

	for run := 0; run < 2; run++ {
		cp, err := OpenFileCheckpoint(cpPath)
		if err != nil {
			t.Fatalf("open checkpoint: %v", err)
		}
		r := New(jobqueue.NewInMemoryStore(), pub, WithCheckpoint(cp))
		if res := r.ReplayOutbox(fw.Path(), 0); res.Error != nil {
			t.Fatalf("replay run %d: %v", run, res.Error)
		}
		if _, err := r.Drain(context.Background()); err != nil {
			t.Fatalf("drain run %d: %v", run, err)
		}
	}
	if len(pub.got) != 4 {
		t.Fatalf("published %d jobs across restarts, want 4: %v", len(pub.got), pub.got)
	}

	// New outbox entries after the restart still go out.
	if err := fw.Append(job("e", 5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	cp, err := OpenFileCheckpoint(cpPath)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	if cp.Seq() != 4 {
		t.Fatalf("checkpoint seq=%d want 4", cp.Seq())
	}
	r := New(jobqueue.NewInMemoryStore(), pub, WithCheckpoint(cp))
	res := r.ReplayOutbox(fw.Path(), 0)
	if res.Error != nil || res.Applied != 1 || res.Skipped != 4 {
		t.Fatalf("replay after restart: %+v", res)
	}
	if _, err := r.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.got) != 5 || pub.got[4] != "e" {
		t.Fatalf("published: %v", pub.got)
	}
}

func TestFileCheckpoint_OnlyMovesForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", CheckpointFile)
	cp, err := OpenFileCheckpoint(path)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	if cp.Seq() != 0 {
		t.Fatalf("fresh checkpoint seq=%d", cp.Seq())
	}
	if err := cp.Save(7); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cp.Save(3); err != nil {
		t.Fatalf("save lower: %v", err)
	}
	again, err := OpenFileCheckpoint(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Seq() != 7 {
		t.Fatalf("reopened seq=%d want 7", again.Seq())
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenFileCheckpoint(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
