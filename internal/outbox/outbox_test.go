package outbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"spos/internal/order"
	"spos/internal/syncjob"
)

func job(id string, seq int64) syncjob.Job {
	return syncjob.Job{
		ID:        id,
		Seq:       seq,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:   syncjob.SaleOrder{Order: order.Snapshot{OrderName: "Order 0001", TotalWithTax: 5.35, TotalTax: 0.35}},
	}
}

func readJobs(t *testing.T, path string) []syncjob.Job {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	var got []syncjob.Job
	for s.Scan() {
		var j syncjob.Job
		if err := json.Unmarshal(s.Bytes(), &j); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, j)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return got
}

func TestFileWriter_Append(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, DefaultFilename)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w.Append(job("a", 1)); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := w.Append(job("b", 2)); err != nil {
		t.Fatalf("append2: %v", err)
	}

	got := readJobs(t, filepath.Join(dir, DefaultFilename))
	if len(got) != 2 {
		t.Fatalf("want 2 lines, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].Seq != 2 {
		t.Fatalf("mismatch: %+v", got)
	}
	if _, ok := got[1].Payload.(syncjob.SaleOrder); !ok {
		t.Fatalf("payload type %T", got[1].Payload)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaWriter_Append_Success(t *testing.T) {
	fk := &fakeKafkaWriter{}
	kw := NewKafkaWriterWith(fk)
	if err := kw.Append(job("k-1", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fk.msgs))
	}
	m := fk.msgs[0]
	if string(m.Key) != "k-1" {
		t.Fatalf("bad key: %s", string(m.Key))
	}
	if len(m.Headers) != 1 || string(m.Headers[0].Value) != string(syncjob.KindSaleOrder) {
		t.Fatalf("bad headers: %+v", m.Headers)
	}
}

func TestKafkaWriter_Append_Fail(t *testing.T) {
	kw := NewKafkaWriterWith(&fakeKafkaWriter{fail: true})
	if err := kw.Append(job("k-1", 1)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiWriter_WritesEverySinkAndJoinsErrors(t *testing.T) {
	ok := &fakeKafkaWriter{}
	bad := &fakeKafkaWriter{fail: true}
	mw := NewMultiWriter(NewKafkaWriterWith(bad), NewKafkaWriterWith(ok))

	if err := mw.Append(job("m-1", 1)); err == nil {
		t.Fatalf("expected error from failing sink")
	}
	if len(ok.msgs) != 1 {
		t.Fatalf("healthy sink should still receive the job, got %d", len(ok.msgs))
	}
}

func TestFileWriter_LastSeq(t *testing.T) {
	fw, err := NewFileWriter(t.TempDir(), DefaultFilename)
	if err != nil {
		t.Fatalf("new file writer: %v", err)
	}
	if n, err := fw.LastSeq(); err != nil || n != 0 {
		t.Fatalf("empty outbox: n=%d err=%v", n, err)
	}
	for _, seq := range []int64{3, 7, 5} {
		if err := fw.Append(job("s", seq)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if n, err := fw.LastSeq(); err != nil || n != 7 {
		t.Fatalf("last seq: n=%d err=%v", n, err)
	}

	mw := NewMultiWriter(NewKafkaWriterWith(&fakeKafkaWriter{}), fw)
	if n, err := mw.LastSeq(); err != nil || n != 7 {
		t.Fatalf("multi writer last seq: n=%d err=%v", n, err)
	}
}

func TestScanFile_RejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := os.WriteFile(path, []byte("{not json\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := ScanFile(path, func(int64, syncjob.Job) error { return nil })
	if err == nil {
		t.Fatalf("expected unmarshal error")
	}
}
