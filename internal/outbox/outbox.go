package outbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/kafka-go"

	"spos/internal/syncjob"
)

// DefaultFilename is the JSONL outbox file inside the outbox directory.
const DefaultFilename = "outbox.jsonl"

type Writer interface {
	Append(job syncjob.Job) error
}

// seqSource is implemented by sinks that can tell where a previous process
// left the job sequence.
type seqSource interface {
	LastSeq() (int64, error)
}

// MultiWriter fans out writes to multiple underlying writers. Every writer
// sees every job; the errors are joined.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// LastSeq is the highest sequence any underlying sink can report.
func (m *MultiWriter) LastSeq() (int64, error) {
	var last int64
	for _, w := range m.writers {
		src, ok := w.(seqSource)
		if !ok {
			continue
		}
		n, err := src.LastSeq()
		if err != nil {
			return 0, err
		}
		if n > last {
			last = n
		}
	}
	return last, nil
}

func (m *MultiWriter) Append(job syncjob.Job) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Append(job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileWriter appends one JSON envelope per line.
type FileWriter struct {
	mu   sync.Mutex
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Path() string { return w.path }

// LastSeq returns the highest job sequence already in the file, 0 if the file
// does not exist yet.
func (w *FileWriter) LastSeq() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var last int64
	err := ScanFile(w.path, func(_ int64, job syncjob.Job) error {
		if job.Seq > last {
			last = job.Seq
		}
		return nil
	})
	return last, err
}

func (w *FileWriter) Append(job syncjob.Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(job); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return f.Sync()
}

// ScanFile calls fn for every job of a JSONL outbox with its 1-based line
// number. A missing file has no jobs.
func ScanFile(path string, fn func(line int64, job syncjob.Job) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	line := int64(0)
	for sc.Scan() {
		line++
		var job syncjob.Job
		if err := json.Unmarshal(sc.Bytes(), &job); err != nil {
			return fmt.Errorf("unmarshal line %d: %w", line, err)
		}
		if err := fn(line, job); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan outbox: %w", err)
	}
	return nil
}

// KafkaWriter publishes jobs to a Kafka topic keyed by job id. Pure-Go client
// (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

func (k *KafkaWriter) Append(job syncjob.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(context.Background(), Message(job.ID, job.Payload.Kind(), b))
}

func (k *KafkaWriter) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Message builds the Kafka record for an encoded job.
func Message(id string, kind syncjob.Kind, value []byte) kafka.Message {
	return kafka.Message{
		Key:     []byte(id),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(kind)}},
	}
}
