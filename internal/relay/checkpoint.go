package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CheckpointFile is the default file name for the relay's published watermark.
const CheckpointFile = "relay.checkpoint.json"

// Checkpoint remembers the highest job sequence the relay has published.
// Replays skip anything at or below it.
type Checkpoint interface {
	Seq() int64
	Save(seq int64) error
}

type checkpointRecord struct {
	PublishedSeq int64 `json:"publishedSeq"`
}

// FileCheckpoint keeps the watermark in a small JSON file, replaced atomically.
type FileCheckpoint struct {
	mu   sync.Mutex
	path string
	seq  int64
}

// OpenFileCheckpoint reads the watermark at path. A missing file starts at 0.
func OpenFileCheckpoint(path string) (*FileCheckpoint, error) {
	c := &FileCheckpoint{path: path}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec checkpointRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	c.seq = rec.PublishedSeq
	return c, nil
}

func (c *FileCheckpoint) Seq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Save moves the watermark forward; lower values are ignored.
func (c *FileCheckpoint) Save(seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.seq {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := json.Marshal(checkpointRecord{PublishedSeq: seq})
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	c.seq = seq
	return nil
}
