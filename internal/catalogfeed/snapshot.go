package catalogfeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"spos/internal/catalog"
)

// SnapshotFile is the file name of a catalog snapshot inside its directory.
const SnapshotFile = "catalog.json"

var ErrSnapshotNotFound = errors.New("catalogfeed: snapshot not found")

// Data is the bulk-load input of the engine.
type Data struct {
	Products   []catalog.Product  `json:"products"`
	Categories []catalog.Category `json:"categories"`
	Partners   []catalog.Partner  `json:"partners"`
}

type Snapshotter interface {
	WriteSnapshot(snapshotID string, d Data) error
	ReadSnapshot(snapshotID string) (Data, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// WriteSnapshot writes <baseDir>/<snapshotID>/catalog.json. The file is
// written under a temporary name and renamed so readers never see a partial
// snapshot.
func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, d Data) error {
	if snapshotID == "" {
		return fmt.Errorf("write snapshot: empty id")
	}
	dir := filepath.Join(f.baseDir, snapshotID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := filepath.Join(dir, SnapshotFile+".tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		out.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, SnapshotFile)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (f *FilesystemSnapshotter) ReadSnapshot(snapshotID string) (Data, error) {
	path := filepath.Join(f.baseDir, snapshotID, SnapshotFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Data{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return Data{}, fmt.Errorf("read snapshot: %w", err)
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return Data{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return d, nil
}
