package catalogfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Publish writes d as snapshot snapshotID and then points the manifest at it.
func Publish(s Snapshotter, p Publisher, snapshotID string, d Data) error {
	if err := s.WriteSnapshot(snapshotID, d); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snapshotID, err)
	}
	if err := p.PublishLatest(snapshotID, len(d.Products)); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

// LoadLatest resolves the manifest to its snapshot.
func LoadLatest(r Reader, s Snapshotter) (Manifest, Data, error) {
	m, err := r.ReadLatest()
	if err != nil {
		return Manifest{}, Data{}, fmt.Errorf("read manifest: %w", err)
	}
	d, err := s.ReadSnapshot(m.SnapshotID)
	if err != nil {
		return m, Data{}, fmt.Errorf("read snapshot %s: %w", m.SnapshotID, err)
	}
	return m, d, nil
}

// Follow polls the manifest every interval and calls apply whenever it names
// a snapshot other than the last applied one. A snapshot rejected by apply is
// not retried until the manifest moves on. Follow returns when ctx is done.
func Follow(ctx context.Context, r Reader, s Snapshotter, interval time.Duration, current string, apply func(Manifest, Data) error, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m, err := r.ReadLatest()
		if err != nil {
			if !errors.Is(err, ErrNoManifest) {
				log.Warn("read catalog manifest", zap.Error(err))
			}
			continue
		}
		if m.SnapshotID == current {
			continue
		}
		d, err := s.ReadSnapshot(m.SnapshotID)
		if err != nil {
			log.Warn("read catalog snapshot", zap.String("snapshot_id", m.SnapshotID), zap.Error(err))
			continue
		}
		current = m.SnapshotID
		if err := apply(m, d); err != nil {
			log.Warn("catalog snapshot rejected", zap.String("snapshot_id", m.SnapshotID), zap.Error(err))
			continue
		}
		log.Info("catalog snapshot applied",
			zap.String("snapshot_id", m.SnapshotID),
			zap.Int("products", len(d.Products)))
	}
}
