package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
	"go.uber.org/zap"
)

// AssetSource serves the hub's asset manifest and files.
type AssetSource interface {
	Manifest(ctx context.Context) (domain.Manifest, error)
	DownloadAsset(ctx context.Context, name string) ([]byte, error)
}

type Syncer struct {
	hub    AssetSource
	store  artifact.Store
	logger *zap.Logger
}

func NewSyncer(hub AssetSource, store artifact.Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{hub: hub, store: store, logger: logger}
}

// Sync refreshes the generation targets and downloads source documents that
// are not present locally. It returns how many documents were fetched.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	manifest, err := s.hub.Manifest(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch manifest: %w", err)
	}
	targets, err := json.MarshalIndent(manifest.GenerationTargets, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode targets: %w", err)
	}
	if err := s.store.Write(artifact.BucketAssets, targetsFile, targets); err != nil {
		return 0, err
	}

	downloaded := 0
	for _, name := range manifest.RagSourceFiles {
		if name == "" || filepath.Base(name) != name {
			s.logger.Warn("skipping unsafe asset name", zap.String("name", name))
			continue
		}
		if s.store.Exists(artifact.BucketSource, name) {
			continue
		}
		data, err := s.hub.DownloadAsset(ctx, name)
		if err != nil {
			return downloaded, fmt.Errorf("download %s: %w", name, err)
		}
		if err := s.store.Write(artifact.BucketSource, name, data); err != nil {
			return downloaded, err
		}
		downloaded++
	}
	s.logger.Info("assets synced", zap.Int("documents", len(manifest.RagSourceFiles)), zap.Int("downloaded", downloaded), zap.Int("targets", len(manifest.GenerationTargets)))
	return downloaded, nil
}
