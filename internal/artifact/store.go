// Package artifact stores the worker's local files: synced source documents,
// generation targets and the generated personas, chain records and parser records
// whose presence marks a task as done.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Bucket string

const (
	BucketSource  Bucket = "source"
	BucketAssets  Bucket = "assets"
	BucketPersona Bucket = "persona"
	BucketLora    Bucket = "lora"
	BucketParser  Bucket = "parser"
)

var ErrNotFound = errors.New("artifact not found")

// Store is the worker's view of local artifacts.
type Store interface {
	Exists(bucket Bucket, name string) bool
	Read(bucket Bucket, name string) ([]byte, error)
	Write(bucket Bucket, name string, data []byte) error
	List(bucket Bucket, suffix string) ([]string, error)
}

type Layout struct {
	AssetsDir string
	OutputDir string
}

func DefaultLayout() Layout {
	return Layout{AssetsDir: "worker_assets", OutputDir: "output"}
}

// FSStore maps buckets onto directories.
type FSStore struct {
	dirs map[Bucket]string
}

func NewFSStore(layout Layout) (*FSStore, error) {
	if layout.AssetsDir == "" || layout.OutputDir == "" {
		defaults := DefaultLayout()
		if layout.AssetsDir == "" {
			layout.AssetsDir = defaults.AssetsDir
		}
		if layout.OutputDir == "" {
			layout.OutputDir = defaults.OutputDir
		}
	}
	dirs := map[Bucket]string{
		BucketAssets:  layout.AssetsDir,
		BucketSource:  filepath.Join(layout.AssetsDir, "rag_source"),
		BucketPersona: filepath.Join(layout.OutputDir, "pipeline_2_lora_finetune", "personas"),
		BucketLora:    filepath.Join(layout.OutputDir, "pipeline_2_lora_finetune"),
		BucketParser:  filepath.Join(layout.OutputDir, "pipeline_3_parser_finetune"),
	}
	for bucket, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", bucket, err)
		}
	}
	return &FSStore{dirs: dirs}, nil
}

// Path returns where name lives in bucket. Name is reduced to its base so a
// remote file name cannot escape the bucket directory.
func (s *FSStore) Path(bucket Bucket, name string) string {
	return filepath.Join(s.dirs[bucket], filepath.Base(name))
}

func (s *FSStore) Exists(bucket Bucket, name string) bool {
	info, err := os.Stat(s.Path(bucket, name))
	return err == nil && !info.IsDir()
}

func (s *FSStore) Read(bucket Bucket, name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(bucket, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

func (s *FSStore) Write(bucket Bucket, name string, data []byte) error {
	if _, ok := s.dirs[bucket]; !ok {
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	return WriteFileAtomic(s.Path(bucket, name), data)
}

// List returns the sorted names of regular files in bucket ending in suffix.
func (s *FSStore) List(bucket Bucket, suffix string) ([]string, error) {
	entries, err := os.ReadDir(s.dirs[bucket])
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// WriteFileAtomic writes through a temporary file in the same directory,
// fsyncs it and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
