package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSStoreLayout(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(Layout{AssetsDir: filepath.Join(root, "worker_assets"), OutputDir: filepath.Join(root, "output")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Write(BucketPersona, "abc.json", []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	expected := filepath.Join(root, "output", "pipeline_2_lora_finetune", "personas", "abc.json")
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected persona at %s: %v", expected, err)
	}
	if !store.Exists(BucketPersona, "abc.json") || store.Exists(BucketLora, "abc.json") {
		t.Fatalf("unexpected existence results")
	}
}

func TestFSStoreReadMissing(t *testing.T) {
	store, err := NewFSStore(Layout{AssetsDir: t.TempDir(), OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Read(BucketSource, "missing.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreListFiltersAndSorts(t *testing.T) {
	store, err := NewFSStore(Layout{AssetsDir: t.TempDir(), OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, name := range []string{"b.md", "a.md", "notes.txt"} {
		if err := store.Write(BucketSource, name, []byte("x")); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	names, err := store.List(BucketSource, ".md")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "a.md" || names[1] != "b.md" {
		t.Fatalf("expected [a.md b.md], got %v", names)
	}
}

func TestFSStorePathStaysInBucket(t *testing.T) {
	store, err := NewFSStore(Layout{AssetsDir: t.TempDir(), OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Write(BucketSource, "../../escape.md", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !store.Exists(BucketSource, "escape.md") {
		t.Fatalf("expected file written inside bucket")
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	if err := WriteFileAtomic(path, []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
}
