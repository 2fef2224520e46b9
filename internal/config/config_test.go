package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadReadsNestedSections(t *testing.T) {
	t.Setenv("HUB_HOST", "0.0.0.0")
	t.Setenv("HUB_PORT", "9000")
	t.Setenv("WORKER_POLLING_INTERVAL", "45")
	t.Setenv("SEARCH_INTERVAL", "10m")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("GENERATOR_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "legacy-key")
	t.Setenv("SEARCH_KEYWORDS", " 脳卒中 リハビリ, ,変形性膝関節症 ")

	cfg := Load()

	if cfg.Worker.HubURL != "http://127.0.0.1:9000" {
		t.Fatalf("expected hub url derived from host/port, got %q", cfg.Worker.HubURL)
	}
	if cfg.Worker.PollInterval != 45*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.Worker.PollInterval)
	}
	if cfg.Hub.SearchInterval != 10*time.Minute {
		t.Fatalf("expected 10m search interval, got %s", cfg.Hub.SearchInterval)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected lower-cased backend, got %q", cfg.Store.Backend)
	}
	if cfg.Generator.APIKey != "legacy-key" {
		t.Fatalf("expected GEMINI_API_KEY fallback, got %q", cfg.Generator.APIKey)
	}
	if len(cfg.Hub.SearchKeywords) != 2 || cfg.Hub.SearchKeywords[1] != "変形性膝関節症" {
		t.Fatalf("expected two trimmed keywords, got %q", cfg.Hub.SearchKeywords)
	}
	if !strings.Contains(cfg.Worker.ID, "-") {
		t.Fatalf("expected hostname-pid worker id, got %q", cfg.Worker.ID)
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# comment",
		"export DOTENV_TEST_A=from-file",
		`DOTENV_TEST_B="line\nbreak"`,
		"DOTENV_TEST_C=value # trailing",
		"DOTENV_TEST_D=from-file",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DOTENV_TEST_D", "from-env")
	for _, key := range []string{"DOTENV_TEST_A", "DOTENV_TEST_B", "DOTENV_TEST_C"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	loaded, err := LoadDotEnv(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected one loaded file, got %v", loaded)
	}
	if got := os.Getenv("DOTENV_TEST_A"); got != "from-file" {
		t.Fatalf("expected export prefix stripped, got %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_B"); got != "line\nbreak" {
		t.Fatalf("expected escaped newline, got %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_C"); got != "value" {
		t.Fatalf("expected inline comment removed, got %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_D"); got != "from-env" {
		t.Fatalf("expected process env to win, got %q", got)
	}
}

func TestLoadPlanDefaultsWhenMissing(t *testing.T) {
	plan, err := LoadPlan(filepath.Join(t.TempDir(), "plan.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(plan.GenerationTargets) != 18 {
		t.Fatalf("expected 18 default targets, got %d", len(plan.GenerationTargets))
	}
	if plan.GenerationTargets[0].Key() != "10代_女性" || plan.GenerationTargets[17].Key() != "90代_男性" {
		t.Fatalf("unexpected target order: %v", plan.GenerationTargets)
	}
	if len(plan.ChainSteps) == 0 {
		t.Fatalf("expected default chain steps")
	}
}

func TestLoadPlanFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
generation_targets:
  - age_group: 70代
    gender: 女性
chain_steps:
  - name: only
    fields: [summary]
    instruction: summarise
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(plan.GenerationTargets) != 1 || plan.GenerationTargets[0].Key() != "70代_女性" {
		t.Fatalf("unexpected targets: %v", plan.GenerationTargets)
	}
	if len(plan.ChainSteps) != 1 || plan.ChainSteps[0].Fields[0] != "summary" {
		t.Fatalf("unexpected chain steps: %v", plan.ChainSteps)
	}
	if len(plan.SearchKeywords) == 0 {
		t.Fatalf("expected default keywords to fill the gap")
	}
}

func TestLoadPlanRejectsDuplicateSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := "chain_steps:\n  - name: a\n    fields: [x]\n  - name: a\n    fields: [y]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPlan(path); err == nil {
		t.Fatalf("expected duplicate step error")
	}
}
