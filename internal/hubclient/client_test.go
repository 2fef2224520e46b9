package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iago/dataset-hub/internal/domain"
)

func TestManifestAndAssetDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/assets/manifest":
			_, _ = w.Write([]byte(`{"rag_source_files":["a.md"],"generation_targets":[{"age_group":"70代","gender":"女性"}]}`))
		case "/assets/file/脳卒中 a.md":
			_, _ = w.Write([]byte("# paper"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	manifest, err := client.Manifest(context.Background())
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(manifest.RagSourceFiles) != 1 || manifest.GenerationTargets[0].Key() != "70代_女性" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	body, err := client.DownloadAsset(context.Background(), "脳卒中 a.md")
	if err != nil || string(body) != "# paper" {
		t.Fatalf("expected asset body, got %q err=%v", body, err)
	}
	if _, err := client.DownloadAsset(context.Background(), "missing.md"); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport for missing asset, got %v", err)
	}
}

func TestNextJob(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("worker_id") != "w1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls > 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"job_id":"j1","pipeline":"persona_generation","source_markdown":"a.md","age_group":"70代","gender":"女性"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	job, ok, err := client.NextJob(context.Background(), "w1")
	if err != nil || !ok {
		t.Fatalf("expected job, ok=%v err=%v", ok, err)
	}
	persona, isPersona := job.Payload.(domain.PersonaPayload)
	if job.ID != "j1" || !isPersona || persona.SourceMarkdown != "a.md" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if _, ok, err := client.NextJob(context.Background(), "w1"); ok || err != nil {
		t.Fatalf("expected empty queue, ok=%v err=%v", ok, err)
	}
}

func TestNextJobUnknownPipelineStillReturnsID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"job_id":"j9","pipeline":"mystery"}`))
	}))
	defer server.Close()

	job, ok, err := New(Config{BaseURL: server.URL}).NextJob(context.Background(), "w1")
	if !ok || job.ID != "j9" || !errors.Is(err, domain.ErrUnknownPipeline) {
		t.Fatalf("expected job id with ErrUnknownPipeline, got %+v ok=%v err=%v", job, ok, err)
	}
}

func TestSubmit(t *testing.T) {
	var received domain.Submission
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submit-result" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	submission := domain.Submission{JobID: "j1", Pipeline: domain.PipelineParser, Status: domain.JobStatusCompleted, Result: &domain.ResultBody{Content: "{}", Extension: ".jsonl"}}
	if err := client.Submit(context.Background(), submission); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if received.JobID != "j1" || received.Result == nil {
		t.Fatalf("unexpected submission received: %+v", received)
	}

	status = http.StatusInternalServerError
	if err := client.Submit(context.Background(), submission); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Token: " secret "})
	if _, ok, err := client.NextJob(context.Background(), "w1"); ok || err != nil {
		t.Fatalf("expected no job, got ok=%v err=%v", ok, err)
	}
	if authorization != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", authorization)
	}
}
