// Package hubclient is the worker side of the hub protocol.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
)

type Timeouts struct {
	Manifest time.Duration
	File     time.Duration
	Submit   time.Duration
	GetJob   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Manifest: 15 * time.Second,
		File:     60 * time.Second,
		Submit:   30 * time.Second,
		GetJob:   15 * time.Second,
	}
}

type Config struct {
	BaseURL    string
	// Token is sent as a bearer token when the hub guards its worker routes.
	Token      string
	Timeouts   Timeouts
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	token      string
	timeouts   Timeouts
	httpClient *http.Client
}

// PulledJob is a job handed out by GET /get-job. Raw is the flat message as
// received, kept for original_job_data.
type PulledJob struct {
	ID      string
	Payload domain.Payload
	Raw     json.RawMessage
}

func New(config Config) *Client {
	defaults := DefaultTimeouts()
	if config.Timeouts.Manifest <= 0 {
		config.Timeouts.Manifest = defaults.Manifest
	}
	if config.Timeouts.File <= 0 {
		config.Timeouts.File = defaults.File
	}
	if config.Timeouts.Submit <= 0 {
		config.Timeouts.Submit = defaults.Submit
	}
	if config.Timeouts.GetJob <= 0 {
		config.Timeouts.GetJob = defaults.GetJob
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		token:      strings.TrimSpace(config.Token),
		timeouts:   config.Timeouts,
		httpClient: config.HTTPClient,
	}
}

func (c *Client) Manifest(ctx context.Context) (domain.Manifest, error) {
	status, body, err := c.do(ctx, c.timeouts.Manifest, http.MethodGet, "/assets/manifest", nil)
	if err != nil {
		return domain.Manifest{}, err
	}
	if status != http.StatusOK {
		return domain.Manifest{}, fmt.Errorf("%w: manifest returned status %d", domain.ErrTransport, status)
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: decode manifest: %v", domain.ErrTransport, err)
	}
	return manifest, nil
}

func (c *Client) DownloadAsset(ctx context.Context, name string) ([]byte, error) {
	status, body, err := c.do(ctx, c.timeouts.File, http.MethodGet, "/assets/file/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: asset %s returned status %d", domain.ErrTransport, name, status)
	}
	return body, nil
}

// NextJob asks the hub for work. ok is false when the hub has nothing pending.
func (c *Client) NextJob(ctx context.Context, workerID string) (PulledJob, bool, error) {
	path := "/get-job?" + url.Values{"worker_id": {workerID}}.Encode()
	status, body, err := c.do(ctx, c.timeouts.GetJob, http.MethodGet, path, nil)
	if err != nil {
		return PulledJob{}, false, err
	}
	switch status {
	case http.StatusNoContent:
		return PulledJob{}, false, nil
	case http.StatusOK:
	default:
		return PulledJob{}, false, fmt.Errorf("%w: get-job returned status %d", domain.ErrTransport, status)
	}

	var head struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &head); err != nil || head.JobID == "" {
		return PulledJob{}, false, fmt.Errorf("%w: job message without job_id", domain.ErrTransport)
	}
	job := PulledJob{ID: head.JobID, Raw: json.RawMessage(body)}
	payload, err := domain.DecodePayload(body)
	if err != nil {
		// The job is returned with its id so the caller can log it. It stays
		// processing on the hub until an operator resubmits it.
		return job, true, err
	}
	job.Payload = payload
	return job, true, nil
}

func (c *Client) Submit(ctx context.Context, submission domain.Submission) error {
	encoded, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	status, body, err := c.do(ctx, c.timeouts.Submit, http.MethodPost, "/submit-result", encoded)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: submit-result returned status %d: %s", domain.ErrTransport, status, truncate(string(body), 300))
	}
	return nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, payload []byte) (int, []byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransport, path, err)
	}
	return response.StatusCode, body, nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) > limit {
		return value[:limit]
	}
	return value
}
