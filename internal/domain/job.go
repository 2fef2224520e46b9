package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends a job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the unit of work tracked by the hub ledger.
type Job struct {
	ID             string
	Payload        Payload
	Status         JobStatus
	History        []string
	AssignedWorker string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pipeline returns the payload discriminator, or "" for a job without payload.
func (j *Job) Pipeline() Pipeline {
	if j == nil || j.Payload == nil {
		return ""
	}
	return j.Payload.Pipeline()
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.History = append([]string(nil), j.History...)
	return &clone
}

type storedJob struct {
	ID             string          `json:"job_id"`
	Payload        json.RawMessage `json:"payload"`
	Status         JobStatus       `json:"status"`
	History        []string        `json:"history"`
	AssignedWorker string          `json:"assigned_worker,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MarshalJSON encodes the job with its payload in tagged form so stores can
// round-trip it without knowing the variant.
func (j Job) MarshalJSON() ([]byte, error) {
	stored := storedJob{
		ID:             j.ID,
		Status:         j.Status,
		History:        j.History,
		AssignedWorker: j.AssignedWorker,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if j.Payload != nil {
		encoded, err := EncodePayload(j.Payload)
		if err != nil {
			return nil, err
		}
		stored.Payload = encoded
	}
	return json.Marshal(stored)
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var stored storedJob
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	*j = Job{
		ID:             stored.ID,
		Status:         stored.Status,
		History:        stored.History,
		AssignedWorker: stored.AssignedWorker,
		CreatedAt:      stored.CreatedAt,
		UpdatedAt:      stored.UpdatedAt,
	}
	if len(stored.Payload) > 0 && string(stored.Payload) != "null" {
		payload, err := DecodePayload(stored.Payload)
		if err != nil {
			return fmt.Errorf("decode job %s payload: %w", stored.ID, err)
		}
		j.Payload = payload
	}
	return nil
}

// Stats summarises the ledger. Completed and Failed count only jobs that are
// neither pending nor assigned.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// GenerationTarget is one demographic variant combined with every source document.
type GenerationTarget struct {
	AgeGroup string `json:"age_group" yaml:"age_group"`
	Gender   string `json:"gender" yaml:"gender"`
}

// Key renders the target the way task identities and the dashboard expect: "70代_女性".
func (t GenerationTarget) Key() string {
	return t.AgeGroup + "_" + t.Gender
}

// Manifest lists the assets a worker needs to discover work locally.
type Manifest struct {
	RagSourceFiles    []string           `json:"rag_source_files"`
	GenerationTargets []GenerationTarget `json:"generation_targets"`
}
