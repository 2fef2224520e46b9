// Package generate holds the task handlers that turn a job payload into a
// dataset artifact, and the dispatcher that routes payloads to them.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iago/dataset-hub/internal/ai"
	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
)

// Task is one unit of work for a handler. JobID is the id reported to the hub;
// LocalID keys local checkpoints and defaults to JobID.
type Task struct {
	JobID   string
	LocalID string
	Payload domain.Payload
}

func (t Task) localID() string {
	if t.LocalID != "" {
		return t.LocalID
	}
	return t.JobID
}

type Handler interface {
	Handle(ctx context.Context, task Task) (domain.ResultBody, error)
}

type HandlerFunc func(ctx context.Context, task Task) (domain.ResultBody, error)

func (f HandlerFunc) Handle(ctx context.Context, task Task) (domain.ResultBody, error) {
	return f(ctx, task)
}

// Dispatcher routes a task to the handler registered for its pipeline.
type Dispatcher struct {
	handlers map[domain.Pipeline]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[domain.Pipeline]Handler)}
}

func (d *Dispatcher) Register(pipeline domain.Pipeline, handler Handler) {
	d.handlers[pipeline] = handler
}

func (d *Dispatcher) Handles(pipeline domain.Pipeline) bool {
	_, ok := d.handlers[pipeline]
	return ok
}

func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (domain.ResultBody, error) {
	if task.Payload == nil {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrUnknownPipeline, "task without payload", nil)
	}
	handler, ok := d.handlers[task.Payload.Pipeline()]
	if !ok {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrUnknownPipeline, string(task.Payload.Pipeline()), nil)
	}
	return handler.Handle(ctx, task)
}

// Sources reads the local files a handler depends on.
type Sources interface {
	Read(bucket artifact.Bucket, name string) ([]byte, error)
}

func readInput(sources Sources, bucket artifact.Bucket, name string) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.NewTaskError(domain.ErrMissingInput, fmt.Sprintf("%s file name is empty", bucket), nil)
	}
	data, err := sources.Read(bucket, name)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, domain.NewTaskError(domain.ErrMissingInput, name, err)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func generationFailure(err error) error {
	if err == nil {
		return nil
	}
	var taskErr *domain.TaskError
	if errors.As(err, &taskErr) || errors.Is(err, domain.ErrTransport) {
		return err
	}
	return domain.NewTaskError(domain.ErrGenerationFailure, "", err)
}

// generateJSON runs the generator and returns the JSON document in its output.
func generateJSON(ctx context.Context, generator ai.TextGenerator, profile ai.ModelProfile, instructions, input string) ([]byte, error) {
	result, err := ai.GenerateWithFallback(ctx, generator, profile, instructions, input)
	if err != nil {
		return nil, generationFailure(err)
	}
	document, err := ai.ExtractJSON(result.Text)
	if err != nil {
		return nil, domain.NewTaskError(domain.ErrGenerationFailure, "model output is not json", err)
	}
	return document, nil
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
