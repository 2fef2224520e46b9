// Package ai wraps the content-generation provider used by the worker pipelines.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrGeneratorUnavailable = errors.New("content generator unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	JSONOutput      bool
	Document        *Document
}

// Document is a binary attachment, such as a PDF, sent alongside the input.
type Document struct {
	Filename string
	MIMEType string
	Data     []byte
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// TextGenerator is the content-generation collaborator.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

// GenerateWithFallback tries the profile's primary model, then its fallback.
func GenerateWithFallback(ctx context.Context, generator TextGenerator, profile ModelProfile, instructions, input string) (GenerateResult, error) {
	return generateWithFallback(ctx, generator, profile, GenerateRequest{Instructions: instructions, Input: input})
}

// GenerateDocumentWithFallback is GenerateWithFallback with an attached document.
func GenerateDocumentWithFallback(ctx context.Context, generator TextGenerator, profile ModelProfile, instructions, input string, document Document) (GenerateResult, error) {
	return generateWithFallback(ctx, generator, profile, GenerateRequest{Instructions: instructions, Input: input, Document: &document})
}

func generateWithFallback(ctx context.Context, generator TextGenerator, profile ModelProfile, request GenerateRequest) (GenerateResult, error) {
	if generator == nil || !generator.Available() {
		return GenerateResult{}, ErrGeneratorUnavailable
	}
	request.Model = profile.PrimaryModel
	request.Temperature = profile.Temperature
	request.MaxOutputTokens = profile.MaxOutputTokens
	request.JSONOutput = profile.JSONOutput

	result, err := generator.Generate(ctx, request)
	if err == nil || profile.FallbackModel == "" || profile.FallbackModel == profile.PrimaryModel || ctx.Err() != nil {
		return result, err
	}
	request.Model = profile.FallbackModel
	fallback, fallbackErr := generator.Generate(ctx, request)
	if fallbackErr != nil {
		return GenerateResult{}, fmt.Errorf("primary %s: %v; fallback %s: %w", profile.PrimaryModel, err, profile.FallbackModel, fallbackErr)
	}
	return fallback, nil
}

// ExtractJSON returns the JSON document inside text, unwrapping a Markdown
// code fence when the model added one.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
			trimmed = trimmed[newline+1:]
		} else {
			trimmed = strings.TrimPrefix(trimmed, "json")
		}
		trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
	}
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}
	if !json.Valid([]byte(trimmed)) {
		start := strings.IndexAny(trimmed, "{[")
		end := strings.LastIndexAny(trimmed, "}]")
		if start < 0 || end <= start || !json.Valid([]byte(trimmed[start:end+1])) {
			return nil, errors.New("model output is not valid json")
		}
		trimmed = trimmed[start : end+1]
	}
	return json.RawMessage(trimmed), nil
}
