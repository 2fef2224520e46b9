package ai

import (
	"strings"

	"github.com/iago/dataset-hub/internal/domain"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
	JSONOutput      bool
}

type ModelRouterConfig struct {
	Primary  string
	Fallback string
}

// ModelRouter picks generation settings per pipeline.
type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.Primary) == "" {
		config.Primary = "gemini-2.5-flash"
	}
	if strings.TrimSpace(config.Fallback) == "" {
		config.Fallback = config.Primary
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(pipeline domain.Pipeline) ModelProfile {
	profile := ModelProfile{
		PrimaryModel:  r.config.Primary,
		FallbackModel: r.config.Fallback,
	}
	switch pipeline {
	case domain.PipelineRagSource:
		profile.Temperature = 0.2
		profile.MaxOutputTokens = 8192
	case domain.PipelinePersona:
		// High temperature keeps personas for the same paper from collapsing into one.
		profile.Temperature = 1.5
		profile.MaxOutputTokens = 4096
		profile.JSONOutput = true
	case domain.PipelineLoraChain:
		profile.Temperature = 0.7
		profile.MaxOutputTokens = 4096
		profile.JSONOutput = true
	case domain.PipelineParser:
		profile.Temperature = 0.8
		profile.MaxOutputTokens = 4096
	default:
		profile.Temperature = 0.2
		profile.MaxOutputTokens = 2048
	}
	return profile
}
