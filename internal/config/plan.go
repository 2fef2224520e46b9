package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/iago/dataset-hub/internal/domain"
	"gopkg.in/yaml.v3"
)

// Plan is the generation plan shared by the hub (targets, keywords) and the
// workers (chain steps).
type Plan struct {
	GenerationTargets []domain.GenerationTarget `yaml:"generation_targets"`
	SearchKeywords    []string                  `yaml:"search_keywords"`
	ChainSteps        []ChainStep               `yaml:"chain_steps"`
}

// ChainStep is one link of the checkpointed LoRA chain. Fields are the keys the
// step must produce.
type ChainStep struct {
	Name        string   `yaml:"name"`
	Fields      []string `yaml:"fields"`
	Instruction string   `yaml:"instruction"`
}

// LoadPlan reads path. A missing file yields DefaultPlan; empty sections in the
// file are filled from it.
func LoadPlan(path string) (Plan, error) {
	defaults := DefaultPlan()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if len(plan.GenerationTargets) == 0 {
		plan.GenerationTargets = defaults.GenerationTargets
	}
	if len(plan.SearchKeywords) == 0 {
		plan.SearchKeywords = defaults.SearchKeywords
	}
	if len(plan.ChainSteps) == 0 {
		plan.ChainSteps = defaults.ChainSteps
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return plan, nil
}

func (p Plan) Validate() error {
	for i, target := range p.GenerationTargets {
		if strings.TrimSpace(target.AgeGroup) == "" || strings.TrimSpace(target.Gender) == "" {
			return fmt.Errorf("generation target %d needs age_group and gender", i)
		}
	}
	names := make(map[string]struct{}, len(p.ChainSteps))
	for i, step := range p.ChainSteps {
		if strings.TrimSpace(step.Name) == "" || len(step.Fields) == 0 {
			return fmt.Errorf("chain step %d needs a name and fields", i)
		}
		if _, dup := names[step.Name]; dup {
			return fmt.Errorf("chain step %q declared twice", step.Name)
		}
		names[step.Name] = struct{}{}
	}
	return nil
}

func DefaultPlan() Plan {
	targets := []domain.GenerationTarget{
		{AgeGroup: "10代", Gender: "女性"},
		{AgeGroup: "10代", Gender: "男性"},
	}
	for _, age := range []string{"20代", "30代", "40代", "50代", "60代", "70代", "80代", "90代"} {
		targets = append(targets,
			domain.GenerationTarget{AgeGroup: age, Gender: "女性"},
			domain.GenerationTarget{AgeGroup: age, Gender: "男性"},
		)
	}

	return Plan{
		GenerationTargets: targets,
		SearchKeywords: []string{
			"リハビリテーション 症例報告",
			"理学療法 介入",
			"作業療法 症例",
		},
		ChainSteps: []ChainStep{
			{
				Name:        "assessment",
				Fields:      []string{"current_assessment", "problem_list"},
				Instruction: "Summarise the patient's current functional status and list the main problems.",
			},
			{
				Name:        "goals",
				Fields:      []string{"short_term_goals", "long_term_goals"},
				Instruction: "Set measurable short and long term goals consistent with the assessment.",
			},
			{
				Name:        "treatment",
				Fields:      []string{"treatment_plan"},
				Instruction: "Describe the intervention plan that works toward the goals.",
			},
			{
				Name:        "risk",
				Fields:      []string{"risk_management"},
				Instruction: "List precautions and contraindications for the plan.",
			},
			{
				Name:        "home_program",
				Fields:      []string{"home_program", "family_guidance"},
				Instruction: "Write the home exercise program and guidance for the family.",
			},
		},
	}
}
