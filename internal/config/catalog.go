package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelKind groups catalog entries by the role they play in the workflow.
type ModelKind string

const (
	ModelKindBasic     ModelKind = "basic"
	ModelKindReasoning ModelKind = "reasoning"
)

type CatalogModel struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Model         string    `yaml:"model"`
	Provider      string    `yaml:"provider"`
	ContextWindow int       `yaml:"context_window"`
	BaseURL       string    `yaml:"base_url"`
	VerifySSL     *bool     `yaml:"verify_ssl"`
	Kind          ModelKind `yaml:"kind"`
}

type ModelCatalog struct {
	Models          []CatalogModel `yaml:"models"`
	DefaultModelIDs []string       `yaml:"default_model_ids"`
}

// LoadModelCatalog reads the model catalog YAML. A missing file is not an
// error: the server falls back to a built-in catalog so local setups work
// without a conf file.
func LoadModelCatalog(path string) (ModelCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return builtinCatalog(), nil
		}
		return ModelCatalog{}, fmt.Errorf("read model catalog: %w", err)
	}

	var catalog ModelCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return ModelCatalog{}, fmt.Errorf("parse model catalog: %w", err)
	}

	cleaned := make([]CatalogModel, 0, len(catalog.Models))
	for _, model := range catalog.Models {
		model.ID = strings.TrimSpace(model.ID)
		if model.ID == "" {
			continue
		}
		if strings.TrimSpace(model.Name) == "" {
			model.Name = model.ID
		}
		if strings.TrimSpace(model.Model) == "" {
			model.Model = model.ID
		}
		if model.Kind != ModelKindReasoning {
			model.Kind = ModelKindBasic
		}
		if model.ContextWindow <= 0 {
			model.ContextWindow = 4096
		}
		cleaned = append(cleaned, model)
	}
	catalog.Models = cleaned

	if len(catalog.Models) == 0 {
		return builtinCatalog(), nil
	}
	if len(catalog.DefaultModelIDs) == 0 {
		for _, model := range catalog.Models {
			catalog.DefaultModelIDs = append(catalog.DefaultModelIDs, model.ID)
		}
	}
	return catalog, nil
}

func (c ModelCatalog) ByID(id string) (CatalogModel, bool) {
	for _, model := range c.Models {
		if model.ID == id {
			return model, true
		}
	}
	return CatalogModel{}, false
}

func (c ModelCatalog) ByKind() map[ModelKind][]CatalogModel {
	out := make(map[ModelKind][]CatalogModel, 2)
	for _, model := range c.Models {
		out[model.Kind] = append(out[model.Kind], model)
	}
	return out
}

func builtinCatalog() ModelCatalog {
	return ModelCatalog{
		Models: []CatalogModel{
			{
				ID:            "gemini-2-flash",
				Name:          "Gemini 2.0 Flash",
				Model:         "google/gemini-2.0-flash-001",
				Provider:      "Google",
				ContextWindow: 1_000_000,
				Kind:          ModelKindBasic,
			},
			{
				ID:            "openrouter-gpt-4o",
				Name:          "GPT-4o",
				Model:         "openai/gpt-4o",
				Provider:      "OpenAI",
				ContextWindow: 128_000,
				Kind:          ModelKindBasic,
			},
			{
				ID:            "openrouter-claude-3-5-sonnet",
				Name:          "Claude 3.5 Sonnet",
				Model:         "anthropic/claude-3.5-sonnet",
				Provider:      "Anthropic",
				ContextWindow: 200_000,
				Kind:          ModelKindReasoning,
			},
		},
		DefaultModelIDs: []string{
			"gemini-2-flash",
			"openrouter-gpt-4o",
			"openrouter-claude-3-5-sonnet",
		},
	}
}
