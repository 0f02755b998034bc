package models

import "strings"

// DefaultModel is used when a request names no model.
const DefaultModel = "@cf/openai/gpt-oss-20b"

// Catalog describes the models the forwarder knows about and what each of
// them can do. Patterns are matched as case-insensitive substrings.
type Catalog struct {
	DefaultModel string            `yaml:"default_model"`
	Models       []string          `yaml:"models"`
	Reasoning    []string          `yaml:"reasoning"`
	Tools        []string          `yaml:"tools"`
	Aliases      map[string]string `yaml:"aliases"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		DefaultModel: DefaultModel,
		Models: []string{
			"@cf/openai/gpt-oss-20b",
			"@cf/openai/gpt-oss-120b",
			"@cf/meta/llama-3.3-70b-instruct-fp8-fast",
			"@cf/meta/llama-4-scout-17b-16e-instruct",
			"@cf/qwen/qwq-32b",
			"@cf/qwen/qwen3-30b-a3b-fp8",
			"@cf/qwen/qwen2.5-coder-32b-instruct",
			"@cf/deepseek-ai/deepseek-r1-distill-qwen-32b",
			"@cf/mistralai/mistral-small-3.1-24b-instruct",
			"@hf/nousresearch/hermes-2-pro-mistral-7b",
		},
		Reasoning: []string{"gpt-oss", "deepseek-r1", "qwq", "qwen3"},
		Tools: []string{
			"gpt-oss",
			"llama-3.3",
			"llama-4",
			"hermes-2-pro",
			"mistral-small-3.1",
			"qwen2.5-coder",
			"qwen3",
		},
		Aliases: map[string]string{
			"gpt-oss":      "@cf/openai/gpt-oss-20b",
			"gpt-oss-20b":  "@cf/openai/gpt-oss-20b",
			"gpt-oss-120b": "@cf/openai/gpt-oss-120b",
			"llama-3.3":    "@cf/meta/llama-3.3-70b-instruct-fp8-fast",
			"llama-4":      "@cf/meta/llama-4-scout-17b-16e-instruct",
			"qwq":          "@cf/qwen/qwq-32b",
			"deepseek-r1":  "@cf/deepseek-ai/deepseek-r1-distill-qwen-32b",
		},
	}
}

// NormalizeModelName maps aliases to upstream model ids.
// debugModel, when set, overrides every request.
func (c Catalog) NormalizeModelName(name, debugModel string) string {
	if debugModel != "" {
		return strings.TrimSpace(debugModel)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		if c.DefaultModel != "" {
			return c.DefaultModel
		}
		return DefaultModel
	}
	if mapped, ok := c.Aliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

func matchAny(model string, patterns []string) bool {
	m := strings.ToLower(model)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(m, p) {
			return true
		}
	}
	return false
}
