package models

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Capabilities answers per-model feature questions. The response engine
// depends only on this interface, never on the pattern lists.
type Capabilities interface {
	IsReasoningCapable(model string) bool
	SupportsTools(model string) bool
}

// IsReasoningCapable is a nil-safe wrapper around Capabilities.
func IsReasoningCapable(c Capabilities, model string) bool {
	return c != nil && c.IsReasoningCapable(model)
}

// SupportsTools is a nil-safe wrapper around Capabilities.
func SupportsTools(c Capabilities, model string) bool {
	return c != nil && c.SupportsTools(model)
}

// Registry is a concurrency-safe Catalog that can be replaced at runtime.
type Registry struct {
	mu      sync.RWMutex
	catalog Catalog
}

// NewRegistry creates a registry serving c.
func NewRegistry(c Catalog) *Registry {
	r := &Registry{}
	r.Replace(c)
	return r
}

// LoadCatalog reads a YAML catalog file. Sections missing from the file keep
// their built-in defaults.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	c := DefaultCatalog()
	if file.DefaultModel != "" {
		c.DefaultModel = file.DefaultModel
	}
	if file.Models != nil {
		c.Models = file.Models
	}
	if file.Reasoning != nil {
		c.Reasoning = file.Reasoning
	}
	if file.Tools != nil {
		c.Tools = file.Tools
	}
	if file.Aliases != nil {
		c.Aliases = file.Aliases
	}
	return c, nil
}

// Load replaces the registry contents with the catalog at path. On error the
// current catalog is kept.
func (r *Registry) Load(path string) error {
	c, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	r.Replace(c)
	return nil
}

// Replace swaps in a new catalog.
func (r *Registry) Replace(c Catalog) {
	aliases := make(map[string]string, len(c.Aliases))
	for k, v := range c.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}
	c.Aliases = aliases
	c.Models = slices.Clone(c.Models)
	c.Reasoning = slices.Clone(c.Reasoning)
	c.Tools = slices.Clone(c.Tools)

	r.mu.Lock()
	r.catalog = c
	r.mu.Unlock()
}

// Catalog returns a snapshot of the current catalog.
func (r *Registry) Catalog() Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

func (r *Registry) IsReasoningCapable(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return matchAny(model, r.catalog.Reasoning)
}

func (r *Registry) SupportsTools(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return matchAny(model, r.catalog.Tools)
}

// Resolve maps a client-supplied model name to the upstream model id.
func (r *Registry) Resolve(name, debugModel string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.NormalizeModelName(name, debugModel)
}

// ModelIDs lists the advertised models followed by alias names.
func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := slices.Clone(r.catalog.Models)
	aliases := make([]string, 0, len(r.catalog.Aliases))
	for k := range r.catalog.Aliases {
		aliases = append(aliases, k)
	}
	slices.Sort(aliases)
	return append(ids, aliases...)
}
