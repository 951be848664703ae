package workflow

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplatesYAML []byte

type State struct {
	Key   string
	Label string
	Order int
}

// Template is the ordered state list a project's tasks move through.
// TerminalState marks a task as completed.
type Template struct {
	ID            string
	Name          string
	States        []State
	TerminalState string
}

func (t Template) Has(key string) bool {
	_, ok := t.state(key)
	return ok
}

func (t Template) IsTerminal(key string) bool {
	return key != "" && key == t.TerminalState
}

// Label returns the display label of key, or key itself when the template
// does not define it.
func (t Template) Label(key string) string {
	if state, ok := t.state(key); ok {
		return state.Label
	}
	return key
}

// Initial returns the first state of the template.
func (t Template) Initial() string {
	return t.States[0].Key
}

func (t Template) state(key string) (State, bool) {
	for _, state := range t.States {
		if state.Key == key {
			return state, true
		}
	}
	return State{}, false
}

type Registry struct {
	templates map[string]Template
	defaultID string
}

type registryYAML struct {
	Default   string         `yaml:"default"`
	Templates []templateYAML `yaml:"templates"`
}

type templateYAML struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Terminal string      `yaml:"terminal"`
	States   []stateYAML `yaml:"states"`
}

type stateYAML struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// Load reads templates from path, or the bundled set when path is empty.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultTemplatesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow templates: %w", err)
	}
	registry, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logger.Info("workflow templates loaded", slog.String("path", path), slog.Int("count", len(registry.templates)))
	return registry, nil
}

// Default returns the bundled registry. It panics if the bundled file is
// invalid.
func Default() *Registry {
	registry, err := Parse(defaultTemplatesYAML)
	if err != nil {
		panic(err)
	}
	return registry
}

func Parse(data []byte) (*Registry, error) {
	var doc registryYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow templates: %w", err)
	}
	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("parse workflow templates: no templates defined")
	}

	registry := &Registry{templates: make(map[string]Template, len(doc.Templates)), defaultID: doc.Default}
	for _, raw := range doc.Templates {
		tmpl, err := raw.build()
		if err != nil {
			return nil, err
		}
		if _, dup := registry.templates[tmpl.ID]; dup {
			return nil, fmt.Errorf("workflow template %q defined twice", tmpl.ID)
		}
		registry.templates[tmpl.ID] = tmpl
	}
	if registry.defaultID == "" {
		registry.defaultID = doc.Templates[0].ID
	}
	if _, ok := registry.templates[registry.defaultID]; !ok {
		return nil, fmt.Errorf("default workflow template %q is not defined", registry.defaultID)
	}
	return registry, nil
}

func (raw templateYAML) build() (Template, error) {
	if raw.ID == "" {
		return Template{}, fmt.Errorf("workflow template without id")
	}
	if len(raw.States) == 0 {
		return Template{}, fmt.Errorf("workflow template %q has no states", raw.ID)
	}
	tmpl := Template{ID: raw.ID, Name: raw.Name, TerminalState: raw.Terminal}
	seen := map[string]bool{}
	for i, s := range raw.States {
		if s.Key == "" {
			return Template{}, fmt.Errorf("workflow template %q: state %d has no key", raw.ID, i)
		}
		if seen[s.Key] {
			return Template{}, fmt.Errorf("workflow template %q: duplicate state %q", raw.ID, s.Key)
		}
		seen[s.Key] = true
		label := s.Label
		if label == "" {
			label = s.Key
		}
		tmpl.States = append(tmpl.States, State{Key: s.Key, Label: label, Order: i})
	}
	if !seen[tmpl.TerminalState] {
		return Template{}, fmt.Errorf("workflow template %q: terminal state %q is not one of its states", raw.ID, raw.Terminal)
	}
	return tmpl, nil
}

func (r *Registry) Get(id string) (Template, bool) {
	tmpl, ok := r.templates[id]
	return tmpl, ok
}

// Resolve returns the template for id, falling back to the default for an
// empty id.
func (r *Registry) Resolve(id string) (Template, error) {
	if id == "" {
		id = r.defaultID
	}
	tmpl, ok := r.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("unknown workflow template %q", id)
	}
	return tmpl, nil
}

func (r *Registry) DefaultID() string {
	return r.defaultID
}
