package model

import (
	"fmt"
	"os"

	"github.com/goliatone/go-pvm"
	"gopkg.in/yaml.v3"
)

// DefinitionConfig is the serialized form of a process definition.
type DefinitionConfig struct {
	Key        string              `json:"key" yaml:"key"`
	Name       string              `json:"name,omitempty" yaml:"name,omitempty"`
	Version    int                 `json:"version,omitempty" yaml:"version,omitempty"`
	Initial    string              `json:"initial" yaml:"initial"`
	Listeners  map[string][]string `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	Activities []ActivityConfig    `json:"activities" yaml:"activities"`
}

// ActivityConfig describes one activity.
type ActivityConfig struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name,omitempty" yaml:"name,omitempty"`
	Kind        string              `json:"kind,omitempty" yaml:"kind,omitempty"`
	Scope       bool                `json:"scope,omitempty" yaml:"scope,omitempty"`
	AsyncBefore bool                `json:"async_before,omitempty" yaml:"async_before,omitempty"`
	Listeners   map[string][]string `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	Transitions []TransitionConfig  `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// TransitionConfig describes one outgoing transition.
type TransitionConfig struct {
	ID        string              `json:"id,omitempty" yaml:"id,omitempty"`
	To        string              `json:"to" yaml:"to"`
	Listeners map[string][]string `json:"listeners,omitempty" yaml:"listeners,omitempty"`
}

// ParseDefinition parses YAML (or JSON) into a validated definition. Listener
// references resolve against registry and are attached as custom listeners.
func ParseDefinition(data []byte, registry *ListenerRegistry) (*ProcessDefinition, error) {
	var cfg DefinitionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pvm.CloneError(pvm.ErrDefinitionInvalid, "parse definition: "+err.Error(), err, nil)
	}
	return Build(cfg, registry)
}

// LoadDefinition reads and parses a definition file.
func LoadDefinition(path string, registry *ListenerRegistry) (*ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition %s: %w", path, err)
	}
	return ParseDefinition(data, registry)
}

// Build turns a config into a validated definition.
func Build(cfg DefinitionConfig, registry *ListenerRegistry) (*ProcessDefinition, error) {
	def := NewDefinition(cfg.Key)
	def.Name = cfg.Name
	def.Version = cfg.Version
	def.Initial = cfg.Initial

	if err := attachListeners(def, cfg.Listeners, registry); err != nil {
		return nil, err
	}
	for _, ac := range cfg.Activities {
		a := NewActivity(ac.ID, ParseKind(ac.Kind))
		a.Name = ac.Name
		a.Scope = ac.Scope
		a.AsyncBefore = ac.AsyncBefore
		if err := def.AddActivity(a); err != nil {
			return nil, err
		}
		if err := attachListeners(a, ac.Listeners, registry); err != nil {
			return nil, err
		}
	}
	// transitions are wired once every activity exists so forward references work
	for _, ac := range cfg.Activities {
		for _, tc := range ac.Transitions {
			t, err := def.Connect(tc.ID, ac.ID, tc.To)
			if err != nil {
				return nil, err
			}
			if err := attachListeners(t, tc.Listeners, registry); err != nil {
				return nil, err
			}
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func attachListeners(scope ListenerScope, refs map[string][]string, registry *ListenerRegistry) error {
	for event, ids := range refs {
		for _, id := range ids {
			listener, ok := registry.Lookup(id)
			if !ok {
				return invalid("unknown listener "+id, map[string]any{
					"scope": scope.ID(),
					"event": event,
				})
			}
			scope.AddCustom(event, listener)
		}
	}
	return nil
}
