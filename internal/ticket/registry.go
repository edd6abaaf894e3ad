package ticket

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownType is returned when a ticket type name is not registered.
var ErrUnknownType = errors.New("unknown ticket type")

// Registry maps ticket type names to types. It is populated during startup
// and read-only afterwards.
type Registry struct {
	types map[string]*Type
}

// NewRegistry returns a registry holding the built-in types.
//
// Postcondition: Lookup succeeds for every built-in type name.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]*Type)}
	for _, t := range []*Type{Start, Dragon, PlayerLoading, PlayerSimulation, Forced, Portal, EnderPearl, PostTeleport, Unknown} {
		r.types[t.Name] = t
	}
	return r
}

// Register adds t.
//
// Precondition: t.Name must be non-empty and not yet registered.
func (r *Registry) Register(t *Type) error {
	if t == nil || t.Name == "" {
		return errors.New("ticket type name must not be empty")
	}
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("ticket type %q already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// Lookup returns the type registered under name, or ErrUnknownType.
func (r *Registry) Lookup(name string) (*Type, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// All returns every registered type sorted by name.
func (r *Registry) All() []*Type {
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// yamlTypesFile is the top-level YAML structure of a ticket type file.
type yamlTypesFile struct {
	Types []yamlType `yaml:"types"`
}

type yamlType struct {
	Name    string `yaml:"name"`
	Timeout int64  `yaml:"timeout"`
	Persist bool   `yaml:"persist"`
	Use     string `yaml:"use"`
}

// LoadTypesFromFile reads custom ticket types from a YAML file.
//
// Precondition: path must point to a YAML file with a top-level "types" list.
// Postcondition: Returns the parsed types or a non-nil error.
func LoadTypesFromFile(path string) ([]*Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ticket types %s: %w", path, err)
	}
	return LoadTypesFromBytes(data)
}

// LoadTypesFromBytes parses custom ticket types from YAML bytes.
func LoadTypesFromBytes(data []byte) ([]*Type, error) {
	var file yamlTypesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing ticket types YAML: %w", err)
	}
	out := make([]*Type, 0, len(file.Types))
	for i, yt := range file.Types {
		if yt.Name == "" {
			return nil, fmt.Errorf("ticket type %d: name must not be empty", i)
		}
		use := LoadingAndSimulation
		if yt.Use != "" {
			u, err := ParseUse(yt.Use)
			if err != nil {
				return nil, fmt.Errorf("ticket type %q: %w", yt.Name, err)
			}
			use = u
		}
		out = append(out, &Type{Name: yt.Name, Timeout: yt.Timeout, Persist: yt.Persist, Use: use})
	}
	return out, nil
}

// LoadInto parses the YAML file at path and registers every type in r.
func (r *Registry) LoadInto(path string) error {
	types, err := LoadTypesFromFile(path)
	if err != nil {
		return err
	}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("registering ticket types from %s: %w", path, err)
		}
	}
	return nil
}
