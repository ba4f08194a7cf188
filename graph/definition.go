package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/rule"
)

// Definition describes the graph: processors, connections between them
// and shared states.
type Definition struct {
	Processors  Processors        `yaml:"processors"`
	Connections []string          `yaml:"connections,omitempty"`
	States      []AliasDefinition `yaml:"states,omitempty"`
}

// ProcessorDefinition describes a processor or a template of processors
// if name has identifiers, like "source(1-3)".
type ProcessorDefinition struct {
	Name     string    `yaml:"-"`
	Class    string    `yaml:"class"`
	Options  yaml.Node `yaml:"options,omitempty"`
	Advanced Advanced  `yaml:"advanced,omitempty"`
}

// Advanced are runtime settings of processor thread and ports.
type Advanced struct {
	// Priority is a real-time priority of processor thread. Zero keeps
	// default scheduling.
	Priority int `yaml:"priority,omitempty"`
	// Core pins processor thread to CPU core.
	Core *int `yaml:"core,omitempty"`
	// BufferSize overrides ring size of all output ports.
	BufferSize int `yaml:"buffer_size,omitempty"`
	// WaitStrategy overrides wait strategy of all output ports.
	WaitStrategy string `yaml:"wait_strategy,omitempty"`
}

// Processors is an ordered list of processor definitions. It's encoded
// as a mapping of names to definitions.
type Processors []ProcessorDefinition

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Processors) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: processors must be a mapping", ErrInvalidDefinition, value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var d ProcessorDefinition
		if err := value.Content[i+1].Decode(&d); err != nil {
			return fmt.Errorf("%w: processor %s: %v", ErrInvalidDefinition, value.Content[i].Value, err)
		}
		d.Name = value.Content[i].Value
		*p = append(*p, d)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Processors) MarshalYAML() (interface{}, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, d := range p {
		var v yaml.Node
		if err := v.Encode(d); err != nil {
			return nil, err
		}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: d.Name}, &v)
	}
	return m, nil
}

// AliasDefinition describes shared state. Bare list of "processor.state"
// references is accepted as well, alias is named after the state of the
// first reference.
type AliasDefinition struct {
	Name        string   `yaml:"name"`
	Permission  string   `yaml:"permission,omitempty"`
	Description string   `yaml:"description,omitempty"`
	States      []string `yaml:"states"`
}

type aliasDefinition AliasDefinition

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *AliasDefinition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var refs []string
		if err := value.Decode(&refs); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrInvalidDefinition, value.Line, err)
		}
		if len(refs) == 0 {
			return fmt.Errorf("%w: line %d: empty state list", ErrInvalidDefinition, value.Line)
		}
		first, err := rule.ParseStateRef(refs[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		*a = AliasDefinition{Name: first[0].State, States: refs}
		return nil
	}
	var d aliasDefinition
	if err := value.Decode(&d); err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrInvalidDefinition, value.Line, err)
	}
	*a = AliasDefinition(d)
	return nil
}

// ParseDefinition parses YAML document.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if len(d.Processors) == 0 {
		return nil, fmt.Errorf("%w: no processors", ErrInvalidDefinition)
	}
	return &d, nil
}

// LoadDefinition reads definition from file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(data)
}

// Marshal encodes definition into YAML document.
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
