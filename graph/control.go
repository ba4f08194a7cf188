package graph

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/internal/state"
	"github.com/dudk/falcon/rule"
	"github.com/dudk/falcon/shared"
)

// PortInfo describes a port of processor.
type PortInfo struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Slots int    `yaml:"slots"`
}

// StateInfo describes a state of processor or shared state.
type StateInfo struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	Value       string            `yaml:"value"`
	Permission  shared.Permission `yaml:"-"`
	Shared      bool              `yaml:"shared,omitempty"`
	Members     []string          `yaml:"members,omitempty"`
	Description string            `yaml:"description,omitempty"`
}

// ProcessorInfo describes processor of the graph.
type ProcessorInfo struct {
	Name    string      `yaml:"name"`
	Class   string      `yaml:"class"`
	Inputs  []PortInfo  `yaml:"inputs,omitempty"`
	Outputs []PortInfo  `yaml:"outputs,omitempty"`
	States  []StateInfo `yaml:"states,omitempty"`
}

// Processors returns description of all processors.
func (g *Graph) Processors() []ProcessorInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	infos := make([]ProcessorInfo, 0, len(g.nodes))
	for _, n := range g.nodes {
		info := ProcessorInfo{Name: n.name, Class: n.class}
		for _, p := range n.inputs {
			info.Inputs = append(info.Inputs, PortInfo{Name: p.Name(), Type: p.DataType().String(), Slots: p.NumSlots()})
		}
		for _, p := range n.outputs {
			info.Outputs = append(info.Outputs, PortInfo{Name: p.Name(), Type: p.DataType().String(), Slots: p.NumSlots()})
		}
		for _, s := range n.states {
			info.States = append(info.States, stateInfo(s.Name(), s))
		}
		infos = append(infos, info)
	}
	return infos
}

// Connections returns established connections.
func (g *Graph) Connections() []rule.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conns := make([]rule.Connection, len(g.connections))
	copy(conns, g.connections)
	return conns
}

// Aliases returns description of shared states.
func (g *Graph) Aliases() []StateInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	infos := make([]StateInfo, 0, len(g.aliases))
	for _, a := range g.aliases {
		s := a.State()
		if s == nil {
			continue
		}
		info := stateInfo(a.Name(), s)
		info.Members = a.Members()
		if d := a.Description(); d != "" {
			info.Description = d
		}
		infos = append(infos, info)
	}
	return infos
}

func stateInfo(stateName string, s shared.State) StateInfo {
	return StateInfo{
		Name:        stateName,
		Kind:        s.Kind(),
		Value:       s.Text(),
		Permission:  s.ExternalPermission(),
		Shared:      s.Shared(),
		Description: s.Description(),
	}
}

// Definition returns definition of the built graph.
func (g *Graph) Definition() (*Definition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.def == nil {
		return nil, fmt.Errorf("%w: graph is not built", ErrInvalidState)
	}
	return g.def, nil
}

// Export encodes definition of the built graph.
func (g *Graph) Export() ([]byte, error) {
	def, err := g.Definition()
	if err != nil {
		return nil, err
	}
	return def.Marshal()
}

// Update sets values of states. Document is a mapping of state
// references ("processor.state" or shared state name) to values. Nothing
// is set if any state can't be written.
func (g *Graph) Update(doc []byte) error {
	var values yaml.Node
	if err := yaml.Unmarshal(doc, &values); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	m := document(&values)
	if m == nil || m.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: update document must be a mapping", ErrInvalidDefinition)
	}
	return g.exec(func() error {
		type update struct {
			state shared.State
			value string
		}
		updates := make([]update, 0, len(m.Content)/2)
		for i := 0; i+1 < len(m.Content); i += 2 {
			ref, v := m.Content[i].Value, m.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("%w: %s: value must be a scalar", ErrInvalidDefinition, ref)
			}
			s, err := g.lookupState(ref)
			if err != nil {
				return err
			}
			if s.ExternalPermission() < shared.Write {
				return fmt.Errorf("%w: %s is %v", shared.ErrPermission, ref, s.ExternalPermission())
			}
			if err := s.ValidateText(v.Value); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, ref, err)
			}
			updates = append(updates, update{state: s, value: v.Value})
		}
		for _, u := range updates {
			if err := u.state.SetText(u.value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Retrieve returns values of states. Document is a list of state
// references, result is a mapping of references to values.
func (g *Graph) Retrieve(doc []byte) ([]byte, error) {
	var refs []string
	if err := yaml.Unmarshal(doc, &refs); err != nil {
		var ref string
		if yaml.Unmarshal(doc, &ref) != nil || ref == "" {
			return nil, fmt.Errorf("%w: retrieve document must be a list: %v", ErrInvalidDefinition, err)
		}
		refs = []string{ref}
	}
	result := &yaml.Node{Kind: yaml.MappingNode}
	err := g.exec(func() error {
		for _, ref := range refs {
			s, err := g.lookupState(ref)
			if err != nil {
				return err
			}
			if s.ExternalPermission() < shared.Read {
				return fmt.Errorf("%w: %s is %v", shared.ErrPermission, ref, s.ExternalPermission())
			}
			result.Content = append(result.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: ref},
				&yaml.Node{Kind: yaml.ScalarNode, Value: s.Text()},
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(result)
}

// Apply invokes methods of processors. Document is a mapping of
// processor names to mappings of method names to arguments. Result has
// the same shape with method results.
func (g *Graph) Apply(doc []byte) ([]byte, error) {
	var calls yaml.Node
	if err := yaml.Unmarshal(doc, &calls); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	m := document(&calls)
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: apply document must be a mapping", ErrInvalidDefinition)
	}
	result := make(map[string]map[string]interface{})
	err := g.exec(func() error {
		for i := 0; i+1 < len(m.Content); i += 2 {
			names, err := rule.ExpandName(m.Content[i].Value)
			if err != nil {
				return err
			}
			methods := m.Content[i+1]
			if methods.Kind != yaml.MappingNode {
				return fmt.Errorf("%w: %s: methods must be a mapping", ErrInvalidDefinition, m.Content[i].Value)
			}
			for _, procName := range names {
				n, ok := g.index[procName]
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnknownProcessor, procName)
				}
				for j := 0; j+1 < len(methods.Content); j += 2 {
					method := methods.Content[j].Value
					fn, ok := n.methods[method]
					if !ok {
						return fmt.Errorf("%w: %s.%s", ErrUnknownMethod, procName, method)
					}
					v, err := fn(methods.Content[j+1])
					if err != nil {
						return fmt.Errorf("processor %s method %s: %w", procName, method, err)
					}
					if result[procName] == nil {
						result[procName] = make(map[string]interface{})
					}
					result[procName][method] = v
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(result)
}

// Documentation returns documentation of processor class.
// ErrNoDocumentation is returned if there is none.
func (g *Graph) Documentation(class string) (string, error) {
	path := filepath.Join(g.docPath, strings.ToLower(class)+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoDocumentation, class)
		}
		return "", err
	}
	return string(data), nil
}

// exec runs fn in lifecycle loop while graph is built.
func (g *Graph) exec(fn func() error) error {
	return g.handle.Send(state.Exec{
		Fn: func(state.Status) error {
			g.mu.RLock()
			defer g.mu.RUnlock()
			return fn()
		},
		Feedback: make(state.Feedback),
	})
}

// lookupState resolves "processor.state" reference or shared state name.
// Member of shared state resolves to the shared value.
func (g *Graph) lookupState(ref string) (shared.State, error) {
	if !strings.Contains(ref, ".") {
		for _, a := range g.aliases {
			if a.Name() == ref {
				if s := a.State(); s != nil {
					return s, nil
				}
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, ref)
	}
	refs, err := rule.ParseStateRef(ref)
	if err != nil {
		return nil, err
	}
	if len(refs) != 1 {
		return nil, fmt.Errorf("%w: %s references %d states", ErrUnknownState, ref, len(refs))
	}
	return g.state(refs[0])
}

// document returns content of document node.
func document(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		return n.Content[0]
	}
	return n
}
