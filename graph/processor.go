package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Processor is a stage of the graph. Every processor runs in its own
// thread.
type Processor interface {
	// CreatePorts adds ports and states to the node.
	CreatePorts(n *Node) error
	// Process is called in a loop until graph is stopped.
	Process(ctx *ProcessingContext) error
}

// Following interfaces are optional hooks bound by assertion.
type (
	// Configurer is configured from options document before ports are
	// created.
	Configurer interface {
		Configure(options *yaml.Node) error
	}

	// StreamCompleter sets parameters and rates of output streams. It's
	// called when all input streams are finalized and validated.
	StreamCompleter interface {
		CompleteStreamInfo(n *Node) error
	}

	// Preparer is prepared once after graph is built.
	Preparer interface {
		Prepare(n *Node) error
	}

	// Unpreparer releases what was acquired by Prepare.
	Unpreparer interface {
		Unprepare(n *Node) error
	}

	// Preprocessor is called in processor thread before the main loop.
	// Long preprocessing should return once run is stopped, see
	// RunContext.Stopped.
	Preprocessor interface {
		Preprocess(ctx *ProcessingContext) error
	}

	// Postprocessor is called in processor thread after the main loop.
	Postprocessor interface {
		Postprocess(ctx *ProcessingContext) error
	}

	// Alerter is called when graph is stopped. It must wake processor if
	// it waits for anything except ports.
	Alerter interface {
		Alert()
	}
)

// Factory creates a new processor instance.
type Factory func() Processor

// Registry holds processor classes.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]Factory)}
}

// Register adds processor class. It panics if class is already
// registered.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(class)
	if _, ok := r.classes[key]; ok {
		panic(fmt.Sprintf("graph: class %s is already registered", class))
	}
	r.classes[key] = f
}

// New creates processor of the class.
func (r *Registry) New(class string) (Processor, error) {
	r.mu.RLock()
	f, ok := r.classes[strings.ToLower(class)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return f(), nil
}

// Classes returns registered classes in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, 0, len(r.classes))
	for c := range r.classes {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// DecodeOptions decodes options document into v. Nil or empty document
// leaves v untouched.
func DecodeOptions(options *yaml.Node, v interface{}) error {
	if options == nil || options.Kind == 0 {
		return nil
	}
	if err := options.Decode(v); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
