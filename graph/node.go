package graph

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dudk/falcon/internal/name"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/stream"
)

// MethodFunc is a processor method invoked by control plane.
type MethodFunc func(args *yaml.Node) (interface{}, error)

// Node is a processor instance within the graph. It owns processor ports
// and states.
type Node struct {
	name      string
	class     string
	processor Processor
	advanced  Advanced
	log       logrus.FieldLogger

	inputs  []stream.InputPort
	outputs []stream.OutputPort
	states  []shared.State
	methods map[string]MethodFunc

	prepared bool
}

func newNode(name, class string, p Processor, adv Advanced, l logrus.FieldLogger) *Node {
	return &Node{
		name:      name,
		class:     class,
		processor: p,
		advanced:  adv,
		log:       l.WithField("processor", name),
		methods:   make(map[string]MethodFunc),
	}
}

// Name returns processor name.
func (n *Node) Name() string {
	return n.name
}

// Class returns processor class.
func (n *Node) Class() string {
	return n.class
}

// Processor returns processor of the node.
func (n *Node) Processor() Processor {
	return n.processor
}

// Logger returns processor logger.
func (n *Node) Logger() logrus.FieldLogger {
	return n.log
}

// AddInputPort adds input port to the processor.
func (n *Node) AddInputPort(p stream.InputPort) error {
	if err := n.checkPortName(p.Name()); err != nil {
		return err
	}
	n.inputs = append(n.inputs, p)
	return nil
}

// AddOutputPort adds output port to the processor.
func (n *Node) AddOutputPort(p stream.OutputPort) error {
	if err := n.checkPortName(p.Name()); err != nil {
		return err
	}
	n.outputs = append(n.outputs, p)
	return nil
}

func (n *Node) checkPortName(portName string) error {
	if _, err := stream.ValidateName(portName); err != nil {
		return fmt.Errorf("processor %s: %w", n.name, err)
	}
	if _, ok := n.Input(portName); ok {
		return fmt.Errorf("processor %s: %w: %s", n.name, ErrDuplicatePort, portName)
	}
	if _, ok := n.Output(portName); ok {
		return fmt.Errorf("processor %s: %w: %s", n.name, ErrDuplicatePort, portName)
	}
	return nil
}

// AddState adds state to the processor.
func (n *Node) AddState(s shared.State) error {
	if _, err := name.Validate(s.Name()); err != nil {
		return fmt.Errorf("processor %s state: %w", n.name, err)
	}
	if _, ok := n.State(s.Name()); ok {
		return fmt.Errorf("processor %s: %w: %s", n.name, ErrDuplicateState, s.Name())
	}
	n.states = append(n.states, s)
	return nil
}

// AddMethod adds method which can be applied by control plane.
func (n *Node) AddMethod(method string, fn MethodFunc) error {
	if _, ok := n.methods[method]; ok {
		return fmt.Errorf("processor %s: duplicate method %s", n.name, method)
	}
	n.methods[method] = fn
	return nil
}

// Input returns input port by name.
func (n *Node) Input(portName string) (stream.InputPort, bool) {
	for _, p := range n.inputs {
		if p.Name() == portName {
			return p, true
		}
	}
	return nil, false
}

// Output returns output port by name.
func (n *Node) Output(portName string) (stream.OutputPort, bool) {
	for _, p := range n.outputs {
		if p.Name() == portName {
			return p, true
		}
	}
	return nil, false
}

// Inputs returns input ports in the order they were added.
func (n *Node) Inputs() []stream.InputPort {
	return n.inputs
}

// Outputs returns output ports in the order they were added.
func (n *Node) Outputs() []stream.OutputPort {
	return n.outputs
}

// State returns state by name.
func (n *Node) State(stateName string) (shared.State, bool) {
	for _, s := range n.states {
		if s.Name() == stateName {
			return s, true
		}
	}
	return nil, false
}

// States returns states in the order they were added.
func (n *Node) States() []shared.State {
	return n.states
}

// inputPort resolves port name, empty name means the only input port.
func (n *Node) inputPort(portName string) (stream.InputPort, error) {
	if portName == "" {
		if len(n.inputs) != 1 {
			return nil, fmt.Errorf("processor %s: %w: %d input ports", n.name, ErrAmbiguousPort, len(n.inputs))
		}
		return n.inputs[0], nil
	}
	if p, ok := n.Input(portName); ok {
		return p, nil
	}
	return nil, fmt.Errorf("processor %s: %w: input %s", n.name, ErrUnknownPort, portName)
}

// outputPort resolves port name, empty name means the only output port.
func (n *Node) outputPort(portName string) (stream.OutputPort, error) {
	if portName == "" {
		if len(n.outputs) != 1 {
			return nil, fmt.Errorf("processor %s: %w: %d output ports", n.name, ErrAmbiguousPort, len(n.outputs))
		}
		return n.outputs[0], nil
	}
	if p, ok := n.Output(portName); ok {
		return p, nil
	}
	return nil, fmt.Errorf("processor %s: %w: output %s", n.name, ErrUnknownPort, portName)
}

// upstreamFinalized reports if every input slot has finalized upstream.
func (n *Node) upstreamFinalized() bool {
	for _, p := range n.inputs {
		for i := 0; i < p.NumSlots(); i++ {
			s := p.InputSlot(i)
			if s.Connected() && !s.StreamInfo().Finalized() {
				return false
			}
		}
	}
	return true
}

// payloads returns number of payloads published by the processor in the
// current run. Sinks report retrieved payloads.
func (n *Node) payloads() int64 {
	var total int64
	for _, p := range n.outputs {
		for i := 0; i < p.NumSlots(); i++ {
			total += p.OutputSlot(i).Published()
		}
	}
	if len(n.outputs) > 0 {
		return total
	}
	for _, p := range n.inputs {
		for i := 0; i < p.NumSlots(); i++ {
			total += p.InputSlot(i).Retrieved()
		}
	}
	return total
}

// rate returns stream rate of the first output slot or of the first
// input slot for sinks.
func (n *Node) rate() float64 {
	for _, p := range n.outputs {
		if p.NumSlots() > 0 {
			return p.OutputSlot(0).StreamInfo().Rate()
		}
	}
	for _, p := range n.inputs {
		if p.NumSlots() > 0 && p.InputSlot(0).Connected() {
			return p.InputSlot(0).StreamInfo().Rate()
		}
	}
	return 0
}

// CreateOutputPort creates typed output port and adds it to the node.
func CreateOutputPort[T stream.Data](n *Node, portName string, newData func() T, caps stream.Capabilities, defaults stream.Parameters, policy stream.OutputPolicy) (*stream.PortOut[T], error) {
	p := stream.NewPortOut(portName, newData, caps, defaults, policy)
	if err := n.AddOutputPort(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateInputPort creates typed input port and adds it to the node.
func CreateInputPort[T stream.Data](n *Node, portName string, caps stream.Capabilities, policy stream.InputPolicy) (*stream.PortIn[T], error) {
	p := stream.NewPortIn[T](portName, caps, policy)
	if err := n.AddInputPort(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateState creates state cell and adds it to the node.
func CreateState[T shared.Value](n *Node, stateName string, v T, perm shared.Permissions, desc string) (*shared.Cell[T], error) {
	c := shared.NewCell(name.Normalize(stateName), v, perm, desc)
	if err := n.AddState(c); err != nil {
		return nil, err
	}
	return c, nil
}
