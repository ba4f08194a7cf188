package graph

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/dudk/falcon/internal/name"
	"github.com/dudk/falcon/ring"
	"github.com/dudk/falcon/rule"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/stream"
)

// build constructs the graph. It's called by lifecycle loop, partially
// built graph is destroyed by the loop if error is returned.
func (g *Graph) build(v interface{}) error {
	def, ok := v.(*Definition)
	if !ok || def == nil {
		return fmt.Errorf("%w: %T", ErrInvalidDefinition, v)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.def = def

	for _, pd := range def.Processors {
		if err := g.instantiate(pd); err != nil {
			return err
		}
	}
	rules, err := rule.ParseAll(def.Connections)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := g.connect(r); err != nil {
			return err
		}
	}
	for _, ad := range def.States {
		if err := g.link(ad); err != nil {
			return err
		}
	}
	if err := g.negotiate(); err != nil {
		return err
	}
	for _, n := range g.nodes {
		for _, p := range n.outputs {
			if err := p.Allocate(); err != nil {
				return fmt.Errorf("processor %s: %w", n.name, err)
			}
		}
	}
	g.log.WithField("processors", len(g.nodes)).
		WithField("connections", len(g.connections)).
		Debug("graph is built")
	return nil
}

// instantiate creates all processors of the definition entry.
func (g *Graph) instantiate(pd ProcessorDefinition) error {
	names, err := rule.ExpandName(pd.Name)
	if err != nil {
		return fmt.Errorf("%w: processor %q: %v", ErrInvalidDefinition, pd.Name, err)
	}
	bufferSize := pd.Advanced.BufferSize
	if bufferSize == 0 {
		bufferSize = g.bufferSize
	}
	waitStrategy := pd.Advanced.WaitStrategy
	if waitStrategy == "" {
		waitStrategy = g.waitStrategy
	}
	if _, err := ring.ParseWaitStrategy(waitStrategy); err != nil {
		return fmt.Errorf("processor %s: %w", pd.Name, err)
	}
	for _, procName := range names {
		if _, ok := g.index[procName]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateProcessor, procName)
		}
		p, err := g.registry.New(pd.Class)
		if err != nil {
			return fmt.Errorf("processor %s: %w", procName, err)
		}
		if c, ok := p.(Configurer); ok {
			if err := c.Configure(&pd.Options); err != nil {
				return fmt.Errorf("configure processor %s: %w", procName, err)
			}
		}
		n := newNode(procName, pd.Class, p, pd.Advanced, g.log)
		if err := p.CreatePorts(n); err != nil {
			return fmt.Errorf("create ports of processor %s: %w", procName, err)
		}
		for _, out := range n.outputs {
			if bufferSize > 0 {
				out.SetBufferSize(bufferSize)
			}
			if waitStrategy != "" {
				out.SetWaitStrategy(waitStrategy)
			}
		}
		g.nodes = append(g.nodes, n)
		g.index[procName] = n
	}
	return nil
}

// connect establishes all connections of the rule.
func (g *Graph) connect(r rule.Rule) error {
	conns, err := r.Expand()
	if err != nil {
		return fmt.Errorf("connection %q: %w", r.Text, err)
	}
	for _, c := range conns {
		established, err := g.connectSlots(c)
		if err != nil {
			return &ConnectionError{Rule: r.Text, Out: c.Out, In: c.In, Err: err}
		}
		g.connections = append(g.connections, established)
	}
	return nil
}

// connectSlots reserves slots on both sides and binds them. Established
// connection with resolved ports and slots is returned.
func (g *Graph) connectSlots(c rule.Connection) (rule.Connection, error) {
	src, ok := g.index[c.Out.Processor]
	if !ok {
		return rule.Connection{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, c.Out.Processor)
	}
	dst, ok := g.index[c.In.Processor]
	if !ok {
		return rule.Connection{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, c.In.Processor)
	}
	out, err := src.outputPort(c.Out.Port)
	if err != nil {
		return rule.Connection{}, err
	}
	in, err := dst.inputPort(c.In.Port)
	if err != nil {
		return rule.Connection{}, err
	}
	if err := in.VerifyCompatibility(out); err != nil {
		return rule.Connection{}, err
	}
	outSlot, err := out.ReserveSlot(c.Out.Slot)
	if err != nil {
		return rule.Connection{}, fmt.Errorf("processor %s: %w", src.name, err)
	}
	inSlot, err := in.ReserveSlot(c.In.Slot)
	if err != nil {
		return rule.Connection{}, fmt.Errorf("processor %s: %w", dst.name, err)
	}
	if err := in.Connect(inSlot, out.OutputSlot(outSlot)); err != nil {
		return rule.Connection{}, fmt.Errorf("processor %s: %w", dst.name, err)
	}
	return rule.Connection{
		Out: rule.SlotAddress{Processor: src.name, Port: out.Name(), Slot: outSlot},
		In:  rule.SlotAddress{Processor: dst.name, Port: in.Name(), Slot: inSlot},
	}, nil
}

// link creates shared state alias.
func (g *Graph) link(ad AliasDefinition) error {
	aliasName, err := name.Validate(ad.Name)
	if err != nil {
		return fmt.Errorf("%w: state %q: %v", ErrInvalidDefinition, ad.Name, err)
	}
	for _, a := range g.aliases {
		if a.Name() == aliasName {
			return fmt.Errorf("%w: state %s", ErrDuplicateState, aliasName)
		}
	}
	perm, err := shared.ParsePermission(ad.Permission)
	if err != nil {
		return fmt.Errorf("state %s: %w", aliasName, err)
	}
	a := shared.NewAlias(aliasName, perm, ad.Description)
	// registered before members are added, so destroy unshares them.
	g.aliases = append(g.aliases, a)
	for _, text := range ad.States {
		refs, err := rule.ParseStateRef(text)
		if err != nil {
			return fmt.Errorf("state %s: %w", aliasName, err)
		}
		for _, ref := range refs {
			s, err := g.state(ref)
			if err != nil {
				return fmt.Errorf("state %s: %w", aliasName, err)
			}
			if err := a.AddState(ref.String(), s); err != nil {
				return err
			}
		}
	}
	return nil
}

// negotiate validates input streams and finalizes output streams. A
// processor is negotiated once all its upstream streams are finalized.
func (g *Graph) negotiate() error {
	pending := make([]*Node, len(g.nodes))
	copy(pending, g.nodes)
	for len(pending) > 0 {
		var blocked []*Node
		for _, n := range pending {
			if !n.upstreamFinalized() {
				blocked = append(blocked, n)
				continue
			}
			if err := negotiateNode(n); err != nil {
				return err
			}
		}
		if len(blocked) == len(pending) {
			names := make([]string, 0, len(blocked))
			for _, n := range blocked {
				names = append(names, n.name)
			}
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(names, ", "))
		}
		pending = blocked
	}
	return nil
}

func negotiateNode(n *Node) error {
	for _, in := range n.inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("processor %s: %w", n.name, err)
		}
	}
	for _, out := range n.outputs {
		out.Pad()
	}
	if c, ok := n.processor.(StreamCompleter); ok {
		if err := c.CompleteStreamInfo(n); err != nil {
			return fmt.Errorf("complete streams of processor %s: %w", n.name, err)
		}
	} else {
		completeStreamInfo(n)
	}
	for _, out := range n.outputs {
		if err := out.Finalize(); err != nil {
			return fmt.Errorf("processor %s: %w", n.name, err)
		}
	}
	for _, in := range n.inputs {
		if err := in.Finalize(); err != nil {
			return fmt.Errorf("processor %s: %w", n.name, err)
		}
	}
	return nil
}

// completeStreamInfo sets default parameters and rate of the first
// connected input to every output stream.
func completeStreamInfo(n *Node) {
	var rate float64
	if in := n.firstConnected(); in != nil {
		rate = in.StreamInfo().Rate()
	}
	for _, out := range n.outputs {
		for i := 0; i < out.NumSlots(); i++ {
			info := out.OutputSlot(i).StreamInfo()
			if info.Finalized() {
				continue
			}
			info.SetParameters(out.DefaultParameters())
			info.SetRate(rate)
		}
	}
}

// prepare calls one-time preparation of every processor.
func (g *Graph) prepare() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if p, ok := n.processor.(Preparer); ok {
			if err := p.Prepare(n); err != nil {
				return fmt.Errorf("prepare processor %s: %w", n.name, err)
			}
		}
		n.prepared = true
	}
	return nil
}

// destroy unprepares processors in reverse order and releases the whole
// graph. Graph is released even if unprepare fails.
func (g *Graph) destroy() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if !n.prepared {
			continue
		}
		n.prepared = false
		p, ok := n.processor.(Unpreparer)
		if !ok {
			continue
		}
		if e := p.Unprepare(n); e != nil {
			n.log.WithError(e).Warn("unprepare failed")
			err = multierr.Append(err, fmt.Errorf("unprepare processor %s: %w", n.name, e))
		}
	}
	for _, a := range g.aliases {
		a.RemoveAllStates()
	}
	for _, n := range g.nodes {
		g.metric.Remove(n.name)
	}
	g.aliases = nil
	g.connections = nil
	g.nodes = nil
	g.index = make(map[string]*Node)
	g.def = nil
	g.log.Debug("graph is destroyed")
	return err
}

// state resolves processor state reference.
func (g *Graph) state(ref rule.StateRef) (shared.State, error) {
	n, ok := g.index[ref.Processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, ref.Processor)
	}
	s, ok := n.State(ref.State)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, ref)
	}
	return s, nil
}

// firstConnected returns the first connected input slot of the node.
func (n *Node) firstConnected() stream.InputSlot {
	for _, p := range n.inputs {
		for i := 0; i < p.NumSlots(); i++ {
			if s := p.InputSlot(i); s.Connected() {
				return s
			}
		}
	}
	return nil
}
