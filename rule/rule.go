// Package rule implements connection rules: a compact notation which
// wires output slots of processors to input slots of others.
//
//	f:source(1-3).p:data = f:sink.p:in
//
// Every side addresses processor, port and slot. Parts without specifier
// take the next unused one in processor, port, slot order. Trailing
// integer or a parenthesized list of ranges expands a part into many
// addresses.
package rule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dudk/falcon/internal/name"
)

var (
	// ErrSyntax is returned when rule text can't be parsed.
	ErrSyntax = errors.New("syntax error")
	// ErrCountMismatch is returned when expanded sides can't be paired.
	ErrCountMismatch = errors.New("number of outputs and inputs does not match")
)

// NewSlot is a slot index requesting a new slot from the port.
const NewSlot = -1

// Specifier identifies part of a side.
type Specifier int

// Specifiers in the order they're consumed by parts without one.
const (
	Processor Specifier = iota
	Port
	Slot
)

func (s Specifier) String() string {
	switch s {
	case Processor:
		return "f"
	case Port:
		return "p"
	case Slot:
		return "s"
	}
	return fmt.Sprintf("Specifier(%d)", int(s))
}

// Part is a single part of a side. Nil IDs means part has no identifier.
type Part struct {
	Name string
	IDs  []int
}

// Side is one side of the rule.
type Side struct {
	Processor Part
	// Port is empty if not specified.
	Port Part
	// Slot has nil IDs if not specified.
	Slot Part
}

// Rule is a parsed, not expanded connection rule.
type Rule struct {
	Text string
	Out  Side
	In   Side
}

// SlotAddress is a concrete slot of a processor port. Empty port means
// the only port of the processor. NewSlot requests a new slot.
type SlotAddress struct {
	Processor string
	Port      string
	Slot      int
}

func (a SlotAddress) String() string {
	port := a.Port
	if port == "" {
		port = "<default>"
	}
	if a.Slot == NewSlot {
		return fmt.Sprintf("%s.%s", a.Processor, port)
	}
	return fmt.Sprintf("%s.%s.%d", a.Processor, port, a.Slot)
}

// Connection is an expanded pair of slot addresses.
type Connection struct {
	Out SlotAddress
	In  SlotAddress
}

func (c Connection) String() string {
	return fmt.Sprintf("%v=%v", c.Out, c.In)
}

var partRe = regexp.MustCompile(`^(?:([fpsFPS]):)?([A-Za-z][A-Za-z0-9_\- ]*?)?(\d+|\(.*\))?$`)

// Parse parses a single rule.
func Parse(text string) (Rule, error) {
	sides := strings.Split(text, "=")
	if len(sides) != 2 || strings.TrimSpace(sides[0]) == "" || strings.TrimSpace(sides[1]) == "" {
		return Rule{}, fmt.Errorf("%w: rule %q must have exactly two sides", ErrSyntax, text)
	}
	out, err := parseSide(sides[0])
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", text, err)
	}
	in, err := parseSide(sides[1])
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", text, err)
	}
	return Rule{Text: strings.TrimSpace(text), Out: out, In: in}, nil
}

// ParseAll parses a list of rules.
func ParseAll(texts []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(texts))
	for _, t := range texts {
		r, err := Parse(t)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseSide(text string) (Side, error) {
	text = strings.TrimSpace(text)
	parts := strings.Split(text, ".")
	if len(parts) > 3 {
		return Side{}, fmt.Errorf("%w: %q has more than 3 parts", ErrSyntax, text)
	}
	var (
		side Side
		used [3]bool
	)
	for _, p := range parts {
		spec, part, err := parsePart(p)
		if err != nil {
			return Side{}, err
		}
		if spec < 0 {
			for s := Processor; s <= Slot; s++ {
				if !used[s] {
					spec = s
					break
				}
			}
		}
		if used[spec] {
			return Side{}, fmt.Errorf("%w: %q has duplicate %v part", ErrSyntax, text, spec)
		}
		used[spec] = true
		switch spec {
		case Processor:
			if part.Name == "" {
				return Side{}, fmt.Errorf("%w: %q has no processor name", ErrSyntax, p)
			}
			side.Processor = part
		case Port:
			if part.Name == "" {
				return Side{}, fmt.Errorf("%w: %q has no port name", ErrSyntax, p)
			}
			part.Name = name.Normalize(part.Name)
			side.Port = part
		case Slot:
			if part.Name != "" {
				return Side{}, fmt.Errorf("%w: slot %q can't have name", ErrSyntax, p)
			}
			if part.IDs == nil {
				return Side{}, fmt.Errorf("%w: slot %q has no index", ErrSyntax, p)
			}
			side.Slot = part
		}
	}
	if !used[Processor] {
		return Side{}, fmt.Errorf("%w: %q has no processor part", ErrSyntax, text)
	}
	return side, nil
}

// parsePart returns -1 specifier if part has none.
func parsePart(text string) (Specifier, Part, error) {
	m := partRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil || (m[2] == "" && m[3] == "") {
		return 0, Part{}, fmt.Errorf("%w: invalid part %q", ErrSyntax, text)
	}
	spec := Specifier(-1)
	switch strings.ToLower(m[1]) {
	case "f":
		spec = Processor
	case "p":
		spec = Port
	case "s":
		spec = Slot
	}
	part := Part{Name: strings.TrimSpace(m[2])}
	if m[3] != "" {
		ids, err := parseIDs(m[3])
		if err != nil {
			return 0, Part{}, err
		}
		part.IDs = ids
	}
	return spec, part, nil
}

// parseIDs parses "3" or "(1-3,5,9-7)". Ranges are inclusive and may be
// descending.
func parseIDs(text string) ([]int, error) {
	if !strings.HasPrefix(text, "(") {
		id, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid identifier %q", ErrSyntax, text)
		}
		return []int{id}, nil
	}
	list := strings.TrimSuffix(strings.TrimPrefix(text, "("), ")")
	var ids []int
	for _, r := range strings.Split(list, ",") {
		r = strings.TrimSpace(r)
		bounds := strings.Split(r, "-")
		if len(bounds) > 2 {
			return nil, fmt.Errorf("%w: invalid range %q in %q", ErrSyntax, r, text)
		}
		lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid range %q in %q", ErrSyntax, r, text)
		}
		hi := lo
		if len(bounds) == 2 {
			if hi, err = strconv.Atoi(strings.TrimSpace(bounds[1])); err != nil {
				return nil, fmt.Errorf("%w: invalid range %q in %q", ErrSyntax, r, text)
			}
		}
		step := 1
		if hi < lo {
			step = -1
		}
		for id := lo; ; id += step {
			ids = append(ids, id)
			if id == hi {
				break
			}
		}
	}
	return ids, nil
}

// names expands part into concrete names.
func (p Part) names() []string {
	if p.IDs == nil {
		return []string{p.Name}
	}
	names := make([]string, 0, len(p.IDs))
	for _, id := range p.IDs {
		names = append(names, p.Name+strconv.Itoa(id))
	}
	return names
}

func (p Part) String() string {
	switch len(p.IDs) {
	case 0:
		return p.Name
	case 1:
		return p.Name + strconv.Itoa(p.IDs[0])
	}
	ids := make([]string, 0, len(p.IDs))
	for _, id := range p.IDs {
		ids = append(ids, strconv.Itoa(id))
	}
	return fmt.Sprintf("%s(%s)", p.Name, strings.Join(ids, ","))
}

// Expand returns all addresses of the side.
func (s Side) Expand() []SlotAddress {
	slots := []int{NewSlot}
	if s.Slot.IDs != nil {
		slots = s.Slot.IDs
	}
	ports := []string{""}
	if s.Port.Name != "" {
		ports = s.Port.names()
	}
	var addrs []SlotAddress
	for _, proc := range s.Processor.names() {
		for _, port := range ports {
			for _, slot := range slots {
				addrs = append(addrs, SlotAddress{Processor: proc, Port: port, Slot: slot})
			}
		}
	}
	return addrs
}

func (s Side) String() string {
	parts := []string{"f:" + s.Processor.String()}
	if s.Port.Name != "" {
		parts = append(parts, "p:"+s.Port.String())
	}
	if s.Slot.IDs != nil {
		parts = append(parts, "s:"+s.Slot.String())
	}
	return strings.Join(parts, ".")
}

// Expand pairs addresses of both sides. Single address on either side is
// connected to every address on the other one, otherwise sides are zipped.
func (r Rule) Expand() ([]Connection, error) {
	outs, ins := r.Out.Expand(), r.In.Expand()
	var conns []Connection
	switch {
	case len(outs) == 1:
		for _, in := range ins {
			conns = append(conns, Connection{Out: outs[0], In: in})
		}
	case len(ins) == 1:
		for _, out := range outs {
			conns = append(conns, Connection{Out: out, In: ins[0]})
		}
	case len(outs) == len(ins):
		for i := range outs {
			conns = append(conns, Connection{Out: outs[i], In: ins[i]})
		}
	default:
		return nil, fmt.Errorf("rule %q: %w: %d outputs, %d inputs", r.Text, ErrCountMismatch, len(outs), len(ins))
	}
	return conns, nil
}

func (r Rule) String() string {
	return r.Out.String() + "=" + r.In.String()
}

// ExpandName expands processor name template like "name", "name3" or
// "name(1,3-5)".
func ExpandName(text string) ([]string, error) {
	spec, part, err := parsePart(text)
	if err != nil {
		return nil, err
	}
	if spec >= 0 || part.Name == "" {
		return nil, fmt.Errorf("%w: invalid processor name %q", ErrSyntax, text)
	}
	return part.names(), nil
}

// StateRef references a shared state of a processor.
type StateRef struct {
	Processor string
	State     string
}

func (r StateRef) String() string {
	return r.Processor + "." + r.State
}

// ParseStateRef expands reference like "proc(1-2).gain".
func ParseStateRef(text string) ([]StateRef, error) {
	parts := strings.Split(strings.TrimSpace(text), ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: state reference %q must be processor.state", ErrSyntax, text)
	}
	procs, err := ExpandName(parts[0])
	if err != nil {
		return nil, fmt.Errorf("state reference %q: %w", text, err)
	}
	state, err := name.Validate(parts[1])
	if err != nil {
		return nil, fmt.Errorf("state reference %q: %w", text, err)
	}
	refs := make([]StateRef, 0, len(procs))
	for _, p := range procs {
		refs = append(refs, StateRef{Processor: p, State: state})
	}
	return refs, nil
}
