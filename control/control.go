// Package control executes text commands against a graph. Every command
// is a keyword followed by arguments, every reply starts with a status
// word.
package control

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/rule"
	"github.com/dudk/falcon/shared"
	"github.com/dudk/falcon/stream"
)

// Status of the reply.
type Status string

// Reply statuses.
const (
	OK      Status = "OK"
	Warning Status = "WARNING"
	Error   Status = "ERROR"
)

// ErrorType tags warnings and errors.
type ErrorType string

// Error types.
const (
	StateError      ErrorType = "StateError"
	ConfigError     ErrorType = "ConfigError"
	PermissionError ErrorType = "PermissionError"
	CommandError    ErrorType = "CommandError"
	RuntimeError    ErrorType = "RuntimeError"
)

// ErrUnknownCommand is returned for unknown keywords.
var ErrUnknownCommand = errors.New("unknown command")

// Reply is a result of command.
type Reply struct {
	Status  Status
	Type    ErrorType
	Message string
	Lines   []string
}

// WriteTo writes status line, payload lines and an empty terminator
// line.
func (r Reply) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString(string(r.Status))
	if r.Status != OK {
		fmt.Fprintf(&b, " %s: %s", r.Type, r.Message)
	}
	b.WriteByte('\n')
	for _, l := range r.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func ok(lines ...string) Reply {
	return Reply{Status: OK, Lines: lines}
}

// Dispatcher executes commands against the graph.
type Dispatcher struct {
	graph *graph.Graph
	log   logrus.FieldLogger
}

// NewDispatcher returns dispatcher of the graph.
func NewDispatcher(g *graph.Graph, l logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{graph: g, log: l}
}

type handler func(d *Dispatcher, args string) (Reply, error)

// commands and their default error type.
var commands = map[string]struct {
	fn      handler
	errType ErrorType
}{
	"build":             {(*Dispatcher).build, ConfigError},
	"destroy":           {(*Dispatcher).destroy, RuntimeError},
	"start":             {(*Dispatcher).start, RuntimeError},
	"test":              {(*Dispatcher).test, RuntimeError},
	"stop":              {(*Dispatcher).stop, RuntimeError},
	"state":             {(*Dispatcher).state, RuntimeError},
	"update":            {(*Dispatcher).update, ConfigError},
	"retrieve":          {(*Dispatcher).retrieve, ConfigError},
	"apply":             {(*Dispatcher).apply, RuntimeError},
	"documentation":     {(*Dispatcher).documentation, ConfigError},
	"fulldocumentation": {(*Dispatcher).fullDocumentation, ConfigError},
	"yaml":              {(*Dispatcher).export, ConfigError},
}

// Execute executes a single command line.
func (d *Dispatcher) Execute(line string) Reply {
	keyword, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	keyword = strings.ToLower(keyword)
	cmd, found := commands[keyword]
	if !found {
		return Reply{Status: Error, Type: CommandError, Message: fmt.Sprintf("%v: %q", ErrUnknownCommand, keyword)}
	}
	r, err := cmd.fn(d, strings.TrimSpace(args))
	if err != nil {
		r = failure(err, cmd.errType)
		d.log.WithField("command", keyword).WithField("status", r.Status).WithError(err).Warn("command failed")
		return r
	}
	d.log.WithField("command", keyword).Debug("command executed")
	return r
}

// failure classifies error. Rejected commands without any effect are
// warnings.
func failure(err error, errType ErrorType) Reply {
	r := Reply{Status: Error, Type: errType, Message: err.Error()}
	var connErr *graph.ConnectionError
	switch {
	case errors.Is(err, graph.ErrInvalidState), errors.Is(err, graph.ErrClosed):
		r.Status, r.Type = Warning, StateError
	case errors.Is(err, shared.ErrPermission):
		r.Status, r.Type = Warning, PermissionError
	case errors.Is(err, shared.ErrIncompatible):
		r.Type = PermissionError
	case errors.Is(err, graph.ErrNoDocumentation):
		r.Status = Warning
	case errors.As(err, &connErr),
		errors.Is(err, rule.ErrSyntax),
		errors.Is(err, graph.ErrInvalidDefinition),
		errors.Is(err, stream.ErrInvalidName):
		r.Type = ConfigError
	case errors.Is(err, errArguments):
		r.Type = CommandError
	}
	return r
}

var errArguments = errors.New("invalid arguments")

// document returns file content if args is a path of existing file,
// otherwise args is a document itself.
func document(args string) ([]byte, error) {
	if args == "" {
		return nil, fmt.Errorf("%w: document is required", errArguments)
	}
	if fi, err := os.Stat(args); err == nil && !fi.IsDir() {
		return os.ReadFile(args)
	}
	return []byte(args), nil
}

func (d *Dispatcher) build(args string) (Reply, error) {
	doc, err := document(args)
	if err != nil {
		return Reply{}, err
	}
	def, err := graph.ParseDefinition(doc)
	if err != nil {
		return Reply{}, err
	}
	if err := d.graph.Build(def); err != nil {
		return Reply{}, err
	}
	return ok(), nil
}

func (d *Dispatcher) destroy(string) (Reply, error) {
	return ok(), d.graph.Destroy()
}

func (d *Dispatcher) start(args string) (Reply, error) {
	return d.run(args, false)
}

func (d *Dispatcher) test(args string) (Reply, error) {
	return d.run(args, true)
}

// run starts processing with optional group, destination and source.
func (d *Dispatcher) run(args string, test bool) (Reply, error) {
	fields := strings.Fields(args)
	if len(fields) > 3 {
		return Reply{}, fmt.Errorf("%w: expected [group] [destination] [source]", errArguments)
	}
	fields = append(fields, "", "", "")
	opts := graph.RunOptions{
		Group:       fields[0],
		Destination: fields[1],
		Source:      fields[2],
		Test:        test,
	}
	if err := d.graph.Start(opts); err != nil {
		return Reply{}, err
	}
	return ok(), nil
}

func (d *Dispatcher) stop(string) (Reply, error) {
	return ok(), d.graph.Stop()
}

// state replies with status and the error of the last run.
func (d *Dispatcher) state(string) (Reply, error) {
	r := ok(d.graph.Status().String())
	if err := d.graph.LastError(); err != nil {
		r.Lines = append(r.Lines, "last run: "+err.Error())
	}
	return r, nil
}

func (d *Dispatcher) update(args string) (Reply, error) {
	doc, err := document(args)
	if err != nil {
		return Reply{}, err
	}
	return ok(), d.graph.Update(doc)
}

func (d *Dispatcher) retrieve(args string) (Reply, error) {
	doc, err := document(args)
	if err != nil {
		return Reply{}, err
	}
	out, err := d.graph.Retrieve(doc)
	if err != nil {
		return Reply{}, err
	}
	return ok(lines(out)...), nil
}

func (d *Dispatcher) apply(args string) (Reply, error) {
	doc, err := document(args)
	if err != nil {
		return Reply{}, err
	}
	out, err := d.graph.Apply(doc)
	if err != nil {
		return Reply{}, err
	}
	return ok(lines(out)...), nil
}

// documentation replies with documentation of class or with the list of
// classes if class is omitted.
func (d *Dispatcher) documentation(class string) (Reply, error) {
	if class == "" {
		return ok(d.graph.Registry().Classes()...), nil
	}
	doc, err := d.graph.Documentation(class)
	if err != nil {
		return Reply{}, err
	}
	return ok(lines([]byte(doc))...), nil
}

// fullDocumentation replies with documentation of every class. Missing
// documentation is reported as warning.
func (d *Dispatcher) fullDocumentation(string) (Reply, error) {
	var (
		result  []string
		missing []string
	)
	for _, class := range d.graph.Registry().Classes() {
		doc, err := d.graph.Documentation(class)
		if err != nil {
			if !errors.Is(err, graph.ErrNoDocumentation) {
				return Reply{}, err
			}
			missing = append(missing, class)
			continue
		}
		result = append(result, lines([]byte(doc))...)
	}
	if len(missing) > 0 {
		return Reply{
			Status:  Warning,
			Type:    ConfigError,
			Message: fmt.Sprintf("%v: %s", graph.ErrNoDocumentation, strings.Join(missing, ", ")),
			Lines:   result,
		}, nil
	}
	return ok(result...), nil
}

func (d *Dispatcher) export(string) (Reply, error) {
	out, err := d.graph.Export()
	if err != nil {
		return Reply{}, err
	}
	return ok(lines(out)...), nil
}

// lines splits text into lines. Empty lines are dropped, they terminate
// replies.
func lines(text []byte) []string {
	var result []string
	for _, l := range strings.Split(string(text), "\n") {
		if strings.TrimSpace(l) != "" {
			result = append(result, l)
		}
	}
	return result
}
