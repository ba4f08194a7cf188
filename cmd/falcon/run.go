package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/log"
	"github.com/dudk/falcon/processors"
	"github.com/dudk/falcon/stream"
)

type runCommand struct {
	definition  string
	duration    time.Duration
	destination string
	group       string
	bufferSize  int
	wait        string
}

func (cmd *runCommand) Name() string {
	return "run"
}

func (cmd *runCommand) Help() string {
	return "Build graph from definition file and run it"
}

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.definition, "graph", "", "graph definition file (required)")
	fs.DurationVar(&cmd.duration, "duration", 0, "stop processing after duration, zero runs until interrupted or end of stream")
	fs.StringVar(&cmd.destination, "out", ".", "destination directory for recordings")
	fs.StringVar(&cmd.group, "group", "", "name of the runs group")
	fs.IntVar(&cmd.bufferSize, "buffer", stream.DefaultBufferSize, "default ring size of output ports")
	fs.StringVar(&cmd.wait, "wait", "", "default wait strategy: blocking, busyspin or sleep")
}

func (cmd *runCommand) Run(out io.Writer) error {
	if cmd.definition == "" {
		return errors.New("missing -graph required flag")
	}
	def, err := graph.LoadDefinition(cmd.definition)
	if err != nil {
		return err
	}
	l := log.GetLogger()
	g, err := graph.New(processors.NewRegistry(),
		graph.WithLogger(l),
		graph.WithBufferSize(cmd.bufferSize),
		graph.WithWaitStrategy(cmd.wait),
	)
	if err != nil {
		return err
	}
	defer g.Close()

	if err := g.Build(def); err != nil {
		return err
	}
	if err := g.Start(graph.RunOptions{
		Group:       cmd.group,
		Destination: cmd.destination,
		Timeout:     cmd.duration,
	}); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()
	select {
	case err = <-done:
	case s := <-interrupt:
		l.WithField("signal", s.String()).Info("interrupted")
		err = g.Stop()
		<-done
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Processed %s\n", cmd.definition)
	return nil
}
