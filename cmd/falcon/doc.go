package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/log"
	"github.com/dudk/falcon/processors"
)

type docCommand struct {
	class string
	path  string
}

func (cmd *docCommand) Name() string {
	return "doc"
}

func (cmd *docCommand) Help() string {
	return "Show documentation of processor class"
}

func (cmd *docCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.class, "class", "", "processor class (required)")
	fs.StringVar(&cmd.path, "docs", graph.DefaultDocumentationPath, "directory with documentation files")
}

func (cmd *docCommand) Run(out io.Writer) error {
	if cmd.class == "" {
		return errors.New("missing -class required flag")
	}
	g, err := graph.New(processors.NewRegistry(),
		graph.WithLogger(log.Silent()),
		graph.WithDocumentationPath(cmd.path),
	)
	if err != nil {
		return err
	}
	defer g.Close()
	doc, err := g.Documentation(cmd.class)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, doc)
	return nil
}
