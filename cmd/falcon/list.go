package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/dudk/falcon/processors"
)

type listCommand struct{}

func (cmd *listCommand) Name() string {
	return "list"
}

func (cmd *listCommand) Help() string {
	return "Show the list of available processor classes"
}

func (cmd *listCommand) Register(*flag.FlagSet) {}

func (cmd *listCommand) Run(out io.Writer) error {
	for _, class := range processors.NewRegistry().Classes() {
		fmt.Fprintln(out, class)
	}
	return nil
}
