package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dudk/falcon/control"
	"github.com/dudk/falcon/graph"
	"github.com/dudk/falcon/log"
	"github.com/dudk/falcon/metric"
	"github.com/dudk/falcon/processors"
)

type serveCommand struct {
	addr        string
	metricsAddr string
	docs        string
	definition  string
}

func (cmd *serveCommand) Name() string {
	return "serve"
}

func (cmd *serveCommand) Help() string {
	return "Serve control commands over TCP"
}

func (cmd *serveCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.addr, "addr", "127.0.0.1:4800", "control server address")
	fs.StringVar(&cmd.metricsAddr, "metrics", "", "address of prometheus metrics endpoint, empty disables it")
	fs.StringVar(&cmd.docs, "docs", graph.DefaultDocumentationPath, "directory with documentation files")
	fs.StringVar(&cmd.definition, "graph", "", "graph definition file to build on start")
}

func (cmd *serveCommand) Run(out io.Writer) error {
	l := log.GetLogger()
	m := metric.New()
	g, err := graph.New(processors.NewRegistry(),
		graph.WithLogger(l),
		graph.WithMetric(m),
		graph.WithDocumentationPath(cmd.docs),
	)
	if err != nil {
		return err
	}
	defer g.Close()

	if cmd.definition != "" {
		def, err := graph.LoadDefinition(cmd.definition)
		if err != nil {
			return err
		}
		if err := g.Build(def); err != nil {
			return err
		}
	}

	s, err := control.Listen(cmd.addr, control.NewDispatcher(g, l), l)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Listening on %s\n", s.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(s.Serve)
	eg.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})

	if cmd.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metric.NewCollector(m),
			collectors.NewGoCollector(),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cmd.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}
	return eg.Wait()
}
