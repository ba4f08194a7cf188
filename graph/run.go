package graph

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// start launches a worker per processor. It returns when every processor
// is past preprocessing, then all processors are released at once. If
// cancelc is closed before that, the run is stopped and processors are
// not released.
func (g *Graph) start(v interface{}, cancelc <-chan struct{}) ([]<-chan error, error) {
	opts, _ := v.(RunOptions)
	rc := newRunContext(opts)
	g.run = rc
	l := g.log.WithField("run", rc.ID())
	go func() {
		select {
		case <-cancelc:
			l.Info("start is cancelled")
			g.stopRun(rc)
		case <-rc.stopc:
		}
	}()

	g.mu.RLock()
	nodes := g.nodes
	g.mu.RUnlock()
	for _, n := range nodes {
		for _, p := range n.outputs {
			p.PrepareProcessing()
		}
		for _, p := range n.inputs {
			p.PrepareProcessing()
		}
	}

	var rendezvous errgroup.Group
	errcList := make([]<-chan error, 0, len(nodes))
	for _, n := range nodes {
		ready := make(chan error, 1)
		// processing and postprocessing errors.
		errc := make(chan error, 2)
		ctx := &ProcessingContext{
			run:  rc,
			node: n,
			log:  n.log.WithField("run", rc.ID()),
		}
		go g.work(ctx, ready, errc)
		rendezvous.Go(func() error {
			return <-ready
		})
		errcList = append(errcList, errc)
	}
	if err := rendezvous.Wait(); err != nil {
		g.stopRun(rc)
		for _, errc := range errcList {
			for range errc {
			}
		}
		l.WithError(err).Error("processing is not started")
		return nil, err
	}
	if rc.Terminated() {
		l.Info("processing is cancelled before start")
		return errcList, nil
	}
	close(rc.gostart)
	l.WithField("group", opts.Group).Info("processing started")
	return errcList, nil
}

// work is a processor thread.
func (g *Graph) work(ctx *ProcessingContext, ready chan<- error, errc chan<- error) {
	defer close(errc)
	n := ctx.node
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := applyThreadPolicy(n.advanced); err != nil {
		ctx.log.WithError(err).Warn("thread policy is not applied")
	}

	if p, ok := n.processor.(Preprocessor); ok {
		if err := protect(n, "preprocess", func() error { return p.Preprocess(ctx) }); err != nil {
			ctx.run.addError(err)
			ctx.log.WithError(err).Error("preprocess failed")
			ready <- err
			return
		}
	}
	ready <- nil

	select {
	case <-ctx.run.gostart:
		if err := g.process(ctx); err != nil {
			errc <- err
		}
	case <-ctx.run.stopc:
	}

	if p, ok := n.processor.(Postprocessor); ok {
		if err := protect(n, "postprocess", func() error { return p.Postprocess(ctx) }); err != nil {
			ctx.run.addError(err)
			ctx.log.WithError(err).Error("postprocess failed")
			errc <- err
		}
	}
}

// process calls processor until run is terminated or error occurs.
func (g *Graph) process(ctx *ProcessingContext) error {
	n := ctx.node
	measure := g.metric.Meter(n.name, n.rate())()
	for !ctx.Terminated() {
		if err := protect(n, "process", func() error { return n.processor.Process(ctx) }); err != nil {
			ctx.run.addError(err)
			if errors.Is(err, ErrEndOfStream) {
				ctx.log.Debug("end of stream")
			} else {
				ctx.log.WithError(err).Error("process failed")
			}
			return err
		}
		measure(n.payloads())
	}
	return nil
}

// stop terminates the current run and wakes every processor.
func (g *Graph) stop() {
	if g.run != nil {
		g.stopRun(g.run)
	}
}

func (g *Graph) stopRun(rc *RunContext) {
	if !rc.terminate() {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		for _, p := range n.outputs {
			p.Alert()
		}
		if a, ok := n.processor.(Alerter); ok {
			a.Alert()
		}
	}
	g.log.WithField("run", rc.ID()).Info("processing stopped")
}

// protect calls fn and converts panic into error.
func protect(n *Node, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor %s: %w in %s: %v", n.name, ErrPanic, stage, r)
		}
	}()
	if err = fn(); err != nil {
		return fmt.Errorf("processor %s: %s: %w", n.name, stage, err)
	}
	return nil
}
