package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/graph"
	"github.com/slowlang/vliw/compiler/kernel"
	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
	"github.com/slowlang/vliw/compiler/sched"
)

type (
	Options struct {
		Machine machine.Config // zero value means machine.Default()

		Threads int
		Slots   int // resident threads; 0 means as many as fit

		// Serial issues one instruction per cycle in program order.
		Serial bool

		Sched sched.Options
	}

	Result struct {
		Cycles []sched.Cycle

		Threads int
		Slots   int

		Space *scratch.Space
		Graph *graph.Graph
		Stats sched.Stats
	}
)

func CompileFile(ctx context.Context, name string, opts Options) (*Result, error) {
	prog, err := kernel.Load(name)
	if err != nil {
		return nil, errors.Wrap(err, "load program")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "name", name, "global", len(prog.Global), "thread", len(prog.Thread))

	return Compile(ctx, prog, opts)
}

func Compile(ctx context.Context, prog *kernel.Program, opts Options) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "threads", opts.Threads, "slots", opts.Slots)
	defer tr.Finish("err", &err)

	cfg := opts.Machine
	if cfg == (machine.Config{}) {
		cfg = machine.Default()
	}

	err = cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "machine")
	}

	threads := opts.Threads
	if threads <= 0 {
		return nil, errors.Wrap(graph.ErrNoThreads, "threads %d", threads)
	}

	slots := min(opts.Slots, threads)

	if slots <= 0 {
		slots, err = kernel.MaxSlots(ctx, prog, cfg, threads)
		if err != nil {
			return nil, errors.Wrap(err, "max slots")
		}
	}

	b, sp, err := kernel.Lower(ctx, prog, cfg, threads, slots)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	var g *graph.Graph

	if opts.Serial {
		g, err = b.BuildSerial(ctx, threads, slots)
	} else {
		g, err = b.Build(ctx, threads, slots)
	}
	if err != nil {
		return nil, errors.Wrap(err, "build graph")
	}

	p := sched.New(ctx, g, sp, cfg, opts.Sched)

	cycles, err := sched.Run(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "schedule")
	}

	tr.Printw("compiled", "cycles", len(cycles), "slots", slots, "nodes", len(g.Nodes))

	return &Result{
		Cycles:  cycles,
		Threads: threads,
		Slots:   slots,
		Space:   sp,
		Graph:   g,
		Stats:   p.Stats(),
	}, nil
}
