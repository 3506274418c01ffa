package main

import (
	"context"
	"os"

	"github.com/nikandfor/hacked/hfmt"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler"
	"github.com/slowlang/vliw/compiler/kernel"
	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/sched"
)

func main() {
	machineFlags := []*cli.Flag{
		cli.NewFlag("machine,m", "", "machine config yaml, defaults are used if empty"),
		cli.NewFlag("threads,t", 16, "number of threads"),
	}

	scheduleCmd := &cli.Command{
		Name:        "schedule",
		Description: "schedule kernel program and print cycles",
		Action:      scheduleAct,
		Args:        cli.Args{},
		Flags: append([]*cli.Flag{
			cli.NewFlag("slots,s", 0, "resident threads, 0 means as many as fit"),
			cli.NewFlag("serial", false, "one instruction per cycle in program order"),
			cli.NewFlag("no-split", false, "don't split vector ops into alu lanes"),
			cli.NewFlag("no-immediate", false, "don't move constant additions to flow"),
			cli.NewFlag("phase-width", sched.DefaultPhaseWidth, "instructions per thread phase in the issue order"),
			cli.NewFlag("quiet,q", false, "print stats only"),
		}, machineFlags...),
	}

	slotsCmd := &cli.Command{
		Name:        "slots",
		Description: "find max number of resident threads",
		Action:      slotsAct,
		Args:        cli.Args{},
		Flags:       machineFlags,
	}

	scratchCmd := &cli.Command{
		Name:        "scratch",
		Description: "print scratch layout",
		Action:      scratchAct,
		Args:        cli.Args{},
		Flags: append([]*cli.Flag{
			cli.NewFlag("slots,s", 0, "resident threads, 0 means as many as fit"),
		}, machineFlags...),
	}

	app := &cli.Command{
		Name:        "vliw",
		Description: "vliw schedules kernel programs for a many engine vector machine",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics (take, split, convert, dump_graph)"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			scheduleCmd,
			slotsCmd,
			scratchCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	if v := c.String("verbosity"); v != "" {
		tlog.SetVerbosity(v)
	}

	return nil
}

func scheduleAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := loadMachine(c)
	if err != nil {
		return err
	}

	opts := compiler.Options{
		Machine: cfg,
		Threads: c.Int("threads"),
		Slots:   c.Int("slots"),
		Serial:  c.Bool("serial"),
		Sched: sched.Options{
			PhaseWidth:  c.Int("phase-width"),
			NoSplit:     c.Bool("no-split"),
			NoImmediate: c.Bool("no-immediate"),
		},
	}

	var b []byte

	for _, a := range c.Args {
		var bar *progressbar.ProgressBar

		if term.IsTerminal(int(os.Stderr.Fd())) {
			bar = progressbar.Default(-1, a)

			opts.Sched.Progress = func(cycle, left int) {
				_ = bar.Add(1)
			}
		}

		res, err := compiler.CompileFile(ctx, a, opts)

		if bar != nil {
			_ = bar.Close()
		}

		if err != nil {
			return errors.Wrap(err, "schedule %v", a)
		}

		b = b[:0]

		if !c.Bool("quiet") {
			for i := range res.Cycles {
				b = hfmt.Appendf(b, "cycle %d\n", i)
				b = res.Cycles[i].AppendText(b)
			}

			b = append(b, '\n')
		}

		b = hfmt.Appendf(b, "%v: threads %d  slots %d  nodes %d  edges %d\n", a, res.Threads, res.Slots, len(res.Graph.Nodes), res.Graph.Edges())
		b = res.Stats.AppendText(b, cfg)

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func slotsAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := loadMachine(c)
	if err != nil {
		return err
	}

	threads := c.Int("threads")

	var b []byte

	for _, a := range c.Args {
		prog, err := kernel.Load(a)
		if err != nil {
			return err
		}

		slots, err := kernel.MaxSlots(ctx, prog, cfg, threads)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		_, sp, err := kernel.Lower(ctx, prog, cfg, threads, slots)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		b = hfmt.Appendf(b[:0], "%v: slots %d of %d threads  per thread %d  globals %d  free %d\n",
			a, slots, threads, sp.PerThread(), sp.Globals(), sp.Free())

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func scratchAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := loadMachine(c)
	if err != nil {
		return err
	}

	threads := c.Int("threads")

	var b []byte

	for _, a := range c.Args {
		prog, err := kernel.Load(a)
		if err != nil {
			return err
		}

		slots := min(c.Int("slots"), threads)

		if slots <= 0 {
			slots, err = kernel.MaxSlots(ctx, prog, cfg, threads)
			if err != nil {
				return errors.Wrap(err, "%v", a)
			}
		}

		_, sp, err := kernel.Lower(ctx, prog, cfg, threads, slots)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		b = hfmt.Appendf(b[:0], "%v: slots %d\n", a, slots)
		b = sp.AppendText(b)

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func loadMachine(c *cli.Command) (machine.Config, error) {
	name := c.String("machine")
	if name == "" {
		return machine.Default(), nil
	}

	cfg, err := machine.LoadFile(name)
	if err != nil {
		return cfg, errors.Wrap(err, "load machine")
	}

	return cfg, nil
}
