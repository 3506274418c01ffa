package sched

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
)

type (
	// Cycle is one instruction bundle: per engine instructions issued together.
	Cycle [machine.NumEngines][]ir.Resolved

	Stats struct {
		Cycles   int
		Issued   int
		Splits   int
		Converts int

		// Hist[e][n] is the number of cycles engine e issued n instructions.
		Hist [machine.NumEngines]map[int]int
	}
)

// Run drains the packer.
func Run(ctx context.Context, p *Packer) (cs []Cycle, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "schedule", "nodes", len(p.g.Nodes), "threads", p.g.Threads, "slots", p.g.Slots)
	defer tr.Finish("err", &err)

	for p.HaveMore() {
		c, err := p.Take()
		if err != nil {
			return cs, errors.Wrap(err, "cycle %d", len(cs))
		}

		cs = append(cs, c)
	}

	if p.left != 0 {
		return cs, errors.Wrap(ErrStalled, "%d tasks left", p.left)
	}

	tr.Printw("scheduled", "cycles", len(cs), "issued", p.stats.Issued, "splits", p.stats.Splits, "converts", p.stats.Converts)

	return cs, nil
}

func (c *Cycle) Len() (n int) {
	for _, x := range c {
		n += len(x)
	}

	return n
}

// Map returns the cycle keyed by engine name. Empty engines are omitted.
func (c *Cycle) Map() map[string][]ir.Resolved {
	m := make(map[string][]ir.Resolved)

	for e, x := range c {
		if len(x) == 0 {
			continue
		}

		m[machine.Engine(e).String()] = x
	}

	return m
}

func (c *Cycle) counts() (r [machine.NumEngines]int) {
	for e, x := range c {
		r[e] = len(x)
	}

	return r
}

func (c *Cycle) AppendText(b []byte) []byte {
	for _, e := range machine.Engines {
		for _, r := range c[e] {
			b = hfmt.Appendf(b, "\t%-5v %-12v", e, r.Op)

			for i, a := range r.Args {
				if i != 0 {
					b = append(b, ',')
				}

				b = hfmt.Appendf(b, " %d", a)
			}

			b = append(b, '\n')
		}
	}

	return b
}

func (s *Stats) add(c *Cycle) {
	s.Cycles++

	for e, x := range c {
		if s.Hist[e] == nil {
			s.Hist[e] = make(map[int]int)
		}

		s.Hist[e][len(x)]++
		s.Issued += len(x)
	}
}

// Utilization is the share of engine e slots used over all cycles.
func (s Stats) Utilization(e machine.Engine, cfg machine.Config) float64 {
	if s.Cycles == 0 {
		return 0
	}

	var used int

	for n, cnt := range s.Hist[e] {
		used += n * cnt
	}

	return float64(used) / float64(s.Cycles*cfg.Limit(e))
}

func (s Stats) AppendText(b []byte, cfg machine.Config) []byte {
	b = hfmt.Appendf(b, "cycles %d  issued %d  splits %d  converts %d\n", s.Cycles, s.Issued, s.Splits, s.Converts)

	for _, e := range machine.Engines {
		b = hfmt.Appendf(b, "%-5v %5.1f%%:", e, 100*s.Utilization(e, cfg))

		for n := 0; n <= cfg.Limit(e); n++ {
			if cnt := s.Hist[e][n]; cnt != 0 {
				b = hfmt.Appendf(b, " %d->%d", n, cnt)
			}
		}

		b = append(b, '\n')
	}

	return b
}
