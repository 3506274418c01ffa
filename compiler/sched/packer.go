package sched

import (
	"context"

	"github.com/google/btree"
	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/vliw/compiler/graph"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
)

type (
	Options struct {
		PhaseWidth int

		NoSplit     bool // don't split valu work into alu lanes
		NoImmediate bool // don't move constant additions to flow

		// Progress is called after every cycle.
		Progress func(cycle, left int)
	}

	// Packer is a greedy list scheduler.
	// Every cycle it fills each engine up to its limit with ready tasks.
	// It splits or rewrites tasks to use otherwise idle engines.
	Packer struct {
		g    *graph.Graph
		sp   *scratch.Space
		cfg  machine.Config
		opts Options
		ord  Order

		tr tlog.Span

		tasks   []*task
		incount []int

		// ready tasks whose threads are not admitted yet
		frontier heap.Heap[*task]

		// ready tasks of admitted threads, per engine
		free [machine.NumEngines]*btree.BTreeG[*task]

		// threads below next are admitted
		next int

		cycle int
		left  int

		stats Stats
	}

	task struct {
		Key

		idx   int
		in    ir.Instr
		after []int // task indexes

		claimed int // cycle+1 when issued
	}
)

var ErrStalled = errors.New("scheduler stalled")

func New(ctx context.Context, g *graph.Graph, sp *scratch.Space, cfg machine.Config, opts Options) *Packer {
	if opts.PhaseWidth == 0 {
		opts.PhaseWidth = DefaultPhaseWidth
	}

	p := &Packer{
		g:    g,
		sp:   sp,
		cfg:  cfg,
		opts: opts,
		ord: Order{
			Slots:      g.Slots,
			PhaseWidth: opts.PhaseWidth,
		},
		tr: tlog.SpanFromContext(ctx),
	}

	p.frontier = heap.Heap[*task]{Less: frontierLess}

	for e := range p.free {
		p.free[e] = btree.NewG[*task](16, p.less)
	}

	p.init()

	return p
}

func (p *Packer) init() {
	p.tasks = make([]*task, len(p.g.Nodes))
	p.incount = make([]int, len(p.g.Nodes))

	for i, n := range p.g.Nodes {
		p.tasks[i] = &task{
			Key: Key{
				TID:  n.TID,
				Pos:  n.Pos,
				ID:   n.ID,
				Part: -1,
				Op:   n.Instr.Op,
			},
			idx:   i,
			in:    n.Instr,
			after: p.g.After[i],
		}
	}

	for _, after := range p.g.After {
		for _, s := range after {
			p.incount[s]++
		}
	}

	// Nothing is admitted yet. The first HaveMore admits globals and the first batch.
	for i, t := range p.tasks {
		if p.incount[i] == 0 {
			p.frontier.Push(t)
		}
	}

	p.left = len(p.tasks)
}

// HaveMore reports whether there is more work.
// When no admitted work is left it admits the next batch of threads.
func (p *Packer) HaveMore() bool {
	for {
		if p.freeLen() != 0 {
			return true
		}

		if p.frontier.Len() == 0 {
			return false
		}

		p.next += p.g.Slots

		p.admit()
	}
}

// Take returns the next cycle of instructions.
func (p *Packer) Take() (c Cycle, err error) {
	var issued []*task

	for _, e := range machine.Engines {
		limit := p.cfg.Limit(e)

		issued, err = p.fill(&c, e, limit, issued)
		if err != nil {
			return c, err
		}

		idle := limit - len(c[e])
		if idle <= 0 {
			continue
		}

		var n int

		switch {
		case e == machine.ALU && !p.opts.NoSplit:
			n = p.splitVector(idle)
		case e == machine.Flow && !p.opts.NoImmediate:
			n = p.convertAdds(idle)
		}

		if n == 0 {
			continue
		}

		issued, err = p.fill(&c, e, limit, issued)
		if err != nil {
			return c, err
		}
	}

	for _, t := range issued {
		p.retire(t)
	}

	p.stats.add(&c)
	p.cycle++

	if p.tr.If("take") {
		p.tr.Printw("take", "cycle", p.cycle-1, "issued", len(issued), "next", p.next, "left", p.left, "counts", c.counts())
	}

	if p.opts.Progress != nil {
		p.opts.Progress(p.cycle, p.left)
	}

	return c, nil
}

// fill issues ready tasks of engine e until the engine is full.
func (p *Packer) fill(c *Cycle, e machine.Engine, limit int, issued []*task) (_ []*task, err error) {
	var pick []*task

	room := limit - len(c[e])

	p.free[e].Ascend(func(t *task) bool {
		if room == 0 {
			return false
		}

		if t.claimed != 0 {
			return true
		}

		pick = append(pick, t)
		room--

		return true
	})

	for _, t := range pick {
		r, err := t.in.Resolve(p.sp, p.slot(t))
		if err != nil {
			return issued, errors.Wrap(err, "task %v", t.Key)
		}

		t.claimed = p.cycle + 1

		c[e] = append(c[e], r)
		issued = append(issued, t)
	}

	return issued, nil
}

func (p *Packer) retire(t *task) {
	p.free[t.in.Engine].Delete(t)
	p.left--

	for _, s := range t.after {
		p.incount[s]--

		if p.incount[s] != 0 {
			continue
		}

		p.ready(p.tasks[s])
	}
}

func (p *Packer) ready(t *task) {
	if t.TID < p.next {
		p.free[t.in.Engine].ReplaceOrInsert(t)
		return
	}

	p.frontier.Push(t)
}

func (p *Packer) admit() {
	for p.frontier.Len() != 0 && p.frontier.Data[0].TID < p.next {
		t := p.frontier.Pop()

		p.free[t.in.Engine].ReplaceOrInsert(t)
	}
}

// spawn adds a task derived from t. It's not ready until its incount drops to zero.
func (p *Packer) spawn(t *task, part int, in ir.Instr, after []int, incount int) *task {
	n := &task{
		Key: Key{
			TID:  t.TID,
			Pos:  t.Pos,
			ID:   t.ID,
			Part: part,
			Op:   in.Op,
		},
		idx:   len(p.tasks),
		in:    in,
		after: after,
	}

	p.tasks = append(p.tasks, n)
	p.incount = append(p.incount, incount)
	p.left++

	if incount == 0 {
		p.free[in.Engine].ReplaceOrInsert(n)
	}

	return n
}

// replace removes ready task t which is substituted by parts tasks.
// Its successors now wait for every part.
func (p *Packer) replace(t *task, parts int) {
	p.free[t.in.Engine].Delete(t)
	p.left--

	for _, s := range t.after {
		p.incount[s] += parts - 1
	}
}

func (p *Packer) slot(t *task) int {
	return p.g.Slot(t.TID)
}

func (p *Packer) freeLen() (n int) {
	for _, f := range p.free {
		n += f.Len()
	}

	return n
}

func (p *Packer) less(a, b *task) bool {
	return p.ord.Less(a.Key, b.Key)
}

func frontierLess(d []*task, i, j int) bool {
	return d[i].TID < d[j].TID
}

// Next is the first thread id not admitted yet.
func (p *Packer) Next() int { return p.next }

// Left is the number of tasks not issued yet.
func (p *Packer) Left() int { return p.left }

func (p *Packer) Stats() Stats { return p.stats }

func (k Key) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)

	b = e.AppendKeyInt(b, "tid", k.TID)
	b = e.AppendKeyInt(b, "pos", k.Pos)
	b = e.AppendKeyInt(b, "id", k.ID)
	b = e.AppendKeyInt(b, "part", k.Part)

	return b
}
