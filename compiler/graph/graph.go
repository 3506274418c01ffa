package graph

import (
	"context"
	"slices"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
	"github.com/slowlang/vliw/compiler/set"
)

type (
	// Node is one instruction in program order.
	Node struct {
		ID  int
		TID int
		Pos int // in its own thread stream

		// Threads the template applies to. nil means all of them.
		Threads *set.Bitmap

		Instr ir.Instr
	}

	// Graph is the expanded program with hazard edges.
	// After[id] lists nodes that can't issue before node id has issued.
	Graph struct {
		Nodes []Node
		After [][]int

		Threads int
		Slots   int
	}

	Builder struct {
		sp  *scratch.Space
		cfg machine.Config

		globals   []Node
		templates []template

		tidVar string
	}

	template struct {
		Node

		lastOnly bool
	}

	access struct {
		ir.Range
		write bool
	}
)

// Node.TID values which are not thread ids.
const (
	Global   = -1
	Template = -2
)

var ErrNoThreads = errors.New("no threads")

func NewBuilder(sp *scratch.Space, cfg machine.Config) *Builder {
	return &Builder{
		sp:  sp,
		cfg: cfg,
	}
}

// SetThreadIndex makes every thread stream start by loading its thread id into name.
func (b *Builder) SetThreadIndex(name string) error {
	v, err := b.sp.Var(name)
	if err != nil {
		return errors.Wrap(err, "thread index")
	}

	if v.Vector {
		return errors.Wrap(ir.ErrShape, "thread index %v is a vector", name)
	}

	b.tidVar = name

	return nil
}

// Add appends a global instruction or a per-thread template.
// threads limits the template to the given thread ids, nil means all.
func (b *Builder) Add(global bool, in ir.Instr, threads *set.Bitmap) error {
	err := in.Validate(b.cfg.VLen)
	if err != nil {
		return err
	}

	err = in.Check(b.sp)
	if err != nil {
		return err
	}

	b.add(global, in, threads, false)

	return nil
}

// AddPause adds a barrier. It has no cross-thread synchronization semantics.
// A per-thread pause is not cloned into every thread, it is issued once, by the last thread.
func (b *Builder) AddPause(global bool) error {
	b.add(global, ir.New(machine.Flow, ir.Pause), nil, !global)

	return nil
}

func (b *Builder) add(global bool, in ir.Instr, threads *set.Bitmap, lastOnly bool) {
	if global {
		b.globals = append(b.globals, Node{
			TID:   Global,
			Pos:   len(b.globals),
			Instr: in,
		})

		return
	}

	b.templates = append(b.templates, template{
		Node: Node{
			TID:     Template,
			Pos:     -1,
			Threads: threads,
			Instr:   in,
		},
		lastOnly: lastOnly,
	})
}

func (b *Builder) Len() (globals, templates int) {
	return len(b.globals), len(b.templates)
}

// Expand clones templates for each thread.
// Globals come first, then every thread's stream in thread order.
func (b *Builder) Expand(threads int) []Node {
	nodes := make([]Node, 0, len(b.globals)+threads*(len(b.templates)+1))

	nodes = append(nodes, b.globals...)

	for tid := 0; tid < threads; tid++ {
		pos := 0

		if b.tidVar != "" {
			nodes = append(nodes, Node{
				TID:   tid,
				Pos:   pos,
				Instr: ir.New(machine.Load, ir.ConstOp, ir.W(b.tidVar), ir.Imm(tid)),
			})

			pos++
		}

		for _, t := range b.templates {
			if t.lastOnly && tid != threads-1 {
				continue
			}

			if t.Threads != nil && !t.Threads.IsSet(tid) {
				continue
			}

			n := t.Node
			n.TID = tid
			n.Pos = pos
			pos++

			nodes = append(nodes, n)
		}
	}

	for i := range nodes {
		nodes[i].ID = i
	}

	return nodes
}

// Build expands the program for threads and computes hazard edges
// given slots threads are resident at once.
func (b *Builder) Build(ctx context.Context, threads, slots int) (g *Graph, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "build graph", "threads", threads, "slots", slots)
	defer tr.Finish("err", &err)

	if threads <= 0 || slots <= 0 {
		return nil, errors.Wrap(ErrNoThreads, "threads %d, slots %d", threads, slots)
	}

	nodes := b.Expand(threads)

	after, err := b.hazards(nodes, slots)
	if err != nil {
		return nil, errors.Wrap(err, "hazards")
	}

	g = &Graph{
		Nodes:   nodes,
		After:   after,
		Threads: threads,
		Slots:   slots,
	}

	tr.Printw("graph", "nodes", len(nodes), "edges", g.Edges())

	if tr.If("dump_graph") {
		for _, n := range nodes {
			tr.Printw("node", "id", n.ID, "tid", n.TID, "pos", n.Pos, "instr", n.Instr.String(), "after", g.After[n.ID])
		}
	}

	return g, nil
}

// BuildSerial chains every node to the next one.
// The result issues one instruction per cycle and is useful as a baseline.
func (b *Builder) BuildSerial(ctx context.Context, threads, slots int) (*Graph, error) {
	if threads <= 0 || slots <= 0 {
		return nil, errors.Wrap(ErrNoThreads, "threads %d, slots %d", threads, slots)
	}

	nodes := b.Expand(threads)
	after := make([][]int, len(nodes))

	for i := range nodes {
		if i+1 < len(nodes) {
			after[i] = []int{i + 1}
		}
	}

	return &Graph{
		Nodes:   nodes,
		After:   after,
		Threads: threads,
		Slots:   slots,
	}, nil
}

// hazards runs two scans over nodes.
// The forward scan links the last writer of each address to every later access.
// The reverse scan links every access to the next writer of the address.
// Edges always point forward in program order, so the graph is acyclic.
// Unknown memory accesses are not tracked: threads don't communicate through memory.
func (b *Builder) hazards(nodes []Node, slots int) ([][]int, error) {
	acc := make([][]access, len(nodes))

	for i, n := range nodes {
		slot := 0
		if n.TID >= 0 {
			slot = n.TID % slots
		}

		for _, x := range n.Instr.Accesses() {
			r, ok, err := ir.Span(x, b.sp, slot, b.cfg.VLen)
			if err != nil {
				return nil, errors.Wrap(err, "node %d", i)
			}

			if !ok {
				continue
			}

			acc[i] = append(acc[i], access{Range: r, write: ir.IsWrite(x)})
		}
	}

	after := make([][]int, len(nodes))
	writer := make([]int, b.sp.Size())
	seen := make([]int, len(nodes))

	reset := func() {
		for i := range writer {
			writer[i] = -1
		}

		for i := range seen {
			seen[i] = -1
		}
	}

	scan := func(i int, link func(w int)) {
		for _, a := range acc[i] {
			for loc := a.Lo; loc <= a.Hi; loc++ {
				w := writer[loc]
				if w < 0 || seen[w] == i {
					continue
				}

				seen[w] = i

				link(w)
			}
		}

		for _, a := range acc[i] {
			if !a.write {
				continue
			}

			for loc := a.Lo; loc <= a.Hi; loc++ {
				writer[loc] = i
			}
		}
	}

	reset()

	for i := range nodes {
		scan(i, func(w int) {
			after[w] = append(after[w], i)
		})
	}

	reset()

	for i := len(nodes) - 1; i >= 0; i-- {
		scan(i, func(w int) {
			after[i] = append(after[i], w)
		})
	}

	for i, a := range after {
		slices.Sort(a)
		after[i] = slices.Compact(a)
	}

	return after, nil
}

func (g *Graph) Edges() (r int) {
	for _, a := range g.After {
		r += len(a)
	}

	return r
}

// Slot is the resident thread slot of thread tid. Globals use slot 0.
func (g *Graph) Slot(tid int) int {
	if tid < 0 {
		return 0
	}

	return tid % g.Slots
}
