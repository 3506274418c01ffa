package kernel

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/graph"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
	"github.com/slowlang/vliw/compiler/set"
)

type lowerer struct {
	cfg machine.Config
	sp  *scratch.Space
	b   *graph.Builder

	threads int
	slots   int

	global  bool
	only    *set.Bitmap
	dstName string
}

// Lower allocates scratch for slots resident threads and
// translates the program into global instructions and thread templates.
func Lower(ctx context.Context, prog *Program, cfg machine.Config, threads, slots int) (b *graph.Builder, sp *scratch.Space, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "lower", "threads", threads, "slots", slots)
	defer tr.Finish("err", &err)

	if threads <= 0 || slots <= 0 {
		return nil, nil, errors.Wrap(graph.ErrNoThreads, "threads %d, slots %d", threads, slots)
	}

	sp = scratch.New(cfg.ScratchSize)

	l := &lowerer{
		cfg:     cfg,
		sp:      sp,
		b:       graph.NewBuilder(sp, cfg),
		threads: threads,
		slots:   slots,
	}

	l.global = true

	for i := range prog.Global {
		err = l.stmt(&prog.Global[i])
		if err != nil {
			return nil, nil, errors.Wrap(err, "global %d", i)
		}
	}

	l.global = false

	if prog.ThreadIndex != "" {
		_, err = sp.Alloc(prog.ThreadIndex, 1, slots)
		if err != nil {
			return nil, nil, errors.Wrap(err, "thread index")
		}

		err = l.b.SetThreadIndex(prog.ThreadIndex)
		if err != nil {
			return nil, nil, err
		}
	}

	for i := range prog.Thread {
		err = l.stmt(&prog.Thread[i])
		if err != nil {
			return nil, nil, errors.Wrap(err, "thread %d", i)
		}
	}

	globals, templates := l.b.Len()

	tr.Printw("lowered", "globals", globals, "templates", templates, "used", sp.Size(), "free", sp.Free(), "per_thread", sp.PerThread())

	return l.b, sp, nil
}

// MaxSlots finds the largest number of resident threads, up to threads,
// whose replicated state fits scratch.
func MaxSlots(ctx context.Context, prog *Program, cfg machine.Config, threads int) (slots int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "max slots", "threads", threads)
	defer tr.Finish("slots", &slots, "err", &err)

	fits := func(n int) (bool, error) {
		_, _, err := Lower(ctx, prog, cfg, threads, n)
		if errors.Is(err, scratch.ErrOutOfSpace) {
			return false, nil
		}

		return err == nil, err
	}

	ok, err := fits(1)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, errors.Wrap(scratch.ErrOutOfSpace, "single thread doesn't fit")
	}

	lo, hi := 1, threads

	for lo < hi {
		mid := (lo + hi + 1) / 2

		ok, err = fits(mid)
		if err != nil {
			return 0, err
		}

		if ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return lo, nil
}

func (l *lowerer) stmt(s *Stmt) (err error) {
	k, err := s.kind()
	if err != nil {
		return err
	}

	l.only = nil

	if s.Threads != nil {
		if l.global {
			return errors.Wrap(ErrBadStmt, "line %d: threads on a global statement", s.line)
		}

		for _, tid := range s.Threads {
			if tid < 0 || tid >= l.threads {
				return errors.Wrap(ErrBadStmt, "line %d: thread %d of %d", s.line, tid, l.threads)
			}
		}

		l.only = set.Of(s.Threads...)
	}

	switch k {
	case "decl":
		return l.decl(s)
	case "set":
		err = l.set(s)
		if err != nil {
			return errors.Wrap(err, "line %d: set %v", s.line, s.Set)
		}

		return nil
	case "store":
		err = l.store(s)
		if err != nil {
			return errors.Wrap(err, "line %d: store", s.line)
		}

		return nil
	case "pause":
		return l.b.AddPause(l.global)
	}

	panic(k)
}

func (l *lowerer) decl(s *Stmt) error {
	length := 1
	if s.Vector {
		length = l.cfg.VLen
	}

	slots := l.slots
	if l.global {
		slots = 1
	}

	for _, name := range s.Decl {
		_, err := l.sp.Alloc(name, length, slots)
		if err != nil {
			return errors.Wrap(err, "line %d", s.line)
		}
	}

	return nil
}

func (l *lowerer) set(s *Stmt) error {
	dst, err := l.sp.Var(s.Set)
	if err != nil {
		return err
	}

	vec := dst.Vector

	w := ir.W(dst.Name)
	if vec {
		w = ir.WV(dst.Name)
	}

	l.dstName = dst.Name

	k, err := s.Expr.kind()
	if err != nil {
		return err
	}

	e := &s.Expr

	switch k {
	case "load":
		addr, err := l.read(Name(e.Load), false)
		if err != nil {
			return err
		}

		return l.add(machine.Load, loadOp(vec), w, addr)
	case "load_lanes":
		src, err := l.sp.Var(e.LoadLanes)
		if err != nil {
			return err
		}

		if !vec || !src.Vector {
			return errors.Wrap(ir.ErrShape, "load_lanes wants vectors")
		}

		for i := 0; i < l.cfg.VLen; i++ {
			err = l.add(machine.Load, ir.LoadOp, ir.WL(dst.Name, i), ir.RL(src.Name, i))
			if err != nil {
				return err
			}
		}

		return nil
	case "load_at":
		if !e.LoadAt.IsConst {
			return errors.Wrap(ErrBadOperand, "load_at wants a constant address")
		}

		addr, err := l.konst(e.LoadAt.Value, false)
		if err != nil {
			return err
		}

		return l.add(machine.Load, loadOp(vec), w, addr)
	case "op":
		if len(e.Args) != 2 {
			return errors.Wrap(ir.ErrArity, "%v wants 2 args", e.Op)
		}

		args, err := l.reads(vec, e.Args...)
		if err != nil {
			return err
		}

		return l.add(aluOf(vec), e.Op, w, args[0], args[1])
	case "madd":
		if !vec {
			return errors.Wrap(ir.ErrShape, "madd wants a vector destination")
		}

		if len(e.Madd) != 3 {
			return errors.Wrap(ir.ErrArity, "madd wants 3 args")
		}

		args, err := l.reads(true, e.Madd...)
		if err != nil {
			return err
		}

		return l.add(machine.VALU, ir.MultiplyAdd, w, args[0], args[1], args[2])
	case "select":
		return l.sel(e.Select, w, vec)
	case "const":
		if !vec {
			return l.add(machine.Load, ir.ConstOp, w, ir.Imm(*e.Const))
		}

		c, err := l.konst(*e.Const, false)
		if err != nil {
			return err
		}

		return l.add(machine.VALU, ir.VBroadcast, w, c)
	case "lane":
		if !vec || !e.Lane.HasLane {
			return errors.Wrap(ir.ErrShape, "lane wants vector = name[i]")
		}

		src, err := l.read(*e.Lane, false)
		if err != nil {
			return err
		}

		return l.add(machine.VALU, ir.VBroadcast, w, src)
	}

	panic(k)
}

func (l *lowerer) sel(s *Select, w ir.Reg, vec bool) (err error) {
	op := ir.Select
	if vec {
		op = ir.VSelect
	}

	var cond ir.Operand

	if s.Cond.IsComparison() {
		// the comparison result goes to the destination
		for _, x := range []Operand{s.Cond.Args[0], s.Cond.Args[1], s.Then, s.Else} {
			if !x.IsConst && x.Name == l.dstName {
				return errors.Wrap(ir.ErrCondAlias, "%v", x)
			}
		}

		args, err := l.reads(vec, s.Cond.Args[:]...)
		if err != nil {
			return err
		}

		err = l.add(aluOf(vec), s.Cond.Op, w, args[0], args[1])
		if err != nil {
			return errors.Wrap(err, "condition")
		}

		cond = ir.Reading(w)
	} else {
		cond, err = l.read(Name(s.Cond.Var), vec)
		if err != nil {
			return errors.Wrap(err, "condition")
		}
	}

	args, err := l.reads(vec, s.Then, s.Else)
	if err != nil {
		return err
	}

	return l.add(machine.Flow, op, w, cond, args[0], args[1])
}

func (l *lowerer) store(s *Stmt) error {
	if len(s.Store) != 2 {
		return errors.Wrap(ir.ErrArity, "store wants [addr, value]")
	}

	addr, err := l.read(s.Store[0], false)
	if err != nil {
		return errors.Wrap(err, "addr")
	}

	val := s.Store[1]
	if val.IsConst || val.HasLane {
		return errors.Wrap(ErrBadOperand, "store value must be a variable: %v", val)
	}

	v, err := l.sp.Var(val.Name)
	if err != nil {
		return err
	}

	if v.Vector {
		return l.add(machine.Store, ir.VStore, addr, ir.RV(v.Name))
	}

	return l.add(machine.Store, ir.StoreOp, addr, ir.R(v.Name))
}

func (l *lowerer) reads(vec bool, xs ...Operand) ([]ir.Operand, error) {
	r := make([]ir.Operand, len(xs))

	for i, x := range xs {
		op, err := l.read(x, vec)
		if err != nil {
			return nil, errors.Wrap(err, "arg %d", i)
		}

		r[i] = op
	}

	return r, nil
}

// read returns the operand reading x with the given shape.
func (l *lowerer) read(x Operand, vec bool) (ir.Operand, error) {
	if x.IsConst {
		return l.konst(x.Value, vec)
	}

	if x.Name == "" {
		return nil, errors.Wrap(ErrBadOperand, "missing")
	}

	v, err := l.sp.Var(x.Name)
	if err != nil {
		return nil, err
	}

	if x.HasLane {
		if vec || !v.Vector || x.Lane >= v.Len {
			return nil, errors.Wrap(ir.ErrShape, "%v: lane of %v words in vector context %v", x, v.Len, vec)
		}

		return ir.RL(v.Name, x.Lane), nil
	}

	if v.Vector != vec {
		return nil, errors.Wrap(ir.ErrShape, "%v is declared vector %v", x, v.Vector)
	}

	if vec {
		return ir.RV(v.Name), nil
	}

	return ir.R(v.Name), nil
}

// konst returns the operand reading a shared constant.
// The first use emits its global initialization.
func (l *lowerer) konst(val int64, vec bool) (ir.Operand, error) {
	s, first, err := l.sp.AllocConst(val, false, l.cfg.VLen)
	if err != nil {
		return nil, err
	}

	if first {
		err = l.b.Add(true, ir.New(machine.Load, ir.ConstOp, ir.W(s.Name), ir.Imm(val)), nil)
		if err != nil {
			return nil, err
		}
	}

	if !vec {
		return ir.Abs{Addr: s.Addr, Len: 1}, nil
	}

	v, first, err := l.sp.AllocConst(val, true, l.cfg.VLen)
	if err != nil {
		return nil, err
	}

	if first {
		err = l.b.Add(true, ir.New(machine.VALU, ir.VBroadcast, ir.WV(v.Name), ir.R(s.Name)), nil)
		if err != nil {
			return nil, err
		}
	}

	return ir.Abs{Addr: v.Addr, Len: v.Len}, nil
}

func (l *lowerer) add(e machine.Engine, op ir.Op, args ...ir.Operand) error {
	return l.b.Add(l.global, ir.New(e, op, args...), l.only)
}

func loadOp(vec bool) ir.Op {
	if vec {
		return ir.VLoad
	}

	return ir.LoadOp
}

func aluOf(vec bool) machine.Engine {
	if vec {
		return machine.VALU
	}

	return machine.ALU
}
