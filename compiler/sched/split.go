package sched

import (
	"tlog.app/go/loc"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
)

// splitVector breaks unclaimed ready valu tasks into alu lanes until
// need alu tasks are created or candidates run out.
// It returns the number of alu tasks made ready.
func (p *Packer) splitVector(need int) (n int) {
	var cand []*task

	p.free[machine.VALU].Ascend(func(t *task) bool {
		if t.claimed != 0 || !p.splittable(t) {
			return true
		}

		cand = append(cand, t)
		need -= p.cfg.VLen

		return need > 0
	})

	for _, t := range cand {
		n += p.split(t)
	}

	return n
}

func (p *Packer) splittable(t *task) bool {
	in := t.in

	switch {
	case in.Op == ir.MultiplyAdd:
		dst, ok := p.span(t, in.Args[0])
		if !ok {
			return false
		}

		add, ok := p.span(t, in.Args[3])
		if !ok || dst.Overlaps(add) {
			return false
		}

		return p.lanewise(t, dst, in.Args[1:3])
	case in.Op == ir.VBroadcast:
		dst, ok := p.span(t, in.Args[0])
		if !ok {
			return false
		}

		src, ok := p.span(t, in.Args[1])

		return ok && !dst.Overlaps(src)
	case ir.IsBinary(in.Op) && len(in.Args) == 3:
		dst, ok := p.span(t, in.Args[0])
		if !ok {
			return false
		}

		return p.lanewise(t, dst, in.Args[1:])
	default:
		return false
	}
}

// lanewise reports whether lane i of the result only depends on lane i of srcs.
// That holds when every source is either the destination itself or doesn't overlap it.
func (p *Packer) lanewise(t *task, dst ir.Range, srcs []ir.Operand) bool {
	for _, x := range srcs {
		r, ok := p.span(t, x)
		if !ok {
			return false
		}

		if r != dst && r.Overlaps(dst) {
			return false
		}
	}

	return true
}

// split replaces t with vlen alu tasks.
func (p *Packer) split(t *task) (ready int) {
	in := t.in
	vlen := p.cfg.VLen

	if p.tr.If("split") {
		p.tr.Printw("split", "task", t.Key, "op", in.Op, "from", loc.Caller(1))
	}

	p.stats.Splits++

	switch in.Op {
	case ir.MultiplyAdd:
		p.replace(t, vlen)

		for i := 0; i < vlen; i++ {
			dst := ir.Lane(in.Args[0], i)

			add := p.spawn(t, vlen+i, ir.New(machine.ALU, ir.Add, dst, ir.Reading(dst), ir.Lane(in.Args[3], i)), t.after, 1)
			p.spawn(t, i, ir.New(machine.ALU, ir.Mul, dst, ir.Lane(in.Args[1], i), ir.Lane(in.Args[2], i)), []int{add.idx}, 0)
		}
	case ir.VBroadcast:
		p.replace(t, vlen)

		src := in.Args[1]

		for i := 0; i < vlen; i++ {
			p.spawn(t, i, ir.New(machine.ALU, ir.Or, ir.Lane(in.Args[0], i), src, src), t.after, 0)
		}
	default:
		p.replace(t, vlen)

		for i := 0; i < vlen; i++ {
			p.spawn(t, i, p.lane(in, machine.ALU, in.Op, i), t.after, 0)
		}
	}

	return vlen
}

// convertAdds rewrites unclaimed ready additions of a constant into flow add_imm.
// Scalar additions go first: they convert one to one.
// It returns the number of flow tasks made ready.
func (p *Packer) convertAdds(need int) (n int) {
	var cand []*task

	collect := func(e machine.Engine, cost int) {
		p.free[e].Ascend(func(t *task) bool {
			if need <= 0 {
				return false
			}

			if t.claimed != 0 || !p.convertible(t) {
				return true
			}

			cand = append(cand, t)
			need -= cost

			return true
		})
	}

	collect(machine.ALU, 1)
	collect(machine.VALU, p.cfg.VLen)

	for _, t := range cand {
		n += p.convert(t)
	}

	return n
}

func (p *Packer) convertible(t *task) bool {
	in := t.in

	if in.Op != ir.Add || len(in.Args) != 3 {
		return false
	}

	if _, ok := ir.Const(in.Args[2], p.sp); !ok {
		return false
	}

	if in.Engine != machine.VALU {
		return true
	}

	dst, ok := p.span(t, in.Args[0])
	if !ok {
		return false
	}

	return p.lanewise(t, dst, in.Args[1:2])
}

func (p *Packer) convert(t *task) int {
	in := t.in
	val, _ := ir.Const(in.Args[2], p.sp)

	if p.tr.If("convert") {
		p.tr.Printw("convert to add_imm", "task", t.Key, "engine", in.Engine, "val", val, "from", loc.Caller(1))
	}

	p.stats.Converts++

	if in.Engine != machine.VALU {
		p.replace(t, 1)
		p.spawn(t, t.Part, ir.New(machine.Flow, ir.AddImm, in.Args[0], in.Args[1], ir.Imm(val)), t.after, 0)

		return 1
	}

	vlen := p.cfg.VLen

	p.replace(t, vlen)

	for i := 0; i < vlen; i++ {
		p.spawn(t, i, ir.New(machine.Flow, ir.AddImm, ir.Lane(in.Args[0], i), ir.Lane(in.Args[1], i), ir.Imm(val)), t.after, 0)
	}

	return vlen
}

func (p *Packer) lane(in ir.Instr, e machine.Engine, op ir.Op, i int) ir.Instr {
	args := make([]ir.Operand, len(in.Args))

	for j, x := range in.Args {
		args[j] = ir.Lane(x, i)
	}

	return ir.New(e, op, args...)
}

func (p *Packer) span(t *task, x ir.Operand) (ir.Range, bool) {
	r, ok, err := ir.Span(x, p.sp, p.slot(t), p.cfg.VLen)
	if err != nil {
		return r, false
	}

	return r, ok
}
