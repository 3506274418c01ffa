// Package exec runs scheduled cycles on a model of the machine.
// It's a reference used to check that schedules compute what the program says.
package exec

import (
	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
)

type (
	Machine struct {
		VLen int

		Scratch []uint32
		Mem     []uint32

		Cycle int

		writes []write
	}

	write struct {
		mem  bool
		addr int
		val  uint32
	}

	// Bundle is a cycle as produced by the scheduler.
	Bundle = [machine.NumEngines][]ir.Resolved
)

var (
	ErrBadAddr = errors.New("address out of range")
	ErrDivZero = errors.New("division by zero")
	ErrUnknown = errors.New("unknown instruction")
)

func New(vlen, scratch, mem int) *Machine {
	return &Machine{
		VLen:    vlen,
		Scratch: make([]uint32, scratch),
		Mem:     make([]uint32, mem),
	}
}

// Run executes cycles in order.
func (m *Machine) Run(cycles []Bundle) error {
	for i := range cycles {
		err := m.Step(&cycles[i])
		if err != nil {
			return errors.Wrap(err, "cycle %d", m.Cycle)
		}
	}

	return nil
}

// Step executes one cycle. All reads happen before all writes.
func (m *Machine) Step(c *Bundle) (err error) {
	m.writes = m.writes[:0]

	for e, rs := range c {
		for _, r := range rs {
			err = m.exec(machine.Engine(e), r)
			if err != nil {
				return errors.Wrap(err, "%v %v %v", machine.Engine(e), r.Op, r.Args)
			}
		}
	}

	for _, w := range m.writes {
		dst := m.Scratch
		if w.mem {
			dst = m.Mem
		}

		if w.addr < 0 || w.addr >= len(dst) {
			return errors.Wrap(ErrBadAddr, "write %d (mem %v)", w.addr, w.mem)
		}

		dst[w.addr] = w.val
	}

	m.Cycle++

	return nil
}

func (m *Machine) exec(e machine.Engine, r ir.Resolved) error {
	a := r.Args

	switch e {
	case machine.ALU:
		if len(a) != 3 {
			return ir.ErrArity
		}

		return m.alu(r.Op, int(a[0]), int(a[1]), int(a[2]), 1)
	case machine.VALU:
		switch r.Op {
		case ir.VBroadcast:
			v, err := m.read(int(a[1]))
			if err != nil {
				return err
			}

			for i := 0; i < m.VLen; i++ {
				m.set(false, int(a[0])+i, v)
			}

			return nil
		case ir.MultiplyAdd:
			for i := 0; i < m.VLen; i++ {
				x, err := m.reads(int(a[1])+i, int(a[2])+i, int(a[3])+i)
				if err != nil {
					return err
				}

				m.set(false, int(a[0])+i, x[0]*x[1]+x[2])
			}

			return nil
		}

		if len(a) != 3 {
			return ir.ErrArity
		}

		return m.alu(r.Op, int(a[0]), int(a[1]), int(a[2]), m.VLen)
	case machine.Load:
		return m.load(r.Op, a)
	case machine.Store:
		return m.store(r.Op, a)
	case machine.Flow:
		return m.flow(r.Op, a)
	}

	return ErrUnknown
}

func (m *Machine) alu(op ir.Op, dst, l, r, n int) error {
	for i := 0; i < n; i++ {
		x, err := m.reads(l+i, r+i)
		if err != nil {
			return err
		}

		v, err := Eval(op, x[0], x[1])
		if err != nil {
			return err
		}

		m.set(false, dst+i, v)
	}

	return nil
}

func (m *Machine) load(op ir.Op, a []int64) error {
	switch op {
	case ir.ConstOp:
		m.set(false, int(a[0]), uint32(a[1]))

		return nil
	case ir.LoadOp, ir.VLoad:
		addr, err := m.read(int(a[1]))
		if err != nil {
			return err
		}

		n := 1
		if op == ir.VLoad {
			n = m.VLen
		}

		for i := 0; i < n; i++ {
			if int(addr)+i >= len(m.Mem) {
				return errors.Wrap(ErrBadAddr, "mem %d", int(addr)+i)
			}

			m.set(false, int(a[0])+i, m.Mem[int(addr)+i])
		}

		return nil
	}

	return errors.Wrap(ErrUnknown, "load %v", op)
}

func (m *Machine) store(op ir.Op, a []int64) error {
	n := 1

	switch op {
	case ir.StoreOp:
	case ir.VStore:
		n = m.VLen
	default:
		return errors.Wrap(ErrUnknown, "store %v", op)
	}

	addr, err := m.read(int(a[0]))
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		v, err := m.read(int(a[1]) + i)
		if err != nil {
			return err
		}

		if int(addr)+i >= len(m.Mem) {
			return errors.Wrap(ErrBadAddr, "mem %d", int(addr)+i)
		}

		m.set(true, int(addr)+i, v)
	}

	return nil
}

func (m *Machine) flow(op ir.Op, a []int64) error {
	switch op {
	case ir.Pause, ir.Halt:
		return nil
	case ir.AddImm:
		v, err := m.read(int(a[1]))
		if err != nil {
			return err
		}

		m.set(false, int(a[0]), v+uint32(a[2]))

		return nil
	case ir.Select, ir.VSelect:
		n := 1
		if op == ir.VSelect {
			n = m.VLen
		}

		for i := 0; i < n; i++ {
			x, err := m.reads(int(a[1])+i, int(a[2])+i, int(a[3])+i)
			if err != nil {
				return err
			}

			v := x[2]
			if x[0] != 0 {
				v = x[1]
			}

			m.set(false, int(a[0])+i, v)
		}

		return nil
	}

	return errors.Wrap(ErrUnknown, "flow %v", op)
}

// Eval computes a binary arithmetic operation on 32-bit words.
func Eval(op ir.Op, x, y uint32) (uint32, error) {
	switch op {
	case ir.Add:
		return x + y, nil
	case ir.Sub:
		return x - y, nil
	case ir.Mul:
		return x * y, nil
	case ir.Div:
		if y == 0 {
			return 0, ErrDivZero
		}

		return x / y, nil
	case ir.CDiv:
		if y == 0 {
			return 0, ErrDivZero
		}

		return (x + y - 1) / y, nil
	case ir.Mod:
		if y == 0 {
			return 0, ErrDivZero
		}

		return x % y, nil
	case ir.Xor:
		return x ^ y, nil
	case ir.And:
		return x & y, nil
	case ir.Or:
		return x | y, nil
	case ir.Shl:
		return x << (y & 31), nil
	case ir.Shr:
		return x >> (y & 31), nil
	case ir.Lt:
		return b2u(x < y), nil
	case ir.Eq:
		return b2u(x == y), nil
	}

	return 0, errors.Wrap(ErrUnknown, "op %v", op)
}

func (m *Machine) read(addr int) (uint32, error) {
	if addr < 0 || addr >= len(m.Scratch) {
		return 0, errors.Wrap(ErrBadAddr, "scratch %d", addr)
	}

	return m.Scratch[addr], nil
}

func (m *Machine) reads(addrs ...int) ([]uint32, error) {
	r := make([]uint32, len(addrs))

	for i, a := range addrs {
		v, err := m.read(a)
		if err != nil {
			return nil, err
		}

		r[i] = v
	}

	return r, nil
}

func (m *Machine) set(mem bool, addr int, val uint32) {
	m.writes = append(m.writes, write{mem: mem, addr: addr, val: val})
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
