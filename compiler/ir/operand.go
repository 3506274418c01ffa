package ir

import (
	"strconv"

	"github.com/slowlang/vliw/compiler/scratch"
	"tlog.app/go/errors"
)

type (
	// Operand is one of Reg, Abs, Mem, Imm.
	Operand interface {
		operand()
	}

	// Reg refers to a variable relative to the thread slot it is resolved for.
	// Vector access covers the whole vector and has Offset 0.
	// Otherwise it is a single word at Offset.
	Reg struct {
		Name   string
		Offset int
		Vector bool
		Write  bool
	}

	// Abs is an absolute scratch block shared by all slots.
	Abs struct {
		Addr  int
		Len   int
		Write bool
	}

	// Mem is the unknown memory location touched by an indirect load or store.
	// It's only known at run time.
	Mem struct {
		Write bool
	}

	Imm int64

	// Range is an inclusive address range.
	Range struct {
		Lo, Hi int
	}
)

func (Reg) operand() {}
func (Abs) operand() {}
func (Mem) operand() {}
func (Imm) operand() {}

func R(name string) Reg  { return Reg{Name: name} }
func W(name string) Reg  { return Reg{Name: name, Write: true} }
func RV(name string) Reg { return Reg{Name: name, Vector: true} }
func WV(name string) Reg { return Reg{Name: name, Vector: true, Write: true} }

func RL(name string, off int) Reg { return Reg{Name: name, Offset: off} }
func WL(name string, off int) Reg { return Reg{Name: name, Offset: off, Write: true} }

// IsWrite reports whether the operand is written.
func IsWrite(x Operand) bool {
	switch x := x.(type) {
	case Reg:
		return x.Write
	case Abs:
		return x.Write
	case Mem:
		return x.Write
	case Imm:
		return false
	default:
		panic(x)
	}
}

// IsVector reports whether the operand covers a whole vector.
func IsVector(x Operand, vlen int) bool {
	switch x := x.(type) {
	case Reg:
		return x.Vector
	case Abs:
		return x.Len == vlen
	case Mem, Imm:
		return false
	default:
		panic(x)
	}
}

// Span returns the scratch range the operand touches when resolved for slot.
// Mem and Imm touch no scratch.
func Span(x Operand, sp *scratch.Space, slot, vlen int) (Range, bool, error) {
	switch x := x.(type) {
	case Reg:
		addr, err := sp.Addr(x.Name, slot)
		if err != nil {
			return Range{}, false, err
		}

		if x.Vector {
			return Range{Lo: addr, Hi: addr + vlen - 1}, true, nil
		}

		return Range{Lo: addr + x.Offset, Hi: addr + x.Offset}, true, nil
	case Abs:
		return Range{Lo: x.Addr, Hi: x.Addr + x.Len - 1}, true, nil
	case Mem, Imm:
		return Range{}, false, nil
	default:
		panic(x)
	}
}

// Resolve converts the operand to the value the machine sees: an address or a literal.
func Resolve(x Operand, sp *scratch.Space, slot int) (int64, error) {
	switch x := x.(type) {
	case Reg:
		addr, err := sp.Addr(x.Name, slot)
		if err != nil {
			return 0, err
		}

		return int64(addr + x.Offset), nil
	case Abs:
		return int64(x.Addr), nil
	case Imm:
		return int64(x), nil
	case Mem:
		return 0, errors.New("unknown memory location can't be resolved")
	default:
		panic(x)
	}
}

// Lane returns the scalar operand for lane i of a vector operand.
// Scalar operands are returned as is.
func Lane(x Operand, i int) Operand {
	switch x := x.(type) {
	case Reg:
		if !x.Vector {
			return x
		}

		x.Vector = false
		x.Offset = i

		return x
	case Abs:
		if x.Len == 1 {
			return x
		}

		return Abs{Addr: x.Addr + i, Len: 1, Write: x.Write}
	case Mem, Imm:
		return x
	default:
		panic(x)
	}
}

// Reading returns the operand as a read access.
func Reading(x Operand) Operand {
	switch x := x.(type) {
	case Reg:
		x.Write = false
		return x
	case Abs:
		x.Write = false
		return x
	case Mem:
		x.Write = false
		return x
	case Imm:
		return x
	default:
		panic(x)
	}
}

// Const returns the value of a read-only constant operand.
func Const(x Operand, sp *scratch.Space) (int64, bool) {
	switch x := x.(type) {
	case Reg:
		v, err := sp.Var(x.Name)
		if err != nil || !v.Const {
			return 0, false
		}

		return v.Value, true
	case Abs:
		return sp.ConstAt(x.Addr)
	case Mem, Imm:
		return 0, false
	default:
		panic(x)
	}
}

func (r Range) Overlaps(x Range) bool {
	return r.Lo <= x.Hi && x.Lo <= r.Hi
}

func (r Range) Len() int { return r.Hi - r.Lo + 1 }

func (r Reg) String() string {
	s := r.Name

	if !r.Vector && r.Offset != 0 {
		s += "[" + strconv.Itoa(r.Offset) + "]"
	}

	if r.Write {
		s = "=" + s
	}

	return s
}

func (a Abs) String() string {
	s := "@" + strconv.Itoa(a.Addr)

	if a.Len != 1 {
		s += ":" + strconv.Itoa(a.Len)
	}

	if a.Write {
		s = "=" + s
	}

	return s
}

func (m Mem) String() string {
	if m.Write {
		return "=mem"
	}

	return "mem"
}

func (x Imm) String() string { return "#" + strconv.FormatInt(int64(x), 10) }
