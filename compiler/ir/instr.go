package ir

import (
	"fmt"
	"strings"

	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
	"tlog.app/go/errors"
)

type (
	Op string

	Instr struct {
		Engine machine.Engine
		Op     Op
		Args   []Operand
	}

	// Resolved is the instruction as the machine executes it.
	Resolved struct {
		Op   Op
		Args []int64
	}

	opKey struct {
		e  machine.Engine
		op Op
	}
)

// Operand signature letters.
const (
	sigWriteVec  = 'W'
	sigWrite     = 'w'
	sigReadVec   = 'R'
	sigRead      = 'r'
	sigImmediate = 'i'
)

const (
	Add  Op = "+"
	Sub  Op = "-"
	Mul  Op = "*"
	Div  Op = "//"
	CDiv Op = "cdiv"
	Xor  Op = "^"
	And  Op = "&"
	Or   Op = "|"
	Shl  Op = "<<"
	Shr  Op = ">>"
	Mod  Op = "%"
	Lt   Op = "<"
	Eq   Op = "=="

	VBroadcast  Op = "vbroadcast"
	MultiplyAdd Op = "multiply_add"

	LoadOp  Op = "load"
	VLoad   Op = "vload"
	ConstOp Op = "const"

	StoreOp Op = "store"
	VStore  Op = "vstore"

	Select  Op = "select"
	VSelect Op = "vselect"
	AddImm  Op = "add_imm"
	Pause   Op = "pause"
	Halt    Op = "halt"
)

var (
	ErrUnknownOp  = errors.New("unknown opcode")
	ErrArity      = errors.New("bad operand count")
	ErrDirection  = errors.New("bad operand direction")
	ErrShape      = errors.New("vector/scalar shape mismatch")
	ErrCondAlias  = errors.New("destination aliases condition input")
	ErrOutOfRange = errors.New("operand out of scratch")
)

// BinaryOps are the arithmetic opcodes both alu and valu implement.
var BinaryOps = []Op{Add, Sub, Mul, Div, CDiv, Xor, And, Or, Shl, Shr, Mod, Lt, Eq}

var sigs = map[opKey]string{
	{machine.VALU, VBroadcast}:  "Wr",
	{machine.VALU, MultiplyAdd}: "WRRR",

	{machine.Load, LoadOp}:  "wr",
	{machine.Load, VLoad}:   "Wr",
	{machine.Load, ConstOp}: "wi",

	{machine.Store, StoreOp}: "rr",
	{machine.Store, VStore}:  "rR",

	{machine.Flow, Select}:  "wrrr",
	{machine.Flow, VSelect}: "WRRR",
	{machine.Flow, AddImm}:  "wri",
	{machine.Flow, Pause}:   "",
	{machine.Flow, Halt}:    "",
}

func init() {
	for _, op := range BinaryOps {
		sigs[opKey{machine.ALU, op}] = "wrr"
		sigs[opKey{machine.VALU, op}] = "WRR"
	}
}

func New(e machine.Engine, op Op, args ...Operand) Instr {
	return Instr{Engine: e, Op: op, Args: args}
}

func IsBinary(op Op) bool {
	for _, b := range BinaryOps {
		if b == op {
			return true
		}
	}

	return false
}

// Validate checks the instruction against the opcode table:
// operand count, direction, and vector/scalar shape.
func (in Instr) Validate(vlen int) error {
	sig, ok := sigs[opKey{in.Engine, in.Op}]
	if !ok {
		return errors.Wrap(ErrUnknownOp, "%v %v", in.Engine, in.Op)
	}

	if len(in.Args) != len(sig) {
		return errors.Wrap(ErrArity, "%v: want %d, got %d", in.Op, len(sig), len(in.Args))
	}

	for i, x := range in.Args {
		err := checkArg(x, sig[i], vlen)
		if err != nil {
			return errors.Wrap(err, "%v: arg %d", in.Op, i)
		}
	}

	return nil
}

func checkArg(x Operand, s byte, vlen int) error {
	if s == sigImmediate {
		if _, ok := x.(Imm); !ok {
			return errors.Wrap(ErrShape, "want immediate, got %T", x)
		}

		return nil
	}

	switch x := x.(type) {
	case Reg:
		if x.Vector && x.Offset != 0 {
			return errors.Wrap(ErrShape, "vector access with offset %d", x.Offset)
		}

		if x.Offset < 0 || x.Offset >= vlen {
			return errors.Wrap(ErrShape, "lane %d outside [0, %d)", x.Offset, vlen)
		}
	case Abs:
		if x.Len != 1 && x.Len != vlen {
			return errors.Wrap(ErrShape, "block of %d words", x.Len)
		}
	case Mem, Imm:
		return errors.Wrap(ErrShape, "unexpected %T", x)
	default:
		panic(x)
	}

	write := s == sigWrite || s == sigWriteVec
	if IsWrite(x) != write {
		return errors.Wrap(ErrDirection, "want write %v", write)
	}

	vec := s == sigWriteVec || s == sigReadVec
	if IsVector(x, vlen) != vec {
		return errors.Wrap(ErrShape, "want vector %v", vec)
	}

	return nil
}

// Check verifies operands against the variables they reference.
func (in Instr) Check(sp *scratch.Space) error {
	for i, x := range in.Args {
		switch x := x.(type) {
		case Reg:
			v, err := sp.Var(x.Name)
			if err != nil {
				return errors.Wrap(err, "%v: arg %d", in.Op, i)
			}

			if x.Vector && !v.Vector {
				return errors.Wrap(ErrShape, "%v: arg %d: %v is declared scalar", in.Op, i, x.Name)
			}

			if !x.Vector && x.Offset >= v.Len {
				return errors.Wrap(ErrShape, "%v: arg %d: %v has %d words", in.Op, i, x.Name, v.Len)
			}
		case Abs:
			if x.Addr < 0 || x.Addr+x.Len > sp.Size() {
				return errors.Wrap(ErrOutOfRange, "%v: arg %d: %v", in.Op, i, x)
			}
		case Mem, Imm:
		default:
			panic(x)
		}
	}

	return nil
}

// Accesses returns every operand touching storage.
// Loads and stores additionally touch an unknown memory location.
func (in Instr) Accesses() []Operand {
	r := make([]Operand, 0, len(in.Args)+1)

	for _, x := range in.Args {
		if _, ok := x.(Imm); ok {
			continue
		}

		r = append(r, x)
	}

	switch in.Engine {
	case machine.Load:
		if in.Op != ConstOp {
			r = append(r, Mem{})
		}
	case machine.Store:
		r = append(r, Mem{Write: true})
	}

	return r
}

// Resolve converts operands to addresses for the given thread slot.
func (in Instr) Resolve(sp *scratch.Space, slot int) (r Resolved, err error) {
	r.Op = in.Op
	r.Args = make([]int64, len(in.Args))

	for i, x := range in.Args {
		r.Args[i], err = Resolve(x, sp, slot)
		if err != nil {
			return r, errors.Wrap(err, "%v: arg %d", in.Op, i)
		}
	}

	return r, nil
}

func (in Instr) String() string {
	var b strings.Builder

	b.WriteString(in.Engine.String())
	b.WriteByte(' ')
	b.WriteString(string(in.Op))

	for _, x := range in.Args {
		b.WriteByte(' ')
		b.WriteString(x.(fmt.Stringer).String())
	}

	return b.String()
}
