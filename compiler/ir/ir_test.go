package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
)

func testSpace(t *testing.T) *scratch.Space {
	t.Helper()

	sp := scratch.New(256)

	_, err := sp.Alloc("a", 1, 1)
	require.NoError(t, err)

	_, err = sp.Alloc("v", 8, 2)
	require.NoError(t, err)

	_, err = sp.Alloc("s", 1, 2)
	require.NoError(t, err)

	return sp
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   Instr
		err  error
	}{
		{"valu_add", New(machine.VALU, Add, WV("v"), RV("v"), RV("v")), nil},
		{"alu_lane", New(machine.ALU, Xor, WL("v", 3), RL("v", 3), R("s")), nil},
		{"const", New(machine.Load, ConstOp, W("s"), Imm(7)), nil},
		{"madd", New(machine.VALU, MultiplyAdd, WV("v"), RV("v"), Abs{Addr: 0, Len: 8}, RV("v")), nil},
		{"pause", New(machine.Flow, Pause), nil},
		{"arity", New(machine.ALU, Add, W("s"), R("s")), ErrArity},
		{"unknown", New(machine.ALU, "rot", W("s"), R("s"), R("s")), ErrUnknownOp},
		{"wrong_engine", New(machine.Store, Add, W("s"), R("s"), R("s")), ErrUnknownOp},
		{"direction", New(machine.ALU, Add, R("s"), R("s"), R("s")), ErrDirection},
		{"vec_in_alu", New(machine.ALU, Add, W("s"), RV("v"), R("s")), ErrShape},
		{"lane_range", New(machine.ALU, Add, W("s"), RL("v", 8), R("s")), ErrShape},
		{"vec_offset", New(machine.VALU, Add, Reg{Name: "v", Vector: true, Offset: 1, Write: true}, RV("v"), RV("v")), ErrShape},
		{"imm_expected", New(machine.Flow, AddImm, W("s"), R("s"), R("a")), ErrShape},
		{"imm_unexpected", New(machine.ALU, Add, W("s"), R("s"), Imm(1)), ErrShape},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate(8)
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCheck(t *testing.T) {
	sp := testSpace(t)

	err := New(machine.VALU, Add, WV("v"), RV("v"), RV("a")).Check(sp)
	assert.ErrorIs(t, err, ErrShape)

	err = New(machine.ALU, Add, W("s"), R("nope"), R("a")).Check(sp)
	assert.ErrorIs(t, err, scratch.ErrUnknownVar)

	err = New(machine.ALU, Add, W("s"), RL("a", 2), R("a")).Check(sp)
	assert.ErrorIs(t, err, ErrShape)

	err = New(machine.ALU, Add, W("s"), Abs{Addr: 300, Len: 1}, R("a")).Check(sp)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = New(machine.ALU, Add, WL("v", 5), RL("v", 5), R("a")).Check(sp)
	assert.NoError(t, err)
}

func TestSpanResolve(t *testing.T) {
	sp := testSpace(t)

	r, ok, err := Span(RV("v"), sp, 1, 8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Range{Lo: 9, Hi: 16}, r)

	r, ok, err = Span(RL("v", 2), sp, 0, 8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Range{Lo: 3, Hi: 3}, r)

	r, ok, err = Span(Abs{Addr: 4, Len: 8}, sp, 1, 8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Range{Lo: 4, Hi: 11}, r)

	_, ok, err = Span(Mem{Write: true}, sp, 0, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Span(R("nope"), sp, 0, 8)
	assert.ErrorIs(t, err, scratch.ErrUnknownVar)

	res, err := New(machine.ALU, Add, WL("v", 3), R("s"), R("a")).Resolve(sp, 1)
	require.NoError(t, err)
	assert.Equal(t, Resolved{Op: Add, Args: []int64{12, 18, 0}}, res)

	res, err = New(machine.Load, ConstOp, W("s"), Imm(-5)).Resolve(sp, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{17, -5}, res.Args)

	_, err = Resolve(Mem{}, sp, 0)
	assert.Error(t, err)
}

func TestLaneConst(t *testing.T) {
	sp := testSpace(t)

	k, _, err := sp.AllocConst(42, true, 8)
	require.NoError(t, err)

	assert.Equal(t, RL("v", 5), Lane(RV("v"), 5))
	assert.Equal(t, WL("v", 5), Lane(WV("v"), 5))
	assert.Equal(t, R("s"), Lane(R("s"), 5))
	assert.Equal(t, Abs{Addr: k.Addr + 2, Len: 1}, Lane(Abs{Addr: k.Addr, Len: 8}, 2))

	val, ok := Const(Abs{Addr: k.Addr + 2, Len: 1}, sp)
	assert.True(t, ok)
	assert.EqualValues(t, 42, val)

	val, ok = Const(RV(k.Name), sp)
	assert.True(t, ok)
	assert.EqualValues(t, 42, val)

	_, ok = Const(R("s"), sp)
	assert.False(t, ok)

	_, ok = Const(Imm(3), sp)
	assert.False(t, ok)
}

func TestAccesses(t *testing.T) {
	ld := New(machine.Load, LoadOp, W("s"), R("a"))
	assert.Equal(t, []Operand{W("s"), R("a"), Mem{}}, ld.Accesses())

	st := New(machine.Store, VStore, R("a"), RV("v"))
	assert.Equal(t, []Operand{R("a"), RV("v"), Mem{Write: true}}, st.Accesses())

	c := New(machine.Load, ConstOp, W("s"), Imm(1))
	assert.Equal(t, []Operand{W("s")}, c.Accesses())

	assert.Equal(t, "valu + =v v @0:8", New(machine.VALU, Add, WV("v"), RV("v"), Abs{Addr: 0, Len: 8}).String())
}
