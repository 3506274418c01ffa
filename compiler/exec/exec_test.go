package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
)

func res(op ir.Op, args ...int64) ir.Resolved {
	return ir.Resolved{Op: op, Args: args}
}

func TestStepReadsBeforeWrites(t *testing.T) {
	m := New(4, 16, 0)
	m.Scratch[0] = 5
	m.Scratch[1] = 7

	var c Bundle
	c[machine.ALU] = []ir.Resolved{
		res(ir.Add, 0, 0, 1), // s0 = 5 + 7
		res(ir.Or, 2, 0, 0),  // s2 sees old s0
	}

	err := m.Step(&c)
	require.NoError(t, err)

	assert.Equal(t, uint32(12), m.Scratch[0])
	assert.Equal(t, uint32(5), m.Scratch[2])
	assert.Equal(t, 1, m.Cycle)
}

func TestVectorOps(t *testing.T) {
	m := New(4, 32, 16)

	for i := range m.Mem {
		m.Mem[i] = uint32(i * 10)
	}

	m.Scratch[0] = 4 // address
	m.Scratch[1] = 3 // scalar

	cycles := []Bundle{
		{machine.Load: {res(ir.VLoad, 8, 0)}, machine.VALU: {res(ir.VBroadcast, 12, 1)}},
		{machine.VALU: {res(ir.MultiplyAdd, 16, 8, 12, 8)}},
		{machine.Store: {res(ir.VStore, 0, 16)}},
	}

	err := m.Run(cycles)
	require.NoError(t, err)

	assert.Equal(t, []uint32{40, 50, 60, 70}, m.Scratch[8:12])
	assert.Equal(t, []uint32{3, 3, 3, 3}, m.Scratch[12:16])
	assert.Equal(t, []uint32{160, 200, 240, 280}, m.Mem[4:8])
	assert.Equal(t, 3, m.Cycle)
}

func TestFlow(t *testing.T) {
	m := New(2, 16, 0)
	m.Scratch[0] = 1
	m.Scratch[1] = 10
	m.Scratch[2] = 20
	m.Scratch[3] = 0
	m.Scratch[4] = 0

	cycles := []Bundle{
		{machine.Flow: {res(ir.Select, 5, 0, 1, 2)}},
		{machine.Flow: {res(ir.VSelect, 6, 3, 1, 0)}},
		{machine.Flow: {res(ir.AddImm, 8, 5, 100)}},
		{machine.Flow: {res(ir.Pause)}},
	}

	err := m.Run(cycles)
	require.NoError(t, err)

	assert.Equal(t, uint32(10), m.Scratch[5])
	assert.Equal(t, []uint32{1, 10}, m.Scratch[6:8]) // zero condition picks the third operand
	assert.Equal(t, uint32(110), m.Scratch[8])
}

func TestEval(t *testing.T) {
	for _, tc := range []struct {
		op   ir.Op
		x, y uint32
		want uint32
	}{
		{ir.Add, 0xffffffff, 2, 1},
		{ir.Sub, 1, 2, 0xffffffff},
		{ir.Mul, 6, 7, 42},
		{ir.Div, 7, 2, 3},
		{ir.CDiv, 7, 2, 4},
		{ir.Mod, 7, 4, 3},
		{ir.Xor, 6, 3, 5},
		{ir.And, 6, 3, 2},
		{ir.Or, 6, 3, 7},
		{ir.Shl, 1, 4, 16},
		{ir.Shr, 16, 4, 1},
		{ir.Lt, 1, 2, 1},
		{ir.Lt, 2, 1, 0},
		{ir.Eq, 3, 3, 1},
	} {
		v, err := Eval(tc.op, tc.x, tc.y)
		if assert.NoError(t, err, "%v", tc.op) {
			assert.Equal(t, tc.want, v, "%v %d %d", tc.op, tc.x, tc.y)
		}
	}

	_, err := Eval(ir.Div, 1, 0)
	assert.True(t, errors.Is(err, ErrDivZero))

	_, err = Eval("nope", 1, 1)
	assert.True(t, errors.Is(err, ErrUnknown))
}

func TestBadAddr(t *testing.T) {
	m := New(4, 8, 4)

	err := m.Step(&Bundle{machine.ALU: {res(ir.Add, 0, 8, 1)}})
	assert.True(t, errors.Is(err, ErrBadAddr), "%v", err)

	err = m.Step(&Bundle{machine.ALU: {res(ir.Add, 8, 0, 1)}})
	assert.True(t, errors.Is(err, ErrBadAddr), "%v", err)

	m.Scratch[0] = 2

	err = m.Step(&Bundle{machine.Load: {res(ir.VLoad, 1, 0)}})
	assert.True(t, errors.Is(err, ErrBadAddr), "%v", err)
}
