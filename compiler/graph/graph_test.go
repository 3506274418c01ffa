package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
	"github.com/slowlang/vliw/compiler/scratch"
	"github.com/slowlang/vliw/compiler/set"
)

// chain makes a program with a shared global and per-thread x and y:
//
//	a = 3 (global)
//	x = a + a
//	y = x * x
//	x = a + a
func chain(t *testing.T) *Builder {
	t.Helper()

	cfg := machine.Default()
	sp := scratch.New(cfg.ScratchSize)

	for _, v := range []struct {
		name  string
		slots int
	}{{"a", 1}, {"x", 2}, {"y", 2}, {"tid", 2}} {
		_, err := sp.Alloc(v.name, 1, v.slots)
		require.NoError(t, err)
	}

	b := NewBuilder(sp, cfg)

	require.NoError(t, b.Add(true, ir.New(machine.Load, ir.ConstOp, ir.W("a"), ir.Imm(3)), nil))
	require.NoError(t, b.Add(false, ir.New(machine.ALU, ir.Add, ir.W("x"), ir.R("a"), ir.R("a")), nil))
	require.NoError(t, b.Add(false, ir.New(machine.ALU, ir.Mul, ir.W("y"), ir.R("x"), ir.R("x")), nil))
	require.NoError(t, b.Add(false, ir.New(machine.ALU, ir.Add, ir.W("x"), ir.R("a"), ir.R("a")), nil))

	return b
}

func checkForward(t *testing.T, g *Graph) {
	t.Helper()

	for i, a := range g.After {
		for j, s := range a {
			assert.Less(t, i, s, "edge %d -> %d", i, s)

			if j != 0 {
				assert.Less(t, a[j-1], s, "sorted and unique: %v", a)
			}
		}
	}
}

func TestHazardsSharedSlot(t *testing.T) {
	g, err := chain(t).Build(context.Background(), 2, 1)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 7)

	assert.Equal(t, [][]int{
		{1, 3, 4, 6}, // a read everywhere
		{2, 3},       // raw y, waw x
		{3, 5},       // war x, waw y of the next thread
		{4},          // waw x
		{5, 6},
		{6}, // war x
		nil,
	}, g.After)

	checkForward(t, g)
}

func TestHazardsOwnSlots(t *testing.T) {
	g, err := chain(t).Build(context.Background(), 2, 2)
	require.NoError(t, err)

	assert.Equal(t, [][]int{
		{1, 3, 4, 6},
		{2, 3},
		{3},
		nil,
		{5, 6},
		{6},
		nil,
	}, g.After)

	assert.Equal(t, 1, g.Slot(g.Nodes[4].TID))
	assert.Equal(t, 0, g.Slot(g.Nodes[0].TID))

	checkForward(t, g)
}

func TestExpand(t *testing.T) {
	b := chain(t)

	require.NoError(t, b.SetThreadIndex("tid"))
	require.NoError(t, b.Add(false, ir.New(machine.ALU, ir.Xor, ir.W("y"), ir.R("y"), ir.R("tid")), set.Of(1)))
	require.NoError(t, b.AddPause(false))

	globals, templates := b.Len()
	assert.Equal(t, 1, globals)
	assert.Equal(t, 5, templates)

	nodes := b.Expand(3)

	type np struct{ tid, pos int }

	var got []np

	for i, n := range nodes {
		assert.Equal(t, i, n.ID)

		got = append(got, np{n.TID, n.Pos})
	}

	assert.Equal(t, []np{
		{Global, 0},
		{0, 0}, {0, 1}, {0, 2}, {0, 3},
		{1, 0}, {1, 1}, {1, 2}, {1, 3}, {1, 4},
		{2, 0}, {2, 1}, {2, 2}, {2, 3}, {2, 4},
	}, got)

	assert.Equal(t, ir.New(machine.Load, ir.ConstOp, ir.W("tid"), ir.Imm(1)), nodes[5].Instr)
	assert.Equal(t, ir.Xor, nodes[9].Instr.Op)
	assert.Equal(t, ir.Pause, nodes[14].Instr.Op)
	assert.Equal(t, ir.Mul, nodes[12].Instr.Op)
}

func TestBuilderErrors(t *testing.T) {
	b := chain(t)

	err := b.Add(false, ir.New(machine.ALU, ir.Add, ir.W("nope"), ir.R("a"), ir.R("a")), nil)
	assert.ErrorIs(t, err, scratch.ErrUnknownVar)

	err = b.Add(false, ir.New(machine.VALU, ir.Add, ir.WV("x"), ir.RV("x"), ir.RV("x")), nil)
	assert.ErrorIs(t, err, ir.ErrShape)

	err = b.Add(false, ir.New(machine.ALU, ir.Add, ir.R("x"), ir.R("a"), ir.R("a")), nil)
	assert.ErrorIs(t, err, ir.ErrDirection)

	err = b.SetThreadIndex("nope")
	assert.ErrorIs(t, err, scratch.ErrUnknownVar)

	_, err = b.Build(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrNoThreads)

	globals, templates := b.Len()
	assert.Equal(t, 1, globals)
	assert.Equal(t, 3, templates)
}

func TestBuildSerial(t *testing.T) {
	g, err := chain(t).BuildSerial(context.Background(), 2, 2)
	require.NoError(t, err)

	require.Len(t, g.After, 7)

	for i, a := range g.After[:6] {
		assert.Equal(t, []int{i + 1}, a)
	}

	assert.Empty(t, g.After[6])
	assert.Equal(t, 6, g.Edges())
}
