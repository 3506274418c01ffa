package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/machine"
)

func TestCycleMap(t *testing.T) {
	alu := []ir.Resolved{
		{Op: ir.Mul, Args: []int64{10, 1, 2}},
		{Op: ir.Add, Args: []int64{11, 3, 4}},
		{Op: ir.Xor, Args: []int64{12, 5, 6}},
	}

	flow := []ir.Resolved{
		{Op: ir.AddImm, Args: []int64{20, 20, 1}},
	}

	var c Cycle
	c[machine.ALU] = alu
	c[machine.Flow] = flow

	assert.Equal(t, map[string][]ir.Resolved{
		"alu":  alu,
		"flow": flow,
	}, c.Map())

	assert.Equal(t, 4, c.Len())

	var empty Cycle
	assert.Empty(t, empty.Map())
}

func TestCycleAppendText(t *testing.T) {
	var c Cycle
	c[machine.ALU] = []ir.Resolved{{Op: ir.Add, Args: []int64{11, 3, 4}}}
	c[machine.Flow] = []ir.Resolved{{Op: ir.AddImm, Args: []int64{20, 20, 1}}}

	txt := string(c.AppendText(nil))

	assert.Contains(t, txt, "alu")
	assert.Contains(t, txt, " 11, 3, 4\n")
	assert.Contains(t, txt, "add_imm")
	assert.Contains(t, txt, " 20, 20, 1\n")

	var s Stats
	s.add(&c)
	s.add(&Cycle{})

	assert.Equal(t, 2, s.Cycles)
	assert.Equal(t, 2, s.Issued)
	assert.Equal(t, 0.5, s.Utilization(machine.Flow, machine.Default()))

	txt = string(s.AppendText(nil, machine.Default()))

	assert.Contains(t, txt, "cycles 2  issued 2")
	assert.Contains(t, txt, "flow")
	assert.Contains(t, txt, " 1->1")
}
