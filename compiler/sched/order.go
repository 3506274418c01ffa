package sched

import (
	"github.com/slowlang/vliw/compiler/ir"
)

type (
	// Key identifies a task and orders ready tasks.
	Key struct {
		TID  int
		Pos  int
		ID   int
		Part int // -1 for a whole node
		Op   ir.Op
	}

	// Order is the total order used to pick ready tasks.
	//
	//  1. global tasks first;
	//  2. lower batch (TID / Slots) first;
	//  3. lower phase (Pos / PhaseWidth) first, keeping sibling threads in step;
	//  4. then TID, Pos, ID, Part, Op.
	//
	// It affects schedule quality and determinism, never correctness.
	Order struct {
		Slots      int
		PhaseWidth int
	}
)

const DefaultPhaseWidth = 16

func (o Order) Less(a, b Key) bool {
	if ag, bg := a.TID < 0, b.TID < 0; ag != bg {
		return ag
	}

	if ab, bb := o.batch(a.TID), o.batch(b.TID); ab != bb {
		return ab < bb
	}

	if ap, bp := o.phase(a.Pos), o.phase(b.Pos); ap != bp {
		return ap < bp
	}

	if a.TID != b.TID {
		return a.TID < b.TID
	}

	if a.Pos != b.Pos {
		return a.Pos < b.Pos
	}

	if a.ID != b.ID {
		return a.ID < b.ID
	}

	if a.Part != b.Part {
		return a.Part < b.Part
	}

	return a.Op < b.Op
}

func (o Order) batch(tid int) int {
	if tid < 0 || o.Slots <= 0 {
		return 0
	}

	return tid / o.Slots
}

func (o Order) phase(pos int) int {
	if o.PhaseWidth <= 0 {
		return pos
	}

	return pos / o.PhaseWidth
}
