package scratch

import (
	"sort"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Var is a named scratch allocation.
	// Per-thread variables are replicated Slots times, one copy per resident thread.
	Var struct {
		Name   string
		Addr   int
		Vector bool
		Len    int
		Slots  int

		Const bool
		Value int64
	}

	Space struct {
		size int
		ptr  int

		vars   map[string]*Var
		order  []*Var
		consts map[constKey]*Var
	}

	constKey struct {
		val    int64
		vector bool
	}
)

var (
	ErrOutOfSpace = errors.New("out of scratch space")
	ErrUnknownVar = errors.New("unknown variable")
	ErrDuplicate  = errors.New("duplicate variable")
	ErrBadSlot    = errors.New("slot out of range")
)

func New(size int) *Space {
	return &Space{
		size:   size,
		vars:   make(map[string]*Var),
		consts: make(map[constKey]*Var),
	}
}

// Alloc reserves length*slots contiguous words.
func (s *Space) Alloc(name string, length, slots int) (*Var, error) {
	if _, ok := s.vars[name]; ok {
		return nil, errors.Wrap(ErrDuplicate, "%v", name)
	}

	if length <= 0 || slots <= 0 {
		return nil, errors.New("bad shape for %v: len %d slots %d", name, length, slots)
	}

	if s.ptr+length*slots > s.size {
		return nil, errors.Wrap(ErrOutOfSpace, "%v needs %d, free %d", name, length*slots, s.Free())
	}

	v := &Var{
		Name:   name,
		Addr:   s.ptr,
		Vector: length > 1,
		Len:    length,
		Slots:  slots,
	}

	s.ptr += length * slots

	s.vars[name] = v
	s.order = append(s.order, v)

	return v, nil
}

// AllocConst returns the variable holding the constant.
// first is true only when the variable was allocated by this call,
// so the caller knows it has to emit initialization code.
func (s *Space) AllocConst(val int64, vector bool, vlen int) (v *Var, first bool, err error) {
	k := constKey{val: val, vector: vector}

	if v, ok := s.consts[k]; ok {
		return v, false, nil
	}

	name := "_K_"
	length := 1

	if vector {
		name = "_KV_"
		length = vlen
	}

	v, err = s.Alloc(name+strconv.FormatInt(val, 10), length, 1)
	if err != nil {
		return nil, false, err
	}

	v.Const = true
	v.Value = val

	s.consts[k] = v

	return v, true, nil
}

func (s *Space) Var(name string) (*Var, error) {
	v, ok := s.vars[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownVar, "%v", name)
	}

	return v, nil
}

func (s *Space) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

func (s *Space) Addr(name string, slot int) (int, error) {
	v, err := s.Var(name)
	if err != nil {
		return -1, err
	}

	return v.AddrOf(slot)
}

// Covering returns the variable whose storage contains addr.
func (s *Space) Covering(addr int) (*Var, bool) {
	i := sort.Search(len(s.order), func(i int) bool {
		return s.order[i].Addr+s.order[i].Size() > addr
	})

	if i == len(s.order) || s.order[i].Addr > addr {
		return nil, false
	}

	return s.order[i], true
}

// ConstAt returns the value of the constant stored at addr.
// Vector constants are broadcast, so every lane has the same value.
func (s *Space) ConstAt(addr int) (int64, bool) {
	v, ok := s.Covering(addr)
	if !ok || !v.Const {
		return 0, false
	}

	return v.Value, true
}

func (s *Space) Vars() []*Var { return s.order }

func (s *Space) Size() int { return s.ptr }
func (s *Space) Free() int { return s.size - s.ptr }

// PerThread is the footprint of one thread's replicated state.
func (s *Space) PerThread() (r int) {
	for _, v := range s.order {
		if v.Slots > 1 {
			r += v.Len
		}
	}

	return r
}

func (s *Space) Globals() (r int) {
	for _, v := range s.order {
		if v.Slots == 1 {
			r += v.Len
		}
	}

	return r
}

// Resident is the number of thread slots variables were replicated for.
func (s *Space) Resident() (r int) {
	for _, v := range s.order {
		r = max(r, v.Slots)
	}

	return r
}

func (v *Var) AddrOf(slot int) (int, error) {
	if v.Slots == 1 {
		return v.Addr, nil
	}

	if slot < 0 || slot >= v.Slots {
		return -1, errors.Wrap(ErrBadSlot, "%v: slot %d of %d", v.Name, slot, v.Slots)
	}

	return v.Addr + slot*v.Len, nil
}

func (v *Var) Size() int { return v.Len * v.Slots }

func (v *Var) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)

	b = e.AppendKeyInt(b, "addr", v.Addr)
	b = e.AppendKeyInt(b, "len", v.Len)
	b = e.AppendKeyInt(b, "slots", v.Slots)
	b = e.AppendKeyInt64(b, "value", v.Value)

	return b
}
