package kernel

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/ir"
)

type (
	// Program is a structured kernel.
	// Global statements run once, Thread statements run for every thread.
	Program struct {
		// ThreadIndex names the per-thread scalar that holds the thread id.
		ThreadIndex string `yaml:"thread_index,omitempty"`

		Global []Stmt `yaml:"global,omitempty"`
		Thread []Stmt `yaml:"thread,omitempty"`
	}

	// Stmt is exactly one of decl, set, store, or pause.
	Stmt struct {
		Decl   []string `yaml:"decl,omitempty"`
		Vector bool     `yaml:"vector,omitempty"`

		Set  string `yaml:"set,omitempty"`
		Expr `yaml:",inline"`

		Store []Operand `yaml:"store,omitempty"` // [addr, value]

		Pause bool `yaml:"pause,omitempty"`

		// Threads limits a thread statement to the listed thread ids.
		Threads []int `yaml:"threads,omitempty"`

		line int
	}

	// Expr is the right hand side of set. Exactly one field is used.
	Expr struct {
		Load      string   `yaml:"load,omitempty"`       // dst = *addr
		LoadLanes string   `yaml:"load_lanes,omitempty"` // dst[i] = *addr[i]
		LoadAt    *Operand `yaml:"load_at,omitempty"`    // dst = *const

		Op   ir.Op     `yaml:"op,omitempty"`
		Args []Operand `yaml:"args,omitempty"`

		Madd []Operand `yaml:"madd,omitempty"` // a * b + c

		Select *Select `yaml:"select,omitempty"`

		Const *int64 `yaml:"const,omitempty"`

		Lane *Operand `yaml:"lane,omitempty"` // broadcast of name[i]
	}

	Select struct {
		Cond Cond    `yaml:"cond"`
		Then Operand `yaml:"then"`
		Else Operand `yaml:"else"`
	}

	// Cond is either a variable or a comparison [op, a, b].
	Cond struct {
		Var string

		Op   ir.Op
		Args [2]Operand
	}

	// Operand is an integer constant or a variable name.
	// name[i] refers to lane i of a vector variable.
	Operand struct {
		Name string

		Lane    int
		HasLane bool

		Value   int64
		IsConst bool
	}
)

var (
	ErrBadStmt    = errors.New("bad statement")
	ErrBadOperand = errors.New("bad operand")
)

func Load(name string) (*Program, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return p, nil
}

func Parse(data []byte) (*Program, error) {
	var p Program

	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)

	err := d.Decode(&p)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	return &p, nil
}

var stmtKeys = map[string]bool{
	"decl": true, "vector": true, "set": true, "store": true, "pause": true, "threads": true,
	"load": true, "load_lanes": true, "load_at": true, "op": true, "args": true,
	"madd": true, "select": true, "const": true, "lane": true,
}

func (s *Stmt) UnmarshalYAML(value *yaml.Node) error {
	type plain Stmt

	if value.Kind == yaml.MappingNode {
		for i := 0; i < len(value.Content); i += 2 {
			if k := value.Content[i]; !stmtKeys[k.Value] {
				return errors.Wrap(ErrBadStmt, "line %d: unknown field %q", k.Line, k.Value)
			}
		}
	}

	err := value.Decode((*plain)(s))
	if err != nil {
		return err
	}

	s.line = value.Line

	return nil
}

func (s *Stmt) kind() (string, error) {
	var kinds []string

	if s.Decl != nil {
		kinds = append(kinds, "decl")
	}

	if s.Set != "" {
		kinds = append(kinds, "set")
	}

	if s.Store != nil {
		kinds = append(kinds, "store")
	}

	if s.Pause {
		kinds = append(kinds, "pause")
	}

	if len(kinds) != 1 {
		return "", errors.Wrap(ErrBadStmt, "line %d: want one of decl, set, store, pause; got %v", s.line, kinds)
	}

	return kinds[0], nil
}

func (e *Expr) kind() (string, error) {
	var kinds []string

	add := func(ok bool, k string) {
		if ok {
			kinds = append(kinds, k)
		}
	}

	add(e.Load != "", "load")
	add(e.LoadLanes != "", "load_lanes")
	add(e.LoadAt != nil, "load_at")
	add(e.Op != "" || e.Args != nil, "op")
	add(e.Madd != nil, "madd")
	add(e.Select != nil, "select")
	add(e.Const != nil, "const")
	add(e.Lane != nil, "lane")

	if len(kinds) != 1 {
		return "", errors.Wrap(ErrBadStmt, "want one expression, got %v", kinds)
	}

	return kinds[0], nil
}

func (c *Cond) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&c.Var)
	case yaml.SequenceNode:
		if len(value.Content) != 3 {
			return errors.Wrap(ErrBadOperand, "line %d: comparison wants [op, a, b]", value.Line)
		}

		err := value.Content[0].Decode(&c.Op)
		if err != nil {
			return err
		}

		for i := range c.Args {
			err = value.Content[i+1].Decode(&c.Args[i])
			if err != nil {
				return err
			}
		}

		return nil
	}

	return errors.Wrap(ErrBadOperand, "line %d: condition", value.Line)
}

func (c Cond) IsComparison() bool { return c.Var == "" }

func (o *Operand) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Wrap(ErrBadOperand, "line %d: want constant or name", value.Line)
	}

	if value.Tag == "!!int" {
		err := value.Decode(&o.Value)
		if err != nil {
			return errors.Wrap(ErrBadOperand, "line %d: %v", value.Line, err)
		}

		o.IsConst = true

		return nil
	}

	op, err := ParseOperand(value.Value)
	if err != nil {
		return errors.Wrap(err, "line %d", value.Line)
	}

	*o = op

	return nil
}

func (o Operand) MarshalYAML() (any, error) {
	if o.IsConst {
		return o.Value, nil
	}

	return o.String(), nil
}

// ParseOperand parses a name, name[i], or a decimal or hex constant.
func ParseOperand(s string) (o Operand, err error) {
	if s == "" {
		return o, errors.Wrap(ErrBadOperand, "empty")
	}

	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return Const(v), nil
	}

	name, idx, ok := strings.Cut(s, "[")
	if !ok {
		return Name(s), nil
	}

	idx, ok = strings.CutSuffix(idx, "]")
	if !ok || name == "" {
		return o, errors.Wrap(ErrBadOperand, "%q", s)
	}

	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return o, errors.Wrap(ErrBadOperand, "%q: lane index", s)
	}

	return LaneOf(name, i), nil
}

func Name(n string) Operand         { return Operand{Name: n} }
func LaneOf(n string, i int) Operand { return Operand{Name: n, Lane: i, HasLane: true} }
func Const(v int64) Operand          { return Operand{Value: v, IsConst: true} }

func (o Operand) String() string {
	switch {
	case o.IsConst:
		return strconv.FormatInt(o.Value, 10)
	case o.HasLane:
		return o.Name + "[" + strconv.Itoa(o.Lane) + "]"
	default:
		return o.Name
	}
}
