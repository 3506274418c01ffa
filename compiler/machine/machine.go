package machine

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

type (
	Engine int8

	// Config is shared by the scheduler and the simulator.
	// Both sides must agree on every value exactly.
	Config struct {
		VLen        int `yaml:"vlen"`
		ScratchSize int `yaml:"scratch_size"`

		Slots Limits `yaml:"slots"`
	}

	Limits [NumEngines]int
)

const (
	VALU Engine = iota
	ALU
	Load
	Store
	Flow

	NumEngines
)

// Engines lists engines in the order the scheduler fills them.
// Bulk work goes first.
var Engines = [NumEngines]Engine{VALU, ALU, Load, Store, Flow}

var names = [NumEngines]string{
	VALU:  "valu",
	ALU:   "alu",
	Load:  "load",
	Store: "store",
	Flow:  "flow",
}

var ErrUnknownEngine = errors.New("unknown engine")

func Default() Config {
	return Config{
		VLen:        8,
		ScratchSize: 1536,
		Slots: Limits{
			VALU:  6,
			ALU:   12,
			Load:  2,
			Store: 2,
			Flow:  1,
		},
	}
}

func LoadFile(name string) (c Config, err error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return c, errors.Wrap(err, "read file")
	}

	return Parse(data)
}

// Parse decodes config on top of the defaults.
func Parse(data []byte) (c Config, err error) {
	c = Default()

	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return c, errors.Wrap(err, "decode")
	}

	err = c.Validate()
	if err != nil {
		return c, err
	}

	return c, nil
}

func (c Config) Validate() error {
	if c.VLen <= 0 {
		return errors.New("bad vlen: %d", c.VLen)
	}

	if c.ScratchSize <= 0 {
		return errors.New("bad scratch size: %d", c.ScratchSize)
	}

	for _, e := range Engines {
		if c.Slots[e] <= 0 {
			return errors.New("bad %v slots: %d", e, c.Slots[e])
		}
	}

	return nil
}

func (c Config) Limit(e Engine) int { return c.Slots[e] }

func ParseEngine(s string) (Engine, error) {
	for e, n := range names {
		if n == s {
			return Engine(e), nil
		}
	}

	return -1, errors.Wrap(ErrUnknownEngine, "%q", s)
}

func (e Engine) String() string {
	if e < 0 || e >= NumEngines {
		return "engine(?)"
	}

	return names[e]
}

func (l Limits) MarshalYAML() (any, error) {
	m := make(map[string]int, len(l))

	for e, n := range l {
		m[names[e]] = n
	}

	return m, nil
}

func (l *Limits) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]int

	err := value.Decode(&m)
	if err != nil {
		return err
	}

	for k, n := range m {
		e, err := ParseEngine(k)
		if err != nil {
			return errors.Wrap(err, "line %d", value.Line)
		}

		l[e] = n
	}

	return nil
}
