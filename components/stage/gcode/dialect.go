package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Dialect holds the literal words a board understands. The defaults are GRBL's.
type Dialect struct {
	Home         string `json:"home,omitempty"`
	Relative     string `json:"relative,omitempty"`
	Absolute     string `json:"absolute,omitempty"`
	Linear       string `json:"linear,omitempty"`
	SetOrigin    string `json:"set_origin,omitempty"`
	Ack          string `json:"ack,omitempty"`
	FaultPattern string `json:"fault_pattern,omitempty"`
	Terminator   string `json:"terminator,omitempty"`
	// Precision is the number of decimals written for axis values. Zero or negative writes the
	// shortest exact representation.
	Precision int `json:"precision,omitempty"`
}

// DefaultDialect returns the GRBL dialect.
func DefaultDialect() Dialect {
	return Dialect{
		Home:         "$H",
		Relative:     "G91",
		Absolute:     "G90",
		Linear:       "G0",
		SetOrigin:    "G92",
		Ack:          "ok",
		FaultPattern: `^ALARM:1$`,
		Terminator:   "\r\n",
	}
}

// WithDefaults returns a copy of d with every empty literal taken from DefaultDialect.
func (d Dialect) WithDefaults() Dialect {
	def := DefaultDialect()
	d.Home = orDefault(d.Home, def.Home)
	d.Relative = orDefault(d.Relative, def.Relative)
	d.Absolute = orDefault(d.Absolute, def.Absolute)
	d.Linear = orDefault(d.Linear, def.Linear)
	d.SetOrigin = orDefault(d.SetOrigin, def.SetOrigin)
	d.Ack = orDefault(d.Ack, def.Ack)
	d.FaultPattern = orDefault(d.FaultPattern, def.FaultPattern)
	d.Terminator = orDefault(d.Terminator, def.Terminator)
	return d
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Validate checks that the fault pattern compiles and that no literal is empty.
func (d Dialect) Validate() error {
	if _, err := regexp.Compile(d.FaultPattern); err != nil {
		return errors.Wrap(err, "dialect fault_pattern")
	}
	if d.Home == "" || d.Relative == "" || d.Absolute == "" || d.Linear == "" ||
		d.SetOrigin == "" || d.Ack == "" || d.Terminator == "" {
		return errors.New("dialect literals must not be empty")
	}
	return nil
}

// codec turns commands into framed lines and classifies what the board sends back.
type codec struct {
	dialect Dialect
	fault   *regexp.Regexp
}

func newCodec(d Dialect) (*codec, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &codec{dialect: d, fault: regexp.MustCompile(d.FaultPattern)}, nil
}

func (c *codec) frame(words ...string) string {
	return strings.Join(words, " ") + c.dialect.Terminator
}

func (c *codec) homeLine() string {
	return c.frame(c.dialect.Home)
}

func (c *codec) modeLine(relative bool) string {
	if relative {
		return c.frame(c.dialect.Relative)
	}
	return c.frame(c.dialect.Absolute)
}

// linearLine encodes "G0 X1 Y-2". values must have one entry per axis.
func (c *codec) linearLine(axes string, values []float64) string {
	words := make([]string, 0, len(axes)+1)
	words = append(words, c.dialect.Linear)
	for i, axis := range axes {
		words = append(words, string(axis)+c.formatValue(values[i]))
	}
	return c.frame(words...)
}

// setOriginLine encodes "G92 X0 Y0".
func (c *codec) setOriginLine(axes string) string {
	words := make([]string, 0, len(axes)+1)
	words = append(words, c.dialect.SetOrigin)
	for _, axis := range axes {
		words = append(words, string(axis)+"0")
	}
	return c.frame(words...)
}

func (c *codec) formatValue(v float64) string {
	if v == 0 {
		// drops the sign of negative zero
		v = 0
	}
	precision := c.dialect.Precision
	if precision <= 0 {
		precision = -1
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func (c *codec) isAck(line string) bool {
	return strings.TrimSpace(line) == c.dialect.Ack
}

func (c *codec) isFault(line string) bool {
	return c.fault.MatchString(strings.TrimSpace(line))
}
