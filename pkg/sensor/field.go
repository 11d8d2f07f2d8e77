package sensor

import "fmt"

// Field is one measured quantity of a channel.
type Field uint8

const (
	Current      Field = iota // mA
	BusVoltage                // mV
	Energy                    // J
	ShuntVoltage              // mV
	Power                     // mW
	DieTemp                   // degC

	// NumFields is the number of known fields.
	NumFields = int(DieTemp) + 1
)

var fieldInfo = [NumFields]struct {
	name     string
	unit     string
	decimals int
}{
	Current:      {"current", "mA", 2},
	BusVoltage:   {"bus_voltage", "mV", 2},
	Energy:       {"energy", "J", 5},
	ShuntVoltage: {"shunt_voltage", "mV", 3},
	Power:        {"power", "mW", 2},
	DieTemp:      {"die_temp", "degC", 2},
}

// DefaultFields is the field set of the standard output line.
var DefaultFields = []Field{Current, BusVoltage, Energy}

func (f Field) String() string {
	if int(f) >= NumFields {
		return fmt.Sprintf("field(%d)", uint8(f))
	}
	return fieldInfo[f].name
}

// Unit returns the physical unit the field is reported in.
func (f Field) Unit() string {
	if int(f) >= NumFields {
		return ""
	}
	return fieldInfo[f].unit
}

// Decimals returns the number of fractional digits the field is printed with.
func (f Field) Decimals() int {
	if int(f) >= NumFields {
		return 2
	}
	return fieldInfo[f].decimals
}

// ParseField decodes a field name as used in configuration files.
func ParseField(name string) (Field, error) {
	for i, info := range fieldInfo {
		if info.name == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// ParseFields decodes a list of field names. Duplicates are rejected.
func ParseFields(names []string) ([]Field, error) {
	fields := make([]Field, 0, len(names))
	var seen [NumFields]bool
	for _, name := range names {
		f, err := ParseField(name)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			return nil, fmt.Errorf("duplicate field %q", name)
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields, nil
}

// Reading holds the latest value of every field of a channel, indexed by
// Field. Fields outside the active set stay zero.
type Reading [NumFields]float32

// Get returns the value of f.
func (r *Reading) Get(f Field) float32 {
	return r[f]
}
