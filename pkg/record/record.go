// Package record formats and parses the tab-separated data lines a node
// emits once per sampling cycle:
//
//	<millis>\t<micros>\t{<field>\t...}\n
//
// with the active fields repeated for every channel in declared order.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/itohio/gowindfarm/pkg/timestamp"
)

const (
	millisWidth = 10 // max uint32
	microsWidth = 3  // 0-999

	// valueWidth bounds a float32 printed with up to maxDecimals
	// fractional digits: sign, 39 integer digits, point, fraction.
	valueWidth  = 1 + 39 + 1 + maxDecimals
	maxDecimals = 5
)

var (
	ErrFieldCount = errors.New("wrong field count")
	ErrEmptyLine  = errors.New("empty line")
)

// LineCapacity returns the length of the longest line that can be produced
// for the given number of channels and fields, terminator included.
func LineCapacity(channels, fields int) int {
	return millisWidth + 1 + microsWidth + channels*fields*(1+valueWidth) + 1
}

// FieldCount returns the number of tab-separated fields of a line.
func FieldCount(channels, fields int) int {
	return 2 + channels*fields
}

// AppendLine appends one formatted line to dst and returns the extended
// buffer. readings are emitted in order; only fields are printed.
func AppendLine(dst []byte, ts timestamp.Timestamp, fields []sensor.Field, readings []sensor.Reading) []byte {
	dst = strconv.AppendUint(dst, uint64(ts.Millis), 10)
	dst = append(dst, '\t')
	dst = strconv.AppendUint(dst, uint64(ts.Micros), 10)
	for i := range readings {
		r := &readings[i]
		for _, f := range fields {
			dst = append(dst, '\t')
			dst = strconv.AppendFloat(dst, float64(r.Get(f)), 'f', f.Decimals(), 32)
		}
	}
	return append(dst, '\n')
}

// Formatter renders lines into a buffer sized once for the worst case, so
// formatting never allocates after construction.
type Formatter struct {
	fields []sensor.Field
	buf    []byte
}

// NewFormatter creates a Formatter for a fixed field set and channel count.
func NewFormatter(fields []sensor.Field, channels int) *Formatter {
	return &Formatter{
		fields: append([]sensor.Field(nil), fields...),
		buf:    make([]byte, 0, LineCapacity(channels, len(fields))),
	}
}

// Format returns the line for ts and readings. The result is only valid
// until the next call.
func (f *Formatter) Format(ts timestamp.Timestamp, readings []sensor.Reading) []byte {
	f.buf = AppendLine(f.buf[:0], ts, f.fields, readings)
	return f.buf
}

// Record is one decoded line.
type Record struct {
	Millis   uint32
	Micros   uint16
	Channels []sensor.Reading
}

// Timestamp returns the node timestamp of the record.
func (r Record) Timestamp() timestamp.Timestamp {
	return timestamp.Timestamp{Millis: r.Millis, Micros: r.Micros}
}

// Parse decodes a line produced with fields. If channels is not positive,
// the channel count is inferred from the number of fields on the line.
func Parse(line string, fields []sensor.Field, channels int) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Record{}, ErrEmptyLine
	}
	if len(fields) == 0 {
		return Record{}, sensor.ErrNoFields
	}

	parts := strings.Split(line, "\t")
	if channels <= 0 {
		if len(parts) < 2 || (len(parts)-2)%len(fields) != 0 {
			return Record{}, fmt.Errorf("%w: %d", ErrFieldCount, len(parts))
		}
		channels = (len(parts) - 2) / len(fields)
	}
	if want := FieldCount(channels, len(fields)); len(parts) != want {
		return Record{}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(parts), want)
	}

	millis, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("millis: %w", err)
	}
	micros, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return Record{}, fmt.Errorf("micros: %w", err)
	}
	if micros > 999 {
		return Record{}, fmt.Errorf("micros out of range: %d", micros)
	}

	rec := Record{
		Millis:   uint32(millis),
		Micros:   uint16(micros),
		Channels: make([]sensor.Reading, channels),
	}
	idx := 2
	for ch := range rec.Channels {
		for _, f := range fields {
			v, err := strconv.ParseFloat(parts[idx], 32)
			if err != nil {
				return Record{}, fmt.Errorf("channel %d %s: %w", ch+1, f, err)
			}
			rec.Channels[ch][f] = float32(v)
			idx++
		}
	}
	return rec, nil
}
