// Package sensor manages the ordered set of power-monitor channels the node
// samples every cycle.
package sensor

import (
	"errors"
	"fmt"
)

// MaxChannels is the largest number of channels a node drives.
const MaxChannels = 6

var (
	ErrNoChannels      = errors.New("no channels")
	ErrTooManyChannels = fmt.Errorf("more than %d channels", MaxChannels)
	ErrNoFields        = errors.New("no fields selected")
	ErrAddressMismatch = errors.New("address count does not match device count")
)

// Peripheral is the driver contract of one power monitor. Values are in
// the units documented on Field.
type Peripheral interface {
	ConversionReady() (bool, error)
	ReadCurrent() (float32, error)
	ReadBusVoltage() (float32, error)
	ReadShuntVoltage() (float32, error)
	ReadPower() (float32, error)
	ReadEnergy() (float32, error)
	ReadDieTemp() (float32, error)
	ResetAccumulator() error
}

// Channel is one peripheral and its identity.
type Channel[P Peripheral] struct {
	Address uint16
	Dev     P
}

// Set is a fixed, ordered collection of channels sharing one field set.
// The first channel's conversion-ready flag gates sampling of all channels;
// peripherals are expected to be configured with matching conversion timing.
type Set[P Peripheral] struct {
	channels []Channel[P]
	fields   []Field
	readings []Reading
}

// NewSet builds a Set. addrs and devs are matched by index.
func NewSet[P Peripheral](fields []Field, addrs []uint16, devs []P) (*Set[P], error) {
	switch {
	case len(devs) == 0:
		return nil, ErrNoChannels
	case len(devs) > MaxChannels:
		return nil, ErrTooManyChannels
	case len(addrs) != len(devs):
		return nil, ErrAddressMismatch
	case len(fields) == 0:
		return nil, ErrNoFields
	}

	s := &Set[P]{
		channels: make([]Channel[P], len(devs)),
		fields:   append([]Field(nil), fields...),
		readings: make([]Reading, len(devs)),
	}
	for i := range devs {
		s.channels[i] = Channel[P]{Address: addrs[i], Dev: devs[i]}
	}
	return s, nil
}

// Len returns the number of channels.
func (s *Set[P]) Len() int {
	return len(s.channels)
}

// Fields returns the active field set in output order.
func (s *Set[P]) Fields() []Field {
	return s.fields
}

// Channel returns the i-th channel.
func (s *Set[P]) Channel(i int) Channel[P] {
	return s.channels[i]
}

// Ready reports whether the first channel has a new conversion available.
func (s *Set[P]) Ready() (bool, error) {
	ready, err := s.channels[0].Dev.ConversionReady()
	if err != nil {
		return false, fmt.Errorf("channel 0x%02x conversion ready: %w", s.channels[0].Address, err)
	}
	return ready, nil
}

// Sample reads the active fields of every channel in order. The returned
// slice is owned by the Set and overwritten by the next call.
func (s *Set[P]) Sample() ([]Reading, error) {
	for i := range s.channels {
		ch := &s.channels[i]
		r := &s.readings[i]
		for _, f := range s.fields {
			v, err := read(ch.Dev, f)
			if err != nil {
				return nil, fmt.Errorf("channel 0x%02x %s: %w", ch.Address, f, err)
			}
			r[f] = v
		}
	}
	return s.readings, nil
}

// ResetAccumulators resets the energy accumulator of every channel. All
// channels are attempted even if one fails.
func (s *Set[P]) ResetAccumulators() error {
	var errs []error
	for _, ch := range s.channels {
		if err := ch.Dev.ResetAccumulator(); err != nil {
			errs = append(errs, fmt.Errorf("channel 0x%02x reset accumulator: %w", ch.Address, err))
		}
	}
	return errors.Join(errs...)
}

func read[P Peripheral](dev P, f Field) (float32, error) {
	switch f {
	case Current:
		return dev.ReadCurrent()
	case BusVoltage:
		return dev.ReadBusVoltage()
	case Energy:
		return dev.ReadEnergy()
	case ShuntVoltage:
		return dev.ReadShuntVoltage()
	case Power:
		return dev.ReadPower()
	case DieTemp:
		return dev.ReadDieTemp()
	}
	return 0, fmt.Errorf("unknown field %d", f)
}
