package ina228

import (
	"bytes"
	"errors"
	"testing"

	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ sensor.Peripheral = (*Device)(nil)

// fakeBus emulates the register file of a single INA228.
type fakeBus struct {
	addr   uint16
	regs   map[byte][]byte
	writes map[byte]uint16
	err    error
}

func newFakeBus(addr uint16) *fakeBus {
	return &fakeBus{
		addr: addr,
		regs: map[byte][]byte{
			regManufacture: {0x54, 0x49},
			regDeviceID:    {0x22, 0x81},
			regConfig:      {0x00, 0x00},
		},
		writes: map[byte]uint16{},
	}
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if b.err != nil {
		return b.err
	}
	if addr != b.addr {
		return errors.New("nack")
	}
	reg := w[0]
	if len(w) == 3 {
		v := uint16(w[1])<<8 | uint16(w[2])
		b.writes[reg] = v
		b.regs[reg] = []byte{w[1], w[2]}
		return nil
	}
	data := b.regs[reg]
	for i := range r {
		if i < len(data) {
			r[i] = data[i]
		} else {
			r[i] = 0
		}
	}
	return nil
}

func configured(t *testing.T) (*Device, *fakeBus) {
	t.Helper()
	bus := newFakeBus(0x40)
	dev := New(bus, 0x40)
	require.NoError(t, dev.Configure(DefaultConfig()))
	return dev, bus
}

func TestConfigure(t *testing.T) {
	dev, bus := configured(t)

	// 13107.2e6 * (0.2 / 2^19) * 0.015 * 4
	assert.Equal(t, uint16(300), bus.writes[regShuntCal])
	assert.Equal(t, uint16(configADCRange), bus.writes[regConfig])

	// mode 0xF, 150 us (code 2) on all three channels, averaging 4 (code 1)
	want := uint16(0xF)<<12 | 2<<9 | 2<<6 | 2<<3 | 1
	assert.Equal(t, want, bus.writes[regADCConfig])
	assert.Equal(t, uint16(0x40), dev.Address())
}

func TestConfigure_NotFound(t *testing.T) {
	bus := newFakeBus(0x41)
	dev := New(bus, 0x40)
	err := dev.Configure(DefaultConfig())
	assert.ErrorIs(t, err, ErrNotFound)

	bus = newFakeBus(0x40)
	bus.regs[regDeviceID] = []byte{0x22, 0x70}
	dev = New(bus, 0x40)
	err = dev.Configure(DefaultConfig())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigure_InvalidTiming(t *testing.T) {
	dev := New(newFakeBus(0x40), 0x40)

	cfg := DefaultConfig()
	cfg.ConversionTime = 100
	assert.ErrorIs(t, dev.Configure(cfg), ErrConversionTime)

	cfg = DefaultConfig()
	cfg.Averaging = 3
	assert.ErrorIs(t, dev.Configure(cfg), ErrAveraging)
}

func TestNew_DefaultAddress(t *testing.T) {
	assert.Equal(t, uint16(DefaultAddress), New(nil, 0).Address())
}

func TestReadings(t *testing.T) {
	dev, bus := configured(t)
	lsb := 0.2 / (1 << 19)

	// 1000 counts, left-aligned by 4 bits.
	bus.regs[regCurrent] = []byte{0x00, 0x3E, 0x80}
	i, err := dev.ReadCurrent()
	require.NoError(t, err)
	assert.InDelta(t, 1000*lsb*1e3, i, 1e-4)

	// -1000 counts
	bus.regs[regCurrent] = []byte{0xFF, 0xC1, 0x80}
	i, err = dev.ReadCurrent()
	require.NoError(t, err)
	assert.InDelta(t, -1000*lsb*1e3, i, 1e-4)

	// 25600 counts * 195.3125 uV = 5000 mV
	bus.regs[regVBus] = []byte{0x06, 0x40, 0x00}
	v, err := dev.ReadBusVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 5000, v, 1e-3)

	// 1000 counts * 78.125 nV
	bus.regs[regVShunt] = []byte{0x00, 0x3E, 0x80}
	vs, err := dev.ReadShuntVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 0.078125, vs, 1e-6)

	bus.regs[regPower] = []byte{0x00, 0x03, 0xE8}
	p, err := dev.ReadPower()
	require.NoError(t, err)
	assert.InDelta(t, 3.2*lsb*1000*1e3, p, 1e-4)

	bus.regs[regEnergy] = []byte{0x00, 0x00, 0x00, 0x03, 0xE8}
	e, err := dev.ReadEnergy()
	require.NoError(t, err)
	assert.InDelta(t, 16*3.2*lsb*1000, e, 1e-6)

	// 25 degC = 3200 counts
	bus.regs[regDieTemp] = []byte{0x0C, 0x80}
	temp, err := dev.ReadDieTemp()
	require.NoError(t, err)
	assert.InDelta(t, 25, temp, 1e-3)
}

func TestReadBeforeConfigure(t *testing.T) {
	dev := New(newFakeBus(0x40), 0x40)
	_, err := dev.ReadCurrent()
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = dev.ReadEnergy()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestConversionReady(t *testing.T) {
	dev, bus := configured(t)

	bus.regs[regDiagAlert] = []byte{0x00, 0x00}
	ready, err := dev.ConversionReady()
	require.NoError(t, err)
	assert.False(t, ready)

	bus.regs[regDiagAlert] = []byte{0x00, 0x02}
	ready, err = dev.ConversionReady()
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestResetAccumulator(t *testing.T) {
	dev, bus := configured(t)

	require.NoError(t, dev.ResetAccumulator())
	assert.Equal(t, uint16(configRSTACC|configADCRange), bus.writes[regConfig], "ADC range bit preserved")
}

func TestBusError(t *testing.T) {
	dev, bus := configured(t)
	bus.err = errors.New("bus stuck")

	_, err := dev.ConversionReady()
	assert.Error(t, err)
	assert.Error(t, dev.ResetAccumulator())
}

func TestReport(t *testing.T) {
	dev, _ := configured(t)

	var buf bytes.Buffer
	require.NoError(t, dev.Report(&buf))
	assert.Contains(t, buf.String(), "INA228 at 0x40")
	assert.Contains(t, buf.String(), "Averaging count: 4")
	assert.Contains(t, buf.String(), "Conversion time: 150 us")
}
