package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeripheral struct {
	ready   bool
	values  Reading
	resets  int
	readErr error
	rstErr  error
	reads   []Field
}

func (f *fakePeripheral) ConversionReady() (bool, error) { return f.ready, nil }

func (f *fakePeripheral) get(field Field) (float32, error) {
	f.reads = append(f.reads, field)
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.values[field], nil
}

func (f *fakePeripheral) ReadCurrent() (float32, error)      { return f.get(Current) }
func (f *fakePeripheral) ReadBusVoltage() (float32, error)   { return f.get(BusVoltage) }
func (f *fakePeripheral) ReadShuntVoltage() (float32, error) { return f.get(ShuntVoltage) }
func (f *fakePeripheral) ReadPower() (float32, error)        { return f.get(Power) }
func (f *fakePeripheral) ReadEnergy() (float32, error)       { return f.get(Energy) }
func (f *fakePeripheral) ReadDieTemp() (float32, error)      { return f.get(DieTemp) }

func (f *fakePeripheral) ResetAccumulator() error {
	f.resets++
	return f.rstErr
}

func newFakes(n int) ([]*fakePeripheral, []uint16) {
	devs := make([]*fakePeripheral, n)
	addrs := make([]uint16, n)
	for i := range devs {
		devs[i] = &fakePeripheral{}
		devs[i].values[Current] = float32(i + 1)
		devs[i].values[BusVoltage] = float32(1000 * (i + 1))
		devs[i].values[Energy] = float32(i+1) / 100
		addrs[i] = uint16(0x40 + i)
	}
	return devs, addrs
}

func TestNewSet_Validation(t *testing.T) {
	devs, addrs := newFakes(MaxChannels + 1)

	_, err := NewSet(DefaultFields, nil, []*fakePeripheral{})
	assert.ErrorIs(t, err, ErrNoChannels)

	_, err = NewSet(DefaultFields, addrs, devs)
	assert.ErrorIs(t, err, ErrTooManyChannels)

	_, err = NewSet(DefaultFields, addrs[:2], devs[:3])
	assert.ErrorIs(t, err, ErrAddressMismatch)

	_, err = NewSet(nil, addrs[:3], devs[:3])
	assert.ErrorIs(t, err, ErrNoFields)

	set, err := NewSet(DefaultFields, addrs[:3], devs[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, uint16(0x41), set.Channel(1).Address)
	assert.Equal(t, DefaultFields, set.Fields())
}

func TestSet_ReadyGatesOnFirstChannel(t *testing.T) {
	devs, addrs := newFakes(3)
	set, err := NewSet(DefaultFields, addrs, devs)
	require.NoError(t, err)

	devs[1].ready = true
	devs[2].ready = true
	ready, err := set.Ready()
	require.NoError(t, err)
	assert.False(t, ready)

	devs[0].ready = true
	ready, err = set.Ready()
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestSet_SampleReadsActiveFieldsInOrder(t *testing.T) {
	devs, addrs := newFakes(2)
	set, err := NewSet(DefaultFields, addrs, devs)
	require.NoError(t, err)

	readings, err := set.Sample()
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, float32(1), readings[0].Get(Current))
	assert.Equal(t, float32(2000), readings[1].Get(BusVoltage))
	assert.Equal(t, float32(0.02), readings[1].Get(Energy))
	assert.Equal(t, float32(0), readings[0].Get(Power), "inactive fields are not read")
	assert.Equal(t, []Field{Current, BusVoltage, Energy}, devs[0].reads)
}

func TestSet_SampleError(t *testing.T) {
	devs, addrs := newFakes(2)
	devs[1].readErr = errors.New("i2c nack")
	set, err := NewSet(DefaultFields, addrs, devs)
	require.NoError(t, err)

	_, err = set.Sample()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x41")
	assert.Contains(t, err.Error(), "i2c nack")
}

func TestSet_ResetAccumulatorsAllChannels(t *testing.T) {
	devs, addrs := newFakes(3)
	devs[0].rstErr = errors.New("bus busy")
	set, err := NewSet(DefaultFields, addrs, devs)
	require.NoError(t, err)

	err = set.ResetAccumulators()
	assert.Error(t, err)
	for i, d := range devs {
		assert.Equal(t, 1, d.resets, "channel %d", i)
	}
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields([]string{"current", "bus_voltage", "energy", "power"})
	require.NoError(t, err)
	assert.Equal(t, []Field{Current, BusVoltage, Energy, Power}, fields)

	_, err = ParseFields([]string{"current", "current"})
	assert.Error(t, err)

	_, err = ParseFields([]string{"voltage"})
	assert.Error(t, err)
}

func TestField_Format(t *testing.T) {
	assert.Equal(t, 2, Current.Decimals())
	assert.Equal(t, 2, BusVoltage.Decimals())
	assert.Equal(t, 5, Energy.Decimals())
	assert.Equal(t, 3, ShuntVoltage.Decimals())
	assert.Equal(t, "mA", Current.Unit())
	assert.Equal(t, "energy", Energy.String())
	assert.Equal(t, "field(42)", Field(42).String())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestSimulated_ConversionCadence(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sim := NewSimulated(SimConfig{SampleRate: 10 * time.Millisecond, PeakCurrent: 100, PeakVoltage: 5000}, clk.now)

	ready, err := sim.ConversionReady()
	require.NoError(t, err)
	assert.False(t, ready)

	clk.t = clk.t.Add(5 * time.Millisecond)
	ready, _ = sim.ConversionReady()
	assert.False(t, ready)

	clk.t = clk.t.Add(5 * time.Millisecond)
	ready, _ = sim.ConversionReady()
	assert.True(t, ready)

	ready, _ = sim.ConversionReady()
	assert.False(t, ready, "flag clears after being read")
}

func TestSimulated_EnergyAccumulatesAndResets(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sim := NewSimulated(SimConfig{PeakCurrent: 100, PeakVoltage: 5000}, clk.now)

	for i := 0; i < 100; i++ {
		clk.t = clk.t.Add(10 * time.Millisecond)
		_, _ = sim.ConversionReady()
	}

	e, err := sim.ReadEnergy()
	require.NoError(t, err)
	assert.Greater(t, e, float32(0))
	// At most peak power (0.5 W) for one second.
	assert.LessOrEqual(t, e, float32(0.5*1.05))

	i, _ := sim.ReadCurrent()
	v, _ := sim.ReadBusVoltage()
	p, _ := sim.ReadPower()
	assert.InDelta(t, i*v/1e3, p, 1e-3)
	vs, _ := sim.ReadShuntVoltage()
	assert.InDelta(t, i*0.015, vs, 1e-4)

	require.NoError(t, sim.ResetAccumulator())
	e, _ = sim.ReadEnergy()
	assert.Equal(t, float32(0), e)
}
