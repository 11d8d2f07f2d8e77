package daq

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itohio/gowindfarm/pkg/command"
	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/itohio/gowindfarm/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ts timestamp.Timestamp }

func (c *fakeClock) Now() timestamp.Timestamp { return c.ts }

func (c *fakeClock) advance(ms uint32) { c.ts.Millis += ms }

type fakeCommands struct {
	queue []command.Command
	polls int
}

func (f *fakeCommands) Poll() (command.Command, bool) {
	f.polls++
	if len(f.queue) == 0 {
		return command.Toggle, false
	}
	cmd := f.queue[0]
	f.queue = f.queue[1:]
	return cmd, true
}

func (f *fakeCommands) push(tokens ...string) {
	for _, t := range tokens {
		f.queue = append(f.queue, command.Parse(t))
	}
}

type fakeChannel struct {
	ready   bool
	reading sensor.Reading
	resets  int
	err     error
}

func (f *fakeChannel) ConversionReady() (bool, error)     { return f.ready, nil }
func (f *fakeChannel) ReadCurrent() (float32, error)      { return f.reading[sensor.Current], f.err }
func (f *fakeChannel) ReadBusVoltage() (float32, error)   { return f.reading[sensor.BusVoltage], f.err }
func (f *fakeChannel) ReadShuntVoltage() (float32, error) { return f.reading[sensor.ShuntVoltage], f.err }
func (f *fakeChannel) ReadPower() (float32, error)        { return f.reading[sensor.Power], f.err }
func (f *fakeChannel) ReadEnergy() (float32, error)       { return f.reading[sensor.Energy], f.err }
func (f *fakeChannel) ReadDieTemp() (float32, error)      { return f.reading[sensor.DieTemp], f.err }
func (f *fakeChannel) ResetAccumulator() error            { f.resets++; return nil }

type harness struct {
	clock *fakeClock
	cmds  *fakeCommands
	chans []*fakeChannel
	out   *bytes.Buffer
	ctl   *Controller[*fakeChannel]
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{},
		cmds:  &fakeCommands{},
		out:   &bytes.Buffer{},
	}
	addrs := make([]uint16, n)
	for i := 0; i < n; i++ {
		ch := &fakeChannel{}
		ch.reading[sensor.Current] = 12.34
		ch.reading[sensor.BusVoltage] = 4950.10
		ch.reading[sensor.Energy] = 0.00123
		h.chans = append(h.chans, ch)
		addrs[i] = uint16(0x40 + i)
	}
	set, err := sensor.NewSet(sensor.DefaultFields, addrs, h.chans)
	require.NoError(t, err)
	h.ctl = New(h.clock, h.cmds, set, h.out, Options{})
	return h
}

// pass advances the clock past the command period and runs one Step.
func (h *harness) pass(t *testing.T) {
	t.Helper()
	h.clock.advance(uint32(DefaultCommandPeriod / time.Millisecond))
	require.NoError(t, h.ctl.Step())
}

func (h *harness) setReady(ready bool) {
	for _, ch := range h.chans {
		ch.ready = ready
	}
}

func TestApply_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		token string
		want  State
	}{
		{"on from idle", Idle, "on", Running},
		{"on is idempotent", Running, "on", Running},
		{"off from running", Running, "off", Idle},
		{"off is idempotent", Idle, "off", Idle},
		{"reset keeps idle", Idle, "r", Idle},
		{"reset keeps running", Running, "r", Running},
		{"identify stops", Running, "id?", Idle},
		{"identify from idle", Idle, "id?", Idle},
		{"unknown toggles idle", Idle, "xyz", Running},
		{"unknown toggles running", Running, "xyz", Idle},
		{"case sensitive", Idle, "ON", Running},
		{"empty toggles", Idle, "", Running},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			h.ctl.state = tt.from
			require.NoError(t, h.ctl.Apply(command.Parse(tt.token)))
			assert.Equal(t, tt.want, h.ctl.State())
		})
	}
}

func TestApply_ToggleTwiceRestores(t *testing.T) {
	for _, start := range []State{Idle, Running} {
		h := newHarness(t, 1)
		h.ctl.state = start
		require.NoError(t, h.ctl.Apply(command.Toggle))
		require.NoError(t, h.ctl.Apply(command.Toggle))
		assert.Equal(t, start, h.ctl.State())
	}
}

func TestApply_ResetAllChannelsAnyState(t *testing.T) {
	for _, start := range []State{Idle, Running} {
		h := newHarness(t, 3)
		h.ctl.state = start
		require.NoError(t, h.ctl.Apply(command.Reset))
		for i, ch := range h.chans {
			assert.Equal(t, 1, ch.resets, "channel %d", i)
		}
		assert.Equal(t, start, h.ctl.State())
	}
}

func TestApply_Identify(t *testing.T) {
	h := newHarness(t, 1)
	h.ctl.state = Running
	require.NoError(t, h.ctl.Apply(command.Identify))
	assert.Equal(t, DefaultIdentity+"\n", h.out.String())
	assert.Equal(t, Idle, h.ctl.State())
}

func TestScenario_OnThenSample(t *testing.T) {
	h := newHarness(t, 3)
	h.cmds.push("on")
	h.pass(t)
	assert.Equal(t, Running, h.ctl.State())
	assert.Empty(t, h.out.String(), "no conversion ready yet")

	h.setReady(true)
	h.clock.ts = timestamp.Timestamp{Millis: 1000, Micros: 250}
	require.NoError(t, h.ctl.Step())

	assert.Equal(t,
		"1000\t250\t12.34\t4950.10\t0.00123\t12.34\t4950.10\t0.00123\t12.34\t4950.10\t0.00123\n",
		h.out.String())
}

func TestScenario_OffSuppressesOutput(t *testing.T) {
	h := newHarness(t, 2)
	h.ctl.state = Running
	h.setReady(true)
	h.cmds.push("off")

	h.pass(t)
	assert.Equal(t, Idle, h.ctl.State())
	assert.Empty(t, h.out.String())

	h.pass(t)
	assert.Empty(t, h.out.String())
}

func TestScenario_UnknownTokenToggles(t *testing.T) {
	h := newHarness(t, 1)
	h.cmds.push("xyz")
	h.pass(t)
	assert.Equal(t, Running, h.ctl.State())

	h.cmds.push("xyz")
	h.pass(t)
	assert.Equal(t, Idle, h.ctl.State())
}

func TestStep_CommandTakesEffectSamePass(t *testing.T) {
	h := newHarness(t, 1)
	h.setReady(true)
	h.cmds.push("on")
	h.pass(t)
	assert.Equal(t, 1, bytes.Count(h.out.Bytes(), []byte("\n")))
}

func TestStep_FirstChannelGates(t *testing.T) {
	h := newHarness(t, 3)
	h.ctl.state = Running
	h.chans[1].ready = true
	h.chans[2].ready = true

	h.pass(t)
	assert.Empty(t, h.out.String())

	h.chans[0].ready = true
	h.pass(t)
	assert.NotEmpty(t, h.out.String())
}

func TestStep_CommandCadence(t *testing.T) {
	h := newHarness(t, 1)
	h.cmds.push("on", "off")

	for i := 0; i < 19; i++ {
		h.clock.advance(1)
		require.NoError(t, h.ctl.Step())
	}
	assert.Zero(t, h.cmds.polls)
	assert.Equal(t, Idle, h.ctl.State())

	h.clock.advance(1)
	require.NoError(t, h.ctl.Step())
	assert.Equal(t, 1, h.cmds.polls)
	assert.Equal(t, Running, h.ctl.State(), "one command per poll")

	require.NoError(t, h.ctl.Step())
	assert.Equal(t, 1, h.cmds.polls)

	h.clock.advance(20)
	require.NoError(t, h.ctl.Step())
	assert.Equal(t, Idle, h.ctl.State())
}

func TestStep_SampleErrorEmitsNothing(t *testing.T) {
	h := newHarness(t, 2)
	h.ctl.state = Running
	h.setReady(true)
	h.chans[1].err = errors.New("nack")

	var lines int
	h.ctl.OnLine(func([]byte) { lines++ })

	h.clock.advance(1)
	assert.Error(t, h.ctl.Step())
	assert.Empty(t, h.out.String())
	assert.Zero(t, lines)
}

func TestHooks(t *testing.T) {
	h := newHarness(t, 1)
	h.setReady(true)

	var states []State
	var cmds []command.Command
	var lines []string
	h.ctl.OnStateChange(func(s State) { states = append(states, s) })
	h.ctl.OnCommand(func(c command.Command) { cmds = append(cmds, c) })
	h.ctl.OnLine(func(b []byte) { lines = append(lines, string(b)) })

	h.cmds.push("on", "on", "off")
	h.pass(t)
	h.pass(t)
	h.pass(t)

	assert.Equal(t, []State{Running, Idle}, states, "no notification without a change")
	assert.Equal(t, []command.Command{command.On, command.On, command.Off}, cmds)
	assert.Len(t, lines, 2)
	assert.Equal(t, h.out.String(), lines[0]+lines[1])
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, 1)
	h.setReady(true)
	h.chans[0].err = errors.New("nack")
	h.ctl.state = Running

	ctx, cancel := context.WithCancel(context.Background())
	var errs int
	h.ctl.OnError(func(error) {
		errs++
		if errs == 3 {
			cancel()
		}
	})

	err := h.ctl.Run(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, errs)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
}
