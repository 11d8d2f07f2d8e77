// Package daq implements the acquisition control loop of a node: command
// dispatch, the Idle/Running state machine and per-cycle sampling.
package daq

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/itohio/gowindfarm/pkg/command"
	"github.com/itohio/gowindfarm/pkg/record"
	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/itohio/gowindfarm/pkg/timestamp"
)

const (
	// DefaultCommandPeriod is how often the command channel is polled.
	DefaultCommandPeriod = 20 * time.Millisecond
	// DefaultIdentity is the reply to the identify command.
	DefaultIdentity = "Arduino, Wind Farm"
)

// State is the acquisition state.
type State uint8

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Clock provides control-loop timestamps.
type Clock interface {
	Now() timestamp.Timestamp
}

// Commands yields at most one decoded command per poll without blocking.
type Commands interface {
	Poll() (command.Command, bool)
}

// Options configures a Controller.
type Options struct {
	Identity      string
	CommandPeriod time.Duration
}

// Controller owns the acquisition session: the state, the channel set and
// the output stream. All methods must be called from one goroutine.
type Controller[P sensor.Peripheral] struct {
	clock    Clock
	commands Commands
	set      *sensor.Set[P]
	out      io.Writer
	lines    *record.Formatter

	identity string
	period   time.Duration

	state    State
	lastPoll timestamp.Timestamp

	onStateChange []func(State)
	onCommand     []func(command.Command)
	onLine        []func([]byte)
	onError       []func(error)
}

// New creates a Controller in the Idle state.
func New[P sensor.Peripheral](clock Clock, commands Commands, set *sensor.Set[P], out io.Writer, opts Options) *Controller[P] {
	if opts.Identity == "" {
		opts.Identity = DefaultIdentity
	}
	if opts.CommandPeriod <= 0 {
		opts.CommandPeriod = DefaultCommandPeriod
	}

	return &Controller[P]{
		clock:    clock,
		commands: commands,
		set:      set,
		out:      out,
		lines:    record.NewFormatter(set.Fields(), set.Len()),
		identity: opts.Identity,
		period:   opts.CommandPeriod,
		state:    Idle,
		lastPoll: clock.Now(),
	}
}

// State returns the current acquisition state.
func (c *Controller[P]) State() State {
	return c.state
}

// OnStateChange registers a callback invoked after every state change.
func (c *Controller[P]) OnStateChange(fn func(State)) {
	c.onStateChange = append(c.onStateChange, fn)
}

// OnCommand registers a callback invoked for every applied command.
func (c *Controller[P]) OnCommand(fn func(command.Command)) {
	c.onCommand = append(c.onCommand, fn)
}

// OnLine registers a callback invoked with every emitted line. The slice is
// only valid for the duration of the call.
func (c *Controller[P]) OnLine(fn func([]byte)) {
	c.onLine = append(c.onLine, fn)
}

// OnError registers a callback for errors that Run recovers from.
func (c *Controller[P]) OnError(fn func(error)) {
	c.onError = append(c.onError, fn)
}

// Apply executes one command. State changes take effect immediately.
func (c *Controller[P]) Apply(cmd command.Command) error {
	for _, fn := range c.onCommand {
		fn(cmd)
	}

	switch cmd {
	case command.Identify:
		_, err := io.WriteString(c.out, c.identity+"\n")
		c.setState(Idle)
		if err != nil {
			return fmt.Errorf("write identity: %w", err)
		}
	case command.Reset:
		return c.set.ResetAccumulators()
	case command.On:
		c.setState(Running)
	case command.Off:
		c.setState(Idle)
	default:
		if c.state == Running {
			c.setState(Idle)
		} else {
			c.setState(Running)
		}
	}
	return nil
}

func (c *Controller[P]) setState(s State) {
	if s == c.state {
		return
	}
	c.state = s
	for _, fn := range c.onStateChange {
		fn(s)
	}
}

// Step runs one control-loop pass: poll for a command if the command period
// has elapsed, then sample and emit one line if Running and the first
// channel has a conversion ready. It never blocks on the peripherals.
func (c *Controller[P]) Step() error {
	now := c.clock.Now()

	if now.Sub(c.lastPoll) >= c.period {
		c.lastPoll = now
		if cmd, ok := c.commands.Poll(); ok {
			if err := c.Apply(cmd); err != nil {
				return fmt.Errorf("%s: %w", cmd, err)
			}
		}
	}

	if c.state != Running {
		return nil
	}

	ready, err := c.set.Ready()
	if err != nil || !ready {
		return err
	}

	readings, err := c.set.Sample()
	if err != nil {
		return err
	}

	line := c.lines.Format(now, readings)
	if _, err := c.out.Write(line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	for _, fn := range c.onLine {
		fn(line)
	}
	return nil
}

// Run repeats Step until ctx is done, pausing idle between passes. Step
// errors are handed to the OnError callbacks and the loop continues.
func (c *Controller[P]) Run(ctx context.Context, idle time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.Step(); err != nil {
			for _, fn := range c.onError {
				fn(err)
			}
		}

		if idle > 0 {
			time.Sleep(idle)
		}
	}
}
