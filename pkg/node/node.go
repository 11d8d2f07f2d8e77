// Package node assembles a hosted acquisition node: a byte stream for
// commands and lines, a channel set and the control loop driving them.
package node

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/command"
	"github.com/itohio/gowindfarm/pkg/daq"
	"github.com/itohio/gowindfarm/pkg/monitor"
	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/itohio/gowindfarm/pkg/timestamp"
)

// Options configures a Session.
type Options struct {
	Identity      string
	CommandPeriod time.Duration
	LineBuffer    int
	Idle          time.Duration
	Fields        []sensor.Field

	Log     logrus.FieldLogger
	Metrics *monitor.Metrics    // optional
	OnLine  []func(line []byte) // extra line consumers, e.g. a mirror
}

// Session is one running node.
type Session[P sensor.Peripheral] struct {
	Controller *daq.Controller[P]

	clock  *timestamp.Service
	stream *command.StreamSource
	cmds   *command.Channel
	idle   time.Duration
	log    logrus.FieldLogger
	m      *monitor.Metrics
}

// New builds a Session reading commands from in and writing lines to out.
// addrs and devs are matched by index; devs must already be configured.
// The command reader runs until ctx is done or in fails.
func New[P sensor.Peripheral](ctx context.Context, in io.Reader, out io.Writer, addrs []uint16, devs []P, opts Options) (*Session[P], error) {
	if opts.Log == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		opts.Log = log
	}
	if len(opts.Fields) == 0 {
		opts.Fields = sensor.DefaultFields
	}

	set, err := sensor.NewSet(opts.Fields, addrs, devs)
	if err != nil {
		return nil, fmt.Errorf("sensor set: %w", err)
	}

	s := &Session[P]{
		clock:  timestamp.New(timestamp.NewMonotonic(0)),
		stream: command.NewStreamSource(ctx, in, 0),
		idle:   opts.Idle,
		log:    opts.Log,
		m:      opts.Metrics,
	}
	s.cmds = command.NewChannel(s.stream, opts.LineBuffer)
	s.Controller = daq.New[P](s, s.cmds, set, out, daq.Options{
		Identity:      opts.Identity,
		CommandPeriod: opts.CommandPeriod,
	})

	s.Controller.OnCommand(func(cmd command.Command) {
		s.log.WithField("command", cmd).Debug("Command")
	})
	s.Controller.OnStateChange(func(st daq.State) {
		s.log.WithField("state", st).Info("DAQ state changed")
	})
	s.Controller.OnError(func(err error) {
		s.log.WithError(err).Warn("Control loop pass failed")
	})
	if s.m != nil {
		s.Controller.OnCommand(s.m.Command)
		s.Controller.OnStateChange(s.m.State)
		s.Controller.OnLine(s.m.Line)
		s.Controller.OnError(s.m.Error)
	}
	for _, fn := range opts.OnLine {
		s.Controller.OnLine(fn)
	}

	return s, nil
}

// Now implements daq.Clock.
func (s *Session[P]) Now() timestamp.Timestamp {
	ts := s.clock.Now()
	if s.m != nil {
		s.m.Retries(s.clock.Retries())
	}
	return ts
}

// Run drives the control loop until ctx is done or the command stream
// ends. A closed stream is not an error.
func (s *Session[P]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.stream.Done():
			if err := s.stream.Err(); err != nil && err != io.EOF && ctx.Err() == nil {
				s.log.WithError(err).Error("Command stream failed")
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.Controller.Run(ctx, s.idle)
	if s.cmds.Dropped() > 0 {
		s.log.WithField("lines", s.cmds.Dropped()).Warn("Overlong command lines discarded")
	}
	if err == context.Canceled {
		return nil
	}
	return err
}

// Simulated creates one simulated generator per address. Channels get
// staggered gust phases so they do not read identically.
func Simulated(cfg sensor.SimConfig, addrs []uint16) []*sensor.Simulated {
	devs := make([]*sensor.Simulated, len(addrs))
	for i := range addrs {
		c := cfg
		c.Phase = cfg.Phase + float32(i)*0.4
		devs[i] = sensor.NewSimulated(c, nil)
	}
	return devs
}
