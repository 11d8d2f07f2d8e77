package turbine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/itohio/gowindfarm/pkg/node"
	"github.com/itohio/gowindfarm/pkg/sensor"
)

// mockIdle is the control loop pause of the simulated node.
const mockIdle = 200 * time.Microsecond

// Mock runs a simulated node in-process and talks to it over pipes, so it
// exercises the same line protocol as a real port.
type Mock struct {
	*Serial

	sim      sensor.SimConfig
	channels int
}

// NewMock creates a simulated node with the given number of channels.
func NewMock(sim sensor.SimConfig, channels int, opts Options) *Mock {
	opts.setDefaults()
	if channels <= 0 {
		channels = 1
	}
	if channels > sensor.MaxChannels {
		channels = sensor.MaxChannels
	}

	m := &Mock{
		sim:      sim,
		channels: channels,
	}
	m.Serial = newSerial(opts, m.start)
	return m
}

// start launches the node and returns the host end of the link.
func (m *Mock) start() (io.ReadWriteCloser, error) {
	hostR, nodeW := io.Pipe()
	nodeR, hostW := io.Pipe()

	addrs := make([]uint16, m.channels)
	for i := range addrs {
		addrs[i] = uint16(0x40 + i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session, err := node.New(ctx, nodeR, nodeW, addrs, node.Simulated(m.sim, addrs), node.Options{
		Identity: m.opts.Identity,
		Fields:   m.opts.Fields,
		Idle:     mockIdle,
		Log:      m.opts.Log,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Run(ctx); err != nil {
			m.log.WithError(err).Error("Simulated node stopped")
		}
		nodeW.Close()
	}()

	return &pipeConn{
		Reader: hostR,
		Writer: hostW,
		close: func() error {
			// Unblock the node's writes before ending its command stream.
			err := errors.Join(hostR.Close(), hostW.Close())
			cancel()
			<-done
			return err
		},
	}, nil
}

type pipeConn struct {
	io.Reader
	io.Writer
	close func() error
}

func (p *pipeConn) Close() error {
	return p.close()
}
