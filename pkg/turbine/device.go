// Package turbine is the host side of the serial link to a wind farm node.
package turbine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/gowindfarm/pkg/command"
	"github.com/itohio/gowindfarm/pkg/record"
	"github.com/itohio/gowindfarm/pkg/sensor"
)

const (
	// DefaultBaudRate is the baud rate of the node's USB serial port.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the records channel buffer.
	DefaultBufferSize = 100

	repliesSize = 8
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrTimeout          = errors.New("no reply from node")
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Options configures a connection to a node.
type Options struct {
	BaudRate   int
	BufferSize int
	Fields     []sensor.Field // Field set the node reports, defaults to sensor.DefaultFields
	Channels   int            // Expected channel count, 0 to infer from each line
	Identity   string         // Identity reported by a simulated node
	Log        logrus.FieldLogger
}

func (o *Options) setDefaults() {
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.BufferSize == 0 {
		o.BufferSize = DefaultBufferSize
	}
	if len(o.Fields) == 0 {
		o.Fields = sensor.DefaultFields
	}
	if o.Log == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		o.Log = log
	}
}

// Serial represents a connection to a node over a byte stream.
type Serial struct {
	opts Options
	open func() (io.ReadWriteCloser, error)
	log  logrus.FieldLogger

	conn      io.ReadWriteCloser
	records   chan record.Record
	replies   chan string
	done      chan struct{}
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a Serial that opens the named serial port on Connect.
func New(port string, opts Options) *Serial {
	opts.setDefaults()
	return newSerial(opts, func() (io.ReadWriteCloser, error) {
		p, err := serial.Open(port, &serial.Mode{BaudRate: opts.BaudRate})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
		}
		return p, nil
	})
}

// NewWithConn creates a Serial over an already open stream, e.g. a TCP
// bridge or a pipe.
func NewWithConn(conn io.ReadWriteCloser, opts Options) *Serial {
	opts.setDefaults()
	return newSerial(opts, func() (io.ReadWriteCloser, error) {
		return conn, nil
	})
}

func newSerial(opts Options, open func() (io.ReadWriteCloser, error)) *Serial {
	ctx, cancel := context.WithCancel(context.Background())
	return &Serial{
		opts:    opts,
		open:    open,
		log:     opts.Log,
		records: make(chan record.Record, opts.BufferSize),
		replies: make(chan string, repliesSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, p := range ports {
		desc := p.Name
		if p.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.Product)
		}
		result = append(result, Port{
			Name:        p.Name,
			Description: desc,
		})
	}

	return result, nil
}

// Connect opens the stream and starts reading records.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}
	if d.ctx.Err() != nil {
		return errors.New("connection already closed")
	}

	conn, err := d.open()
	if err != nil {
		return err
	}

	d.conn = conn
	d.connected = true

	go d.readRecords()

	return nil
}

// Close closes the connection. The records channel is closed once the
// reader has stopped.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()
	var err error
	if d.conn != nil {
		err = d.conn.Close()
	}
	d.connected = false
	d.mu.Unlock()

	<-d.done
	return err
}

// Records returns the channel of decoded data lines.
func (d *Serial) Records() <-chan record.Record {
	return d.records
}

// TurnOn starts acquisition.
func (d *Serial) TurnOn() error {
	return d.send(command.TokenOn)
}

// TurnOff stops acquisition.
func (d *Serial) TurnOff() error {
	return d.send(command.TokenOff)
}

// ResetAccumulators resets the energy accumulators of all channels.
func (d *Serial) ResetAccumulators() error {
	return d.send(command.TokenReset)
}

// Identify asks the node for its identity. The node stops acquisition
// when it answers.
func (d *Serial) Identify(timeout time.Duration) (string, error) {
drain:
	for {
		select {
		case <-d.replies:
		default:
			break drain
		}
	}

	if err := d.send(command.TokenIdentify); err != nil {
		return "", err
	}

	select {
	case reply := <-d.replies:
		return reply, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	case <-d.ctx.Done():
		return "", ErrNotConnected
	}
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) send(token string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := io.WriteString(d.conn, token+"\n"); err != nil {
		return fmt.Errorf("failed to send %q: %w", token, err)
	}
	return nil
}

// readRecords reads lines from the stream. Data lines go to the records
// channel, anything else is treated as a reply.
func (d *Serial) readRecords() {
	defer close(d.done)
	defer close(d.records)

	scanner := bufio.NewScanner(d.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := record.Parse(line, d.opts.Fields, d.opts.Channels)
		if err != nil {
			d.log.WithField("line", line).Debug("Non-record line")
			select {
			case d.replies <- line:
			default:
			}
			continue
		}

		// Send record to channel (non-blocking)
		select {
		case d.records <- rec:
		case <-d.ctx.Done():
			return
		default:
			d.log.Warn("Records channel full, dropping record")
		}
	}

	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		d.log.WithError(err).Error("Error reading from node")
	}
}
