// Package mirror republishes emitted data lines to an MQTT broker.
package mirror

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/config"
)

// DefaultQueueSize is the number of lines buffered ahead of the broker.
const DefaultQueueSize = 256

type publishFunc func(topic string, payload []byte) error

// Mirror publishes lines from a background worker so that a slow or
// unreachable broker never stalls the control loop. Lines that do not fit
// in the queue are dropped.
type Mirror struct {
	publish publishFunc
	topic   string
	log     logrus.FieldLogger

	queue   chan []byte
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64

	disconnect func()
}

// New connects to the broker described by cfg.
func New(cfg config.MQTTConfig, log logrus.FieldLogger) (*Mirror, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	log.Infof("Mirroring lines to %s topic %s", cfg.Server, cfg.Topic)

	m := newMirror(func(topic string, payload []byte) error {
		token := client.Publish(topic, 0, false, payload)
		token.Wait()
		return token.Error()
	}, cfg.Topic, DefaultQueueSize, log)
	m.disconnect = func() { client.Disconnect(250) }
	return m, nil
}

func newMirror(publish publishFunc, topic string, size int, log logrus.FieldLogger) *Mirror {
	if size <= 0 {
		size = DefaultQueueSize
	}
	m := &Mirror{
		publish: publish,
		topic:   topic,
		log:     log,
		queue:   make(chan []byte, size),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Line queues a copy of line, without its terminator, for publication.
// It never blocks. Line must not be called after Close.
func (m *Mirror) Line(line []byte) {
	payload := bytes.Clone(bytes.TrimRight(line, "\r\n"))
	select {
	case m.queue <- payload:
	default:
		if m.dropped.Add(1) == 1 {
			m.log.Warn("MQTT queue full, dropping lines")
		}
	}
}

// Dropped returns the number of lines dropped because the queue was full.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Failed returns the number of lines the broker rejected.
func (m *Mirror) Failed() uint64 {
	return m.failed.Load()
}

// Close publishes the queued lines and disconnects.
func (m *Mirror) Close() error {
	close(m.queue)
	m.wg.Wait()
	if m.disconnect != nil {
		m.disconnect()
	}
	return nil
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for payload := range m.queue {
		if err := m.publish(m.topic, payload); err != nil {
			m.failed.Add(1)
			m.log.WithError(err).Debug("MQTT publish failed")
		}
	}
}
