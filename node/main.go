// Command node runs a wind farm acquisition node on Linux: INA228 channels
// on an I2C bus, commands and data lines over a serial port or stdio.
package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/itohio/gowindfarm/pkg/config"
	"github.com/itohio/gowindfarm/pkg/ina228"
	"github.com/itohio/gowindfarm/pkg/mirror"
	"github.com/itohio/gowindfarm/pkg/monitor"
	"github.com/itohio/gowindfarm/pkg/node"
	"github.com/itohio/gowindfarm/pkg/sensor"
)

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		portFlag     = flag.String("p", "", "Serial port override, - for stdin/stdout")
		simulateFlag = flag.Bool("simulate", false, "Use simulated generators instead of INA228 channels")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *simulateFlag {
		cfg.Sensors.Simulate = true
	}

	log := monitor.NewLogger(cfg.Log, os.Stderr)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	fields, _ := cfg.Sensors.FieldSet()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, err := openLink(cfg.Serial)
	if err != nil {
		log.Fatalf("Failed to open link: %v", err)
	}
	defer link.Close()

	opts := node.Options{
		Identity:      cfg.Node.Identity,
		CommandPeriod: cfg.Node.CommandPeriod,
		LineBuffer:    cfg.Node.LineBuffer,
		Idle:          cfg.Node.Idle,
		Fields:        fields,
		Log:           log,
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Metrics = monitor.NewMetrics(reg)
		go func() {
			if err := monitor.Serve(ctx, cfg.Metrics.Listen, reg, log); err != nil {
				log.Errorf("Metrics server: %v", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		m, err := mirror.New(cfg.MQTT, log)
		if err != nil {
			// The mirror is optional; the serial stream runs without it.
			log.Errorf("MQTT mirror disabled: %v", err)
		} else {
			defer m.Close()
			opts.OnLine = append(opts.OnLine, m.Line)
		}
	}

	addrs := cfg.Sensors.Addresses()
	if cfg.Sensors.Simulate {
		log.Infof("Simulating %d channels", len(addrs))
		devs := node.Simulated(cfg.Mock.SimConfig(cfg.Sensors.ShuntResistance), addrs)
		err = run(ctx, link, addrs, devs, opts)
	} else {
		devs := openChannels(cfg.Sensors, addrs, log)
		err = run(ctx, link, addrs, devs, opts)
	}
	if err != nil {
		log.Fatalf("Node stopped: %v", err)
	}
	log.Info("Node stopped")
}

func run[P sensor.Peripheral](ctx context.Context, link io.ReadWriter, addrs []uint16, devs []P, opts node.Options) error {
	s, err := node.New(ctx, link, link, addrs, devs, opts)
	if err != nil {
		return err
	}
	opts.Log.Infof("Node ready: %d channels, fields %v", len(addrs), opts.Fields)
	return s.Run(ctx)
}

// openChannels configures every INA228. Any failure is fatal: a missing
// sensor makes the whole record meaningless.
func openChannels(cfg config.SensorsConfig, addrs []uint16, log *logrus.Logger) []*ina228.Device {
	if _, err := host.Init(); err != nil {
		log.Fatalf("Failed to initialise host drivers: %v", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		log.Fatalf("Failed to open I2C bus %q: %v", cfg.I2CBus, err)
	}

	devs := make([]*ina228.Device, len(addrs))
	for i, addr := range addrs {
		dev := ina228.New(bus, addr)
		if err := dev.Configure(cfg.INA228()); err != nil {
			log.Fatalf("Failed to configure channel %d: %v", i+1, err)
		}

		var report bytes.Buffer
		dev.Report(&report)
		log.WithField("channel", i+1).Info(report.String())
		devs[i] = dev
	}
	return devs
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

func openLink(cfg config.SerialConfig) (io.ReadWriteCloser, error) {
	if cfg.Port == "-" {
		return stdio{Reader: os.Stdin, Writer: os.Stdout}, nil
	}
	return serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
}
