// Command windfarm records a wind farm node to a tab-separated log file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/config"
	"github.com/itohio/gowindfarm/pkg/monitor"
	"github.com/itohio/gowindfarm/pkg/sample"
	"github.com/itohio/gowindfarm/pkg/timestamp"
	"github.com/itohio/gowindfarm/pkg/turbine"
)

const identifyTimeout = 2 * time.Second

func main() {
	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use a simulated node instead of the serial port")
		countFlag          = flag.Int("n", 0, "Number of samples to record (0 = until interrupted)")
		averageSamplesFlag = flag.Int("average-samples", -1, "Number of records to average (0 = disabled, overrides config)")
		listFlag           = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		listPorts()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	// Override average samples if provided via command line
	if *averageSamplesFlag >= 0 {
		cfg.Host.AverageSamples = *averageSamplesFlag
	}

	log := monitor.NewLogger(cfg.Log, os.Stderr)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := record(ctx, cfg, *mockFlag, *countFlag, log); err != nil {
		log.Fatal(err)
	}
}

func record(ctx context.Context, cfg *config.Config, useMock bool, count int, log *logrus.Logger) error {
	fields, err := cfg.Sensors.FieldSet()
	if err != nil {
		return err
	}
	channels := len(cfg.Sensors.Channels)

	opts := turbine.Options{
		BaudRate:   cfg.Serial.BaudRate,
		BufferSize: cfg.Host.BufferSize,
		Fields:     fields,
		Channels:   channels,
		Identity:   cfg.Node.Identity,
		Log:        log,
	}

	var device turbine.Device
	if useMock {
		device = turbine.NewMock(cfg.Mock.SimConfig(cfg.Sensors.ShuntResistance), channels, opts)
		log.Infof("Using simulated node with %d channels", channels)
	} else {
		device = turbine.New(cfg.Serial.Port, opts)
		log.Infof("Connecting to %s", cfg.Serial.Port)
	}

	if err := device.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer device.Close()

	id, err := device.Identify(identifyTimeout)
	if err != nil {
		return fmt.Errorf("failed to identify node: %w", err)
	}
	if !strings.Contains(id, cfg.Node.Identity) {
		return fmt.Errorf("unexpected node %q, want %q", id, cfg.Node.Identity)
	}
	log.Infof("Connected to %q", id)

	file, err := os.Create(cfg.Host.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer file.Close()
	out := bufio.NewWriter(file)
	defer out.Flush()

	if err := writeHeader(out, channels); err != nil {
		return err
	}

	if err := device.ResetAccumulators(); err != nil {
		return err
	}
	if err := device.TurnOn(); err != nil {
		return err
	}
	defer func() {
		if err := device.TurnOff(); err != nil {
			log.Warnf("Failed to stop acquisition: %v", err)
		}
	}()

	converter := sample.NewAveragingConverter(cfg.Host.AverageSamples, cfg.Host.BufferSize, log)
	samples := converter(device.Records())

	var (
		stats   sample.PowerStats
		first   timestamp.Timestamp
		written int
	)

loop:
	for count == 0 || written < count {
		select {
		case <-ctx.Done():
			break loop
		case s, ok := <-samples:
			if !ok {
				log.Warn("Node closed the connection")
				break loop
			}
			if written == 0 {
				first = s.Timestamp
			}
			if err := writeRow(out, s.Timestamp.Sub(first), s); err != nil {
				return fmt.Errorf("failed to write log file: %w", err)
			}
			stats.Add(s)
			written++
		}
	}

	log.Infof("Recorded %d samples to %s", written, cfg.Host.LogFile)
	for ch := 0; ch < stats.Channels(); ch++ {
		log.Infof("Power turbine %d [mW]: %.3f +/- %.3f", ch+1, stats.Mean(ch), stats.StdDev(ch))
	}
	return nil
}

func writeHeader(w io.Writer, channels int) error {
	var b strings.Builder
	b.WriteString("elapsed [s]")
	for ch := 1; ch <= channels; ch++ {
		fmt.Fprintf(&b, "\tI_%d\tV_%d\tE_%d\tP_%d", ch, ch, ch, ch)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func writeRow(w io.Writer, elapsed time.Duration, s sample.Sample) error {
	if _, err := fmt.Fprintf(w, "%.4f", elapsed.Seconds()); err != nil {
		return err
	}
	for _, ch := range s.Channels {
		if _, err := fmt.Fprintf(w, "\t%.2f\t%.2f\t%.5f\t%.2f", ch.Current, ch.Voltage, ch.Energy, ch.Power); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func listPorts() {
	ports, err := turbine.Ports()
	if err != nil {
		logrus.Fatal(err)
	}
	for _, p := range ports {
		fmt.Println(p.Description)
	}
}
