package sample

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/record"
	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/itohio/gowindfarm/pkg/timestamp"
)

// DefaultBufferSize is the default size of a converter's output channel.
const DefaultBufferSize = 100

// Channel holds the physical values of one turbine.
type Channel struct {
	Current float32 // mA
	Voltage float32 // mV
	Energy  float32 // J
	Power   float32 // mW, derived from current and voltage
}

// Sample represents a processed record.
type Sample struct {
	Timestamp timestamp.Timestamp
	Seconds   float64 // Node time in seconds
	Channels  []Channel
}

// Converter is a function type that converts a Record channel to a Sample channel.
type Converter func(in <-chan record.Record) <-chan Sample

// NewConverter creates a converter function that transforms every Record
// into a Sample.
func NewConverter(bufSize int, log logrus.FieldLogger) Converter {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return func(in <-chan record.Record) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for rec := range in {
				select {
				case out <- Convert(rec):
				case <-time.After(time.Second):
					log.Warn("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

// Convert derives a Sample from a Record. Negative power, seen when the
// generator is driven backwards, is clamped to zero.
func Convert(rec record.Record) Sample {
	s := Sample{
		Timestamp: rec.Timestamp(),
		Seconds:   float64(rec.Millis)/1e3 + float64(rec.Micros)/1e6,
		Channels:  make([]Channel, len(rec.Channels)),
	}
	for i := range rec.Channels {
		r := &rec.Channels[i]
		current := r.Get(sensor.Current)
		voltage := r.Get(sensor.BusVoltage)
		s.Channels[i] = Channel{
			Current: current,
			Voltage: voltage,
			Energy:  r.Get(sensor.Energy),
			Power:   power(current, voltage),
		}
	}
	return s
}

// power returns P = I*V in mW for I in mA and V in mV.
func power(current, voltage float32) float32 {
	return math32.Max(current*voltage/1e3, 0)
}
