package sample

import (
	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/record"
)

// NewAveragingConverter creates a converter that averages every windowSize
// consecutive Records into one Sample. Current, voltage and power are
// averaged; energy and the timestamp are taken from the latest record.
// A partial window is flushed when the input closes.
func NewAveragingConverter(windowSize int, bufSize int, log logrus.FieldLogger) Converter {
	if windowSize <= 1 {
		return NewConverter(bufSize, log)
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return func(in <-chan record.Record) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			buffer := make([]Sample, 0, windowSize)
			flush := func() {
				if len(buffer) == 0 {
					return
				}
				avg := averageSamples(buffer)
				buffer = buffer[:0]
				select {
				case out <- avg:
				default:
					log.Warn("Averaging converter output channel full")
				}
			}

			for rec := range in {
				s := Convert(rec)
				if len(buffer) > 0 && len(s.Channels) != len(buffer[0].Channels) {
					log.WithField("channels", len(s.Channels)).Warn("Channel count changed, restarting average")
					flush()
				}
				buffer = append(buffer, s)
				if len(buffer) == windowSize {
					flush()
				}
			}
			flush()
		}()

		return out
	}
}

// averageSamples averages samples that share a channel count.
func averageSamples(samples []Sample) Sample {
	last := samples[len(samples)-1]
	avg := Sample{
		Timestamp: last.Timestamp,
		Seconds:   last.Seconds,
		Channels:  make([]Channel, len(last.Channels)),
	}

	for _, s := range samples {
		for i, ch := range s.Channels {
			avg.Channels[i].Current += ch.Current
			avg.Channels[i].Voltage += ch.Voltage
			avg.Channels[i].Power += ch.Power
		}
	}

	n := float32(len(samples))
	for i := range avg.Channels {
		avg.Channels[i].Current /= n
		avg.Channels[i].Voltage /= n
		avg.Channels[i].Power /= n
		avg.Channels[i].Energy = last.Channels[i].Energy
	}
	return avg
}
