package sensor

import (
	"time"

	"github.com/chewxy/math32"
)

// SimConfig describes a simulated turbine generator.
type SimConfig struct {
	WindPeriod  time.Duration // Period of the wind gust cycle
	PeakCurrent float32       // mA at full gust
	PeakVoltage float32       // mV at full gust
	NoiseLevel  float32       // Noise amplitude as a fraction of the peak
	SampleRate  time.Duration // Conversion period
	Shunt       float32       // Ohm
	Phase       float32       // Gust phase offset in radians
}

// DefaultSimConfig returns a generator roughly matching the toy turbine.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		WindPeriod:  10 * time.Second,
		PeakCurrent: 150,
		PeakVoltage: 5000,
		NoiseLevel:  0.01,
		SampleRate:  10 * time.Millisecond,
		Shunt:       0.015,
	}
}

// Simulated is a Peripheral producing a wind-driven generator output and
// integrating its energy over elapsed time.
type Simulated struct {
	cfg SimConfig
	now func() time.Time

	start      time.Time
	lastConv   time.Time
	lastUpdate time.Time

	current float32 // mA
	voltage float32 // mV
	energy  float64 // J
}

var _ Peripheral = (*Simulated)(nil)

// NewSimulated creates a simulated peripheral. now defaults to time.Now.
func NewSimulated(cfg SimConfig, now func() time.Time) *Simulated {
	def := DefaultSimConfig()
	if cfg.WindPeriod <= 0 {
		cfg.WindPeriod = def.WindPeriod
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Shunt <= 0 {
		cfg.Shunt = def.Shunt
	}
	if now == nil {
		now = time.Now
	}

	t := now()
	s := &Simulated{
		cfg:        cfg,
		now:        now,
		start:      t,
		lastConv:   t,
		lastUpdate: t,
	}
	s.current, s.voltage = s.output(t)
	return s
}

// gust returns the normalised wind strength (0..1) at t.
func (s *Simulated) gust(t time.Time) float32 {
	elapsed := float32(t.Sub(s.start).Seconds())
	period := float32(s.cfg.WindPeriod.Seconds())
	return 0.5 + 0.5*math32.Sin(2*math32.Pi*elapsed/period+s.cfg.Phase)
}

func (s *Simulated) output(t time.Time) (float32, float32) {
	w := s.gust(t)
	elapsed := float32(t.Sub(s.start).Seconds())
	noise := (math32.Sin(elapsed*1000) + math32.Cos(elapsed*1300)) * s.cfg.NoiseLevel * 0.5

	current := math32.Max(s.cfg.PeakCurrent*(w+noise), 0)
	voltage := math32.Max(s.cfg.PeakVoltage*(w+noise), 0)
	return current, voltage
}

// advance integrates power up to now and refreshes the outputs.
func (s *Simulated) advance() {
	t := s.now()
	dt := t.Sub(s.lastUpdate).Seconds()
	if dt <= 0 {
		return
	}

	// mA * mV = uW
	s.energy += float64(s.current) * float64(s.voltage) / 1e6 * dt
	s.current, s.voltage = s.output(t)
	s.lastUpdate = t
}

// ConversionReady implements Peripheral. Like the hardware flag, it clears
// once it has been read as set.
func (s *Simulated) ConversionReady() (bool, error) {
	s.advance()
	if s.lastUpdate.Sub(s.lastConv) < s.cfg.SampleRate {
		return false, nil
	}
	s.lastConv = s.lastUpdate
	return true, nil
}

func (s *Simulated) ReadCurrent() (float32, error)    { return s.current, nil }
func (s *Simulated) ReadBusVoltage() (float32, error) { return s.voltage, nil }

func (s *Simulated) ReadShuntVoltage() (float32, error) {
	return s.current * s.cfg.Shunt, nil
}

func (s *Simulated) ReadPower() (float32, error) {
	return s.current * s.voltage / 1e3, nil
}

func (s *Simulated) ReadEnergy() (float32, error) {
	return float32(s.energy), nil
}

func (s *Simulated) ReadDieTemp() (float32, error) {
	return 25 + 5*s.gust(s.lastUpdate), nil
}

// ResetAccumulator implements Peripheral.
func (s *Simulated) ResetAccumulator() error {
	s.advance()
	s.energy = 0
	return nil
}
