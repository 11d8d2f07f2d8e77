// Package ina228 drives the TI INA228 20-bit power monitor over I2C.
//
// Datasheet: https://www.ti.com/lit/gpn/ina228
package ina228

import (
	"errors"
	"fmt"
	"io"
	"math"

	"tinygo.org/x/drivers"
)

// Registers.
const (
	regConfig      = 0x00
	regADCConfig   = 0x01
	regShuntCal    = 0x02
	regVShunt      = 0x04
	regVBus        = 0x05
	regDieTemp     = 0x06
	regCurrent     = 0x07
	regPower       = 0x08
	regEnergy      = 0x09
	regDiagAlert   = 0x0B
	regManufacture = 0x3E
	regDeviceID    = 0x3F
)

const (
	manufacturerTI = 0x5449
	deviceINA228   = 0x228

	configRSTACC   = 1 << 14
	configADCRange = 1 << 4
	diagCNVRF      = 1 << 1

	modeContinuousAll = 0xF // continuous bus, shunt and temperature
)

// DefaultAddress is the address with A0 and A1 tied to GND.
const DefaultAddress = 0x40

var (
	ErrNotFound       = errors.New("INA228 not found")
	ErrConversionTime = errors.New("unsupported conversion time")
	ErrAveraging      = errors.New("unsupported averaging count")
	ErrNotConfigured  = errors.New("INA228 not configured")
)

var (
	conversionTimesUS = [...]uint16{50, 84, 150, 280, 540, 1052, 2074, 4120}
	averagingCounts   = [...]uint16{1, 4, 16, 64, 128, 256, 512, 1024}
	shuntLSBnV        = [...]float64{312.5, 78.125}
)

// Config holds the analog front-end settings.
type Config struct {
	Shunt          float64 // Ohm
	MaxCurrent     float64 // A, maximum expected current
	ADCRange       uint8   // 0: +/-163.84 mV, 1: +/-40.96 mV
	Averaging      uint16  // 1, 4, 16, 64, 128, 256, 512 or 1024
	ConversionTime uint16  // us: 50, 84, 150, 280, 540, 1052, 2074 or 4120
}

// DefaultConfig matches the Adafruit INA228 breakout on the toy turbine.
func DefaultConfig() Config {
	return Config{
		Shunt:          0.015,
		MaxCurrent:     0.2,
		ADCRange:       1,
		Averaging:      4,
		ConversionTime: 150,
	}
}

// Device is one INA228 on an I2C bus.
type Device struct {
	bus     drivers.I2C
	address uint16

	cfg        Config
	currentLSB float64 // A per bit
	configured bool

	buf [5]byte
}

// New creates a Device. Call Configure before reading.
func New(bus drivers.I2C, address uint16) *Device {
	if address == 0 {
		address = DefaultAddress
	}
	return &Device{bus: bus, address: address}
}

// Address returns the I2C address of the device.
func (d *Device) Address() uint16 {
	return d.address
}

// Configure checks the chip identity and programs calibration and the ADC
// for continuous conversion. The energy accumulator is left untouched.
func (d *Device) Configure(cfg Config) error {
	mfg, err := d.read16(regManufacture)
	if err != nil {
		return fmt.Errorf("%w at 0x%02x: %v", ErrNotFound, d.address, err)
	}
	id, err := d.read16(regDeviceID)
	if err != nil {
		return fmt.Errorf("%w at 0x%02x: %v", ErrNotFound, d.address, err)
	}
	if mfg != manufacturerTI || id>>4 != deviceINA228 {
		return fmt.Errorf("%w at 0x%02x: manufacturer 0x%04x device 0x%04x", ErrNotFound, d.address, mfg, id)
	}

	ct, ok := indexOf(conversionTimesUS[:], cfg.ConversionTime)
	if !ok {
		return fmt.Errorf("%w: %d us", ErrConversionTime, cfg.ConversionTime)
	}
	avg, ok := indexOf(averagingCounts[:], cfg.Averaging)
	if !ok {
		return fmt.Errorf("%w: %d", ErrAveraging, cfg.Averaging)
	}
	if cfg.ADCRange > 1 {
		cfg.ADCRange = 1
	}

	config, err := d.read16(regConfig)
	if err != nil {
		return err
	}
	config &^= configADCRange | configRSTACC
	if cfg.ADCRange == 1 {
		config |= configADCRange
	}
	if err := d.write16(regConfig, config); err != nil {
		return err
	}

	d.currentLSB = cfg.MaxCurrent / (1 << 19)
	cal := 13107.2e6 * d.currentLSB * cfg.Shunt
	if cfg.ADCRange == 1 {
		cal *= 4
	}
	if err := d.write16(regShuntCal, uint16(math.Round(cal))&0x7FFF); err != nil {
		return err
	}

	adc := uint16(modeContinuousAll)<<12 |
		uint16(ct)<<9 | // bus
		uint16(ct)<<6 | // shunt
		uint16(ct)<<3 | // temperature
		uint16(avg)
	if err := d.write16(regADCConfig, adc); err != nil {
		return err
	}

	d.cfg = cfg
	d.configured = true
	return nil
}

// ConversionReady reports and clears the conversion-ready flag.
func (d *Device) ConversionReady() (bool, error) {
	diag, err := d.read16(regDiagAlert)
	if err != nil {
		return false, err
	}
	return diag&diagCNVRF != 0, nil
}

// ReadCurrent returns the current in mA.
func (d *Device) ReadCurrent() (float32, error) {
	if !d.configured {
		return 0, ErrNotConfigured
	}
	raw, err := d.read24(regCurrent)
	if err != nil {
		return 0, err
	}
	return float32(float64(signed20(raw)) * d.currentLSB * 1e3), nil
}

// ReadBusVoltage returns the bus voltage in mV.
func (d *Device) ReadBusVoltage() (float32, error) {
	raw, err := d.read24(regVBus)
	if err != nil {
		return 0, err
	}
	// 195.3125 uV/LSB
	return float32(float64(raw>>4) * 0.1953125), nil
}

// ReadShuntVoltage returns the shunt voltage in mV.
func (d *Device) ReadShuntVoltage() (float32, error) {
	raw, err := d.read24(regVShunt)
	if err != nil {
		return 0, err
	}
	return float32(float64(signed20(raw)) * shuntLSBnV[d.cfg.ADCRange&1] / 1e6), nil
}

// ReadPower returns the power in mW.
func (d *Device) ReadPower() (float32, error) {
	if !d.configured {
		return 0, ErrNotConfigured
	}
	raw, err := d.read24(regPower)
	if err != nil {
		return 0, err
	}
	return float32(3.2 * d.currentLSB * float64(raw) * 1e3), nil
}

// ReadEnergy returns the accumulated energy in J.
func (d *Device) ReadEnergy() (float32, error) {
	if !d.configured {
		return 0, ErrNotConfigured
	}
	raw, err := d.read40(regEnergy)
	if err != nil {
		return 0, err
	}
	return float32(16 * 3.2 * d.currentLSB * float64(raw)), nil
}

// ReadDieTemp returns the die temperature in degC.
func (d *Device) ReadDieTemp() (float32, error) {
	raw, err := d.read16(regDieTemp)
	if err != nil {
		return 0, err
	}
	// 7.8125 m degC/LSB
	return float32(float64(int16(raw)) * 7.8125e-3), nil
}

// ResetAccumulator clears the energy and charge accumulators.
func (d *Device) ResetAccumulator() error {
	config, err := d.read16(regConfig)
	if err != nil {
		return err
	}
	return d.write16(regConfig, config|configRSTACC)
}

// Report writes the active settings, one per line.
func (d *Device) Report(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"INA228 at 0x%02x\n"+
			"ADC range      : %d\n"+
			"Averaging count: %d\n"+
			"Conversion time: %d us\n"+
			"Shunt          : %g Ohm\n"+
			"Max current    : %g A\n",
		d.address, d.cfg.ADCRange, d.cfg.Averaging, d.cfg.ConversionTime, d.cfg.Shunt, d.cfg.MaxCurrent)
	return err
}

func (d *Device) read16(reg byte) (uint16, error) {
	if err := d.bus.Tx(d.address, []byte{reg}, d.buf[:2]); err != nil {
		return 0, err
	}
	return uint16(d.buf[0])<<8 | uint16(d.buf[1]), nil
}

func (d *Device) read24(reg byte) (uint32, error) {
	if err := d.bus.Tx(d.address, []byte{reg}, d.buf[:3]); err != nil {
		return 0, err
	}
	return uint32(d.buf[0])<<16 | uint32(d.buf[1])<<8 | uint32(d.buf[2]), nil
}

func (d *Device) read40(reg byte) (uint64, error) {
	if err := d.bus.Tx(d.address, []byte{reg}, d.buf[:5]); err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range d.buf[:5] {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func (d *Device) write16(reg byte, v uint16) error {
	return d.bus.Tx(d.address, []byte{reg, byte(v >> 8), byte(v)}, nil)
}

// signed20 extracts the left-aligned 20-bit two's complement value held in
// a 24-bit register.
func signed20(raw uint32) int32 {
	return int32(raw<<8) >> 12
}

func indexOf(values []uint16, v uint16) (int, bool) {
	for i, x := range values {
		if x == v {
			return i, true
		}
	}
	return 0, false
}
