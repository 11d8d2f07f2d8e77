//go:build tinygo

package main

import (
	"machine"
	"time"
)

const (
	// Serial link to the host. USB CDC ignores the rate; it matters when
	// the host is wired to the hardware UART.
	UART_BAUD_RATE = 115200

	// I2C bus shared by the power monitors.
	I2C_FREQUENCY = 400 * machine.KHz

	// Command channel
	COMMAND_PERIOD   = 20 * time.Millisecond // How often the command channel is polled
	COMMAND_LINE_LEN = 64                    // Longest accepted command line
	LOOP_IDLE        = 100 * time.Microsecond

	// Core clock ticking SysTick at 1 kHz
	CPU_FREQUENCY = 120_000_000
	TICK_RELOAD   = CPU_FREQUENCY/1000 - 1

	IDENTITY = "Arduino, Wind Farm"

	PIN_LED = machine.LED
)

// Power monitor addresses, one per turbine. Order defines the channel order
// on the line.
var CHANNEL_ADDRESSES = []uint16{0x40, 0x41, 0x44}
