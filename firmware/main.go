//go:build tinygo

//go:generate tinygo flash -target=feather-m4

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/gowindfarm/pkg/command"
	"github.com/itohio/gowindfarm/pkg/daq"
	"github.com/itohio/gowindfarm/pkg/ina228"
	"github.com/itohio/gowindfarm/pkg/sensor"
	"github.com/itohio/gowindfarm/pkg/timestamp"
)

var serial = machine.Serial

func main() {
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	serial.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	// Give the host a moment to open the port before the reports.
	time.Sleep(time.Second)

	bus := machine.I2C0
	if err := bus.Configure(machine.I2CConfig{Frequency: I2C_FREQUENCY}); err != nil {
		halt("I2C: ", err)
	}

	devs := make([]*ina228.Device, len(CHANNEL_ADDRESSES))
	for i, addr := range CHANNEL_ADDRESSES {
		dev := ina228.New(bus, addr)
		if err := dev.Configure(ina228.DefaultConfig()); err != nil {
			halt("INA228: ", err)
		}
		dev.Report(serial)
		devs[i] = dev
	}

	set, err := sensor.NewSet(sensor.DefaultFields, CHANNEL_ADDRESSES, devs)
	if err != nil {
		halt("channels: ", err)
	}

	clock := timestamp.New(startSysTick(TICK_RELOAD))
	commands := command.NewChannel(serial, COMMAND_LINE_LEN)

	ctrl := daq.New(clock, commands, set, serial, daq.Options{
		Identity:      IDENTITY,
		CommandPeriod: COMMAND_PERIOD,
	})
	ctrl.OnStateChange(func(s daq.State) {
		PIN_LED.Set(s == daq.Running)
	})

	ctrl.Run(context.Background(), LOOP_IDLE)
}

// halt reports a fatal initialisation error and never returns.
func halt(what string, err error) {
	println(what + err.Error())
	for {
		PIN_LED.Set(!PIN_LED.Get())
		time.Sleep(time.Second)
	}
}
