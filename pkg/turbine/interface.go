package turbine

import (
	"time"

	"github.com/itohio/gowindfarm/pkg/record"
)

// Device defines the interface for wind farm nodes (real or simulated).
type Device interface {
	Connect() error
	Close() error
	Records() <-chan record.Record
	TurnOn() error
	TurnOff() error
	ResetAccumulators() error
	Identify(timeout time.Duration) (string, error)
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
