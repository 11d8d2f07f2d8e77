//go:build tinygo

package main

import (
	"device/arm"
	"runtime/volatile"

	"github.com/itohio/gowindfarm/pkg/timestamp"
)

const (
	systCSREnable    = 1 << 0
	systCSRTickInt   = 1 << 1
	systCSRClkSource = 1 << 2
	icsrPendSTSet    = 1 << 26
)

// millis is incremented by the SysTick interrupt.
var millis volatile.Register32

//export SysTick_Handler
func sysTickHandler() {
	millis.Set(millis.Get() + 1)
}

// sysTick is the hardware timestamp source: the millisecond count, the
// SysTick down-counter and its pending flag.
type sysTick struct {
	reload uint32
}

func startSysTick(reload uint32) *sysTick {
	arm.SYST.SYST_CSR.Set(0)
	arm.SYST.SYST_RVR.Set(reload)
	arm.SYST.SYST_CVR.Set(0)
	arm.SYST.SYST_CSR.Set(systCSREnable | systCSRTickInt | systCSRClkSource)
	return &sysTick{reload: reload}
}

// Snapshot implements timestamp.Source.
func (s *sysTick) Snapshot() timestamp.Snapshot {
	return timestamp.Snapshot{
		Counter: arm.SYST.SYST_CVR.Get(),
		Pending: arm.SCB.ICSR.Get()&icsrPendSTSet != 0,
		Millis:  millis.Get(),
	}
}

// Reload implements timestamp.Source.
func (s *sysTick) Reload() uint32 {
	return s.reload
}
