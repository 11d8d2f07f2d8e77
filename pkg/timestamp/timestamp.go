// Package timestamp derives sub-millisecond timestamps from a software
// millisecond counter and a hardware down-counter that reloads every
// millisecond.
package timestamp

import "time"

const (
	// DefaultReload is the SysTick reload value for a 120 MHz core clock
	// ticking at 1 kHz.
	DefaultReload = 120_000 - 1
)

// Timestamp is an instant on the node's millisecond timeline.
// Millis wraps around at 2^32 ms (~49.7 days).
type Timestamp struct {
	Millis uint32
	Micros uint16 // Sub-millisecond fraction (0-999)
}

// Compare orders two timestamps as (Millis, Micros) pairs.
// It does not account for the Millis wraparound.
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t.Millis < u.Millis:
		return -1
	case t.Millis > u.Millis:
		return 1
	case t.Micros < u.Micros:
		return -1
	case t.Micros > u.Micros:
		return 1
	}
	return 0
}

// Sub returns t-u. The millisecond difference is taken modulo 2^32, so the
// result stays correct across a single wraparound of the counter.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	ms := t.Millis - u.Millis
	us := int64(ms)*1000 + int64(t.Micros) - int64(u.Micros)
	return time.Duration(us) * time.Microsecond
}

// Snapshot is one read of the three values the timestamp is derived from.
type Snapshot struct {
	Counter uint32 // Down-counter value, Reload..0
	Pending bool   // Tick interrupt raised but not yet serviced
	Millis  uint32 // Millisecond count maintained by the tick interrupt
}

// Torn reports whether next was not taken within the same tick period as
// prev: the pending flag or millisecond count changed, or the down-counter
// reloaded between the two reads.
func Torn(prev, next Snapshot) bool {
	return prev.Pending != next.Pending ||
		prev.Millis != next.Millis ||
		next.Counter > prev.Counter
}

// Resolve reads snapshots until two successive reads agree and converts the
// last one. It also returns the number of re-reads that were needed.
//
// There is no iteration cap: the tick interrupt can only preempt the reads
// a bounded number of times before a quiet window occurs.
func Resolve(read func() Snapshot, reload uint32) (Timestamp, int) {
	next := read()
	attempts := 0
	for {
		prev := next
		next = read()
		attempts++
		if !Torn(prev, next) {
			break
		}
	}
	return convert(next, reload), attempts
}

// convert turns a consistent snapshot into a timestamp. A pending tick means
// the millisecond boundary has already passed and the counter has reloaded.
func convert(s Snapshot, reload uint32) Timestamp {
	ms := s.Millis
	if s.Pending {
		ms++
	}

	counter := s.Counter
	if counter > reload {
		counter = reload
	}
	elapsed := uint64(reload - counter)
	us := elapsed * 1000 / (uint64(reload) + 1)
	if us > 999 {
		us = 999
	}

	return Timestamp{Millis: ms, Micros: uint16(us)}
}
