package timestamp

import "time"

// Source exposes the registers the timestamp is derived from.
type Source interface {
	// Snapshot reads the down-counter, the pending flag and the millisecond
	// count, in that order.
	Snapshot() Snapshot
	// Reload returns the value the down-counter restarts from every tick.
	Reload() uint32
}

// Service produces timestamps from a Source.
// It is meant to be owned by a single control loop.
type Service struct {
	src     Source
	reload  uint32
	retries uint64
}

// New creates a Service reading from src.
func New(src Source) *Service {
	return &Service{
		src:    src,
		reload: src.Reload(),
	}
}

// Now returns the current timestamp.
func (s *Service) Now() Timestamp {
	ts, attempts := Resolve(s.src.Snapshot, s.reload)
	s.retries += uint64(attempts - 1)
	return ts
}

// Retries returns the total number of extra snapshot pairs that were read
// because a tick boundary was crossed mid-read.
func (s *Service) Retries() uint64 {
	return s.retries
}

// Monotonic emulates a 1 kHz tick and its down-counter on top of the Go
// monotonic clock. Its snapshots are always consistent, so it never causes
// retries; it lets hosted builds share the firmware's timestamp path.
type Monotonic struct {
	start  time.Time
	reload uint32
}

// NewMonotonic creates a Monotonic source starting at zero.
func NewMonotonic(reload uint32) *Monotonic {
	if reload == 0 {
		reload = DefaultReload
	}
	return &Monotonic{
		start:  time.Now(),
		reload: reload,
	}
}

// Snapshot implements Source.
func (m *Monotonic) Snapshot() Snapshot {
	d := time.Since(m.start)
	ms := d / time.Millisecond
	frac := uint64(d % time.Millisecond)
	ticks := uint32(frac * (uint64(m.reload) + 1) / uint64(time.Millisecond))

	return Snapshot{
		Counter: m.reload - ticks,
		Millis:  uint32(ms),
	}
}

// Reload implements Source.
func (m *Monotonic) Reload() uint32 {
	return m.reload
}
