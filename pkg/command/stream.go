package command

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrNoData is returned by StreamSource.ReadByte when nothing is buffered.
var ErrNoData = errors.New("no data buffered")

// StreamSource adapts a blocking io.Reader (a serial port, stdin) to a
// non-blocking ByteSource. A goroutine reads into a bounded queue; when the
// queue is full the reader waits, so input is never dropped here.
type StreamSource struct {
	queue chan byte
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// NewStreamSource starts reading r until it fails or ctx is cancelled.
func NewStreamSource(ctx context.Context, r io.Reader, size int) *StreamSource {
	if size <= 0 {
		size = 256
	}
	s := &StreamSource{
		queue: make(chan byte, size),
		done:  make(chan struct{}),
	}
	go s.read(ctx, r)
	return s
}

func (s *StreamSource) read(ctx context.Context, r io.Reader) {
	defer close(s.done)

	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			select {
			case s.queue <- b:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
		if err != nil {
			s.setErr(err)
			return
		}
		if ctx.Err() != nil {
			s.setErr(ctx.Err())
			return
		}
	}
}

func (s *StreamSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Buffered implements ByteSource.
func (s *StreamSource) Buffered() int {
	return len(s.queue)
}

// ReadByte implements ByteSource.
func (s *StreamSource) ReadByte() (byte, error) {
	select {
	case b := <-s.queue:
		return b, nil
	default:
		return 0, ErrNoData
	}
}

// Done is closed once the underlying reader has stopped.
func (s *StreamSource) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the reader, io.EOF included.
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
