package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MockSerialPort implements SerialPorter for dev mode and tests. Reads are
// fed from a pipe; writes are captured for inspection.
type MockSerialPort struct {
	io.Reader

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
	closeFn func() error
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns everything written to the mock port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}

// NewMockSerialMux creates a SerialMux backed by a mock port that replays
// fixture line periodically, simulating the Arduino's sensor cadence.
func NewMockSerialMux(fixture []byte) *SerialMux {
	r, w := io.Pipe()

	mockPort := &MockSerialPort{
		Reader:  r,
		closeFn: r.Close,
	}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := w.Write(fixture); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// NewStaticMockSerialMux creates a SerialMux over a fixed byte stream that
// ends when the data runs out. Useful in tests that need a bounded feed.
func NewStaticMockSerialMux(data []byte) (*SerialMux, *MockSerialPort) {
	port := &MockSerialPort{Reader: bytes.NewReader(data)}
	return NewSerialMux(port), port
}
