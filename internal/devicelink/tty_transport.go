package devicelink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ttyTransport speaks the protocol over a real serial port, the normal path
// for an ATM's card reader or HSM wired in over USB-serial or RS-232.
type ttyTransport struct {
	mu   sync.Mutex
	port serial.Port
	path string
}

// NewTTYTransport opens path at the PSoC's fixed 115200 baud, 8-N-1
// configuration and returns a Transport backed by it.
func NewTTYTransport(path string) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("devicelink: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(2 * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("devicelink: set read timeout on %s: %w", path, err)
	}
	return &ttyTransport{port: port, path: path}, nil
}

func (t *ttyTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrTransportRemoved
	}
	if _, err := t.port.Write(data); err != nil {
		return ErrTransportRemoved
	}
	return nil
}

func (t *ttyTransport) Read(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrTransportRemoved
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := t.port.Read(buf[read:])
		if err != nil {
			if err == io.EOF {
				return nil, ErrTransportRemoved
			}
			return nil, ErrTransportRemoved
		}
		if m == 0 {
			return nil, fmt.Errorf("devicelink: read timed out on %s", t.path)
		}
		read += m
	}
	return buf, nil
}

func (t *ttyTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *ttyTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}
