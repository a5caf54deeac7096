package devicelink

import "errors"

// ErrTransportRemoved is the sentinel a Transport implementation returns
// from Read/Write when the underlying device disappeared. Link translates
// it into the public ErrDeviceRemoved, closes the transport and moves back
// to StateSearching; reattaching is left to the caller's next Attach.
var ErrTransportRemoved = errors.New("devicelink: transport removed")

// Transport is the minimal capability set Link needs from a physical or
// emulated wire: open/close lifecycle plus blocking, fixed-size read and
// write. Concrete implementations live in separate files (tty_transport.go,
// usb_transport.go, fake_transport.go) so production code, USB-bulk code,
// and tests never need to reference each other's build tags or package
// imports.
type Transport interface {
	// Write sends all of data or returns an error.
	Write(data []byte) error
	// Read blocks until exactly n bytes are available, the transport is
	// closed, or the device is removed.
	Read(n int) ([]byte, error)
	// Close releases the underlying device handle. Idempotent.
	Close() error
	// Connected reports whether the transport believes the device is
	// still present, without performing I/O.
	Connected() bool
}
