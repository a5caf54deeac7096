//go:build !mips && !mipsle
// +build !mips,!mipsle

// USB-bulk communication with a PSoC device, for deployments that expose
// the card reader or HSM as a USB bulk-endpoint device rather than a
// USB-serial adapter. Excluded on MIPS builds due to the gousb/libusb
// dependency, matching how USB-bulk device access is excluded there
// elsewhere in this codebase.
package devicelink

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

const (
	usbEndpointOut = 0x01
	usbEndpointIn  = 0x81
	usbReadTimeout = 2 * time.Second
)

// usbBulkTransport speaks the PSoC framing over a USB bulk OUT/IN endpoint
// pair instead of a TTY device node.
type usbBulkTransport struct {
	mu     sync.Mutex
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// NewUSBBulkTransport opens the PSoC identified by vid/pid over USB bulk
// transfer endpoints.
func NewUSBBulkTransport(vid, pid gousb.ID) (Transport, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("devicelink: open usb device: %w", err)
	}
	if device == nil {
		ctx.Close()
		return nil, fmt.Errorf("devicelink: usb device not found (vid:%s pid:%s)", vid, pid)
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("devicelink: set usb config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("devicelink: claim usb interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("devicelink: open usb out endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(usbEndpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("devicelink: open usb in endpoint: %w", err)
	}

	return &usbBulkTransport{
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
	}, nil
}

func (t *usbBulkTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epOut == nil {
		return ErrTransportRemoved
	}
	if _, err := t.epOut.Write(data); err != nil {
		return ErrTransportRemoved
	}
	return nil
}

func (t *usbBulkTransport) Read(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epIn == nil {
		return nil, ErrTransportRemoved
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := t.epIn.Read(buf[read:])
		if err != nil {
			return nil, ErrTransportRemoved
		}
		if m == 0 {
			return nil, fmt.Errorf("devicelink: usb read timed out")
		}
		read += m
	}
	return buf, nil
}

func (t *usbBulkTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.config != nil {
		t.config.Close()
		t.config = nil
	}
	if t.device != nil {
		t.device.Close()
		t.device = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	t.epOut = nil
	t.epIn = nil
	return nil
}

func (t *usbBulkTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device != nil
}
