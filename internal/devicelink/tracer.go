package devicelink

import (
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// LatencyEvent is one I/O-latency sample reported by the attached program.
// Events decodes it from the first 8 bytes of a ring-buffer record,
// little-endian.
type LatencyEvent struct {
	DurationNs uint64
}

// bpfObjects holds the programs and maps the latency tracer needs.
type bpfObjects struct {
	XdpLatencyProbe *ebpf.Program `ebpf:"xdp_latency_probe"`
	LatencyEvents   *ebpf.Map     `ebpf:"latency_events"`
}

func (o *bpfObjects) Close() error {
	if o.XdpLatencyProbe != nil {
		o.XdpLatencyProbe.Close()
	}
	if o.LatencyEvents != nil {
		o.LatencyEvents.Close()
	}
	return nil
}

// loadBpfObjects loads the compiled latency-probe program and maps. It is a
// stub: compiling and embedding the actual BPF bytecode object is outside
// what this tree builds, so this returns nil and lets Tracer run as a no-op
// when no real object file is wired in.
func loadBpfObjects(obj *bpfObjects, opts *ebpf.CollectionOptions) error {
	return nil
}

// Tracer optionally attaches an eBPF XDP program to the network interface
// backing a USB-serial adapter's host controller, to sample attach/detach
// and read-latency events independently of the Go runtime's own timers.
// It is best-effort and entirely optional: DeviceLink and PortWatcher work
// identically whether or not a Tracer is attached.
type Tracer struct {
	objs   bpfObjects
	link   link.Link
	reader *ringbuf.Reader
	iface  string
}

// NewTracer attaches a latency probe to ifaceName when loadBpfObjects
// yields a program; since loadBpfObjects is a stub, it returns a no-op
// Tracer whose Events always errors. Callers that don't need eBPF-level
// observability simply never construct a Tracer.
func NewTracer(ifaceName string) (*Tracer, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("devicelink: remove memlock rlimit: %w", err)
	}

	t := &Tracer{iface: ifaceName}

	objs := bpfObjects{}
	if err := loadBpfObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("devicelink: load bpf objects: %w", err)
	}
	t.objs = objs

	if objs.XdpLatencyProbe == nil {
		// No real program object wired in; run as a no-op tracer.
		return t, nil
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("devicelink: lookup interface %s: %w", ifaceName, err)
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   objs.XdpLatencyProbe,
		Interface: iface.Index,
	})
	if err != nil {
		return nil, fmt.Errorf("devicelink: attach xdp program to %s: %w", ifaceName, err)
	}
	t.link = l

	reader, err := ringbuf.NewReader(objs.LatencyEvents)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("devicelink: open ring buffer reader: %w", err)
	}
	t.reader = reader

	return t, nil
}

// Events returns the next latency sample, blocking until one arrives. It
// returns an error if the tracer was constructed as a no-op (no real
// program attached).
func (t *Tracer) Events() (LatencyEvent, error) {
	if t.reader == nil {
		return LatencyEvent{}, fmt.Errorf("devicelink: tracer has no attached program")
	}
	rec, err := t.reader.Read()
	if err != nil {
		return LatencyEvent{}, fmt.Errorf("devicelink: read ring buffer: %w", err)
	}
	if len(rec.RawSample) < 8 {
		return LatencyEvent{}, fmt.Errorf("devicelink: short ring buffer record")
	}
	var ev LatencyEvent
	ev.DurationNs = uint64(rec.RawSample[0]) | uint64(rec.RawSample[1])<<8 |
		uint64(rec.RawSample[2])<<16 | uint64(rec.RawSample[3])<<24 |
		uint64(rec.RawSample[4])<<32 | uint64(rec.RawSample[5])<<40 |
		uint64(rec.RawSample[6])<<48 | uint64(rec.RawSample[7])<<56
	return ev, nil
}

// Close releases the ring buffer reader and detaches the XDP link, if any.
func (t *Tracer) Close() error {
	if t.reader != nil {
		t.reader.Close()
	}
	if t.link != nil {
		t.link.Close()
	}
	return t.objs.Close()
}
