package devicelink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"
)

// PortWatcher polls the host's serial port list and reports ports that
// newly appear or disappear, replacing the connect/disconnect polling
// threads of the original per-device watcher with one shared, cancellable
// poller multiple Links can wait on concurrently.
type PortWatcher struct {
	interval time.Duration
	lister   func() ([]string, error)

	mu    sync.Mutex
	known map[string]bool
}

// NewPortWatcher builds a watcher that polls the OS port list, via
// go.bug.st/serial/enumerator, every interval.
func NewPortWatcher(interval time.Duration) *PortWatcher {
	return NewPortWatcherWithLister(interval, defaultPortLister)
}

// NewPortWatcherWithLister builds a watcher backed by a caller-supplied
// port lister, letting packages outside devicelink drive attach/detach
// simulations in tests without depending on real serial enumeration. A
// nil lister defaults to go.bug.st/serial/enumerator.
func NewPortWatcherWithLister(interval time.Duration, lister func() ([]string, error)) *PortWatcher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if lister == nil {
		lister = defaultPortLister
	}
	return &PortWatcher{
		interval: interval,
		lister:   lister,
		known:    map[string]bool{},
	}
}

func defaultPortLister() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("devicelink: list serial ports: %w", err)
	}
	ports := make([]string, 0, len(details))
	for _, d := range details {
		ports = append(ports, d.Name)
	}
	return ports, nil
}

// Snapshot captures the current port set as the watcher's baseline,
// without reporting any of those ports as newly attached. Call this once
// before the first WaitForAttach so already-present devices aren't treated
// as a fresh attach event.
func (w *PortWatcher) Snapshot() error {
	ports, err := w.lister()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known = toSet(ports)
	return nil
}

// WaitForAttach blocks until a port not present in the last known set
// appears, then returns it and folds it into the known set.
func (w *PortWatcher) WaitForAttach(ctx context.Context) (string, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			ports, err := w.lister()
			if err != nil {
				continue
			}
			current := toSet(ports)

			w.mu.Lock()
			var added string
			for p := range current {
				if !w.known[p] {
					added = p
					break
				}
			}
			w.known = current
			w.mu.Unlock()

			if added != "" {
				return added, nil
			}
		}
	}
}

// WaitForDetach blocks until port is no longer in the host's port list.
func (w *PortWatcher) WaitForDetach(ctx context.Context, port string) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ports, err := w.lister()
			if err != nil {
				continue
			}
			current := toSet(ports)
			w.mu.Lock()
			w.known = current
			w.mu.Unlock()
			if !current[port] {
				return nil
			}
		}
	}
}

func toSet(ports []string) map[string]bool {
	set := make(map[string]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}
	return set
}
