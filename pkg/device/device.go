// Package device holds the roster of devices attached to the daemon.
package device

import (
	"fmt"
	"sort"
	"sync"
)

// Device is an attached device as reported by the daemon. Values are
// immutable; a re-attach produces a new Device.
type Device struct {
	// ID is assigned by the daemon and unique within one listening session.
	ID uint32

	ProductID  uint16
	Serial     string
	LocationID uint32
}

// String returns a short description for logs and listings.
func (d Device) String() string {
	return fmt.Sprintf("device %d (serial=%s product=%#04x location=%#x)", d.ID, d.Serial, d.ProductID, d.LocationID)
}

// Delta describes the roster changes made by processing one event.
type Delta struct {
	Added   []Device
	Removed []uint32
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// View is read-only access to a roster.
type View interface {
	// Len returns the number of attached devices.
	Len() int

	// Get returns the device with the given ID.
	Get(id uint32) (Device, bool)

	// BySerial returns the device with the given serial number.
	BySerial(serial string) (Device, bool)

	// List returns the attached devices ordered by ID.
	List() []Device
}

// Registry is the set of attached devices keyed by ID.
//
// Only the listening connection mutates a Registry. Reads may come from
// other goroutines, so access is guarded.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint32]Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[uint32]Device)}
}

// Attach stores d, replacing any device with the same ID.
// It reports whether a device was replaced.
func (r *Registry) Attach(d Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.devices[d.ID]
	r.devices[d.ID] = d
	return replaced
}

// Detach removes the device with the given ID and returns it.
// Unknown IDs are ignored.
func (r *Registry) Detach(id uint32) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	return d, ok
}

// Clear removes every device and returns what was removed, ordered by ID.
func (r *Registry) Clear() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := sorted(r.devices)
	r.devices = make(map[uint32]Device)
	return out
}

// Len implements View.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Get implements View.
func (r *Registry) Get(id uint32) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// BySerial implements View. If several devices share a serial the one
// with the lowest ID wins.
func (r *Registry) BySerial(serial string) (Device, bool) {
	for _, d := range r.List() {
		if d.Serial == serial {
			return d, true
		}
	}
	return Device{}, false
}

// List implements View.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.devices)
}

func sorted(m map[uint32]Device) []Device {
	out := make([]Device, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ View = (*Registry)(nil)
