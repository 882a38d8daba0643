package entity

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// RegisterDevice adds a device to the in-process registry and returns
// its id, generating one when the caller supplies none. The registry is
// append-only; re-registering an id is a collision.
func (rt *Runtime) RegisterDevice(d Device) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return "", ErrClosed
	}
	if _, dup := rt.devices[d.ID]; dup {
		return "", fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}
	stored := d
	rt.devices[d.ID] = &stored
	rt.log.Debug("device registered", "device_id", d.ID, "name", d.Name)
	return d.ID, nil
}

// Device retrieves a registered device by id. The returned device is a
// copy; callers can safely modify it.
func (rt *Runtime) Device(id string) (Device, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	d, ok := rt.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Devices returns all registered devices, sorted by id.
func (rt *Runtime) Devices() []Device {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	devices := make([]Device, 0, len(rt.devices))
	for _, d := range rt.devices {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}
