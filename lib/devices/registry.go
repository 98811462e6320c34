// Package devices is the RegisteredDevice registry (spec.md §3): devices
// created on successful pairing, updated on every authenticated connect,
// and removed only by explicit admin action.
package devices

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Device is a RegisteredDevice record.
type Device struct {
	ID          string
	DisplayName string
	Platform    string
	AppVersion  string
	WorkspaceID string
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

// Registry tracks devices per workspace, keyed by device id (unique per
// workspace; display names need not be unique).
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device // device id -> Device
	clock   clockwork.Clock
}

// New constructs an empty Registry.
func New(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		devices: make(map[string]*Device),
		clock:   clock,
	}
}

// Register creates or re-registers a device, stamping CreatedAt only the
// first time it's seen.
func (r *Registry) Register(id, workspaceID, displayName, platform, appVersion string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if existing, ok := r.devices[id]; ok {
		existing.DisplayName = displayName
		existing.Platform = platform
		existing.AppVersion = appVersion
		existing.LastSeenAt = now
		return existing
	}

	d := &Device{
		ID:          id,
		DisplayName: displayName,
		Platform:    platform,
		AppVersion:  appVersion,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	r.devices[id] = d
	return d
}

// Touch updates a device's LastSeenAt, e.g. on every authenticated connect
// or refresh.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return trace.NotFound("device %s not found", id)
	}
	d.LastSeenAt = r.clock.Now()
	return nil
}

// Get returns a device by id.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, trace.NotFound("device %s not found", id)
	}
	return d, nil
}

// List returns all devices in a workspace.
func (r *Registry) List(workspaceID string) []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Device
	for _, d := range r.devices {
		if d.WorkspaceID == workspaceID {
			out = append(out, d)
		}
	}
	return out
}

// Online returns devices in a workspace last seen within `within` of now.
func (r *Registry) Online(workspaceID string, within time.Duration) []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var out []*Device
	for _, d := range r.devices {
		if d.WorkspaceID == workspaceID && now.Sub(d.LastSeenAt) <= within {
			out = append(out, d)
		}
	}
	return out
}

// Remove deletes a device. Explicit admin action only (spec.md §3).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return trace.NotFound("device %s not found", id)
	}
	delete(r.devices, id)
	return nil
}

// SaveSnapshot writes the registry to path so it can be restored across a
// restart of the editor-host process. A `path.lock` advisory file lock
// guards the write against a concurrent snapshot or load from another
// process sharing the same workspace directory.
func (r *Registry) SaveSnapshot(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return trace.Wrap(err)
	}
	defer lock.Unlock()

	r.mu.Lock()
	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.Unlock()

	buf, err := json.Marshal(devices)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.WriteFile(path, buf, 0o600))
}

// LoadSnapshot restores devices previously written by SaveSnapshot into r,
// overwriting any in-memory state for the same device ids. A missing file
// is not an error — the registry simply starts empty, as it would on a
// first boot.
func (r *Registry) LoadSnapshot(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return trace.Wrap(err)
	}
	defer lock.Unlock()

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return trace.Wrap(err)
	}

	var devices []*Device
	if err := json.Unmarshal(buf, &devices); err != nil {
		return trace.Wrap(err, "parsing device snapshot %s", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devices {
		r.devices[d.ID] = d
	}
	return nil
}
