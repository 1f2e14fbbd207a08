// Package reclaim decides which simulator devices to destroy and carries
// out the deletions.
// ABOUTME: Inventory-agnostic types decouple the reclaim policy from the
// ABOUTME: simctl wrapper.
package reclaim

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Inventory implementations when the named
// device does not exist (typically because it was already deleted).
var ErrNotFound = errors.New("device not found")

// Device is one simulator instance as reported by the inventory. The
// field tags mirror simctl's JSON device listing.
type Device struct {
	UDID        string `json:"udid"`
	Name        string `json:"name"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
	DataPath    string `json:"dataPath"`
	LogPath     string `json:"logPath"`
}

// Inventory is the device-management surface the reclaimer needs.
// Implementations wrap the platform's simulator tooling.
type Inventory interface {
	// DeleteUnavailable removes every device the platform itself flags
	// as permanently unavailable (detached or orphaned records).
	DeleteUnavailable(ctx context.Context) error

	// ListDevices returns the current inventory grouped by runtime
	// identifier (platform/OS-version bucket).
	ListDevices(ctx context.Context) (map[string][]Device, error)

	// Delete removes one device by UDID. Returns ErrNotFound if the
	// device does not exist.
	Delete(ctx context.Context, udid string) error
}
