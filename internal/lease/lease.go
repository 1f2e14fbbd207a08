// Package lease reads the keepalive markers that protect simulator
// devices from reclamation.
// ABOUTME: A marker is a file named after the device UDID whose mtime
// ABOUTME: is the lease expiry instant. Job runners create and refresh
// ABOUTME: markers; this package only reads and clears them.
package lease

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State classifies a device's lease at a reference instant.
type State int

const (
	// Absent means no marker exists for the device.
	Absent State = iota
	// Active means a marker exists with an expiry in the future.
	Active
	// Expired means a marker exists but its expiry has passed.
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "absent"
	}
}

// Evaluation is the outcome of checking one device's marker.
type Evaluation struct {
	State  State
	Expiry time.Time // zero when State is Absent
}

// Store reads and clears lease markers in a single directory.
type Store struct {
	dir string
}

// NewStore creates a Store over the given marker directory. The directory
// does not need to exist; a missing directory means every lease is Absent.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the marker directory.
func (s *Store) Dir() string { return s.dir }

// Evaluate reports the lease state for udid at the reference time now.
// An expired marker is removed as a side effect so a stale lease cannot
// protect (or leak against) a future device reusing the identifier.
// The returned error is always non-fatal: it reports a marker that could
// not be read (treated as Absent, failing open toward eligibility) or an
// expired marker that could not be removed. The Evaluation is valid
// either way.
func (s *Store) Evaluate(udid string, now time.Time) (Evaluation, error) {
	ev, path, err := s.check(udid, now)
	if err != nil || ev.State != Expired {
		return ev, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ev, fmt.Errorf("remove expired marker: %w", err)
	}
	return ev, nil
}

// Peek is Evaluate without the side effect: expired markers are reported
// but left in place. Used by read-only inspection.
func (s *Store) Peek(udid string, now time.Time) (Evaluation, error) {
	ev, _, err := s.check(udid, now)
	return ev, err
}

func (s *Store) check(udid string, now time.Time) (Evaluation, string, error) {
	path, err := s.markerPath(udid)
	if err != nil {
		return Evaluation{State: Absent}, "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Evaluation{State: Absent}, path, nil
		}
		// Marker exists but can't be read. Fail open toward eligibility
		// rather than letting an unreadable marker protect a device forever.
		return Evaluation{State: Absent}, path, fmt.Errorf("stat marker: %w", err)
	}

	expiry := info.ModTime()
	if expiry.After(now) {
		return Evaluation{State: Active, Expiry: expiry}, path, nil
	}
	return Evaluation{State: Expired, Expiry: expiry}, path, nil
}

// markerPath derives the marker file path for a device. UDIDs must parse
// as UUIDs so an inventory entry can never name a path outside the
// marker directory.
func (s *Store) markerPath(udid string) (string, error) {
	if _, err := uuid.Parse(udid); err != nil {
		return "", fmt.Errorf("device identifier %q is not a UUID: %w", udid, err)
	}
	return filepath.Join(s.dir, udid), nil
}
