// ABOUTME: Unit tests for the reclamation policy against a fake inventory —
// ABOUTME: lease protection, staleness threshold, and failure isolation.
package reclaim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simfleet/simreap/internal/lease"
)

// fakeInventory implements Inventory in memory, recording deletions.
type fakeInventory struct {
	devices        map[string][]Device
	deleted        []string
	deleteErr      map[string]error
	unavailableErr error
	listErr        error
	prunedCalls    int
}

func (f *fakeInventory) DeleteUnavailable(context.Context) error {
	f.prunedCalls++
	return f.unavailableErr
}

func (f *fakeInventory) ListDevices(context.Context) (map[string][]Device, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.devices, nil
}

func (f *fakeInventory) Delete(_ context.Context, udid string) error {
	if err := f.deleteErr[udid]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, udid)
	return nil
}

// harness bundles the pieces every policy test needs: a temp lease dir,
// a temp root for device data/log dirs, and a fixed reference time.
type harness struct {
	t        *testing.T
	leaseDir string
	root     string
	now      time.Time
	inv      *fakeInventory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:        t,
		leaseDir: t.TempDir(),
		root:     t.TempDir(),
		now:      time.Now(),
		inv: &fakeInventory{
			devices:   map[string][]Device{},
			deleteErr: map[string]error{},
		},
	}
}

// addDevice creates a device with a data dir aged by dataAge and a log
// dir, registered under the given runtime.
func (h *harness) addDevice(runtimeID string, dataAge time.Duration) Device {
	h.t.Helper()
	udid := uuid.NewString()
	dataPath := filepath.Join(h.root, udid, "data")
	logPath := filepath.Join(h.root, udid, "logs")
	require.NoError(h.t, os.MkdirAll(dataPath, 0750))
	require.NoError(h.t, os.MkdirAll(logPath, 0750))
	mtime := h.now.Add(-dataAge)
	require.NoError(h.t, os.Chtimes(dataPath, mtime, mtime))

	dev := Device{UDID: udid, Name: "iPhone 15", DataPath: dataPath, LogPath: logPath}
	h.inv.devices[runtimeID] = append(h.inv.devices[runtimeID], dev)
	return dev
}

// addLease writes a marker for the device expiring at the given offset
// from the harness reference time.
func (h *harness) addLease(dev Device, expiresIn time.Duration) string {
	h.t.Helper()
	path := filepath.Join(h.leaseDir, dev.UDID)
	require.NoError(h.t, os.WriteFile(path, nil, 0600))
	expiry := h.now.Add(expiresIn)
	require.NoError(h.t, os.Chtimes(path, expiry, expiry))
	return path
}

func (h *harness) run(opts Options) Report {
	h.t.Helper()
	opts.Now = h.now
	r := New(h.inv, lease.NewStore(h.leaseDir), nil, opts)
	report, err := r.Run(context.Background())
	require.NoError(h.t, err)
	return report
}

func TestRun_StaleUnleasedDeviceReclaimed(t *testing.T) {
	h := newHarness(t)
	dev := h.addDevice("iOS 17.2", 3700*time.Second)

	report := h.run(Options{})

	require.Len(t, report.Reclaimed, 1)
	assert.Equal(t, dev.UDID, report.Reclaimed[0].UDID)
	assert.Equal(t, ReasonStale, report.Reclaimed[0].Reason)
	assert.Equal(t, []string{dev.UDID}, h.inv.deleted)

	_, err := os.Stat(dev.LogPath)
	assert.True(t, os.IsNotExist(err), "log path should be removed")
}

func TestRun_FreshUnleasedDeviceRetained(t *testing.T) {
	h := newHarness(t)
	h.addDevice("iOS 17.2", 100*time.Second)

	report := h.run(Options{})

	assert.Empty(t, report.Reclaimed)
	assert.Empty(t, h.inv.deleted)
	assert.Equal(t, 1, report.Retained)
}

func TestRun_ActiveLeaseProtectsDevice(t *testing.T) {
	h := newHarness(t)
	// Data dir is ancient; the lease alone must protect it.
	dev := h.addDevice("iOS 17.2", 48*time.Hour)
	marker := h.addLease(dev, 10*time.Minute)

	report := h.run(Options{})

	assert.Empty(t, report.Reclaimed)
	assert.Empty(t, h.inv.deleted)
	assert.Equal(t, 1, report.Retained)

	_, err := os.Stat(marker)
	assert.NoError(t, err, "active marker must be untouched")
}

func TestRun_ExpiredLeaseReclaimsRegardlessOfAge(t *testing.T) {
	h := newHarness(t)
	// Data dir is brand new; the expired lease alone makes it eligible.
	dev := h.addDevice("iOS 17.2", 0)
	marker := h.addLease(dev, -5*time.Second)

	report := h.run(Options{})

	require.Len(t, report.Reclaimed, 1)
	assert.Equal(t, ReasonLeaseExpired, report.Reclaimed[0].Reason)
	assert.Equal(t, []string{dev.UDID}, h.inv.deleted)

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "expired marker should be removed")
}

func TestRun_StuckExpiredMarkerStillReclaimsWithWarning(t *testing.T) {
	h := newHarness(t)
	dev := h.addDevice("iOS 17.2", 0)

	// Marker is a non-empty directory: its mtime reads as an expired
	// lease, but os.Remove cannot clear it.
	marker := filepath.Join(h.leaseDir, dev.UDID)
	require.NoError(t, os.MkdirAll(filepath.Join(marker, "child"), 0750))
	expiry := h.now.Add(-time.Minute)
	require.NoError(t, os.Chtimes(marker, expiry, expiry))

	report := h.run(Options{})

	require.Len(t, report.Reclaimed, 1)
	assert.Equal(t, ReasonLeaseExpired, report.Reclaimed[0].Reason)
	assert.Equal(t, []string{dev.UDID}, h.inv.deleted, "device is deleted despite the stuck marker")

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, dev.UDID, report.Warnings[0].UDID)
	assert.ErrorContains(t, report.Warnings[0].Err, "remove expired marker")
}

func TestRun_UnreadableMarkerFallsBackToAgeCheck(t *testing.T) {
	h := newHarness(t)
	fresh := h.addDevice("iOS 17.2", time.Minute)
	stale := h.addDevice("iOS 17.2", 2*time.Hour)

	// A regular file in place of the lease directory makes every marker
	// stat fail with a non-ENOENT error.
	require.NoError(t, os.RemoveAll(h.leaseDir))
	require.NoError(t, os.WriteFile(h.leaseDir, []byte("not a directory"), 0600))

	report := h.run(Options{})

	// Both devices fall through to the staleness check, each with a warning.
	require.Len(t, report.Reclaimed, 1)
	assert.Equal(t, stale.UDID, report.Reclaimed[0].UDID)
	assert.Equal(t, 1, report.Retained)
	assert.NotContains(t, h.inv.deleted, fresh.UDID)
	assert.Len(t, report.Warnings, 2)
}

func TestRun_DeleteFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	bad := h.addDevice("iOS 17.2", 2*time.Hour)
	good := h.addDevice("iOS 17.2", 2*time.Hour)
	h.inv.deleteErr[bad.UDID] = errors.New("device is busy")

	report := h.run(Options{})

	assert.Equal(t, []string{good.UDID}, h.inv.deleted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, bad.UDID, report.Failures[0].UDID)
	require.Len(t, report.Reclaimed, 1)
	assert.Equal(t, good.UDID, report.Reclaimed[0].UDID)
}

func TestRun_VanishedDeviceCountsAsReclaimed(t *testing.T) {
	h := newHarness(t)
	dev := h.addDevice("iOS 17.2", 2*time.Hour)
	h.inv.deleteErr[dev.UDID] = ErrNotFound

	report := h.run(Options{})

	require.Len(t, report.Reclaimed, 1)
	assert.Empty(t, report.Failures)

	// Log path still gets cleaned up even though the device was gone.
	_, err := os.Stat(dev.LogPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_UnstatableDataPathRetainsWithWarning(t *testing.T) {
	h := newHarness(t)
	dev := h.addDevice("iOS 17.2", 2*time.Hour)
	require.NoError(t, os.RemoveAll(filepath.Dir(dev.DataPath)))

	report := h.run(Options{})

	assert.Empty(t, report.Reclaimed)
	assert.Equal(t, 1, report.Retained)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, dev.UDID, report.Warnings[0].UDID)
}

func TestRun_DryRunDeletesNothing(t *testing.T) {
	h := newHarness(t)
	stale := h.addDevice("iOS 17.2", 2*time.Hour)
	expired := h.addDevice("iOS 16.4", 0)
	marker := h.addLease(expired, -time.Minute)

	report := h.run(Options{DryRun: true})

	assert.Len(t, report.Reclaimed, 2)
	assert.Empty(t, h.inv.deleted)

	_, err := os.Stat(marker)
	assert.NoError(t, err, "dry-run must not remove markers")
	_, err = os.Stat(stale.LogPath)
	assert.NoError(t, err, "dry-run must not remove log paths")
}

func TestRun_PruneUnavailableFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.addDevice("iOS 17.2", 2*time.Hour)
	h.inv.unavailableErr = errors.New("simctl exploded")

	r := New(h.inv, lease.NewStore(h.leaseDir), nil, Options{Now: h.now})
	_, err := r.Run(context.Background())

	assert.ErrorContains(t, err, "prune unavailable")
	assert.Empty(t, h.inv.deleted, "no deletions after an aborted prune")
}

func TestRun_ListFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.inv.listErr = errors.New("malformed listing")

	r := New(h.inv, lease.NewStore(h.leaseDir), nil, Options{Now: h.now})
	_, err := r.Run(context.Background())

	assert.ErrorContains(t, err, "list devices")
	assert.Equal(t, 1, h.inv.prunedCalls, "prune runs before listing")
}

func TestRun_SecondPassOverSurvivorsIsClean(t *testing.T) {
	h := newHarness(t)
	stale := h.addDevice("iOS 17.2", 2*time.Hour)
	fresh := h.addDevice("iOS 17.2", time.Minute)

	first := h.run(Options{})
	require.Len(t, first.Reclaimed, 1)

	// Second run sees only the survivor, as the platform would report.
	h.inv.devices = map[string][]Device{"iOS 17.2": {fresh}}
	h.inv.deleted = nil

	second := h.run(Options{})
	assert.Empty(t, second.Reclaimed)
	assert.Empty(t, second.Failures)
	assert.Empty(t, second.Warnings)
	assert.NotContains(t, h.inv.deleted, stale.UDID)
}

func TestRun_CustomMaxAge(t *testing.T) {
	h := newHarness(t)
	h.addDevice("iOS 17.2", 30*time.Minute)

	report := h.run(Options{MaxAge: 10 * time.Minute})

	assert.Len(t, report.Reclaimed, 1)
}

func TestRun_CountsAreConsistent(t *testing.T) {
	h := newHarness(t)
	h.addDevice("iOS 17.2", 2*time.Hour)
	h.addDevice("iOS 17.2", time.Minute)
	leased := h.addDevice("iOS 16.4", 3*time.Hour)
	h.addLease(leased, time.Hour)

	report := h.run(Options{})

	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 2, report.Retained)
	assert.Len(t, report.Reclaimed, 1)
}
