package reclaim

// ABOUTME: The reclamation policy: prune unavailable devices, then delete
// ABOUTME: every device with an expired lease or no lease and a stale
// ABOUTME: data directory.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/simfleet/simreap/internal/lease"
)

// DefaultMaxAge is how long an unleased device may sit, measured by its
// data directory's mtime, before it becomes eligible for reclamation.
// Freshly created devices get this grace period to acquire a lease.
const DefaultMaxAge = time.Hour

// Options configure a reclaim run.
type Options struct {
	// MaxAge is the staleness threshold for unleased devices.
	// Zero means DefaultMaxAge.
	MaxAge time.Duration

	// DryRun evaluates and reports without deleting anything, markers
	// included.
	DryRun bool

	// Now is the reference instant for every lease and age decision in
	// the run. Zero means time.Now(), captured once at construction so a
	// run's decisions stay internally consistent.
	Now time.Time
}

// Reclaimer deletes simulator devices whose lease has expired or that
// sat unleased past the staleness threshold.
type Reclaimer struct {
	inv    Inventory
	leases *lease.Store
	logger *slog.Logger
	opts   Options
}

// New creates a Reclaimer.
func New(inv Inventory, leases *lease.Store, logger *slog.Logger, opts Options) *Reclaimer {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{inv: inv, leases: leases, logger: logger, opts: opts}
}

// Run executes one reclamation pass and returns its report.
//
// A failure to prune unavailable devices or to list the inventory aborts
// the run: no deletion set can be computed without a trustworthy listing.
// Per-device failures never abort; they are collected into the report and
// the pass continues with the remaining devices.
func (r *Reclaimer) Run(ctx context.Context) (Report, error) {
	var report Report

	if err := r.inv.DeleteUnavailable(ctx); err != nil {
		return report, fmt.Errorf("prune unavailable devices: %w", err)
	}

	devices, err := r.inv.ListDevices(ctx)
	if err != nil {
		return report, fmt.Errorf("list devices: %w", err)
	}

	for runtimeID, devs := range devices {
		for _, dev := range devs {
			r.examine(ctx, runtimeID, dev, &report)
		}
	}

	r.logger.Debug("reclaim pass complete",
		"examined", report.Examined,
		"reclaimed", len(report.Reclaimed),
		"retained", report.Retained,
		"failed", len(report.Failures))

	return report, nil
}

// examine applies the policy to one device and records the outcome.
func (r *Reclaimer) examine(ctx context.Context, runtimeID string, dev Device, report *Report) {
	report.Examined++

	ev, warn := r.evaluateLease(dev.UDID)
	if warn != nil {
		report.Warnings = append(report.Warnings, Warning{UDID: dev.UDID, Err: warn})
	}

	var reason string
	switch ev.State {
	case lease.Active:
		report.Retained++
		r.logger.Debug("device leased", "udid", dev.UDID, "expiry", ev.Expiry)
		return

	case lease.Expired:
		reason = ReasonLeaseExpired

	case lease.Absent:
		age, err := r.deviceAge(dev)
		if err != nil {
			// Can't establish how old the device is; keep it and flag it.
			report.Retained++
			report.Warnings = append(report.Warnings, Warning{UDID: dev.UDID, Err: err})
			return
		}
		if age < r.opts.MaxAge {
			report.Retained++
			r.logger.Debug("device too new", "udid", dev.UDID, "age", age)
			return
		}
		reason = ReasonStale
	}

	rec := Reclaimed{UDID: dev.UDID, Name: dev.Name, Runtime: runtimeID, Reason: reason}

	if r.opts.DryRun {
		report.Reclaimed = append(report.Reclaimed, rec)
		return
	}

	if err := r.deleteDevice(ctx, dev); err != nil {
		report.Failures = append(report.Failures, Failure{UDID: dev.UDID, Reason: reason, Err: err})
		return
	}
	report.Reclaimed = append(report.Reclaimed, rec)
	r.logger.Debug("device reclaimed", "udid", dev.UDID, "reason", reason)
}

// evaluateLease checks a device's marker. Dry-run uses Peek so expired
// markers stay in place.
func (r *Reclaimer) evaluateLease(udid string) (lease.Evaluation, error) {
	if r.opts.DryRun {
		return r.leases.Peek(udid, r.opts.Now)
	}
	return r.leases.Evaluate(udid, r.opts.Now)
}

// deviceAge reports how long the device's data directory has been
// unmodified, relative to the run's reference time.
func (r *Reclaimer) deviceAge(dev Device) (time.Duration, error) {
	info, err := os.Stat(dev.DataPath)
	if err != nil {
		return 0, fmt.Errorf("stat data path: %w", err)
	}
	return r.opts.Now.Sub(info.ModTime()), nil
}

// deleteDevice removes the device and its log directory. A device that
// vanished between listing and deletion counts as deleted.
func (r *Reclaimer) deleteDevice(ctx context.Context, dev Device) error {
	if err := r.inv.Delete(ctx, dev.UDID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete device: %w", err)
	}
	if dev.LogPath != "" {
		if err := os.RemoveAll(dev.LogPath); err != nil {
			return fmt.Errorf("remove log path %s: %w", dev.LogPath, err)
		}
	}
	return nil
}
