package cli

// ABOUTME: `simreap list` — read-only view of the device inventory with
// ABOUTME: each device's lease state, grouped by runtime.

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/simfleet/simreap/internal/lease"
	"github.com/simfleet/simreap/internal/reclaim"
	"github.com/simfleet/simreap/internal/simctl"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List simulator devices and their lease state",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}

	cmd.Flags().String("lease-dir", "", "Directory holding keepalive marker files")
	cmd.Flags().String("xcrun", "", "Path to the xcrun binary")

	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	inv, err := simctl.New(settings.XcrunPath)
	if err != nil {
		return err
	}

	devices, err := inv.ListDevices(cmd.Context())
	if err != nil {
		return err
	}

	store := lease.NewStore(settings.LeaseDir)
	now := time.Now()

	runtimes := make([]string, 0, len(devices))
	for id := range devices {
		if len(devices[id]) > 0 {
			runtimes = append(runtimes, id)
		}
	}
	sortRuntimes(runtimes)

	if jsonEnabled(cmd) {
		return writeListJSON(cmd, runtimes, devices, store, now)
	}

	if len(runtimes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices found") //nolint:errcheck // best-effort output
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUNTIME\tNAME\tUDID\tSTATE\tLEASE") //nolint:errcheck // best-effort output
	for _, id := range runtimes {
		for _, dev := range devices[id] {
			// Peek, not Evaluate: listing must never clear markers.
			ev, _ := store.Peek(dev.UDID, now)
			leaseCol := ev.State.String()
			if ev.State == lease.Active {
				leaseCol = fmt.Sprintf("active until %s", ev.Expiry.Format("15:04:05"))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // best-effort output
				runtimeDisplayName(id), dev.Name, dev.UDID, dev.State, leaseCol)
		}
	}
	return w.Flush()
}

// writeListJSON outputs the inventory with lease states as JSON.
func writeListJSON(cmd *cobra.Command, runtimes []string, devices map[string][]reclaim.Device, store *lease.Store, now time.Time) error {
	type deviceJSON struct {
		UDID        string     `json:"udid"`
		Name        string     `json:"name"`
		State       string     `json:"state"`
		Lease       string     `json:"lease"`
		LeaseExpiry *time.Time `json:"lease_expiry,omitempty"`
	}
	type runtimeJSON struct {
		Runtime string       `json:"runtime"`
		Name    string       `json:"name"`
		Devices []deviceJSON `json:"devices"`
	}

	out := make([]runtimeJSON, 0, len(runtimes))
	for _, id := range runtimes {
		rt := runtimeJSON{Runtime: id, Name: runtimeDisplayName(id)}
		for _, dev := range devices[id] {
			ev, _ := store.Peek(dev.UDID, now)
			dj := deviceJSON{
				UDID:  dev.UDID,
				Name:  dev.Name,
				State: dev.State,
				Lease: ev.State.String(),
			}
			if ev.State != lease.Absent {
				expiry := ev.Expiry
				dj.LeaseExpiry = &expiry
			}
			rt.Devices = append(rt.Devices, dj)
		}
		out = append(out, rt)
	}

	return writeJSON(cmd.OutOrStdout(), out)
}

// runtimePrefix is CoreSimulator's reverse-DNS runtime identifier prefix.
const runtimePrefix = "com.apple.CoreSimulator.SimRuntime."

// splitRuntime breaks a runtime identifier into platform and parsed
// version, e.g. "...SimRuntime.iOS-17-2" -> ("iOS", 17.2). The version
// is nil when the identifier has no parseable suffix.
func splitRuntime(id string) (string, *version.Version) {
	name := strings.TrimPrefix(id, runtimePrefix)
	platform, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name, nil
	}
	v, err := version.NewVersion(strings.ReplaceAll(rest, "-", "."))
	if err != nil {
		return platform, nil
	}
	return platform, v
}

// runtimeDisplayName turns a runtime identifier into a readable name,
// e.g. "com.apple.CoreSimulator.SimRuntime.iOS-17-2" -> "iOS 17.2".
func runtimeDisplayName(id string) string {
	name := strings.TrimPrefix(id, runtimePrefix)
	platform, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return platform + " " + strings.ReplaceAll(rest, "-", ".")
}

// sortRuntimes orders runtime identifiers by platform name, then newest
// version first. Identifiers without a parseable version sort after
// versioned ones of the same platform.
func sortRuntimes(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, vi := splitRuntime(ids[i])
		pj, vj := splitRuntime(ids[j])
		if pi != pj {
			return pi < pj
		}
		switch {
		case vi == nil && vj == nil:
			return ids[i] < ids[j]
		case vi == nil:
			return false
		case vj == nil:
			return true
		case !vi.Equal(vj):
			return vi.GreaterThan(vj)
		default:
			return ids[i] < ids[j]
		}
	})
}
