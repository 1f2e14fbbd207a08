package cli

// ABOUTME: `simreap clean` — the reclaim run: prune unavailable devices,
// ABOUTME: then delete expired-lease and stale unleased simulators.

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/simfleet/simreap/internal/lease"
	"github.com/simfleet/simreap/internal/reclaim"
	"github.com/simfleet/simreap/internal/simctl"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete simulators whose lease expired or that sat unleased too long",
		Args:  cobra.NoArgs,
		RunE:  runClean,
	}

	cmd.Flags().Bool("dry-run", false, "Report only, don't delete anything")
	cmd.Flags().String("lease-dir", "", "Directory holding keepalive marker files")
	cmd.Flags().Duration("max-age", 0, "How long an unleased simulator may sit before reclamation")
	cmd.Flags().Duration("timeout", 0, "Deadline for the whole run")
	cmd.Flags().String("xcrun", "", "Path to the xcrun binary")

	return cmd
}

func runClean(cmd *cobra.Command, _ []string) error {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}

	inv, err := simctl.New(settings.XcrunPath)
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	reclaimer := reclaim.New(inv, lease.NewStore(settings.LeaseDir), slog.Default(), reclaim.Options{
		MaxAge: settings.MaxAge,
		DryRun: dryRun,
	})

	report, err := reclaimer.Run(ctx)
	if err != nil {
		return err
	}

	if jsonEnabled(cmd) {
		return writeReportJSON(cmd.OutOrStdout(), report, dryRun)
	}
	printReport(cmd.OutOrStdout(), report, dryRun)
	return nil
}

// printReport writes the human-readable run summary.
func printReport(w io.Writer, report reclaim.Report, dryRun bool) {
	verb := "Reclaimed"
	if dryRun {
		verb = "Would reclaim"
	}
	fmt.Fprintf(w, "%s %d of %d device(s), %d retained\n", //nolint:errcheck // best-effort output
		verb, len(report.Reclaimed), report.Examined, report.Retained)

	for _, rec := range report.Reclaimed {
		name := rec.Name
		if name == "" {
			name = "unnamed"
		}
		fmt.Fprintf(w, "  %s  %s (%s): %s\n", rec.UDID, name, runtimeDisplayName(rec.Runtime), rec.Reason) //nolint:errcheck
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(w, "Failed to reclaim %d device(s):\n", len(report.Failures)) //nolint:errcheck
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s (%s): %v\n", f.UDID, f.Reason, f.Err) //nolint:errcheck
		}
	}

	for _, warn := range report.Warnings {
		fmt.Fprintf(w, "Warning: %s: %v\n", warn.UDID, warn.Err) //nolint:errcheck
	}
}

// writeReportJSON outputs the run report as JSON.
func writeReportJSON(w io.Writer, report reclaim.Report, dryRun bool) error {
	type reclaimedJSON struct {
		UDID    string `json:"udid"`
		Name    string `json:"name,omitempty"`
		Runtime string `json:"runtime"`
		Reason  string `json:"reason"`
	}
	type failureJSON struct {
		UDID   string `json:"udid"`
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	type warningJSON struct {
		UDID  string `json:"udid"`
		Error string `json:"error"`
	}

	reclaimed := make([]reclaimedJSON, 0, len(report.Reclaimed))
	for _, rec := range report.Reclaimed {
		reclaimed = append(reclaimed, reclaimedJSON{
			UDID:    rec.UDID,
			Name:    rec.Name,
			Runtime: rec.Runtime,
			Reason:  rec.Reason,
		})
	}
	failures := make([]failureJSON, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, failureJSON{UDID: f.UDID, Reason: f.Reason, Error: f.Err.Error()})
	}
	warnings := make([]warningJSON, 0, len(report.Warnings))
	for _, warn := range report.Warnings {
		warnings = append(warnings, warningJSON{UDID: warn.UDID, Error: warn.Err.Error()})
	}

	return writeJSON(w, map[string]any{
		"examined":  report.Examined,
		"retained":  report.Retained,
		"reclaimed": reclaimed,
		"failures":  failures,
		"warnings":  warnings,
		"dry_run":   dryRun,
	})
}
