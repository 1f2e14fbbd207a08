package reclaim

// Reasons a device became eligible for reclamation.
const (
	// ReasonLeaseExpired marks a device whose keepalive marker's expiry
	// had passed.
	ReasonLeaseExpired = "lease expired"
	// ReasonStale marks an unleased device whose data directory sat
	// unmodified past the staleness threshold.
	ReasonStale = "stale"
)

// Reclaimed records one deleted device (or would-be deleted, in dry-run).
type Reclaimed struct {
	UDID    string
	Name    string
	Runtime string
	Reason  string
}

// Failure records a device that was eligible but could not be deleted.
// The run continues past failures; they surface in the report summary.
type Failure struct {
	UDID   string
	Reason string
	Err    error
}

// Warning is a non-fatal problem hit while evaluating a device, such as
// an unreadable marker or an expired marker that could not be removed.
type Warning struct {
	UDID string
	Err  error
}

// Report summarizes one reclaim run.
type Report struct {
	Examined  int
	Retained  int
	Reclaimed []Reclaimed
	Failures  []Failure
	Warnings  []Warning
}
