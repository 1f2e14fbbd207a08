// Package simctl implements reclaim.Inventory by shelling out to the
// xcrun simctl device-management tool.
// ABOUTME: Thin wrapper over `xcrun simctl` for listing and deleting
// ABOUTME: simulator devices. All policy lives in the reclaim package.
package simctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/simfleet/simreap/internal/reclaim"
)

// Client shells out to xcrun simctl.
type Client struct {
	xcrunBin string
}

// Compile-time check.
var _ reclaim.Inventory = (*Client)(nil)

// New creates a Client after verifying that xcrun is installed. An empty
// path means "xcrun" resolved from PATH.
func New(xcrunPath string) (*Client, error) {
	if xcrunPath == "" {
		xcrunPath = "xcrun"
	}
	bin, err := exec.LookPath(xcrunPath)
	if err != nil {
		return nil, fmt.Errorf("xcrun is not available (install the Xcode command line tools): %w", err)
	}
	return &Client{xcrunBin: bin}, nil
}

// DeleteUnavailable removes every device the platform flags unavailable.
func (c *Client) DeleteUnavailable(ctx context.Context) error {
	if _, err := c.runSimctl(ctx, "delete", "unavailable"); err != nil {
		return fmt.Errorf("simctl delete unavailable: %w", err)
	}
	return nil
}

// ListDevices returns the device inventory grouped by runtime identifier.
func (c *Client) ListDevices(ctx context.Context) (map[string][]reclaim.Device, error) {
	out, err := c.runSimctl(ctx, "list", "devices", "-je")
	if err != nil {
		return nil, fmt.Errorf("simctl list devices: %w", err)
	}
	devices, err := parseDeviceList([]byte(out))
	if err != nil {
		return nil, fmt.Errorf("parse simctl device listing: %w", err)
	}
	return devices, nil
}

// Delete removes one device by UDID.
func (c *Client) Delete(ctx context.Context, udid string) error {
	if _, err := c.runSimctl(ctx, "delete", udid); err != nil {
		return err
	}
	return nil
}

// parseDeviceList decodes the JSON emitted by `simctl list devices -je`.
func parseDeviceList(data []byte) (map[string][]reclaim.Device, error) {
	var listing struct {
		Devices map[string][]reclaim.Device `json:"devices"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, err
	}
	return listing.Devices, nil
}

// runSimctl executes a simctl subcommand and returns stdout.
func (c *Client) runSimctl(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"simctl"}, args...)
	cmd := exec.CommandContext(ctx, c.xcrunBin, full...) //nolint:gosec // G204: args are constructed internally
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", mapSimctlError(err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// mapSimctlError maps simctl CLI errors to reclaim sentinel errors.
func mapSimctlError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "invalid device"),
		strings.Contains(lower, "no devices matching"),
		strings.Contains(lower, "not found"):
		return reclaim.ErrNotFound
	default:
		if stderr != "" {
			return fmt.Errorf("%w: %s", err, stderr)
		}
		return err
	}
}
