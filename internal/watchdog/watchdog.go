// Package watchdog talks to a hardware or softdog watchdog device,
// giving the delta-lease engine a way to guarantee a host that stops
// renewing its lease will be reset by the kernel before a peer can
// safely seize its leases.
//
// The contract: after Arm(t) returns, the device will reset the host no
// later than t+fireTimeout unless Arm is called again with a later
// deadline before then. The delta-lease engine, not this package, is
// responsible for keeping that deadline far enough in the future — see
// internal/deltalease.
package watchdog

import (
	"time"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Status reports what the watchdog device currently believes about its
// own state.
type Status struct {
	// Interval is the device's configured keepalive interval.
	Interval time.Duration
	// FireTimeout is the device's configured time-to-reset after the
	// last keepalive, absent a further one.
	FireTimeout time.Duration
	// LastKeepalive is when Arm was last successfully called.
	LastKeepalive time.Time
}

// Client is a watchdog device: something that resets the host if not
// petted in time.
type Client interface {
	// Arm guarantees the device will reset the host no later than
	// deadline+FireTimeout unless Arm is called again with a later
	// deadline first.
	Arm(deadline time.Time) error
	// Disarm stops the countdown. Few real watchdog devices support
	// this once armed (CONFIG_WATCHDOG_NOWAYOUT); callers should not
	// depend on it succeeding on hardware.
	Disarm() error
	// Status reports the device's current configuration and the time
	// of the last successful Arm.
	Status() (Status, error)
	// Close releases the underlying device handle without disarming.
	Close() error
}

// CheckTimeoutBudget verifies the fencing identity the delta-lease
// engine must hold before it ever arms the watchdog:
// renewalFail + fireTimeout == hostIDTimeout. Refusing to arm when this
// doesn't hold is the difference between a watchdog that fences in time
// and one that's cosmetic.
func CheckTimeoutBudget(renewalFail, fireTimeout, hostIDTimeout time.Duration) error {
	if renewalFail+fireTimeout != hostIDTimeout {
		return sanlockerr.New(sanlockerr.AIOTimeout,
			"watchdog timeout budget mismatch: renewal_fail + fire_timeout must equal host_id_timeout")
	}
	return nil
}
