package watchdog

import (
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// FakeClient is an in-memory Client for tests. It records every Arm
// deadline so a test can assert the fencing contract (Arm always called
// with deadline >= now + host_id_renewal_fail) and can simulate a fire
// with Fire, after which every Arm call fails.
type FakeClient struct {
	mu            sync.Mutex
	interval      time.Duration
	fireTimeout   time.Duration
	lastDeadline  time.Time
	lastKeepalive time.Time
	disarmed      bool
	closed        bool
	fired         bool

	// Deadlines records every deadline passed to Arm, in call order, for
	// assertions about renewal cadence.
	Deadlines []time.Time
}

// NewFakeClient builds a fake watchdog with the given keepalive interval
// and fire timeout.
func NewFakeClient(interval, fireTimeout time.Duration) *FakeClient {
	return &FakeClient{interval: interval, fireTimeout: fireTimeout}
}

func (f *FakeClient) Arm(deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return sanlockerr.New(sanlockerr.AIOTimeout, "watchdog closed")
	}
	if f.fired {
		return sanlockerr.New(sanlockerr.AIOTimeout, "watchdog already fired")
	}
	f.lastDeadline = deadline
	f.lastKeepalive = time.Now()
	f.disarmed = false
	f.Deadlines = append(f.Deadlines, deadline)
	return nil
}

func (f *FakeClient) Disarm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmed = true
	return nil
}

func (f *FakeClient) Status() (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		Interval:      f.interval,
		FireTimeout:   f.fireTimeout,
		LastKeepalive: f.lastKeepalive,
	}, nil
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Fire simulates the host being reset: the watchdog's countdown
// expired without a fresh Arm. Any further Arm call fails, mimicking a
// host that is already down.
func (f *FakeClient) Fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = true
}

// Disarmed reports whether Disarm was the most recent call.
func (f *FakeClient) Disarmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disarmed
}

var _ Client = (*FakeClient)(nil)
