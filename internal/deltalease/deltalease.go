// Package deltalease implements the per-lockspace delta-lease
// liveness protocol: each host periodically renews a timestamp in its
// own sector of a shared area, arms a watchdog alongside every
// successful renewal, and reads its peers' sectors to track who else
// looks alive.
package deltalease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/watchdog"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// Timing holds the delta-lease protocol's configured durations. The
// zero value is invalid; use DefaultTiming for the protocol defaults.
type Timing struct {
	IOTimeout         time.Duration
	HostIDRenewal     time.Duration
	HostIDRenewalFail time.Duration
	HostIDTimeout     time.Duration
}

// DefaultTiming returns the default timing values for the protocol.
func DefaultTiming() Timing {
	return Timing{
		IOTimeout:         10 * time.Second,
		HostIDRenewal:     5 * time.Second,
		HostIDRenewalFail: 40 * time.Second,
		HostIDTimeout:     80 * time.Second,
	}
}

// HostDeadSeconds computes host_dead_seconds for a peer publishing the
// given io_timeout: how long a peer's timestamp may go without
// advancing before it is presumed dead.
func HostDeadSeconds(peerIOTimeout time.Duration) time.Duration {
	return peerIOTimeout * 8
}

// PeerStatus is what the background reader has observed about one
// host_id in the lockspace.
type PeerStatus struct {
	HostID          uint64
	OwnerGeneration uint64
	Timestamp       uint64
	IOTimeout       time.Duration
	LastCheck       time.Time
	LastLive        time.Time
}

// Dead reports whether this peer's timestamp has failed to advance for
// a full host_dead_seconds interval measured against its own
// io_timeout, as of now.
func (p PeerStatus) Dead(now time.Time) bool {
	if p.LastLive.IsZero() {
		return true
	}
	return now.Sub(p.LastLive) > HostDeadSeconds(p.IOTimeout)
}

// Lockspace owns one lease renewal worker and one peer-observing reader
// for a named delta-lease area on a shared device.
type Lockspace struct {
	Name   string
	device diskio.BlockDevice
	layout wire.Layout
	timing Timing
	wd     watchdog.Client

	mu            sync.RWMutex
	hostID        uint64
	generation    uint64
	live          bool
	lastRenewalOK time.Time
	peers         map[uint64]PeerStatus

	wg     conc.WaitGroup
	stopCh chan struct{}

	now func() time.Time
}

// Config bundles the arguments to NewLockspace.
type Config struct {
	Name     string
	Device   diskio.BlockDevice
	Layout   wire.Layout
	Timing   Timing
	Watchdog watchdog.Client
}

// NewLockspace constructs a Lockspace. The renewal and reader workers
// are not started until Start is called.
func NewLockspace(cfg Config) *Lockspace {
	return &Lockspace{
		Name:   cfg.Name,
		device: cfg.Device,
		layout: cfg.Layout,
		timing: cfg.Timing,
		wd:     cfg.Watchdog,
		peers:  make(map[uint64]PeerStatus),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// AcquireHostID claims hostID in this lockspace §4.4's
// acquire algorithm: read, wait a full host_dead_seconds, reread to
// confirm nobody else moved in, write our claim, wait and reread again
// to confirm our write held, then arm the watchdog before declaring the
// lockspace live.
func (ls *Lockspace) AcquireHostID(ctx context.Context, hostID uint64) error {
	lctx := logger.NewLogContext(ls.Name).WithHostID(hostID).WithCommand("ACQUIRE_HOST_ID")
	ctx = logger.WithContext(ctx, lctx)
	logger.InfoCtx(ctx, "acquiring host_id")

	offset := int64(ls.layout.DeltaLeaseOffset(hostID))
	sectorSize := ls.device.SectorSize()

	first, err := ls.readSector(ctx, offset, sectorSize)
	if err != nil {
		return err
	}
	t0 := first.Timestamp

	deadSeconds := HostDeadSeconds(timingOrDefault(first.IOTimeout, ls.timing.IOTimeout))
	select {
	case <-time.After(deadSeconds):
	case <-ctx.Done():
		return sanlockerr.Wrap(sanlockerr.AcquireIDDisk, "acquire host_id cancelled", ctx.Err())
	}

	reread, err := ls.readSector(ctx, offset, sectorSize)
	if err != nil {
		return err
	}
	if reread.Timestamp != t0 {
		return sanlockerr.New(sanlockerr.AcquireIDLive, "host_id sector changed during dead-time wait").
			WithLockspace(ls.Name)
	}

	generation := reread.OwnerGeneration + 1

	claim := &wire.DeltaLeaseSector{
		Magic:           wire.MagicDelta,
		Version:         wire.CurrentVersion,
		LockspaceName:   ls.Name,
		ResourceName:    wire.HostIDResourceName(hostID),
		OwnerID:         hostID,
		OwnerGeneration: generation,
		Timestamp:       uint64(ls.now().Unix()),
		IOTimeout:       uint32(ls.timing.IOTimeout.Seconds()),
	}
	if err := ls.writeSector(ctx, offset, claim); err != nil {
		return err
	}

	select {
	case <-time.After(deadSeconds):
	case <-ctx.Done():
		return sanlockerr.Wrap(sanlockerr.AcquireIDDisk, "acquire host_id cancelled", ctx.Err())
	}

	verify, err := ls.readSector(ctx, offset, sectorSize)
	if err != nil {
		return err
	}
	if verify.OwnerID != hostID || verify.OwnerGeneration != generation || verify.Timestamp != claim.Timestamp {
		return sanlockerr.New(sanlockerr.AcquireIDLive, "another host claimed host_id concurrently").
			WithLockspace(ls.Name)
	}

	deadline := ls.now().Add(ls.timing.HostIDRenewalFail)
	if err := ls.wd.Arm(deadline); err != nil {
		return sanlockerr.Wrap(sanlockerr.AIOTimeout, "arm watchdog after host_id acquire", err)
	}

	ls.mu.Lock()
	ls.hostID = hostID
	ls.generation = generation
	ls.live = true
	ls.lastRenewalOK = ls.now()
	ls.mu.Unlock()

	logger.InfoCtx(ctx, "host_id acquired", logger.Generation(generation))
	return nil
}

// Release marks our sector FREE and disarms the watchdog.
func (ls *Lockspace) Release(ctx context.Context) error {
	ls.mu.RLock()
	hostID, generation, live := ls.hostID, ls.generation, ls.live
	ls.mu.RUnlock()
	if !live {
		return nil
	}

	offset := int64(ls.layout.DeltaLeaseOffset(hostID))
	free := &wire.DeltaLeaseSector{
		Magic:           wire.MagicDelta,
		Version:         wire.CurrentVersion,
		LockspaceName:   ls.Name,
		ResourceName:    wire.HostIDResourceName(hostID),
		OwnerID:         hostID,
		OwnerGeneration: generation,
		Timestamp:       0,
		IOTimeout:       uint32(ls.timing.IOTimeout.Seconds()),
	}
	if err := ls.writeSector(ctx, offset, free); err != nil {
		return err
	}

	if err := ls.wd.Disarm(); err != nil {
		rctx := logger.WithContext(ctx, logger.NewLogContext(ls.Name).WithHostID(hostID))
		logger.WarnCtx(rctx, "watchdog disarm failed", logger.Err(err))
	}

	ls.mu.Lock()
	ls.live = false
	ls.mu.Unlock()
	return nil
}

// HostStatus returns what the background reader has most recently
// observed for peer hostID.
func (ls *Lockspace) HostStatus(hostID uint64) (PeerStatus, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	p, ok := ls.peers[hostID]
	return p, ok
}

// Live reports whether this host currently holds a live host_id in the
// lockspace.
func (ls *Lockspace) Live() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.live
}

// HostID returns the acquired host_id and generation. Only meaningful
// when Live() is true.
func (ls *Lockspace) HostID() (uint64, uint64) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.hostID, ls.generation
}

// Start launches the renewal worker and the peer-status reader. Both
// run until Stop is called.
func (ls *Lockspace) Start(ctx context.Context, numHosts uint64) {
	ls.wg.Go(func() { ls.renewalLoop(ctx) })
	ls.wg.Go(func() { ls.readerLoop(ctx, numHosts) })
}

// Stop signals both background workers to exit and waits for them.
func (ls *Lockspace) Stop() {
	close(ls.stopCh)
	ls.wg.Wait()
}

func (ls *Lockspace) readSector(ctx context.Context, offset int64, sectorSize uint32) (*wire.DeltaLeaseSector, error) {
	buf := diskio.AlignedBuffer(int(sectorSize))
	res := ls.device.ReadAt(ctx, buf, offset, ls.now().Add(ls.timing.IOTimeout))
	if res.Outcome == diskio.OutcomeTimeout {
		return nil, sanlockerr.New(sanlockerr.AIOTimeout, fmt.Sprintf("delta-lease read timed out at offset %d", offset))
	}
	if res.Outcome == diskio.OutcomeError {
		return nil, sanlockerr.Wrap(sanlockerr.AcquireIDDisk, "delta-lease read failed", res.Err)
	}
	sector, err := wire.DecodeDelta(buf)
	if err != nil {
		if allZero(buf) {
			// A slot nobody has ever written reads back as all zero,
			// which fails the checksum rather than coincidentally
			// matching it; treat that as FREE instead of an error.
			return &wire.DeltaLeaseSector{}, nil
		}
		return nil, err
	}
	return sector, nil
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func (ls *Lockspace) writeSector(ctx context.Context, offset int64, sector *wire.DeltaLeaseSector) error {
	buf := sector.Encode()
	padded := diskio.AlignedBuffer(len(buf))
	copy(padded, buf)
	res := ls.device.WriteAt(ctx, padded, offset, ls.now().Add(ls.timing.IOTimeout))
	if res.Outcome == diskio.OutcomeTimeout {
		return sanlockerr.New(sanlockerr.AIOTimeout, fmt.Sprintf("delta-lease write timed out at offset %d", offset))
	}
	if res.Outcome == diskio.OutcomeError {
		return sanlockerr.Wrap(sanlockerr.AcquireIDDisk, "delta-lease write failed", res.Err)
	}
	return nil
}

func timingOrDefault(peerIOTimeout uint32, fallback time.Duration) time.Duration {
	if peerIOTimeout == 0 {
		return fallback
	}
	return time.Duration(peerIOTimeout) * time.Second
}
