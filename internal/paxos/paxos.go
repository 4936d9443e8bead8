// Package paxos implements the Disk-Paxos resource-lease protocol: a
// two-phase ballot run entirely through reads and writes of a shared
// lease area, used to decide and record which host owns a named
// resource when hosts cannot talk to each other directly.
package paxos

import (
	"context"
	"math/rand"
	"time"

	"github.com/sanlockd/sanlockd/internal/deltalease"
	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// maxLverRestarts bounds how many times an acquire restarts from the
// read phase after a DBLOCK_LVER abort before giving up.
const maxLverRestarts = 10

// Resource is a named lease on a shared lease area: the combination of
// a lockspace (for liveness) and the leader/dblock sectors that record
// ownership.
type Resource struct {
	Lockspace string
	Name      string

	device diskio.BlockDevice
	layout wire.Layout

	maxHosts  uint32
	ioTimeout time.Duration

	ls *deltalease.Lockspace

	now func() time.Time
}

// Config bundles the arguments to NewResource.
type Config struct {
	Lockspace string
	Name      string
	Device    diskio.BlockDevice
	Layout    wire.Layout
	MaxHosts  uint32
	IOTimeout time.Duration
	Lease     *deltalease.Lockspace
}

// NewResource constructs a Resource bound to a lease area. The area
// must already be initialized (see Init).
func NewResource(cfg Config) *Resource {
	return &Resource{
		Lockspace: cfg.Lockspace,
		Name:      cfg.Name,
		device:    cfg.Device,
		layout:    cfg.Layout,
		maxHosts:  cfg.MaxHosts,
		ioTimeout: cfg.IOTimeout,
		ls:        cfg.Lease,
		now:       time.Now,
	}
}

// Init writes a FREE leader record for a new resource, sizing it for
// numHosts (≤ maxHosts).
func (r *Resource) Init(ctx context.Context, sectorSize, numHosts uint32) error {
	leader := wire.NewFreeLeader(r.Lockspace, r.Name, sectorSize, numHosts, r.maxHosts)
	return r.writeLeader(ctx, leader)
}

// area is everything one read phase pulls from the lease area.
type area struct {
	leader  *wire.LeaderRecord
	request *wire.RequestRecord
	dblocks map[uint64]*wire.DBlock
	modes   map[uint64]*wire.ModeBlock
}

// readArea performs one aligned read of the entire lease area: the
// leader, the request sector, and every host's dblock/mode-block
// sector.
func (r *Resource) readArea(ctx context.Context, hostID uint64) (*area, error) {
	deadline := r.now().Add(r.ioTimeout)
	sectorSize := r.device.SectorSize()

	leaderBuf := diskio.AlignedBuffer(int(sectorSize))
	res := r.device.ReadAt(ctx, leaderBuf, int64(r.layout.LeaderOffset()), deadline)
	if res.Outcome != diskio.OutcomeOK {
		return nil, classifyIOResult(res, sanlockerr.LeaderRead)
	}
	leader, err := wire.DecodeLeader(leaderBuf)
	if err != nil {
		return nil, err
	}
	if err := leader.Verify(r.Lockspace, r.Name, hostID); err != nil {
		return nil, err
	}

	reqBuf := diskio.AlignedBuffer(int(sectorSize))
	res = r.device.ReadAt(ctx, reqBuf, int64(r.layout.RequestOffset()), deadline)
	var request *wire.RequestRecord
	if res.Outcome == diskio.OutcomeOK {
		if rr, err := wire.DecodeRequest(reqBuf); err == nil {
			request = rr
		}
	}

	a := &area{leader: leader, request: request, dblocks: map[uint64]*wire.DBlock{}, modes: map[uint64]*wire.ModeBlock{}}
	for id := uint64(1); id <= uint64(leader.NumHosts); id++ {
		buf := diskio.AlignedBuffer(int(sectorSize))
		res := r.device.ReadAt(ctx, buf, int64(r.layout.DBlockOffset(id)), deadline)
		if res.Outcome != diskio.OutcomeOK {
			continue // missing dblocks don't block the read phase
		}
		d, m, dErr, mErr := wire.DecodeDBlockSector(buf)
		if dErr == nil {
			a.dblocks[id] = d
		}
		if mErr == nil {
			a.modes[id] = m
		}
	}
	return a, nil
}

func (r *Resource) writeLeader(ctx context.Context, l *wire.LeaderRecord) error {
	deadline := r.now().Add(r.ioTimeout)
	buf := l.Encode()
	padded := diskio.AlignedBuffer(len(buf))
	copy(padded, buf)
	res := r.device.WriteAt(ctx, padded, int64(r.layout.LeaderOffset()), deadline)
	if res.Outcome != diskio.OutcomeOK {
		return classifyIOResult(res, sanlockerr.LeaderWrite)
	}
	return nil
}

func (r *Resource) writeDBlock(ctx context.Context, hostID uint64, d *wire.DBlock, m *wire.ModeBlock) error {
	if m == nil {
		m = &wire.ModeBlock{}
	}
	deadline := r.now().Add(r.ioTimeout)
	sector := wire.EncodeDBlockSector(r.device.SectorSize(), d, m)
	res := r.device.WriteAt(ctx, sector, int64(r.layout.DBlockOffset(hostID)), deadline)
	if res.Outcome != diskio.OutcomeOK {
		return classifyIOResult(res, sanlockerr.DBlockWrite)
	}
	return nil
}

func classifyIOResult(res diskio.Result, onError sanlockerr.Code) error {
	if res.Outcome == diskio.OutcomeTimeout {
		return sanlockerr.Wrap(sanlockerr.AIOTimeout, "block I/O timed out", res.Err)
	}
	return sanlockerr.Wrap(onError, "block I/O failed", res.Err)
}

// maxMbal returns the highest mbal observed across dblocks, excluding
// our own.
func maxMbal(dblocks map[uint64]*wire.DBlock, skip uint64) uint64 {
	var max uint64
	for id, d := range dblocks {
		if id == skip {
			continue
		}
		if d.Mbal > max {
			max = d.Mbal
		}
	}
	return max
}

// chooseMbal picks this host's next ballot number so that every host's
// ballots fall in a distinct residue class mod maxHosts, preventing two
// hosts from ever proposing the same ballot number.
func chooseMbal(observedMax uint64, maxHosts uint32, hostID uint64) uint64 {
	if observedMax == 0 {
		return hostID
	}
	rounded := observedMax - observedMax%uint64(maxHosts)
	return rounded + uint64(maxHosts) + hostID
}

func randomBackoff() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

func newLogContext(lockspace, resource string, hostID uint64, command string) *logger.LogContext {
	return logger.NewLogContext(lockspace).WithResource(resource).WithHostID(hostID).WithCommand(command)
}
