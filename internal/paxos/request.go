package paxos

import (
	"context"

	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// Migrate writes sector 1 of the resource area to nudge the current
// owner to release. It does not itself run a ballot:
// if the owner is alive and polling requests it releases voluntarily or
// force-releases; if the owner is dead the requester is expected to
// call Acquire afterward, which proceeds with a ballot regardless of
// whether this request record exists.
func (r *Resource) Migrate(ctx context.Context, forceMode bool) error {
	a, err := r.readArea(ctx, 0)
	if err != nil {
		return err
	}

	force := uint32(0)
	if forceMode {
		force = 1
	}
	req := &wire.RequestRecord{
		Magic:     wire.MagicRequest,
		Version:   wire.CurrentVersion,
		Lver:      uint32(a.leader.Lver),
		ForceMode: force,
	}
	return r.writeRequest(ctx, req)
}

func (r *Resource) writeRequest(ctx context.Context, req *wire.RequestRecord) error {
	deadline := r.now().Add(r.ioTimeout)
	buf := req.Encode()
	padded := make([]byte, r.device.SectorSize())
	copy(padded, buf)
	res := r.device.WriteAt(ctx, padded, int64(r.layout.RequestOffset()), deadline)
	if res.Outcome != diskio.OutcomeOK {
		return classifyIOResult(res, sanlockerr.LeaderWrite)
	}
	return nil
}

// PollRequest reads the current request record, returning nil if the
// owner's daemon should not react (no pending request, or it targets a
// different lver than the owner currently holds).
func (r *Resource) PollRequest(ctx context.Context, currentLver uint64) (*wire.RequestRecord, error) {
	a, err := r.readArea(ctx, 0)
	if err != nil {
		return nil, err
	}
	if a.request == nil || uint64(a.request.Lver) != currentLver {
		return nil, nil
	}
	return a.request, nil
}
