package paxos

import (
	"context"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// ReleaseOptions controls a release call.
type ReleaseOptions struct {
	// Rename, if non-empty, is written into the leader atomically with
	// the FREE transition.
	Rename string
	// ExpectedLver is the lver this token last observed itself commit.
	// A mismatch against the leader's current lver is a diagnostic
	// error, but the dblock is still cleared.
	ExpectedLver uint64
}

// Release gives up ownership of the resource.
func (r *Resource) Release(ctx context.Context, hostID, generation uint64, opts ReleaseOptions) error {
	lctx := logger.WithContext(ctx, newLogContext(r.Lockspace, r.Name, hostID, "RELEASE"))

	a, err := r.readArea(ctx, hostID)
	if err != nil {
		return err
	}

	if a.leader.WriteID != hostID {
		// Another host committed us as owner without our knowledge
		// (the retraction path): do not zero the leader, just mark our
		// dblock released so other hosts run a ballot.
		logger.WarnCtx(lctx, "leader write_id is not ours, marking dblock released")
		ours := a.dblocks[hostID]
		if ours == nil {
			ours = &wire.DBlock{}
		}
		ours.Flags |= wire.FlagReleased
		return r.writeDBlock(ctx, hostID, ours, a.modes[hostID])
	}

	ownerID, ownerGen := a.leader.Owner()
	var releaseErr error
	switch {
	case opts.ExpectedLver != 0 && a.leader.Lver != opts.ExpectedLver:
		releaseErr = sanlockerr.New(sanlockerr.ReleaseLver, "leader lver no longer matches our last commit").
			WithLockspace(r.Lockspace).WithResource(r.Name)
	case a.leader.Free() || ownerID != hostID || ownerGen != generation:
		releaseErr = sanlockerr.New(sanlockerr.ReleaseOwner, "leader no longer names us as owner").
			WithLockspace(r.Lockspace).WithResource(r.Name)
	}

	ours := a.dblocks[hostID]
	if ours == nil {
		ours = &wire.DBlock{}
	}

	if releaseErr == nil {
		newLeader := *a.leader
		newLeader.Timestamp = 0
		newLeader.OwnerID = 0
		newLeader.OwnerGeneration = 0
		newLeader.Flags &^= wire.FlagShortHold
		newLeader.WriteID = hostID
		newLeader.WriteGeneration = generation
		newLeader.WriteTimestamp = uint64(r.now().Unix())
		if opts.Rename != "" {
			newLeader.ResourceName = opts.Rename
		}
		if err := r.writeLeader(ctx, &newLeader); err != nil {
			return err
		}
	}

	*ours = wire.DBlock{}
	if err := r.writeDBlock(ctx, hostID, ours, a.modes[hostID]); err != nil {
		if releaseErr != nil {
			return releaseErr
		}
		return err
	}

	if releaseErr != nil {
		logger.WarnCtx(lctx, "release diagnostic", logger.Err(releaseErr))
		return releaseErr
	}
	logger.InfoCtx(lctx, "released")
	return nil
}
