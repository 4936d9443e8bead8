package paxos

import (
	"context"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// SetOwner claims the resource for (hostID, generation) after an
// inherited-token migration handshake, per SPEC_FULL.md §5.5: the
// caller has already confirmed out-of-band that the pre-migration host
// named by leader.owner_generation has handed off, so the ballot here
// skips the dead-owner liveness poll that a normal Acquire runs.
func (r *Resource) SetOwner(ctx context.Context, hostID, generation, expectOwnerID uint64, opts AcquireOptions) error {
	lctx := logger.WithContext(ctx, newLogContext(r.Lockspace, r.Name, hostID, "SETOWNER"))
	logger.InfoCtx(lctx, "setowner starting", logger.Generation(generation))

	a, err := r.readArea(ctx, hostID)
	if err != nil {
		return err
	}

	if !a.leader.Free() {
		ownerID, _ := a.leader.Owner()
		if ownerID != expectOwnerID {
			return sanlockerr.New(sanlockerr.ReleaseOwner, "leader does not name the expected pre-migration owner").
				WithLockspace(r.Lockspace).WithResource(r.Name)
		}
	}

	return r.runBallot(ctx, a, hostID, generation, opts, true)
}
