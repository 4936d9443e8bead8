package paxos

import (
	"context"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// AcquireShared claims a shared, non-exclusive lease by setting the
// mode block's SHARED flag without running a ballot. Legal only when
// the leader is FREE or already owned in shared mode.
func (r *Resource) AcquireShared(ctx context.Context, hostID, generation uint64) error {
	lctx := logger.WithContext(ctx, newLogContext(r.Lockspace, r.Name, hostID, "ACQUIRE_SHARED"))

	a, err := r.readArea(ctx, hostID)
	if err != nil {
		return err
	}

	if !a.leader.Free() {
		// Owned exclusively unless every live holder has SHARED set.
		for id, m := range a.modes {
			if id == hostID {
				continue
			}
			if m != nil && !m.Shared() {
				return sanlockerr.New(sanlockerr.AcquireOther, "resource held exclusively, cannot join in shared mode").
					WithLockspace(r.Lockspace).WithResource(r.Name)
			}
		}
	}

	d := a.dblocks[hostID]
	if d == nil {
		d = &wire.DBlock{}
	}
	mode := &wire.ModeBlock{Flags: wire.FlagShared, Generation: generation}

	if err := r.writeDBlock(ctx, hostID, d, mode); err != nil {
		return err
	}
	logger.InfoCtx(lctx, "acquired shared mode")
	return nil
}

// ReleaseShared clears our SHARED mode claim without touching the
// leader; an exclusive acquire will see us gone on its next read.
func (r *Resource) ReleaseShared(ctx context.Context, hostID uint64) error {
	a, err := r.readArea(ctx, hostID)
	if err != nil {
		return err
	}
	d := a.dblocks[hostID]
	if d == nil {
		d = &wire.DBlock{}
	}
	return r.writeDBlock(ctx, hostID, d, &wire.ModeBlock{})
}

// hasLiveSharedHolders reports whether any host other than skip holds a
// live shared claim, used by an exclusive acquire's upgrade path to
// refuse stealing a resource multiple hosts are sharing.
func hasLiveSharedHolders(modes map[uint64]*wire.ModeBlock, skip uint64) bool {
	for id, m := range modes {
		if id == skip {
			continue
		}
		if m != nil && m.Shared() {
			return true
		}
	}
	return false
}
