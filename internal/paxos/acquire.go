package paxos

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// Owner identifies the host a ballot proposes or commits as owner.
type Owner struct {
	HostID     uint64
	Generation uint64
	Timestamp  uint64
}

// AcquireOptions controls an acquire call.
type AcquireOptions struct {
	ShortHold bool
}

// Acquire claims the resource for (hostID, generation): read, check
// existing ownership, and if the resource is free or its owner looks
// dead, run a ballot proposing ourselves.
func (r *Resource) Acquire(ctx context.Context, hostID, generation uint64, opts AcquireOptions) error {
	lctx := logger.WithContext(ctx, newLogContext(r.Lockspace, r.Name, hostID, "ACQUIRE"))
	logger.InfoCtx(lctx, "acquire starting")

	for attempt := 0; attempt < maxLverRestarts; attempt++ {
		a, err := r.readArea(ctx, hostID)
		if err != nil {
			return err
		}

		if a.leader.Free() {
			err = r.runBallot(ctx, a, hostID, generation, opts, false)
			if sanlockerr.Is(err, sanlockerr.DBlockLver) {
				continue
			}
			return err
		}

		ownerID, ownerGen := a.leader.Owner()
		if ownerID == hostID && ownerGen == generation {
			logger.InfoCtx(lctx, "already own resource")
			return nil
		}
		if ownerID == hostID && ownerGen < generation {
			err = r.runBallot(ctx, a, hostID, generation, opts, false)
			if sanlockerr.Is(err, sanlockerr.DBlockLver) {
				continue
			}
			return err
		}

		dead, err := r.waitForOwnerDeath(ctx, a, hostID)
		if err != nil {
			return err
		}
		if !dead {
			// The leader changed underneath us; restart from the read
			// phase.
			continue
		}
		err = r.runBallot(ctx, a, hostID, generation, opts, false)
		if sanlockerr.Is(err, sanlockerr.DBlockLver) {
			continue
		}
		return err
	}
	return sanlockerr.New(sanlockerr.AcquireLver, "acquire exhausted lver restart budget").
		WithLockspace(r.Lockspace).WithResource(r.Name)
}

// waitForOwnerDeath polls until the current owner of a.leader is
// observed dead, returns false if the leader changes while waiting
// (caller should restart from the read phase), or returns an error if
// the caller has no way to judge liveness (no lockspace attached, or no
// delta lease of our own).
func (r *Resource) waitForOwnerDeath(ctx context.Context, a *area, hostID uint64) (bool, error) {
	if r.ls == nil {
		return false, sanlockerr.New(sanlockerr.AcquireLockspace, "no lockspace attached for liveness checks").
			WithLockspace(r.Lockspace)
	}
	if !r.ls.Live() {
		return false, sanlockerr.New(sanlockerr.AcquireLockspace, "no live host_id in lockspace").
			WithLockspace(r.Lockspace)
	}

	ownerID, ownerGen := a.leader.Owner()

	for {
		peer, known := r.ls.HostStatus(ownerID)
		if !known || peer.Timestamp == 0 || peer.OwnerGeneration != ownerGen {
			return true, nil
		}

		now := time.Now()
		if peer.Dead(now) {
			return true, nil
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return false, sanlockerr.Wrap(sanlockerr.AcquireIDDisk, "acquire cancelled while waiting on owner", ctx.Err())
		}

		reread, err := r.readArea(ctx, hostID)
		if err != nil {
			return false, err
		}
		if reread.leader.Lver != a.leader.Lver {
			return false, nil
		}
		a = reread
	}
}

// runBallot executes the two-phase ballot of the acquire protocol.
// If skipLivenessCheck is true (SetOwner's self-targeted migration
// ballot), the caller has already asserted the prior owner is gone by
// out-of-band agreement.
func (r *Resource) runBallot(ctx context.Context, a *area, hostID, generation uint64, opts AcquireOptions, skipLivenessCheck bool) error {
	// skipLivenessCheck only documents that the caller (SetOwner) has
	// already established the prior owner is gone by out-of-band
	// agreement; it does not change this function's behavior, since
	// runBallot never itself polls owner liveness.
	lctx := logger.WithContext(ctx, newLogContext(r.Lockspace, r.Name, hostID, "ACQUIRE").WithResource(r.Name))

	if hasLiveSharedHolders(a.modes, hostID) {
		return sanlockerr.New(sanlockerr.AcquireOther, "resource has live shared holders, refusing exclusive acquire").
			WithLockspace(r.Lockspace).WithResource(r.Name)
	}

	nextLver := a.leader.Lver + 1
	ourMbal := chooseMbal(maxMbal(a.dblocks, hostID), r.maxHosts, hostID)

	for {
		logger.DebugCtx(lctx, "phase 1", logger.Lver(nextLver), logger.Mbal(ourMbal))

		bkMax, err := r.ballotPhase(ctx, a, hostID, nextLver, ourMbal, &wire.DBlock{Mbal: ourMbal, Bal: 0, Inp: 0, Lver: nextLver})
		if err != nil {
			if sanlockerr.Is(err, sanlockerr.DBlockMbal) {
				select {
				case <-time.After(randomBackoff()):
				case <-ctx.Done():
					return sanlockerr.Wrap(sanlockerr.AIOTimeout, "ballot cancelled", ctx.Err())
				}
				ourMbal += uint64(r.maxHosts)
				continue
			}
			return err
		}

		chosen := Owner{HostID: hostID, Generation: generation, Timestamp: uint64(r.now().Unix())}
		if bkMax != nil && bkMax.Inp != 0 {
			chosen = Owner{HostID: bkMax.Inp, Generation: bkMax.InpGeneration, Timestamp: bkMax.InpTimestamp}
		}

		logger.DebugCtx(lctx, "phase 2", logger.Lver(nextLver), logger.Mbal(ourMbal))
		phase2 := &wire.DBlock{Mbal: ourMbal, Bal: ourMbal, Inp: chosen.HostID, InpGeneration: chosen.Generation, InpTimestamp: chosen.Timestamp, Lver: nextLver}
		if _, err := r.ballotPhase(ctx, a, hostID, nextLver, ourMbal, phase2); err != nil {
			if sanlockerr.Is(err, sanlockerr.DBlockMbal) {
				select {
				case <-time.After(randomBackoff()):
				case <-ctx.Done():
					return sanlockerr.Wrap(sanlockerr.AIOTimeout, "ballot cancelled", ctx.Err())
				}
				ourMbal += uint64(r.maxHosts)
				continue
			}
			// Retraction invariant: a phase-2 write may have left us
			// committed as owner even though this acquire did not
			// observe success. Leave our dblock as-is; release will
			// re-verify and clear it.
			return err
		}

		// The abort check has to hold right up to the commit, not just
		// at ballot start: recheck against the modes observed by the
		// phase-2 reread, since another host could have set SHARED
		// after the ballot began.
		if hasLiveSharedHolders(a.modes, hostID) {
			return sanlockerr.New(sanlockerr.AcquireOther, "a live shared holder appeared during the ballot, refusing to commit exclusive").
				WithLockspace(r.Lockspace).WithResource(r.Name)
		}

		newLeader := *a.leader
		newLeader.Lver = nextLver
		newLeader.OwnerID = chosen.HostID
		newLeader.OwnerGeneration = chosen.Generation
		newLeader.Timestamp = chosen.Timestamp
		newLeader.WriteID = hostID
		newLeader.WriteGeneration = generation
		newLeader.WriteTimestamp = uint64(r.now().Unix())
		if opts.ShortHold {
			newLeader.Flags |= wire.FlagShortHold
		} else {
			newLeader.Flags &^= wire.FlagShortHold
		}

		if err := r.writeLeader(ctx, &newLeader); err != nil {
			return err
		}

		if chosen.HostID != hostID {
			// We committed another host as owner (adopted its bk_max);
			// this acquire did not win.
			return sanlockerr.New(sanlockerr.AcquireOwnedRetry, "ballot committed a different host as owner").
				WithLockspace(r.Lockspace).WithResource(r.Name)
		}

		// We now own the resource exclusively: clear our own mode
		// block so a shared claim we held before this ballot doesn't
		// look live to a future AcquireShared on another host.
		if err := r.writeDBlock(ctx, hostID, phase2, &wire.ModeBlock{}); err != nil {
			return err
		}

		logger.InfoCtx(lctx, "acquire committed", logger.Lver(nextLver))
		return nil
	}
}

// ballotPhase writes our dblock and rereads the area, applying the
// abort rules shared by phase 1 and phase 2. It returns the dblock with
// the highest bal and a non-zero inp among other hosts' dblocks at
// nextLver (bk_max).
func (r *Resource) ballotPhase(ctx context.Context, a *area, hostID, nextLver, ourMbal uint64, ours *wire.DBlock) (*wire.DBlock, error) {
	mode := a.modes[hostID]
	if err := r.writeDBlock(ctx, hostID, ours, mode); err != nil {
		return nil, err
	}

	reread, err := r.readArea(ctx, hostID)
	if err != nil {
		return nil, err
	}
	a.dblocks = reread.dblocks
	a.modes = reread.modes

	var bkMax *wire.DBlock
	for id, d := range a.dblocks {
		if id == hostID {
			continue
		}
		if d.Lver > nextLver {
			return nil, sanlockerr.New(sanlockerr.DBlockLver, "observed higher lver during ballot").
				WithLockspace(r.Lockspace).WithResource(r.Name)
		}
		if d.Lver != nextLver {
			continue
		}
		if d.Mbal > ourMbal {
			return nil, sanlockerr.New(sanlockerr.DBlockMbal, "observed higher mbal during ballot").
				WithLockspace(r.Lockspace).WithResource(r.Name)
		}
		if d.Inp != 0 && (bkMax == nil || d.Bal > bkMax.Bal) {
			bkMax = d
		}
	}
	return bkMax, nil
}
