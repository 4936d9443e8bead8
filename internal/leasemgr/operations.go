package leasemgr

import (
	"context"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/paxos"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Acquire drives tok from Allocating through Opening/Acquiring to Held
// by running a ballot on res. If the owning PID is
// found dead once the ballot completes, the lease is released again
// immediately rather than handed to a client that is no longer there
// to use it — this is the "acquire thread completes its ballot, then
// releases whatever it just won" rule.
func (m *Manager) Acquire(ctx context.Context, tok *Token, res *paxos.Resource, generation uint64, opts paxos.AcquireOptions) error {
	if err := tok.BeginCommand(CommandAcquire); err != nil {
		return err
	}
	defer tok.EndCommand()

	tok.setState(Opening)
	tok.setState(Acquiring)

	if err := res.Acquire(ctx, tok.HostID, generation, opts); err != nil {
		return err
	}
	tok.Generation = generation

	if tok.PIDDead() {
		logger.Warn("owning pid died during acquire, releasing won lease",
			logger.PID(tok.PID), logger.Resource(tok.ResourceName))
		if err := res.Release(ctx, tok.HostID, generation, paxos.ReleaseOptions{}); err != nil {
			logger.Warn("release-after-dead-pid failed", logger.Err(err))
		}
		m.Free(tok)
		return sanlockerr.New(sanlockerr.TokenState, "owning pid died during acquire, lease released").
			WithResource(tok.ResourceName)
	}

	tok.setState(Held)
	return nil
}

// ResourceRequest names one resource to claim as part of an
// AcquireResources batch.
type ResourceRequest struct {
	Name       string
	Resource   *paxos.Resource
	Generation uint64
}

// AcquireResources claims every resource in reqs for pid as one atomic
// unit: either every lease is retained or none are. This is the
// cross-token guarantee a single-resource Acquire call can't provide on
// its own — per spec, "across tokens within a PID, ACQUIRE is atomic".
//
// It runs in two passes. First every token is allocated up front, so a
// MAX_LEASES or already-held conflict on any one resource aborts the
// whole batch before any disk I/O happens. Then each ballot runs in
// turn; the moment one fails, every lease already won earlier in this
// batch is released and every token allocated but not yet attempted is
// freed, so the caller is left holding nothing.
func (m *Manager) AcquireResources(ctx context.Context, pid int, lockspace string, hostID uint64, reqs []ResourceRequest, opts paxos.AcquireOptions) ([]*Token, error) {
	toks := make([]*Token, 0, len(reqs))
	for _, r := range reqs {
		tok, err := m.Allocate(pid, lockspace, r.Name)
		if err != nil {
			for _, allocated := range toks {
				m.Free(allocated)
			}
			return nil, err
		}
		tok.HostID = hostID
		toks = append(toks, tok)
	}

	for i, tok := range toks {
		if err := m.Acquire(ctx, tok, reqs[i].Resource, reqs[i].Generation, opts); err != nil {
			m.rollbackAcquired(ctx, toks[:i], reqs[:i])
			m.Free(tok)
			for _, leftover := range toks[i+1:] {
				m.Free(leftover)
			}
			return nil, sanlockerr.Wrap(sanlockerr.AcquireOther, "atomic multi-resource acquire aborted", err).
				WithResource(reqs[i].Name)
		}
	}
	return toks, nil
}

// rollbackAcquired releases every token in toks that AcquireResources
// had already won before a later resource in the same batch failed, so
// none of them is retained.
func (m *Manager) rollbackAcquired(ctx context.Context, toks []*Token, reqs []ResourceRequest) {
	for i, tok := range toks {
		if err := m.Release(ctx, tok, reqs[i].Resource, paxos.ReleaseOptions{}, false); err != nil {
			logger.Warn("rollback release failed during atomic acquire abort",
				logger.PID(tok.PID), logger.Resource(tok.ResourceName), logger.Err(err))
		}
	}
}

// Release drives tok from Held through Releasing to Freed. If remember
// is set, the on-disk lease is left untouched and the token instead
// moves to SavedForReacquire: the use case is a client process
// restarting while its host_id stays live, where a sibling PID of the
// same owner should recover the token directly rather than pay for a
// fresh ballot the original owner would win anyway.
func (m *Manager) Release(ctx context.Context, tok *Token, res *paxos.Resource, opts paxos.ReleaseOptions, remember bool) error {
	if err := tok.BeginCommand(CommandRelease); err != nil {
		return err
	}
	defer tok.EndCommand()

	if tok.State() != Held {
		return sanlockerr.New(sanlockerr.TokenState, "release requires a held token").
			WithResource(tok.ResourceName)
	}

	if remember {
		m.Save(tok)
		return nil
	}

	tok.setState(Releasing)
	if err := res.Release(ctx, tok.HostID, tok.Generation, opts); err != nil {
		return err
	}
	m.Free(tok)
	return nil
}

// Migrate nudges the current owner of res to release, without touching
// tok's own lifecycle state.
func (m *Manager) Migrate(ctx context.Context, tok *Token, res *paxos.Resource, forceMode bool) error {
	if err := tok.BeginCommand(CommandMigrate); err != nil {
		return err
	}
	defer tok.EndCommand()
	return res.Migrate(ctx, forceMode)
}

// SetOwner drives tok through the self-targeted ballot that completes
// an inherited-token migration handoff.
func (m *Manager) SetOwner(ctx context.Context, tok *Token, res *paxos.Resource, generation, expectOwnerID uint64, opts paxos.AcquireOptions) error {
	if err := tok.BeginCommand(CommandSetOwner); err != nil {
		return err
	}
	defer tok.EndCommand()

	tok.setState(Acquiring)
	if err := res.SetOwner(ctx, tok.HostID, generation, expectOwnerID, opts); err != nil {
		return err
	}
	tok.Generation = generation
	tok.setState(Held)
	return nil
}

// ReleaseAllForPID force-releases every token pid holds, for daemon
// shutdown and PID-death handling when a Held token cannot simply be
// left for the watchdog to fence.
func (m *Manager) ReleaseAllForPID(ctx context.Context, pid int, resources map[string]*paxos.Resource) {
	for _, tok := range m.TokensForPID(pid) {
		if tok.State() != Held {
			continue
		}
		res, ok := resources[tok.ResourceName]
		if !ok {
			continue
		}
		if err := m.Release(ctx, tok, res, paxos.ReleaseOptions{}, false); err != nil {
			logger.Warn("forced release failed", logger.PID(pid), logger.Resource(tok.ResourceName), logger.Err(err))
		}
	}
}
