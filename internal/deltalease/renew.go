package deltalease

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// renewalLoop writes a fresh timestamp to our own delta-lease sector
// every HostIDRenewal interval. A successful write re-arms the watchdog
// with a new fencing deadline; a failed write keeps retrying without
// re-arming until HostIDRenewalFail has elapsed since the last success,
// at which point it stops trying — the watchdog fires on its own.
func (ls *Lockspace) renewalLoop(ctx context.Context) {
	ticker := time.NewTicker(ls.timing.HostIDRenewal)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ls.renewOnce(ctx)
		}
	}
}

func (ls *Lockspace) renewOnce(ctx context.Context) {
	ls.mu.RLock()
	hostID, generation, live, lastOK := ls.hostID, ls.generation, ls.live, ls.lastRenewalOK
	ls.mu.RUnlock()
	if !live {
		return
	}

	lctx := logger.WithContext(ctx, logger.NewLogContext(ls.Name).WithHostID(hostID).WithCommand("RENEW"))

	offset := int64(ls.layout.DeltaLeaseOffset(hostID))
	now := ls.now()
	sector := &wire.DeltaLeaseSector{
		Magic:           wire.MagicDelta,
		Version:         wire.CurrentVersion,
		LockspaceName:   ls.Name,
		ResourceName:    wire.HostIDResourceName(hostID),
		OwnerID:         hostID,
		OwnerGeneration: generation,
		Timestamp:       uint64(now.Unix()),
		IOTimeout:       uint32(ls.timing.IOTimeout.Seconds()),
	}

	if err := ls.writeSector(ctx, offset, sector); err != nil {
		logger.WarnCtx(lctx, "renewal write failed", logger.Err(err))
		if now.Sub(lastOK) > ls.timing.HostIDRenewalFail {
			logger.ErrorCtx(lctx, "renewal fail window exceeded, ceding to watchdog fence")
			ls.mu.Lock()
			ls.live = false
			ls.mu.Unlock()
		}
		return
	}

	deadline := now.Add(ls.timing.HostIDRenewalFail)
	if err := ls.wd.Arm(deadline); err != nil {
		logger.WarnCtx(lctx, "watchdog re-arm failed", logger.Err(err))
		return
	}

	ls.mu.Lock()
	ls.lastRenewalOK = now
	ls.mu.Unlock()
}
