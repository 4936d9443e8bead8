package deltalease

import (
	"context"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// readerLoop periodically reads every host_id slot in the lockspace's
// delta-lease area and records what it observes. A host is marked live
// on the first read that finds a nonzero timestamp for it, and after
// that only on a read whose timestamp or generation differs from the
// previous one.
func (ls *Lockspace) readerLoop(ctx context.Context, numHosts uint64) {
	ticker := time.NewTicker(ls.timing.HostIDRenewal)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ls.scanPeers(ctx, numHosts)
		}
	}
}

func (ls *Lockspace) scanPeers(ctx context.Context, numHosts uint64) {
	lctx := logger.WithContext(ctx, logger.NewLogContext(ls.Name).WithCommand("HOST_STATUS"))
	sectorSize := ls.device.SectorSize()
	now := ls.now()

	for hostID := uint64(1); hostID <= numHosts; hostID++ {
		offset := int64(ls.layout.DeltaLeaseOffset(hostID))
		sector, err := ls.readSector(ctx, offset, sectorSize)
		if err != nil {
			// A checksum or read failure on a peer's sector is logged
			// but never marks that host live or dead: the previous
			// observation stands until a clean read says otherwise.
			logger.WarnCtx(lctx, "peer delta-lease read failed", logger.HostID(hostID), logger.Err(err))
			continue
		}
		ls.recordPeer(hostID, sector, now)
	}
}

func (ls *Lockspace) recordPeer(hostID uint64, sector *wire.DeltaLeaseSector, now time.Time) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	prev, known := ls.peers[hostID]
	status := PeerStatus{
		HostID:          hostID,
		OwnerGeneration: sector.OwnerGeneration,
		Timestamp:       sector.Timestamp,
		IOTimeout:       time.Duration(sector.IOTimeout) * time.Second,
		LastCheck:       now,
		LastLive:        prev.LastLive,
	}

	advanced := !known || sector.Timestamp != prev.Timestamp || sector.OwnerGeneration != prev.OwnerGeneration
	if advanced && sector.Timestamp != 0 {
		status.LastLive = now
	}

	ls.peers[hostID] = status
}
