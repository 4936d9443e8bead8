package deltalease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/watchdog"
	"github.com/sanlockd/sanlockd/internal/wire"
)

func testTiming() Timing {
	return Timing{
		IOTimeout:         10 * time.Millisecond,
		HostIDRenewal:     5 * time.Millisecond,
		HostIDRenewalFail: 40 * time.Millisecond,
		HostIDTimeout:     80 * time.Millisecond,
	}
}

func newTestLockspace(t *testing.T) (*Lockspace, *diskio.MemDevice, *watchdog.FakeClient) {
	t.Helper()
	layout := wire.Layout{SectorSize: wire.SectorSize512, MaxHosts: 4}
	dev := diskio.NewMemDevice(wire.SectorSize512, int(layout.LockspaceAreaSize()))
	wd := watchdog.NewFakeClient(5*time.Millisecond, 10*time.Millisecond)

	ls := NewLockspace(Config{
		Name:     "lockspace1",
		Device:   dev,
		Layout:   layout,
		Timing:   testTiming(),
		Watchdog: wd,
	})
	return ls, dev, wd
}

func TestAcquireHostIDFromFree(t *testing.T) {
	ls, _, wd := newTestLockspace(t)
	ctx := context.Background()

	err := ls.AcquireHostID(ctx, 1)
	require.NoError(t, err)

	assert.True(t, ls.Live())
	hostID, generation := ls.HostID()
	assert.Equal(t, uint64(1), hostID)
	assert.Equal(t, uint64(1), generation)
	assert.Len(t, wd.Deadlines, 1)
}

func TestAcquireHostIDBumpsGeneration(t *testing.T) {
	ls, _, _ := newTestLockspace(t)
	ctx := context.Background()

	require.NoError(t, ls.AcquireHostID(ctx, 2))
	_, gen1 := ls.HostID()
	require.NoError(t, ls.Release(ctx))

	ls2, _, _ := newTestLockspace(t)
	// Reuse the same backing device so the second acquire observes the
	// first host's prior generation.
	ls2.device = ls.device
	require.NoError(t, ls2.AcquireHostID(ctx, 2))
	_, gen2 := ls2.HostID()

	assert.Equal(t, uint64(1), gen1)
	assert.Equal(t, uint64(2), gen2)
}

func TestAcquireHostIDAbortsWhenAnotherHostMovesInDuringWait(t *testing.T) {
	layout := wire.Layout{SectorSize: wire.SectorSize512, MaxHosts: 4}
	dev := diskio.NewMemDevice(wire.SectorSize512, int(layout.LockspaceAreaSize()))
	wd := watchdog.NewFakeClient(5*time.Millisecond, 10*time.Millisecond)
	ls := NewLockspace(Config{Name: "ls1", Device: dev, Layout: layout, Timing: testTiming(), Watchdog: wd})

	// Pre-seed the sector with a live claim from another host so the
	// first read observes a non-zero timestamp, then mutate it before
	// the dead-time wait elapses to simulate a concurrent claim.
	sector := &wire.DeltaLeaseSector{
		Magic: wire.MagicDelta, Version: wire.CurrentVersion,
		LockspaceName: "ls1", ResourceName: wire.HostIDResourceName(3),
		OwnerID: 9, OwnerGeneration: 1, Timestamp: 1000, IOTimeout: 0,
	}
	buf := diskio.AlignedBuffer(wire.SectorSize512)
	copy(buf, sector.Encode())
	offset := int64(layout.DeltaLeaseOffset(3))
	res := dev.WriteAt(context.Background(), buf, offset, time.Now().Add(time.Second))
	require.Equal(t, diskio.OutcomeOK, res.Outcome)

	go func() {
		time.Sleep(2 * time.Millisecond)
		sector.Timestamp = 2000
		buf := diskio.AlignedBuffer(wire.SectorSize512)
		copy(buf, sector.Encode())
		dev.WriteAt(context.Background(), buf, offset, time.Now().Add(time.Second))
	}()

	err := ls.AcquireHostID(context.Background(), 3)
	assert.Error(t, err)
}

func TestReleaseClearsTimestamp(t *testing.T) {
	ls, dev, _ := newTestLockspace(t)
	ctx := context.Background()
	require.NoError(t, ls.AcquireHostID(ctx, 1))
	require.NoError(t, ls.Release(ctx))

	assert.False(t, ls.Live())

	buf := make([]byte, wire.SectorSize512)
	res := dev.ReadAt(ctx, buf, int64(wire.Layout{SectorSize: wire.SectorSize512}.DeltaLeaseOffset(1)), time.Now().Add(time.Second))
	require.Equal(t, diskio.OutcomeOK, res.Outcome)
	sector, err := wire.DecodeDelta(buf)
	require.NoError(t, err)
	assert.True(t, sector.Free())
}

func TestHostDeadSeconds(t *testing.T) {
	assert.Equal(t, 80*time.Second, HostDeadSeconds(10*time.Second))
}

func TestPeerStatusDead(t *testing.T) {
	now := time.Now()
	p := PeerStatus{IOTimeout: time.Second, LastLive: now.Add(-9 * time.Second)}
	assert.True(t, p.Dead(now))

	p2 := PeerStatus{IOTimeout: time.Second, LastLive: now.Add(-1 * time.Second)}
	assert.False(t, p2.Dead(now))

	p3 := PeerStatus{}
	assert.True(t, p3.Dead(now))
}

func TestScanPeersRecordsLiveness(t *testing.T) {
	ls, dev, _ := newTestLockspace(t)
	ctx := context.Background()

	sector := &wire.DeltaLeaseSector{
		Magic: wire.MagicDelta, Version: wire.CurrentVersion,
		LockspaceName: "lockspace1", ResourceName: wire.HostIDResourceName(2),
		OwnerID: 2, OwnerGeneration: 1, Timestamp: 42, IOTimeout: 1,
	}
	buf := diskio.AlignedBuffer(wire.SectorSize512)
	copy(buf, sector.Encode())
	offset := int64(ls.layout.DeltaLeaseOffset(2))
	require.Equal(t, diskio.OutcomeOK, dev.WriteAt(ctx, buf, offset, time.Now().Add(time.Second)).Outcome)

	ls.scanPeers(ctx, 4)

	status, ok := ls.HostStatus(2)
	require.True(t, ok)
	assert.Equal(t, uint64(42), status.Timestamp)
	assert.False(t, status.LastLive.IsZero())
}
