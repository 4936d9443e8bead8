package paxos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanlockd/sanlockd/internal/deltalease"
	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/watchdog"
	"github.com/sanlockd/sanlockd/internal/wire"
)

const (
	testSectorSize = 512
	testMaxHosts   = 4
)

func newTestResource(t *testing.T, numHosts uint32) (*Resource, *diskio.MemDevice) {
	t.Helper()
	layout := wire.Layout{SectorSize: testSectorSize, MaxHosts: testMaxHosts}
	dev := diskio.NewMemDevice(testSectorSize, int(layout.AreaSize()))
	r := NewResource(Config{
		Lockspace: "ls1",
		Name:      "res1",
		Device:    dev,
		Layout:    layout,
		MaxHosts:  testMaxHosts,
		IOTimeout: time.Second,
	})
	require.NoError(t, r.Init(context.Background(), testSectorSize, numHosts))
	return r, dev
}

// liveLockspace builds a deltalease.Lockspace that considers ourHostID
// live without ever having observed any peer, so a leader naming some
// other host as owner is immediately judged dead (waitForOwnerDeath's
// !known branch).
func liveLockspace(t *testing.T) *deltalease.Lockspace {
	t.Helper()
	timing := deltalease.DefaultTiming()
	timing.IOTimeout = 10 * time.Millisecond
	timing.HostIDRenewalFail = 50 * time.Millisecond
	lsLayout := wire.Layout{SectorSize: testSectorSize, MaxHosts: testMaxHosts}
	lsDev := diskio.NewMemDevice(testSectorSize, int(lsLayout.LockspaceAreaSize()))
	ls := deltalease.NewLockspace(deltalease.Config{
		Name:     "ls1",
		Device:   lsDev,
		Layout:   lsLayout,
		Timing:   timing,
		Watchdog: watchdog.NewFakeClient(timing.HostIDRenewal, timing.HostIDRenewalFail),
	})
	require.NoError(t, ls.AcquireHostID(context.Background(), 1))
	require.True(t, ls.Live())
	return ls
}

func TestAcquireFromFree(t *testing.T) {
	r, _ := newTestResource(t, 2)
	err := r.Acquire(context.Background(), 1, 1, AcquireOptions{})
	require.NoError(t, err)

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	ownerID, ownerGen := a.leader.Owner()
	assert.Equal(t, uint64(1), ownerID)
	assert.Equal(t, uint64(1), ownerGen)
	assert.Equal(t, uint64(1), a.leader.Lver)
}

func TestAcquireAlreadyOwnedIsNoop(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.leader.Lver)
}

func TestAcquireBumpsGenerationForSameHost(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))
	require.NoError(t, r.Acquire(context.Background(), 1, 2, AcquireOptions{}))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	_, ownerGen := a.leader.Owner()
	assert.Equal(t, uint64(2), ownerGen)
	assert.Equal(t, uint64(2), a.leader.Lver)
}

func TestAcquireSeizesFromDeadOwner(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 2, 1, AcquireOptions{}))

	r.ls = liveLockspace(t)
	err := r.Acquire(context.Background(), 1, 1, AcquireOptions{})
	require.NoError(t, err)

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	ownerID, _ := a.leader.Owner()
	assert.Equal(t, uint64(1), ownerID)
	assert.Equal(t, uint64(2), a.leader.Lver)
}

func TestAcquireRefusesWithoutLockspaceWhenOwnerIsOther(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 2, 1, AcquireOptions{}))

	err := r.Acquire(context.Background(), 1, 1, AcquireOptions{})
	require.Error(t, err)
	assert.True(t, sanlockerr.Is(err, sanlockerr.AcquireLockspace))
}

func TestBallotContentionSecondHostWinsOverUncommittedPhase1(t *testing.T) {
	r1, dev := newTestResource(t, 3)
	r2 := NewResource(Config{
		Lockspace: r1.Lockspace,
		Name:      r1.Name,
		Device:    dev,
		Layout:    wire.Layout{SectorSize: testSectorSize, MaxHosts: testMaxHosts},
		MaxHosts:  testMaxHosts,
		IOTimeout: time.Second,
	})

	// Host 1 runs phase 1 and stalls before phase 2 by writing its
	// dblock directly, simulating a ballot in flight.
	a, err := r1.readArea(context.Background(), 1)
	require.NoError(t, err)
	ourMbal := chooseMbal(maxMbal(a.dblocks, 1), testMaxHosts, 1)
	require.NoError(t, r1.writeDBlock(context.Background(), 1, &wire.DBlock{Mbal: ourMbal, Lver: a.leader.Lver + 1}, nil))

	// Host 2 runs a full acquire and wins outright since host 1 never
	// committed anything.
	require.NoError(t, r2.Acquire(context.Background(), 2, 1, AcquireOptions{}))

	a2, err := r1.readArea(context.Background(), 1)
	require.NoError(t, err)
	ownerID, _ := a2.leader.Owner()
	assert.Equal(t, uint64(2), ownerID)
}

func TestReleaseClearsOwnership(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	require.NoError(t, r.Release(context.Background(), 1, 1, ReleaseOptions{}))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, a.leader.Free())
}

func TestReleaseDiagnosticOnDoubleRelease(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))
	require.NoError(t, r.Release(context.Background(), 1, 1, ReleaseOptions{}))

	// write_id still names host 1 from the first release, so this
	// second release reaches the diagnostic branch rather than the
	// retraction branch.
	err := r.Release(context.Background(), 1, 1, ReleaseOptions{})
	require.Error(t, err)
	assert.True(t, sanlockerr.Is(err, sanlockerr.ReleaseOwner))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, a.leader.Free())
}

func TestReleaseMarksRetractionWhenWriteIDNotOurs(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	newLeader := *a.leader
	newLeader.WriteID = 2
	require.NoError(t, r.writeLeader(context.Background(), &newLeader))

	require.NoError(t, r.Release(context.Background(), 1, 1, ReleaseOptions{}))

	a2, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	// Leader untouched (still names host 2 as write_id, host 1 as owner).
	assert.Equal(t, uint64(2), a2.leader.WriteID)
	d := a2.dblocks[1]
	require.NotNil(t, d)
	assert.NotZero(t, d.Flags&wire.FlagReleased)
}

func TestAcquireSharedRefusedWhenHeldExclusively(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	err := r.AcquireShared(context.Background(), 2, 1)
	require.Error(t, err)
	assert.True(t, sanlockerr.Is(err, sanlockerr.AcquireOther))
}

func TestAcquireSharedAllowedWhenFree(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.AcquireShared(context.Background(), 1, 1))
	require.NoError(t, r.AcquireShared(context.Background(), 2, 1))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, a.modes[1].Shared())
	assert.True(t, a.modes[2].Shared())
}

func TestExclusiveAcquireRefusedOverLiveSharedHolder(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.AcquireShared(context.Background(), 2, 1))

	err := r.Acquire(context.Background(), 1, 1, AcquireOptions{})
	require.Error(t, err)
	assert.True(t, sanlockerr.Is(err, sanlockerr.AcquireOther))
}

func TestExclusiveAcquireClearsOwnModeBlockOnCommit(t *testing.T) {
	r, _ := newTestResource(t, 3)
	require.NoError(t, r.AcquireShared(context.Background(), 1, 1))

	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	a, err := r.readArea(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, a.modes[1])
	assert.False(t, a.modes[1].Shared())

	// A third host must now be refused: the resource is exclusively
	// owned by host 1, not shared, despite host 1 having held a shared
	// mode block moments before winning the exclusive ballot.
	err = r.AcquireShared(context.Background(), 2, 1)
	require.Error(t, err)
	assert.True(t, sanlockerr.Is(err, sanlockerr.AcquireOther))
}

func TestMigrateAndPollRequest(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	require.NoError(t, r.Migrate(context.Background(), true))

	req, err := r.PollRequest(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, uint32(1), req.ForceMode)

	// Polling for a different lver than the leader currently holds
	// yields no request.
	none, err := r.PollRequest(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSetOwnerAfterMigration(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	err := r.SetOwner(context.Background(), 2, 1, 1, AcquireOptions{})
	require.NoError(t, err)

	a, err := r.readArea(context.Background(), 2)
	require.NoError(t, err)
	ownerID, _ := a.leader.Owner()
	assert.Equal(t, uint64(2), ownerID)
}

func TestSetOwnerRejectsUnexpectedOwner(t *testing.T) {
	r, _ := newTestResource(t, 2)
	require.NoError(t, r.Acquire(context.Background(), 1, 1, AcquireOptions{}))

	err := r.SetOwner(context.Background(), 2, 1, 99, AcquireOptions{})
	require.Error(t, err)
	assert.True(t, sanlockerr.Is(err, sanlockerr.ReleaseOwner))
}

func TestChooseMbalDistinctResidueClasses(t *testing.T) {
	m1 := chooseMbal(0, 4, 1)
	m2 := chooseMbal(0, 4, 2)
	assert.NotEqual(t, m1%4, m2%4)

	bumped := chooseMbal(10, 4, 1)
	assert.Greater(t, bumped, uint64(10))
	assert.Equal(t, uint64(1), bumped%4)
}
