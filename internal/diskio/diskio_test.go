package diskio

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	dev := NewMemDevice(512, 4096)
	ctx := context.Background()
	deadline := time.Now().Add(time.Second)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	res := dev.WriteAt(ctx, payload, 512, deadline)
	require.Equal(t, OutcomeOK, res.Outcome)

	out := make([]byte, 512)
	res = dev.ReadAt(ctx, out, 512, deadline)
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, payload, out)
}

func TestMemDeviceRejectsUnalignedOffset(t *testing.T) {
	dev := NewMemDevice(512, 4096)
	ctx := context.Background()
	deadline := time.Now().Add(time.Second)

	res := dev.ReadAt(ctx, make([]byte, 512), 100, deadline)
	assert.Equal(t, OutcomeError, res.Outcome)
}

func TestMemDeviceInjectedTimeoutPoisonsResult(t *testing.T) {
	dev := NewMemDevice(512, 4096)
	dev.InjectTimeout()

	res := dev.ReadAt(context.Background(), make([]byte, 512), 0, time.Now().Add(time.Second))
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.True(t, res.Poisoned())
}

func TestMemDeviceInjectedError(t *testing.T) {
	dev := NewMemDevice(512, 4096)
	injected := assert.AnError
	dev.InjectError(false, injected)

	res := dev.WriteAt(context.Background(), make([]byte, 512), 0, time.Now().Add(time.Second))
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, injected)
}

func TestReplicatedWriteMajoritySurvivesOneFailure(t *testing.T) {
	d1 := NewMemDevice(512, 4096)
	d2 := NewMemDevice(512, 4096)
	d3 := NewMemDevice(512, 4096)
	d2.InjectError(false, assert.AnError)

	rep, err := NewReplicated([]BlockDevice{d1, d2, d3})
	require.NoError(t, err)

	payload := make([]byte, 512)
	payload[0] = 0xAB

	res := rep.WriteAt(context.Background(), payload, 0, time.Now().Add(time.Second))
	assert.Equal(t, OutcomeOK, res.Outcome)

	// d2's write failed, so it should not have the payload.
	assert.NotEqual(t, byte(0xAB), d2.Snapshot()[0])
	assert.Equal(t, byte(0xAB), d1.Snapshot()[0])
	assert.Equal(t, byte(0xAB), d3.Snapshot()[0])
}

func TestReplicatedWriteFailsWithoutMajority(t *testing.T) {
	d1 := NewMemDevice(512, 4096)
	d2 := NewMemDevice(512, 4096)
	d3 := NewMemDevice(512, 4096)
	d1.InjectError(false, assert.AnError)
	d2.InjectError(false, assert.AnError)

	rep, err := NewReplicated([]BlockDevice{d1, d2, d3})
	require.NoError(t, err)

	res := rep.WriteAt(context.Background(), make([]byte, 512), 0, time.Now().Add(time.Second))
	assert.Equal(t, OutcomeError, res.Outcome)
}

func TestReplicatedReadAgreesOnMajorityValue(t *testing.T) {
	d1 := NewMemDevice(512, 4096)
	d2 := NewMemDevice(512, 4096)
	d3 := NewMemDevice(512, 4096)

	good := make([]byte, 512)
	good[0] = 0x11
	ctx := context.Background()
	deadline := time.Now().Add(time.Second)
	require.Equal(t, OutcomeOK, d1.WriteAt(ctx, good, 0, deadline).Outcome)
	require.Equal(t, OutcomeOK, d2.WriteAt(ctx, good, 0, deadline).Outcome)
	// d3 disagrees (stale/corrupt write).
	stale := make([]byte, 512)
	stale[0] = 0x22
	require.Equal(t, OutcomeOK, d3.WriteAt(ctx, stale, 0, deadline).Outcome)

	rep, err := NewReplicated([]BlockDevice{d1, d2, d3})
	require.NoError(t, err)

	out := make([]byte, 512)
	res := rep.ReadAt(ctx, out, 0, deadline)
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, byte(0x11), out[0])
}

func TestNewReplicatedRejectsEvenCount(t *testing.T) {
	d1 := NewMemDevice(512, 4096)
	d2 := NewMemDevice(512, 4096)
	_, err := NewReplicated([]BlockDevice{d1, d2})
	assert.Error(t, err)
}

func TestAlignedBufferIsPageAligned(t *testing.T) {
	buf := AlignedBuffer(512)
	assert.Len(t, buf, 512)
	assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%4096)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "error", OutcomeError.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
}
