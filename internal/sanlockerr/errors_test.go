package sanlockerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeString(t *testing.T) {
	cases := []struct {
		code Code
		want string
	}{
		{AIOTimeout, "AIO_TIMEOUT"},
		{LeaderChecksum, "LEADER_CHECKSUM"},
		{DBlockMbal, "DBLOCK_MBAL"},
		{DBlockLver, "DBLOCK_LVER"},
		{AcquireIDLive, "ACQUIRE_IDLIVE"},
		{ReleaseOwner, "RELEASE_OWNER"},
		{Code(999), "UNKNOWN(999)"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.code.String())
	}
}

func TestSanlockErrorMessage(t *testing.T) {
	err := New(AcquireOther, "owner is live").WithLockspace("ls1").WithResource("res1")
	require.Contains(t, err.Error(), "ACQUIRE_OTHER")
	require.Contains(t, err.Error(), "ls1")
	require.Contains(t, err.Error(), "res1")
}

func TestWrapUnwrap(t *testing.T) {
	underlying := fmt.Errorf("short read")
	err := Wrap(DBlockRead, "read dblock", underlying)
	require.ErrorIs(t, err, underlying)
	require.True(t, errors.Is(err, underlying))
}

func TestIs(t *testing.T) {
	err := New(DBlockMbal, "aborted by higher mbal")
	assert.True(t, Is(err, DBlockMbal))
	assert.False(t, Is(err, DBlockLver))
	assert.False(t, Is(fmt.Errorf("plain"), DBlockMbal))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(DBlockMbal, "x")))
	assert.True(t, Retryable(New(DBlockLver, "x")))
	assert.False(t, Retryable(New(AcquireOther, "x")))
	assert.False(t, Retryable(fmt.Errorf("plain")))
}
