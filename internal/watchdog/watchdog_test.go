package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTimeoutBudget(t *testing.T) {
	require.NoError(t, CheckTimeoutBudget(8*time.Second, 12*time.Second, 20*time.Second))
	require.Error(t, CheckTimeoutBudget(8*time.Second, 12*time.Second, 21*time.Second))
}

func TestFakeClientArmRecordsDeadline(t *testing.T) {
	c := NewFakeClient(5*time.Second, 10*time.Second)
	deadline := time.Now().Add(20 * time.Second)
	require.NoError(t, c.Arm(deadline))

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, status.FireTimeout)
	assert.Len(t, c.Deadlines, 1)
	assert.Equal(t, deadline, c.Deadlines[0])
}

func TestFakeClientFireBlocksFurtherArm(t *testing.T) {
	c := NewFakeClient(5*time.Second, 10*time.Second)
	require.NoError(t, c.Arm(time.Now().Add(time.Minute)))
	c.Fire()

	err := c.Arm(time.Now().Add(time.Minute))
	assert.Error(t, err)
}

func TestFakeClientDisarm(t *testing.T) {
	c := NewFakeClient(5*time.Second, 10*time.Second)
	require.NoError(t, c.Arm(time.Now().Add(time.Minute)))
	require.NoError(t, c.Disarm())
	assert.True(t, c.Disarmed())
}

func TestFakeClientClosedRejectsArm(t *testing.T) {
	c := NewFakeClient(5*time.Second, 10*time.Second)
	require.NoError(t, c.Close())
	assert.Error(t, c.Arm(time.Now().Add(time.Minute)))
}
