package diskio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDirectFileRoundTrip exercises the real O_DIRECT path. tmpfs (common
// in CI sandboxes) does not support O_DIRECT, so the test skips rather
// than fails when the kernel rejects the open.
func TestDirectFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lease.img")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(1<<20))
	require.NoError(t, f.Close())

	dev, err := OpenDirectFile(path, SectorSize512)
	if err != nil {
		t.Skipf("O_DIRECT unavailable on this filesystem: %v", err)
	}
	defer dev.Close()

	buf := AlignedBuffer(SectorSize512)
	for i := range buf {
		buf[i] = byte(i)
	}

	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)

	wres := dev.WriteAt(ctx, buf, 0, deadline)
	if wres.Outcome != OutcomeOK {
		t.Skipf("O_DIRECT write unsupported on this filesystem: %v", wres.Err)
	}

	out := AlignedBuffer(SectorSize512)
	rres := dev.ReadAt(ctx, out, 0, deadline)
	require.Equal(t, OutcomeOK, rres.Outcome)
	require.Equal(t, buf, out)
}
