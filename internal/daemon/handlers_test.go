package daemon

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/socket"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// serveTestDaemon wires d's handlers onto a listening socket.Server and
// returns a dial helper that performs one request/reply round trip.
func serveTestDaemon(t *testing.T, d *Daemon) func(cmd socket.Command, req socket.Request) socket.Frame {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "sanlock.sock")
	d.server = socket.NewServer(sockPath, 0660)
	d.registerHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.server.Serve(ctx)

	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", sockPath)
		if err == nil {
			c.Close()
		}
		return err == nil
	}, time.Second, 10*time.Millisecond)

	return func(cmd socket.Command, req socket.Request) socket.Frame {
		conn, err := net.Dial("unix", sockPath)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, socket.WriteFrame(conn, cmd, 0, 0, req.Encode()))
		frame, err := socket.ReadFrame(conn)
		require.NoError(t, err)
		return frame
	}
}

func TestHandleStatusListsOpenResourcesSorted(t *testing.T) {
	d, dev := testDaemon(t)
	layout := wire.Layout{SectorSize: wire.SectorSize512, MaxHosts: 8}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.AddLockspace(ctx, "ls1", dev, layout, 1))
	require.NoError(t, d.OpenResource("ls1", "zeta", dev, layout))
	require.NoError(t, d.OpenResource("ls1", "alpha", dev, layout))

	send := serveTestDaemon(t, d)
	frame := send(socket.CmdStatus, socket.Request{})

	assert.Equal(t, uint32(0), frame.Header.Data1)
	assert.Equal(t, "alpha\nzeta", string(frame.Payload))
}

func TestHandleAcquireThenLogDumpRecordsOutcome(t *testing.T) {
	d, dev := testDaemon(t)
	layout := wire.Layout{SectorSize: wire.SectorSize512, MaxHosts: 8}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.AddLockspace(ctx, "ls1", dev, layout, 1))

	resDev := diskio.NewMemDevice(wire.SectorSize512, int(layout.AreaSize()))
	require.NoError(t, d.OpenResource("ls1", "res1", resDev, layout))

	res, err := d.resource("res1")
	require.NoError(t, err)
	require.NoError(t, res.Init(ctx, wire.SectorSize512, 8))

	send := serveTestDaemon(t, d)

	acquireFrame := send(socket.CmdAcquire, socket.Request{Lockspace: "ls1", Resource: "res1", Generation: 1})
	assert.Equal(t, uint32(0), acquireFrame.Header.Data1)

	dumpFrame := send(socket.CmdLogDump, socket.Request{})
	assert.Contains(t, string(dumpFrame.Payload), "ACQUIRE")
	assert.Contains(t, string(dumpFrame.Payload), "res1")
}

func TestHandleStatusEmptyWhenNoResourcesOpen(t *testing.T) {
	d, _ := testDaemon(t)
	send := serveTestDaemon(t, d)

	frame := send(socket.CmdStatus, socket.Request{})
	assert.Equal(t, uint32(0), frame.Header.Data1)
	assert.Empty(t, frame.Payload)
}
