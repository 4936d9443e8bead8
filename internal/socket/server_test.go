package socket

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerDispatchesRegisteredHandler(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "sanlock.sock")
	srv := NewServer(sockPath, 0660)

	received := make(chan Frame, 1)
	srv.Handle(CmdStatus, func(ctx context.Context, conn net.Conn, frame Frame) error {
		received <- frame
		return WriteOKReply(conn, CmdStatus, []byte("ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := net.Dial("unix", sockPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, CmdStatus, 0, 0, []byte("ping")))

	frame, err := ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(frame.Payload))

	select {
	case f := <-received:
		assert.Equal(t, "ping", string(f.Payload))
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	srv.Stop()
}

func TestServerRepliesZeroFrameForUnknownCommand(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "sanlock.sock")
	srv := NewServer(sockPath, 0660)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	require.Eventually(t, func() bool {
		_, err := net.Dial("unix", sockPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, CmdShutdown, 0, 0, nil))
	frame, err := ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, CmdShutdown, frame.Header.Command)

	srv.Stop()
}
