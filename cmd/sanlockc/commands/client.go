package commands

import (
	"fmt"
	"net"
	"time"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/socket"
)

// dialTimeout bounds how long we wait for the daemon's listener to
// accept a connection before giving up with a clear error.
const dialTimeout = 5 * time.Second

// call dials socketPath, sends one command frame built from req, and
// returns the decoded reply frame. The caller inspects frame.Header.Data1
// for a negated sanlockerr.Code on failure.
func call(socketPath string, cmd socket.Command, req socket.Request) (socket.Frame, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return socket.Frame{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := socket.WriteFrame(conn, cmd, 0, 0, req.Encode()); err != nil {
		return socket.Frame{}, fmt.Errorf("send %s: %w", cmd, err)
	}
	frame, err := socket.ReadFrame(conn)
	if err != nil {
		return socket.Frame{}, fmt.Errorf("read %s reply: %w", cmd, err)
	}
	return frame, nil
}

// replyError turns a non-zero Data1 on a reply frame into an error
// carrying the daemon's reported sanlockerr.Code, or nil on success.
func replyError(frame socket.Frame) error {
	if frame.Header.Data1 == 0 {
		return nil
	}
	code := sanlockerr.Code(-int32(frame.Header.Data1))
	return fmt.Errorf("%s failed: %s", frame.Header.Command, code)
}
