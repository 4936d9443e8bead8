package daemon

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sanlockd/sanlockd/internal/leasemgr"
	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/metrics"
	"github.com/sanlockd/sanlockd/internal/paxos"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/socket"
)

// registerHandlers wires every socket.Command the client protocol
// exposes to the matching leasemgr/paxos operation. PID is taken from
// the connection's peer credentials rather than a client-supplied
// field, so a client can never forge another process's identity.
func (d *Daemon) registerHandlers() {
	d.server.Handle(socket.CmdRegister, d.handleRegister)
	d.server.Handle(socket.CmdAcquire, d.handleAcquire)
	d.server.Handle(socket.CmdRelease, d.handleRelease)
	d.server.Handle(socket.CmdMigrate, d.handleMigrate)
	d.server.Handle(socket.CmdSetOwner, d.handleSetOwner)
	d.server.Handle(socket.CmdSetHostID, d.handleSetHostID)
	d.server.Handle(socket.CmdStatus, d.handleStatus)
	d.server.Handle(socket.CmdLogDump, d.handleLogDump)
	d.server.Handle(socket.CmdShutdown, d.handleShutdown)
}

// peerPID reads the connecting process's PID from the kernel via
// SO_PEERCRED, so a client can never claim a PID it doesn't own. It
// uses SyscallConn rather than UnixConn.File to avoid duplicating the
// socket fd, which would otherwise switch the connection to blocking
// mode underneath the server's read loop.
func peerPID(conn net.Conn) int {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0
	}

	var pid int
	controlErr := raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			return
		}
		pid = int(cred.Pid)
	})
	if controlErr != nil {
		return 0
	}
	return pid
}

func (d *Daemon) handleRegister(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	pid := peerPID(conn)
	d.trackPID(pid)
	d.logEvent(fmt.Sprintf("REGISTER pid=%d", pid))
	return socket.WriteOKReply(conn, socket.CmdRegister, nil)
}

// handleAcquire claims every resource req names as one atomic unit:
// either all of them are retained or none are (the cross-token ACQUIRE
// atomicity guarantee). A single-resource request (req.Resource with no
// req.Resources) is just the one-element case of the same path.
func (d *Daemon) handleAcquire(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	req, err := socket.DecodeRequest(frame.Payload)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdAcquire, err)
	}

	names := req.ResourceNames()
	if len(names) == 0 {
		return socket.WriteErrorReply(conn, socket.CmdAcquire, sanlockerr.New(sanlockerr.AcquireOther, "no resource named"))
	}

	pid := peerPID(conn)
	d.trackPID(pid)
	hostID, _, ok := d.lockspaceHostID(req.Lockspace)
	if !ok {
		return socket.WriteErrorReply(conn, socket.CmdAcquire, sanlockerr.New(sanlockerr.AcquireLockspace, "lockspace not acquired").WithLockspace(req.Lockspace))
	}

	reqs := make([]leasemgr.ResourceRequest, 0, len(names))
	for _, name := range names {
		res, err := d.resource(name)
		if err != nil {
			return socket.WriteErrorReply(conn, socket.CmdAcquire, err)
		}
		reqs = append(reqs, leasemgr.ResourceRequest{Name: name, Resource: res, Generation: req.Generation})
	}

	joined := strings.Join(names, ",")
	start := time.Now()
	if _, err := d.leases.AcquireResources(ctx, pid, req.Lockspace, hostID, reqs, paxos.AcquireOptions{}); err != nil {
		d.metrics.ObserveBallot(metrics.ModeExclusive, metrics.ResultDenied, time.Since(start))
		d.logEvent(fmt.Sprintf("ACQUIRE pid=%d resources=%s denied: %v", pid, joined, err))
		return socket.WriteErrorReply(conn, socket.CmdAcquire, err)
	}
	d.metrics.ObserveBallot(metrics.ModeExclusive, metrics.ResultGranted, time.Since(start))
	d.metrics.SetActiveLeases(metrics.ModeExclusive, float64(len(d.leases.TokensForPID(pid))))

	logger.InfoCtx(ctx, "acquire granted", logger.PID(pid), logger.Command("ACQUIRE"))
	d.logEvent(fmt.Sprintf("ACQUIRE pid=%d resources=%s granted", pid, joined))
	return socket.WriteOKReply(conn, socket.CmdAcquire, nil)
}

func (d *Daemon) handleRelease(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	req, err := socket.DecodeRequest(frame.Payload)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdRelease, err)
	}

	pid := peerPID(conn)
	tok, ok := d.leases.Lookup(pid, req.Resource)
	if !ok {
		return socket.WriteErrorReply(conn, socket.CmdRelease, sanlockerr.New(sanlockerr.TokenNotFound, "no token for resource").WithResource(req.Resource))
	}
	res, err := d.resource(req.Resource)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdRelease, err)
	}

	if err := d.leases.Release(ctx, tok, res, paxos.ReleaseOptions{}, req.Remember); err != nil {
		d.logEvent(fmt.Sprintf("RELEASE pid=%d resource=%s failed: %v", pid, req.Resource, err))
		return socket.WriteErrorReply(conn, socket.CmdRelease, err)
	}
	d.metrics.ObserveRelease(metrics.ModeExclusive, metrics.ReasonExplicit, 0)
	d.logEvent(fmt.Sprintf("RELEASE pid=%d resource=%s", pid, req.Resource))
	return socket.WriteOKReply(conn, socket.CmdRelease, nil)
}

func (d *Daemon) handleMigrate(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	req, err := socket.DecodeRequest(frame.Payload)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdMigrate, err)
	}

	pid := peerPID(conn)
	tok, ok := d.leases.Lookup(pid, req.Resource)
	if !ok {
		return socket.WriteErrorReply(conn, socket.CmdMigrate, sanlockerr.New(sanlockerr.TokenNotFound, "no token for resource").WithResource(req.Resource))
	}
	res, err := d.resource(req.Resource)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdMigrate, err)
	}

	if err := d.leases.Migrate(ctx, tok, res, req.ForceMode); err != nil {
		return socket.WriteErrorReply(conn, socket.CmdMigrate, err)
	}
	return socket.WriteOKReply(conn, socket.CmdMigrate, nil)
}

func (d *Daemon) handleSetOwner(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	req, err := socket.DecodeRequest(frame.Payload)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdSetOwner, err)
	}

	pid := peerPID(conn)
	tok, ok := d.leases.Lookup(pid, req.Resource)
	if !ok {
		return socket.WriteErrorReply(conn, socket.CmdSetOwner, sanlockerr.New(sanlockerr.TokenNotFound, "no token for resource").WithResource(req.Resource))
	}
	res, err := d.resource(req.Resource)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdSetOwner, err)
	}

	if err := d.leases.SetOwner(ctx, tok, res, req.Generation, req.ExpectOwnerID, paxos.AcquireOptions{}); err != nil {
		return socket.WriteErrorReply(conn, socket.CmdSetOwner, err)
	}
	return socket.WriteOKReply(conn, socket.CmdSetOwner, nil)
}

func (d *Daemon) handleSetHostID(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	req, err := socket.DecodeRequest(frame.Payload)
	if err != nil {
		return socket.WriteErrorReply(conn, socket.CmdSetHostID, err)
	}
	if _, _, ok := d.lockspaceHostID(req.Lockspace); ok {
		return socket.WriteOKReply(conn, socket.CmdSetHostID, nil)
	}
	return socket.WriteErrorReply(conn, socket.CmdSetHostID, sanlockerr.New(sanlockerr.AcquireLockspace, "lockspace not acquired").WithLockspace(req.Lockspace))
}

// handleStatus replies with a newline-separated list of open resource
// names, one line per resource, for a human or script to parse.
func (d *Daemon) handleStatus(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	d.mu.Lock()
	names := make([]string, 0, len(d.resources))
	for name := range d.resources {
		names = append(names, name)
	}
	d.mu.Unlock()

	sort.Strings(names)
	return socket.WriteOKReply(conn, socket.CmdStatus, []byte(strings.Join(names, "\n")))
}

// handleLogDump replies with the most recent logDumpCapacity command
// outcomes, oldest first, one per line.
func (d *Daemon) handleLogDump(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	d.mu.Lock()
	events := make([]string, len(d.events))
	copy(events, d.events)
	d.mu.Unlock()

	return socket.WriteOKReply(conn, socket.CmdLogDump, []byte(strings.Join(events, "\n")))
}

func (d *Daemon) handleShutdown(ctx context.Context, conn net.Conn, frame socket.Frame) error {
	if err := socket.WriteOKReply(conn, socket.CmdShutdown, nil); err != nil {
		return err
	}
	go d.Shutdown(context.Background())
	return nil
}
