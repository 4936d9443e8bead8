// Package daemon wires the delta-lease lockspace, the Disk-Paxos
// resource registry, the lease manager, and the local client socket
// into one process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanlockd/sanlockd/internal/config"
	"github.com/sanlockd/sanlockd/internal/deltalease"
	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/leasemgr"
	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/metrics"
	"github.com/sanlockd/sanlockd/internal/paxos"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
	"github.com/sanlockd/sanlockd/internal/socket"
	"github.com/sanlockd/sanlockd/internal/watchdog"
	"github.com/sanlockd/sanlockd/internal/wire"
)

// Daemon owns the state of every lockspace it has acquired: each one's
// delta-lease liveness handle, every resource opened against them, the
// in-memory lease manager, and the client socket that dispatches
// commands against them.
type Daemon struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	wd      watchdog.Client

	mu         sync.Mutex
	lockspaces map[string]*deltalease.Lockspace
	resources  map[string]*paxos.Resource
	leases     *leasemgr.Manager
	pids       map[int]struct{}
	events     []string

	server *socket.Server
}

// logDumpCapacity bounds how many recent command outcomes LOG_DUMP
// keeps around; older entries are dropped as new ones arrive.
const logDumpCapacity = 200

// logEvent appends msg to the in-memory ring LOG_DUMP serves, dropping
// the oldest entry once logDumpCapacity is exceeded.
func (d *Daemon) logEvent(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, msg)
	if len(d.events) > logDumpCapacity {
		d.events = d.events[len(d.events)-logDumpCapacity:]
	}
}

// New constructs a Daemon bound to cfg. watchdog.Open or an equivalent
// watchdog.Client must already have been created by the caller, since
// device access differs between production (LinuxClient) and tests
// (FakeClient).
func New(cfg *config.Config, wd watchdog.Client, registry prometheus.Registerer) *Daemon {
	return &Daemon{
		cfg:        cfg,
		metrics:    metrics.New(registry),
		wd:         wd,
		lockspaces: make(map[string]*deltalease.Lockspace),
		resources:  make(map[string]*paxos.Resource),
		leases:     leasemgr.NewManager(cfg.LeaseMgr.MaxLeases, cfg.LeaseMgr.SaveWindow),
		pids:       make(map[int]struct{}),
	}
}

// trackPID records pid as having an open registration, so Shutdown
// knows whose tokens to force-release.
func (d *Daemon) trackPID(pid int) {
	d.mu.Lock()
	d.pids[pid] = struct{}{}
	d.mu.Unlock()
}

// AddLockspace opens a delta-lease lockspace on device and acquires
// hostID within it. The start command calls it before serving; the
// SET_HOST_ID command only reports a lockspace already added here.
func (d *Daemon) AddLockspace(ctx context.Context, name string, device diskio.BlockDevice, layout wire.Layout, hostID uint64) error {
	ls := deltalease.NewLockspace(deltalease.Config{
		Name:   name,
		Device: device,
		Layout: layout,
		Timing: deltalease.Timing{
			IOTimeout:         d.cfg.DeltaLease.IOTimeout,
			HostIDRenewal:     d.cfg.DeltaLease.HostIDRenewal,
			HostIDRenewalFail: d.cfg.DeltaLease.HostIDRenewalFail,
			HostIDTimeout:     d.cfg.DeltaLease.HostIDTimeout,
		},
		Watchdog: d.wd,
	})

	if err := ls.AcquireHostID(ctx, hostID); err != nil {
		return fmt.Errorf("acquire host_id in lockspace %q: %w", name, err)
	}
	ls.Start(ctx, uint64(d.cfg.Paxos.MaxHosts))

	d.mu.Lock()
	d.lockspaces[name] = ls
	d.mu.Unlock()

	logger.Info("lockspace acquired", logger.Lockspace(name), logger.HostID(hostID))
	return nil
}

// OpenResource registers a named resource against an already-acquired
// lockspace so ACQUIRE/RELEASE/MIGRATE/SETOWNER can target it.
func (d *Daemon) OpenResource(lockspaceName, resourceName string, device diskio.BlockDevice, layout wire.Layout) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls, ok := d.lockspaces[lockspaceName]
	if !ok {
		return sanlockerr.New(sanlockerr.AcquireLockspace, "lockspace not acquired").WithLockspace(lockspaceName)
	}

	res := paxos.NewResource(paxos.Config{
		Lockspace: lockspaceName,
		Name:      resourceName,
		Device:    device,
		Layout:    layout,
		MaxHosts:  uint32(d.cfg.Paxos.MaxHosts),
		IOTimeout: d.cfg.Paxos.IOTimeout,
		Lease:     ls,
	})
	d.resources[resourceName] = res
	return nil
}

func (d *Daemon) resource(name string) (*paxos.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.resources[name]
	if !ok {
		return nil, sanlockerr.New(sanlockerr.TokenNotFound, "resource not open").WithResource(name)
	}
	return res, nil
}

func (d *Daemon) lockspaceHostID(name string) (uint64, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls, ok := d.lockspaces[name]
	if !ok {
		return 0, 0, false
	}
	hostID, generation := ls.HostID()
	return hostID, generation, true
}

// Serve starts the client socket and blocks until ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	d.server = socket.NewServer(d.cfg.Socket.Path, os.FileMode(d.cfg.Socket.Mode))
	d.registerHandlers()
	return d.server.Serve(ctx)
}

// Shutdown releases every held lease, stops every lockspace's
// background workers, and closes the client socket.
func (d *Daemon) Shutdown(ctx context.Context) {
	if d.server != nil {
		d.server.Stop()
	}

	d.mu.Lock()
	pids := make(map[int]struct{}, len(d.pids))
	for pid := range d.pids {
		pids[pid] = struct{}{}
	}
	resources := make(map[string]*paxos.Resource, len(d.resources))
	for name, res := range d.resources {
		resources[name] = res
	}
	lockspaces := make([]*deltalease.Lockspace, 0, len(d.lockspaces))
	for _, ls := range d.lockspaces {
		lockspaces = append(lockspaces, ls)
	}
	d.mu.Unlock()

	for pid := range pids {
		d.leases.ReleaseAllForPID(ctx, pid, resources)
	}

	for _, ls := range lockspaces {
		ls.Stop()
		if err := ls.Release(ctx); err != nil {
			logger.Warn("release lockspace on shutdown failed", logger.Err(err))
		}
	}
}
