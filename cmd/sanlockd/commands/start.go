package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/config"
	"github.com/sanlockd/sanlockd/internal/daemon"
	"github.com/sanlockd/sanlockd/internal/diskio"
	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/telemetry"
	"github.com/sanlockd/sanlockd/internal/watchdog"
	"github.com/sanlockd/sanlockd/internal/wire"
)

var (
	foreground bool
	pidFile    string

	startLockspace string
	startHostID    uint64
	startDevices   []string
	startResources []string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sanlockd daemon",
	Long: `Start sanlockd, acquiring one lockspace's host_id and opening the
configured resources against it, then serving client requests over the
local socket until a shutdown signal arrives.

Examples:
  # Run in foreground with a config file
  sanlockd start --config /etc/sanlockd/config.yaml --foreground \
    --lockspace cluster1 --host-id 3 --device /dev/sdb1 --resource vm1`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "path to PID file")
	startCmd.Flags().StringVar(&startLockspace, "lockspace", "", "lockspace name to acquire (required)")
	startCmd.Flags().Uint64Var(&startHostID, "host-id", 0, "our host_id in the lockspace (required)")
	startCmd.Flags().StringSliceVar(&startDevices, "device", nil, "device path; first entry is the lockspace's delta-lease area, subsequent entries are resource areas in --resource order")
	startCmd.Flags().StringSliceVar(&startResources, "resource", nil, "resource name, one per extra --device entry")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}
	if startLockspace == "" || startHostID == 0 || len(startDevices) == 0 {
		return fmt.Errorf("--lockspace, --host-id, and at least one --device are required")
	}
	if len(startResources) != len(startDevices)-1 {
		return fmt.Errorf("need exactly one --resource per --device after the first (lockspace) device")
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if configFile := GetConfigFile(); configFile != "" {
		go func() {
			if err := config.WatchLevel(ctx, configFile); err != nil {
				logger.Warn("config watcher stopped", logger.Err(err))
			}
		}()
	}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: "sanlockd",
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	logger.Info("sanlockd starting", logger.Lockspace(startLockspace), logger.HostID(startHostID))

	wd, err := openWatchdog(cfg)
	if err != nil {
		return fmt.Errorf("failed to open watchdog: %w", err)
	}

	d := daemon.New(cfg, wd, prometheus.DefaultRegisterer)

	layout := wire.Layout{SectorSize: wire.SectorSize512, MaxHosts: uint32(cfg.Paxos.MaxHosts)}

	lockspaceDevice, err := diskio.OpenDirectFile(startDevices[0], layout.SectorSize)
	if err != nil {
		return fmt.Errorf("open lockspace device %s: %w", startDevices[0], err)
	}
	defer lockspaceDevice.Close()

	if err := d.AddLockspace(ctx, startLockspace, lockspaceDevice, layout, startHostID); err != nil {
		return fmt.Errorf("acquire lockspace %s: %w", startLockspace, err)
	}

	for i, resourceName := range startResources {
		resDevice, err := diskio.OpenDirectFile(startDevices[i+1], layout.SectorSize)
		if err != nil {
			return fmt.Errorf("open resource device %s: %w", startDevices[i+1], err)
		}
		defer resDevice.Close()
		if err := d.OpenResource(startLockspace, resourceName, resDevice, layout); err != nil {
			return fmt.Errorf("open resource %s: %w", resourceName, err)
		}
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer os.Remove(pidFile)
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- d.Serve(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("sanlockd running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		d.Shutdown(shutdownCtx)
		<-serverDone
		logger.Info("sanlockd stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			return err
		}
	}
	return nil
}

func openWatchdog(cfg *config.Config) (watchdog.Client, error) {
	if cfg.Watchdog.Device == "" {
		return watchdog.NewFakeClient(cfg.DeltaLease.HostIDRenewal, cfg.Watchdog.FireTimeout), nil
	}
	return watchdog.Open(cfg.Watchdog.Device, cfg.Watchdog.FireTimeout)
}

func startDaemon() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if err := os.MkdirAll(GetDefaultStateDir(), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	args := append([]string{"start", "--foreground", "--pid-file", pidPath}, os.Args[2:]...)
	cmd := exec.Command(executable, args...)

	logPath := GetDefaultLogFile()
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFileHandle.Close()
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("sanlockd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	return nil
}
