//go:build linux

package watchdog

import (
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Linux watchdog ioctl numbers, from linux/watchdog.h. The kernel's
// WDIOC_* constants are fixed across architectures for this driver
// family so they're reproduced here rather than pulled from a cgo
// header, the same way the logger's raw-syscall terminal check
// hardcodes TCGETS instead of depending on a C toolchain.
const (
	wdiocKeepalive   = 0x80045705
	wdiocSettimeout  = 0xc0045706
	wdiocGettimeout  = 0x80045707
	wdiocGettimeleft = 0x80045709
)

// LinuxClient talks to a /dev/watchdog character device.
type LinuxClient struct {
	file          *os.File
	fireTimeout   time.Duration
	lastKeepalive time.Time
}

// Open opens the watchdog device at path (typically /dev/watchdog) and
// configures its fire timeout.
func Open(path string, fireTimeout time.Duration) (*LinuxClient, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, sanlockerr.Wrap(sanlockerr.AIOTimeout, "open watchdog device", err)
	}
	c := &LinuxClient{file: f, fireTimeout: fireTimeout}
	secs := int32(fireTimeout.Seconds())
	if err := ioctl(f.Fd(), wdiocSettimeout, uintptr(unsafe.Pointer(&secs))); err != nil {
		f.Close()
		return nil, sanlockerr.Wrap(sanlockerr.AIOTimeout, "set watchdog timeout", err)
	}
	return c, nil
}

// Arm pets the watchdog. The Linux watchdog driver doesn't accept an
// absolute deadline, only "reset the fire_timeout countdown now", so
// Arm is only correct when called no later than fireTimeout before
// deadline; the delta-lease engine's renewal cadence guarantees that.
func (c *LinuxClient) Arm(deadline time.Time) error {
	if err := ioctl(c.file.Fd(), wdiocKeepalive, 0); err != nil {
		return sanlockerr.Wrap(sanlockerr.AIOTimeout, "watchdog keepalive", err)
	}
	c.lastKeepalive = time.Now()
	return nil
}

// Disarm writes the magic close character before closing, which on a
// kernel built without CONFIG_WATCHDOG_NOWAYOUT stops the countdown.
// On a NOWAYOUT kernel this has no effect and the host will still reset
// if nothing else arms the watchdog again.
func (c *LinuxClient) Disarm() error {
	if _, err := c.file.Write([]byte("V")); err != nil {
		return sanlockerr.Wrap(sanlockerr.AIOTimeout, "watchdog disarm", err)
	}
	return nil
}

func (c *LinuxClient) Status() (Status, error) {
	var secs int32
	if err := ioctl(c.file.Fd(), wdiocGettimeout, uintptr(unsafe.Pointer(&secs))); err != nil {
		return Status{}, sanlockerr.Wrap(sanlockerr.AIOTimeout, "watchdog get timeout", err)
	}
	return Status{
		FireTimeout:   time.Duration(secs) * time.Second,
		LastKeepalive: c.lastKeepalive,
	}, nil
}

func (c *LinuxClient) Close() error {
	return c.file.Close()
}

func ioctl(fd uintptr, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

var _ Client = (*LinuxClient)(nil)
