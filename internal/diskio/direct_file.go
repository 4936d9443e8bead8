package diskio

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// DirectFile is a BlockDevice backed by a file opened with O_DIRECT,
// talking to golang.org/x/sys/unix directly rather than through
// os.File's buffered path. It does not map the file: Disk-Paxos and
// delta-lease sectors are read and committed one at a time with their
// own deadlines, which Pread/Pwrite express more directly than mmap's
// page-fault-driven I/O.
type DirectFile struct {
	file       *os.File
	sectorSize uint32
}

// OpenDirectFile opens path for O_DIRECT positioned reads and writes.
// The file must already exist (init is responsible for sizing the lease
// area); OpenDirectFile never creates or truncates it.
func OpenDirectFile(path string, sectorSize uint32) (*DirectFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_DIRECT, 0)
	if err != nil {
		return nil, sanlockerr.Wrap(sanlockerr.AIOTimeout, "open direct file", err)
	}
	return &DirectFile{file: f, sectorSize: sectorSize}, nil
}

func (d *DirectFile) SectorSize() uint32 {
	return d.sectorSize
}

// ReadAt issues a positioned read and races it against deadline. The
// syscall itself is not cancellable once issued; on a timeout we stop
// waiting on it but the goroutine performing it is left to finish on
// its own and the buffer it was given must be treated as poisoned by
// the caller.
func (d *DirectFile) ReadAt(ctx context.Context, buf []byte, offset int64, deadline time.Time) Result {
	if err := checkAligned(d.sectorSize, offset, len(buf)); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	return raceDeadline(ctx, deadline, func() (int, error) {
		return unix.Pread(int(d.file.Fd()), buf, offset)
	})
}

// WriteAt issues a positioned write with the same timeout semantics as
// ReadAt. A timed-out write leaves the on-disk sector's final content
// indeterminate until the kernel finishes it; callers must not treat a
// timeout as either success or failure of the write itself.
func (d *DirectFile) WriteAt(ctx context.Context, buf []byte, offset int64, deadline time.Time) Result {
	if err := checkAligned(d.sectorSize, offset, len(buf)); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	return raceDeadline(ctx, deadline, func() (int, error) {
		return unix.Pwrite(int(d.file.Fd()), buf, offset)
	})
}

func (d *DirectFile) Close() error {
	return d.file.Close()
}

// raceDeadline runs op in its own goroutine and returns as soon as
// either op finishes or deadline passes, whichever is first. When the
// deadline wins, op's goroutine is not interrupted; it leaks until the
// kernel completes the syscall, per the aligned-I/O contract.
func raceDeadline(ctx context.Context, deadline time.Time, op func() (int, error)) Result {
	done := make(chan Result, 1)
	go func() {
		n, err := op()
		if err != nil {
			done <- Result{Outcome: OutcomeError, N: n, Err: err}
			return
		}
		done <- Result{Outcome: OutcomeOK, N: n}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-timer.C:
		return Result{Outcome: OutcomeTimeout, Err: sanlockerr.New(sanlockerr.AIOTimeout, "block I/O deadline exceeded")}
	case <-ctx.Done():
		return Result{Outcome: OutcomeTimeout, Err: sanlockerr.Wrap(sanlockerr.AIOTimeout, "block I/O cancelled", ctx.Err())}
	}
}
