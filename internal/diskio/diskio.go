// Package diskio provides aligned block I/O against a shared-storage
// region: read/write operations whose offsets and lengths are multiples
// of a sector size, buffers are page-aligned, and every call carries a
// deadline.
//
// A disk I/O can finish three ways: it succeeds, it completes with an
// error (EIO, short read), or it times out before the kernel finished
// it. The third case cannot be cancelled out from under the kernel, so
// the buffer involved is poisoned rather than reused — see Outcome.
package diskio

import (
	"context"
	"time"
	"unsafe"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Outcome classifies how a block I/O finished.
type Outcome int

const (
	// OutcomeOK means the operation completed within its deadline with
	// no error.
	OutcomeOK Outcome = iota
	// OutcomeError means the operation completed within its deadline
	// but the kernel reported an error (EIO, short read/write).
	OutcomeError
	// OutcomeTimeout means the deadline passed before the operation
	// completed. The kernel may still complete it later; any buffer
	// passed to the call is poisoned and must not be reused by the
	// caller.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result carries the outcome of a block I/O plus the bytes read, if any.
type Result struct {
	Outcome Outcome
	// N is the number of bytes transferred. Meaningless when Outcome is
	// OutcomeTimeout.
	N   int
	Err error
}

// Poisoned reports whether the result leaves its buffer unsafe to
// reuse: true only on a timeout, since the kernel retains a reference
// to the buffer until it completes the operation on its own schedule.
func (r Result) Poisoned() bool {
	return r.Outcome == OutcomeTimeout
}

// BlockDevice is a region of shared storage addressed by byte offset,
// with aligned reads and writes bounded by a deadline rather than a
// context cancellation the kernel could honor anyway — direct I/O on a
// stalled SAN path is not interruptible once issued.
type BlockDevice interface {
	// SectorSize returns the device's required alignment for offsets,
	// lengths, and buffers.
	SectorSize() uint32

	// ReadAt reads len(buf) bytes starting at offset, failing deadline
	// permitting. offset and len(buf) must be multiples of SectorSize.
	ReadAt(ctx context.Context, buf []byte, offset int64, deadline time.Time) Result

	// WriteAt writes buf to offset, deadline permitting. offset and
	// len(buf) must be multiples of SectorSize. If the result is
	// OutcomeTimeout, buf must not be reused or returned to a pool.
	WriteAt(ctx context.Context, buf []byte, offset int64, deadline time.Time) Result

	// Close releases the device's resources.
	Close() error
}

// AlignedBuffer allocates a byte slice of size n, page-aligned, for use
// with a BlockDevice that requires direct I/O alignment. n must already
// be a multiple of the device's sector size; callers own rounding.
func AlignedBuffer(n int) []byte {
	const pageSize = 4096
	buf := make([]byte, n+pageSize)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if rem := addr % pageSize; rem != 0 {
		offset = int(pageSize - rem)
	}
	aligned := buf[offset : offset+n]
	return aligned[:n:n]
}

func checkAligned(sectorSize uint32, offset int64, length int) error {
	if sectorSize == 0 {
		return sanlockerr.New(sanlockerr.AIOTimeout, "sector size is zero")
	}
	if offset%int64(sectorSize) != 0 {
		return sanlockerr.New(sanlockerr.LeaderRead, "offset not sector-aligned")
	}
	if length%int(sectorSize) != 0 {
		return sanlockerr.New(sanlockerr.LeaderRead, "length not sector-aligned")
	}
	return nil
}
