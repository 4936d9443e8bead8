package diskio

import (
	"context"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// MemDevice is an in-memory BlockDevice used by the Disk-Paxos and
// delta-lease test suites to simulate concurrent hosts sharing one
// region without a real disk. It never times out on its own; tests
// inject failure with InjectError/InjectTimeout.
type MemDevice struct {
	mu         sync.Mutex
	sectorSize uint32
	data       []byte

	failNextRead  error
	failNextWrite error
	timeoutNext   bool
}

// NewMemDevice allocates a zero-filled region of size bytes.
func NewMemDevice(sectorSize uint32, size int) *MemDevice {
	return &MemDevice{sectorSize: sectorSize, data: make([]byte, size)}
}

func (m *MemDevice) SectorSize() uint32 {
	return m.sectorSize
}

// InjectError arranges for the next ReadAt or WriteAt call to return
// OutcomeError with err instead of touching the backing buffer.
func (m *MemDevice) InjectError(onRead bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onRead {
		m.failNextRead = err
	} else {
		m.failNextWrite = err
	}
}

// InjectTimeout arranges for the next ReadAt or WriteAt call to return
// OutcomeTimeout, simulating a host that issued I/O and then stalled.
func (m *MemDevice) InjectTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeoutNext = true
}

func (m *MemDevice) ReadAt(_ context.Context, buf []byte, offset int64, _ time.Time) Result {
	if err := checkAligned(m.sectorSize, offset, len(buf)); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timeoutNext {
		m.timeoutNext = false
		return Result{Outcome: OutcomeTimeout, Err: sanlockerr.New(sanlockerr.AIOTimeout, "simulated timeout")}
	}
	if m.failNextRead != nil {
		err := m.failNextRead
		m.failNextRead = nil
		return Result{Outcome: OutcomeError, Err: err}
	}
	if offset < 0 || int(offset)+len(buf) > len(m.data) {
		return Result{Outcome: OutcomeError, Err: sanlockerr.New(sanlockerr.LeaderRead, "read out of bounds")}
	}
	n := copy(buf, m.data[offset:])
	return Result{Outcome: OutcomeOK, N: n}
}

func (m *MemDevice) WriteAt(_ context.Context, buf []byte, offset int64, _ time.Time) Result {
	if err := checkAligned(m.sectorSize, offset, len(buf)); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timeoutNext {
		m.timeoutNext = false
		return Result{Outcome: OutcomeTimeout, Err: sanlockerr.New(sanlockerr.AIOTimeout, "simulated timeout")}
	}
	if m.failNextWrite != nil {
		err := m.failNextWrite
		m.failNextWrite = nil
		return Result{Outcome: OutcomeError, Err: err}
	}
	if offset < 0 || int(offset)+len(buf) > len(m.data) {
		return Result{Outcome: OutcomeError, Err: sanlockerr.New(sanlockerr.LeaderRead, "write out of bounds")}
	}
	n := copy(m.data[offset:], buf)
	return Result{Outcome: OutcomeOK, N: n}
}

func (m *MemDevice) Close() error {
	return nil
}

// Snapshot returns a copy of the device's current contents, for test
// assertions that inspect raw bytes.
func (m *MemDevice) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
