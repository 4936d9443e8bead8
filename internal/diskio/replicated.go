package diskio

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Replicated fans a single logical region out across an odd number of
// physical disks, per the "Majority disks" rule: an operation succeeds
// when a strict majority of its member disks succeed, and the value
// used for verification is whichever result appears identically across
// that majority.
type Replicated struct {
	disks []BlockDevice
}

// NewReplicated builds a replicated region from an odd number of member
// disks. All members must share a sector size.
func NewReplicated(disks []BlockDevice) (*Replicated, error) {
	if len(disks)%2 == 0 || len(disks) == 0 {
		return nil, sanlockerr.New(sanlockerr.AIOTimeout, "replicated region requires an odd number of disks")
	}
	sectorSize := disks[0].SectorSize()
	for _, d := range disks[1:] {
		if d.SectorSize() != sectorSize {
			return nil, sanlockerr.New(sanlockerr.AIOTimeout, "replicated disks have mismatched sector sizes")
		}
	}
	return &Replicated{disks: disks}, nil
}

func (r *Replicated) SectorSize() uint32 {
	return r.disks[0].SectorSize()
}

func (r *Replicated) majority() int {
	return len(r.disks)/2 + 1
}

// ReadAt reads from every disk concurrently and returns the bytes that
// appear identically on a majority of disks that returned OutcomeOK. If
// no value reaches a majority, or fewer than a majority of disks
// answered with OutcomeOK, the read fails.
func (r *Replicated) ReadAt(ctx context.Context, buf []byte, offset int64, deadline time.Time) Result {
	type diskResult struct {
		buf []byte
		res Result
	}

	results := make([]diskResult, len(r.disks))
	p := pool.New().WithMaxGoroutines(len(r.disks))
	for i, d := range r.disks {
		i, d := i, d
		p.Go(func() {
			b := make([]byte, len(buf))
			res := d.ReadAt(ctx, b, offset, deadline)
			results[i] = diskResult{buf: b, res: res}
		})
	}
	p.Wait()

	okBufs := make([][]byte, 0, len(results))
	anyTimeout := false
	for _, dr := range results {
		switch dr.res.Outcome {
		case OutcomeOK:
			okBufs = append(okBufs, dr.buf)
		case OutcomeTimeout:
			anyTimeout = true
		}
	}

	winner, count := majorityBytes(okBufs)
	if count >= r.majority() {
		copy(buf, winner)
		return Result{Outcome: OutcomeOK, N: len(buf)}
	}
	if anyTimeout {
		return Result{Outcome: OutcomeTimeout, Err: sanlockerr.New(sanlockerr.AIOTimeout, "replicated read: no timely majority")}
	}
	return Result{Outcome: OutcomeError, Err: sanlockerr.New(sanlockerr.LeaderRead, "replicated read: no majority agreement")}
}

// WriteAt writes to every disk concurrently. Succeeds if a strict
// majority of disks report OutcomeOK.
func (r *Replicated) WriteAt(ctx context.Context, buf []byte, offset int64, deadline time.Time) Result {
	results := make([]Result, len(r.disks))
	p := pool.New().WithMaxGoroutines(len(r.disks))
	for i, d := range r.disks {
		i, d := i, d
		p.Go(func() {
			results[i] = d.WriteAt(ctx, buf, offset, deadline)
		})
	}
	p.Wait()

	ok, timeout := 0, false
	for _, res := range results {
		switch res.Outcome {
		case OutcomeOK:
			ok++
		case OutcomeTimeout:
			timeout = true
		}
	}
	if ok >= r.majority() {
		return Result{Outcome: OutcomeOK, N: len(buf)}
	}
	if timeout {
		return Result{Outcome: OutcomeTimeout, Err: sanlockerr.New(sanlockerr.AIOTimeout, "replicated write: no timely majority")}
	}
	return Result{Outcome: OutcomeError, Err: sanlockerr.New(sanlockerr.LeaderRead, "replicated write: no majority agreement")}
}

func (r *Replicated) Close() error {
	var firstErr error
	for _, d := range r.disks {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// majorityBytes finds the byte slice appearing most often among bufs
// (by exact content equality) and how many times it appears.
func majorityBytes(bufs [][]byte) ([]byte, int) {
	if len(bufs) == 0 {
		return nil, 0
	}
	type group struct {
		sample []byte
		count  int
	}
	groups := make([]group, 0, len(bufs))
	for _, b := range bufs {
		found := false
		for i := range groups {
			if bytesEqual(groups[i].sample, b) {
				groups[i].count++
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, group{sample: b, count: 1})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].count > groups[j].count })
	return groups[0].sample, groups[0].count
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
