// Package sanlockerr provides the error kinds shared by the disk codec,
// delta-lease engine, and Disk-Paxos engine. This is a leaf package with
// no internal dependencies so it can be imported by every layer above the
// disk without causing import cycles.
//
// Import graph: sanlockerr <- wire <- diskio <- deltalease <- paxos <- leasemgr
package sanlockerr

import "fmt"

// Code identifies the kind of failure a disk or protocol operation hit.
// These map directly onto the error kinds of the on-disk lease protocol:
// callers branch on Code, not on error string contents.
type Code int

const (
	// AIOTimeout indicates an aligned I/O operation did not complete
	// before its deadline. The buffer backing the operation must be
	// treated as leaked until the kernel completes it.
	AIOTimeout Code = iota + 1

	// LeaderMagic indicates the leader sector's magic value didn't match.
	LeaderMagic
	// LeaderVersion indicates the leader sector's major version didn't match.
	LeaderVersion
	// LeaderLockspace indicates the leader's lockspace_name didn't match.
	LeaderLockspace
	// LeaderResource indicates the leader's resource_name didn't match.
	LeaderResource
	// LeaderNumHosts indicates num_hosts is smaller than the host_id in use.
	LeaderNumHosts
	// LeaderChecksum indicates the leader sector's checksum didn't verify.
	LeaderChecksum
	// LeaderRead indicates the leader sector could not be read.
	LeaderRead
	// LeaderWrite indicates the leader sector could not be written.
	LeaderWrite
	// LeaderDiff indicates the leader changed between a read and a later
	// verification read during the live/dead wait loop.
	LeaderDiff

	// DBlockRead indicates a dblock sector could not be read.
	DBlockRead
	// DBlockWrite indicates a dblock sector could not be written.
	DBlockWrite
	// DBlockChecksum indicates a dblock sector's checksum didn't verify.
	DBlockChecksum
	// DBlockMbal indicates a ballot phase was aborted by a higher mbal.
	// The engine retries with a higher mbal in the same residue class.
	DBlockMbal
	// DBlockLver indicates a ballot phase was aborted by a higher lver.
	// The engine restarts the whole acquire from the read phase.
	DBlockLver

	// AcquireLver indicates the acquire gave up after exhausting its
	// restart budget on DBlockLver aborts.
	AcquireLver
	// AcquireLockspace indicates the host has no live delta lease in the
	// resource's lockspace.
	AcquireLockspace
	// AcquireIDDisk indicates the delta-lease sector for a peer host_id
	// could not be read while checking liveness.
	AcquireIDDisk
	// AcquireIDLive indicates the current owner's delta lease is live;
	// the acquire must not proceed to a ballot.
	AcquireIDLive
	// AcquireOwned indicates the resource is already owned by the caller.
	AcquireOwned
	// AcquireOwnedRetry indicates a transient state during acquire that
	// should be retried (e.g. a concurrent ballot observed mid-flight).
	AcquireOwnedRetry
	// AcquireOther indicates the resource is held by a live owner that
	// is not the caller, and the caller did not request force semantics.
	AcquireOther

	// ReleaseLver indicates the leader's lver no longer matches what the
	// releasing host last committed.
	ReleaseLver
	// ReleaseOwner indicates the leader no longer names the releasing
	// host as owner (already FREE, or owned by someone else).
	ReleaseOwner

	// TokenLimit indicates a PID already holds MAX_LEASES tokens.
	TokenLimit
	// TokenCommandActive indicates a second command was issued against
	// a token while one of ACQUIRE/RELEASE/MIGRATE/SETOWNER was still
	// in flight on it.
	TokenCommandActive
	// TokenState indicates an operation was attempted against a token
	// in a lifecycle state that does not permit it.
	TokenState
	// TokenNotFound indicates the (pid, resource_name) pair names no
	// token known to the manager.
	TokenNotFound
)

func (c Code) String() string {
	switch c {
	case AIOTimeout:
		return "AIO_TIMEOUT"
	case LeaderMagic:
		return "LEADER_MAGIC"
	case LeaderVersion:
		return "LEADER_VERSION"
	case LeaderLockspace:
		return "LEADER_LOCKSPACE"
	case LeaderResource:
		return "LEADER_RESOURCE"
	case LeaderNumHosts:
		return "LEADER_NUMHOSTS"
	case LeaderChecksum:
		return "LEADER_CHECKSUM"
	case LeaderRead:
		return "LEADER_READ"
	case LeaderWrite:
		return "LEADER_WRITE"
	case LeaderDiff:
		return "LEADER_DIFF"
	case DBlockRead:
		return "DBLOCK_READ"
	case DBlockWrite:
		return "DBLOCK_WRITE"
	case DBlockChecksum:
		return "DBLOCK_CHECKSUM"
	case DBlockMbal:
		return "DBLOCK_MBAL"
	case DBlockLver:
		return "DBLOCK_LVER"
	case AcquireLver:
		return "ACQUIRE_LVER"
	case AcquireLockspace:
		return "ACQUIRE_LOCKSPACE"
	case AcquireIDDisk:
		return "ACQUIRE_IDDISK"
	case AcquireIDLive:
		return "ACQUIRE_IDLIVE"
	case AcquireOwned:
		return "ACQUIRE_OWNED"
	case AcquireOwnedRetry:
		return "ACQUIRE_OWNED_RETRY"
	case AcquireOther:
		return "ACQUIRE_OTHER"
	case ReleaseLver:
		return "RELEASE_LVER"
	case ReleaseOwner:
		return "RELEASE_OWNER"
	case TokenLimit:
		return "TOKEN_LIMIT"
	case TokenCommandActive:
		return "TOKEN_COMMAND_ACTIVE"
	case TokenState:
		return "TOKEN_STATE"
	case TokenNotFound:
		return "TOKEN_NOT_FOUND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

// SanlockError is the error type returned by the disk I/O, codec,
// delta-lease, and Disk-Paxos layers. Code is what callers branch on;
// Message and the Lockspace/Resource fields are for logs and diagnostics.
type SanlockError struct {
	Code      Code
	Message   string
	Lockspace string
	Resource  string
	// Err is the underlying error, if any (I/O failure, context
	// deadline, etc.). Wrapped so errors.Is/errors.As see through it.
	Err error
}

func (e *SanlockError) Error() string {
	switch {
	case e.Resource != "":
		return fmt.Sprintf("%s: %s (lockspace=%s resource=%s)", e.Code, e.Message, e.Lockspace, e.Resource)
	case e.Lockspace != "":
		return fmt.Sprintf("%s: %s (lockspace=%s)", e.Code, e.Message, e.Lockspace)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *SanlockError) Unwrap() error { return e.Err }

// Is reports whether err is a SanlockError with the given code.
func Is(err error, code Code) bool {
	var se *SanlockError
	if ok := asSanlockError(err, &se); ok {
		return se.Code == code
	}
	return false
}

func asSanlockError(err error, target **SanlockError) bool {
	for err != nil {
		if se, ok := err.(*SanlockError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// New builds a SanlockError with the given code and message.
func New(code Code, message string) *SanlockError {
	return &SanlockError{Code: code, Message: message}
}

// Wrap builds a SanlockError that wraps an underlying error.
func Wrap(code Code, message string, err error) *SanlockError {
	return &SanlockError{Code: code, Message: message, Err: err}
}

// WithLockspace returns a copy of the error annotated with a lockspace name.
func (e *SanlockError) WithLockspace(name string) *SanlockError {
	clone := *e
	clone.Lockspace = name
	return &clone
}

// WithResource returns a copy of the error annotated with a resource name.
func (e *SanlockError) WithResource(name string) *SanlockError {
	clone := *e
	clone.Resource = name
	return &clone
}

// Retryable reports whether the engine should retry internally rather
// than surface the error to the caller (spec: MBAL/LVER never surface
// without the engine exhausting its retry budget).
func Retryable(err error) bool {
	var se *SanlockError
	if !asSanlockError(err, &se) {
		return false
	}
	return se.Code == DBlockMbal || se.Code == DBlockLver
}
