package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the delta-lease and
// Disk-Paxos engines. Use these keys consistently so log aggregation and
// querying works across the lease manager and the daemon's socket layer.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID   = "trace_id"   // OpenTelemetry trace ID for request correlation
	KeySpanID    = "span_id"    // OpenTelemetry span ID for operation tracking
	KeyRequestID = "request_id" // Per-operation correlation ID, set even with no active trace

	// ========================================================================
	// Lockspace / resource identity
	// ========================================================================
	KeyLockspace  = "lockspace"  // Lockspace name
	KeyResource   = "resource"   // Resource lease name
	KeyHostID     = "host_id"    // Local or peer host_id
	KeyGeneration = "generation" // host_generation / owner_generation
	KeyLver       = "lver"       // Resource lease version

	// ========================================================================
	// Disk-Paxos ballot
	// ========================================================================
	KeyMbal     = "mbal" // Ballot number a host will not go below
	KeyBal      = "bal"  // Ballot at which a value was committed
	KeyOwnerID  = "owner_id"
	KeyWriteID  = "write_id"
	KeyMaxHosts = "max_hosts"
	KeyNumHosts = "num_hosts"
	KeyPhase    = "phase" // "read", "phase1", "phase2", "commit"

	// ========================================================================
	// Delta lease
	// ========================================================================
	KeyTimestamp       = "timestamp"
	KeyHostDeadSeconds = "host_dead_seconds"
	KeyIOTimeout       = "io_timeout"

	// ========================================================================
	// Watchdog
	// ========================================================================
	KeyWatchdogDevice = "watchdog_device"
	KeyExpireTime     = "expire_time"
	KeyFireTimeout    = "fire_timeout"

	// ========================================================================
	// Disk I/O
	// ========================================================================
	KeyOffset     = "offset"
	KeyLength     = "length"
	KeySectorSize = "sector_size"
	KeyDiskPath   = "disk_path"
	KeyDeadline   = "deadline"

	// ========================================================================
	// Daemon / client command path
	// ========================================================================
	KeyCommand  = "command"
	KeyPID      = "pid"
	KeyToken    = "token"
	KeyClientID = "client_id"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Lockspace returns a slog.Attr for a lockspace name
func Lockspace(name string) slog.Attr {
	return slog.String(KeyLockspace, name)
}

// Resource returns a slog.Attr for a resource lease name
func Resource(name string) slog.Attr {
	return slog.String(KeyResource, name)
}

// HostID returns a slog.Attr for a host_id
func HostID(id uint64) slog.Attr {
	return slog.Uint64(KeyHostID, id)
}

// Generation returns a slog.Attr for a host/owner generation
func Generation(gen uint64) slog.Attr {
	return slog.Uint64(KeyGeneration, gen)
}

// Lver returns a slog.Attr for a resource lease version
func Lver(lver uint64) slog.Attr {
	return slog.Uint64(KeyLver, lver)
}

// Mbal returns a slog.Attr for a ballot's mbal
func Mbal(mbal uint64) slog.Attr {
	return slog.Uint64(KeyMbal, mbal)
}

// Bal returns a slog.Attr for a ballot's bal
func Bal(bal uint64) slog.Attr {
	return slog.Uint64(KeyBal, bal)
}

// Phase returns a slog.Attr for the current Disk-Paxos phase
func Phase(phase string) slog.Attr {
	return slog.String(KeyPhase, phase)
}

// Owner returns slog.Attrs identifying a resource's owner
func Owner(hostID, generation uint64) []slog.Attr {
	return []slog.Attr{slog.Uint64(KeyOwnerID, hostID), Generation(generation)}
}

// Timestamp returns a slog.Attr for a delta-lease timestamp
func Timestamp(ts uint64) slog.Attr {
	return slog.Uint64(KeyTimestamp, ts)
}

// Command returns a slog.Attr for the client command being served
func Command(cmd string) slog.Attr {
	return slog.String(KeyCommand, cmd)
}

// PID returns a slog.Attr for a supervised process ID
func PID(pid int) slog.Attr {
	return slog.Int(KeyPID, pid)
}

// Token returns a slog.Attr for a lease token identifier
func Token(id string) slog.Attr {
	return slog.String(KeyToken, id)
}

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a typed error code
func ErrorCode(code fmt.Stringer) slog.Attr {
	return slog.String(KeyErrorCode, code.String())
}

// Attempt returns a slog.Attr for a retry attempt counter
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
