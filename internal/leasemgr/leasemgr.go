// Package leasemgr maintains the daemon's in-memory map from
// (PID, resource_name) to a token tracking that client's claim on a
// Disk-Paxos resource. The manager owns token lifecycle transitions
// and the per-PID lease count; the actual disk protocol work is
// delegated to internal/paxos.
package leasemgr

import (
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// State is a token's position in its lifecycle.
type State int

const (
	// Allocating is the token's state immediately after a client
	// requests a lease slot, before any disk I/O has started.
	Allocating State = iota
	// Opening indicates the resource's lease area is being read for
	// the first time on this token's behalf.
	Opening
	// Acquiring indicates a ballot or shared-mode claim is in flight.
	Acquiring
	// Held indicates the token's PID currently owns the resource.
	Held
	// Releasing indicates a release is in flight.
	Releasing
	// Freed is the terminal state: the token is no longer tracked by
	// its PID and its slot has been returned to that PID's quota.
	Freed
	// SavedForReacquire is a short-lived bucket for a token whose PID
	// released it with "remember for reacquire" set; another PID
	// belonging to the same owner may claim it within the window
	// instead of running a fresh acquire.
	SavedForReacquire
)

func (s State) String() string {
	switch s {
	case Allocating:
		return "allocating"
	case Opening:
		return "opening"
	case Acquiring:
		return "acquiring"
	case Held:
		return "held"
	case Releasing:
		return "releasing"
	case Freed:
		return "freed"
	case SavedForReacquire:
		return "saved_for_reacquire"
	default:
		return "unknown"
	}
}

// Command identifies the one command a token's latch may admit at a
// time, keeping concurrent operations against the same token ordered.
type Command int

const (
	CommandAcquire Command = iota
	CommandRelease
	CommandMigrate
	CommandSetOwner
)

func (c Command) String() string {
	switch c {
	case CommandAcquire:
		return "ACQUIRE"
	case CommandRelease:
		return "RELEASE"
	case CommandMigrate:
		return "MIGRATE"
	case CommandSetOwner:
		return "SETOWNER"
	default:
		return "UNKNOWN"
	}
}

// Token is one PID's claim on one named resource.
type Token struct {
	PID           int
	ResourceName  string
	LockspaceName string
	HostID        uint64
	Generation    uint64

	mu      sync.Mutex
	state   State
	active  Command
	hasCmd  bool
	pidDead bool
	savedAt time.Time
}

// State returns the token's current lifecycle state.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Token) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// markPIDDead records that the owning PID has exited. It does not
// itself change lifecycle state: an in-flight acquire runs to
// completion and the completion path consults this flag to decide
// whether to release immediately rather than hand the token to a
// client that is no longer there to use it.
func (t *Token) markPIDDead() {
	t.mu.Lock()
	t.pidDead = true
	t.mu.Unlock()
}

// PIDDead reports whether the owning PID is known to have exited.
func (t *Token) PIDDead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pidDead
}

// BeginCommand takes the per-token command latch, failing if another
// command is already in flight on this token.
func (t *Token) BeginCommand(cmd Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasCmd {
		return sanlockerr.New(sanlockerr.TokenCommandActive, "a command is already in flight on this token").
			WithResource(t.ResourceName)
	}
	t.hasCmd = true
	t.active = cmd
	return nil
}

// EndCommand releases the per-token command latch.
func (t *Token) EndCommand() {
	t.mu.Lock()
	t.hasCmd = false
	t.mu.Unlock()
}

// ActiveCommand returns the command currently holding the latch, if
// any, for status reporting.
func (t *Token) ActiveCommand() (cmd Command, inFlight bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.hasCmd
}

type tokenKey struct {
	pid      int
	resource string
}

// Manager owns every token across every PID the daemon currently
// supervises, enforcing each PID's MAX_LEASES quota.
type Manager struct {
	mu         sync.Mutex
	maxLeases  int
	tokens     map[tokenKey]*Token
	byPID      map[int]map[string]*Token
	saved      map[tokenKey]*Token
	saveWindow time.Duration
	now        func() time.Time
}

// NewManager constructs a Manager. maxLeases bounds how many resources
// a single PID may hold tokens for concurrently; saveWindow is how long
// a released-with-remember token stays claimable by a sibling PID of
// the same owner before it is finally freed.
func NewManager(maxLeases int, saveWindow time.Duration) *Manager {
	return &Manager{
		maxLeases:  maxLeases,
		tokens:     make(map[tokenKey]*Token),
		byPID:      make(map[int]map[string]*Token),
		saved:      make(map[tokenKey]*Token),
		saveWindow: saveWindow,
		now:        time.Now,
	}
}

// Allocate creates a new token for (pid, resource) in the Allocating
// state, failing if the PID is already at MAX_LEASES or already holds
// a token for this resource.
func (m *Manager) Allocate(pid int, lockspace, resource string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey{pid, resource}
	if _, exists := m.tokens[key]; exists {
		return nil, sanlockerr.New(sanlockerr.TokenState, "pid already holds a token for this resource").
			WithResource(resource)
	}

	if held := len(m.byPID[pid]); held >= m.maxLeases {
		return nil, sanlockerr.New(sanlockerr.TokenLimit, "pid at MAX_LEASES capacity").
			WithResource(resource)
	}

	tok := &Token{PID: pid, ResourceName: resource, LockspaceName: lockspace, state: Allocating}
	m.tokens[key] = tok
	if m.byPID[pid] == nil {
		m.byPID[pid] = make(map[string]*Token)
	}
	m.byPID[pid][resource] = tok

	logger.Info("token allocated", logger.PID(pid), logger.Resource(resource))
	return tok, nil
}

// Lookup returns the token for (pid, resource), if any.
func (m *Manager) Lookup(pid int, resource string) (*Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenKey{pid, resource}]
	return tok, ok
}

// Reacquire claims a token previously released with "remember for
// reacquire" into SavedForReacquire, reassigning it to newPID if it is
// still within the save window. This lets a restarting client recover
// an in-progress lease without a fresh ballot.
func (m *Manager) Reacquire(newPID int, resource string, oldPID int) (*Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey{oldPID, resource}
	tok, ok := m.saved[key]
	if !ok {
		return nil, false
	}
	tok.mu.Lock()
	expired := m.now().Sub(tok.savedAt) > m.saveWindow
	tok.mu.Unlock()
	if expired {
		delete(m.saved, key)
		return nil, false
	}

	delete(m.saved, key)
	tok.PID = newPID
	tok.setState(Held)

	newKey := tokenKey{newPID, resource}
	m.tokens[newKey] = tok
	if m.byPID[newPID] == nil {
		m.byPID[newPID] = make(map[string]*Token)
	}
	m.byPID[newPID][resource] = tok

	return tok, true
}

// Save moves a Held token into the SavedForReacquire bucket instead of
// immediately freeing it, per a release call's "remember" flag.
func (m *Manager) Save(tok *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey{tok.PID, tok.ResourceName}
	delete(m.tokens, key)
	if byPID := m.byPID[tok.PID]; byPID != nil {
		delete(byPID, tok.ResourceName)
		if len(byPID) == 0 {
			delete(m.byPID, tok.PID)
		}
	}

	tok.mu.Lock()
	tok.state = SavedForReacquire
	tok.savedAt = m.now()
	tok.mu.Unlock()

	m.saved[key] = tok
}

// Free removes a token entirely, returning its slot to the owning PID's
// quota. Safe to call on an already-freed token.
func (m *Manager) Free(tok *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tokenKey{tok.PID, tok.ResourceName}
	delete(m.tokens, key)
	delete(m.saved, key)
	if byPID := m.byPID[tok.PID]; byPID != nil {
		delete(byPID, tok.ResourceName)
		if len(byPID) == 0 {
			delete(m.byPID, tok.PID)
		}
	}
	tok.setState(Freed)
}

// TokensForPID returns every token currently held by pid, for PID-death
// handling and shutdown.
func (m *Manager) TokensForPID(pid int) []*Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPID := m.byPID[pid]
	out := make([]*Token, 0, len(byPID))
	for _, tok := range byPID {
		out = append(out, tok)
	}
	return out
}

// MarkPIDDead flags every token owned by pid as belonging to a dead
// PID: an in-flight acquire completes and then
// releases what it won rather than being cancelled mid-flight.
func (m *Manager) MarkPIDDead(pid int) []*Token {
	toks := m.TokensForPID(pid)
	for _, tok := range toks {
		tok.markPIDDead()
	}
	return toks
}
