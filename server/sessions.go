package server

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/kurt/pkg/bytecode"
	"github.com/chazu/kurt/vm"
)

// Session is a REPL session with its own VM and globals. All use of the
// VM goes through the session's worker.
type Session struct {
	ID      string
	Name    string
	Created time.Time

	repl     *vm.Session
	out      *bytes.Buffer // print output, drained after each run
	worker   *Worker
	lastUsed atomic.Int64 // unix nanoseconds
}

// run executes prog on the session VM, returning the result and whatever
// the program printed.
func (s *Session) run(ctx context.Context, prog *bytecode.Program) (runOutcome, error) {
	s.touch()
	v, err := s.worker.Do(ctx, func() (any, error) {
		defer s.out.Reset()
		val, runErr := s.repl.VM().Run(ctx, prog)
		return runOutcome{
			value:  val,
			output: s.out.String(),
			steps:  s.repl.VM().Steps(),
			err:    runErr,
		}, nil
	})
	if err != nil {
		return runOutcome{}, err
	}
	return v.(runOutcome), nil
}

// globals returns the session's global names, sorted.
func (s *Session) globals(ctx context.Context) ([]string, error) {
	v, err := s.worker.Do(ctx, func() (any, error) {
		return s.repl.Globals(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// runOutcome is the result of one program run.
type runOutcome struct {
	value  vm.Value
	output string
	steps  int64
	err    error // *vm.RuntimeError
}

// SessionStore manages REPL sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64
	vmOpts   []vm.Option
}

// NewSessionStore creates a session store whose VMs are built with opts.
func NewSessionStore(opts ...vm.Option) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		vmOpts:   opts,
	}
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) *Session {
	id := fmt.Sprintf("s-%d", s.nextID.Add(1))

	out := &bytes.Buffer{}
	session := &Session{
		ID:      id,
		Name:    name,
		Created: time.Now(),
		out:     out,
		worker:  NewWorker(),
		repl:    vm.NewSession(vm.NewVM(s.vmOpts...), func(v *vm.VM) { vm.InstallBuiltins(v, out) }),
	}
	session.touch()

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	log.Debugf("created session %s", id)
	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Destroy removes a session and stops its worker. It reports whether the
// session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.repl.VM().Interrupt()
		session.worker.Stop()
		log.Debugf("destroyed session %s", id)
	}
	return ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the live session IDs, sorted.
func (s *SessionStore) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Sweep destroys sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var stale []string
	s.mu.RLock()
	for id, session := range s.sessions {
		if session.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if s.Destroy(id) {
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Infof("swept %d idle sessions", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// Close destroys every session.
func (s *SessionStore) Close() {
	for _, id := range s.IDs() {
		s.Destroy(id)
	}
}
