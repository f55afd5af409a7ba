package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/dialogue"
	redisclient "github.com/hackgods/doctalk-booking/internal/redis"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

const DefaultTurnTimeout = 15 * time.Second

// turnLockRetry is how long a turn waits before asking for a session lock
// held by another instance again.
const turnLockRetry = 25 * time.Millisecond

// entry is the in-process coordination for one session id. It lives only
// while someone holds a reference.
type entry struct {
	turn chan struct{} // one in-flight turn per session

	stateMu sync.Mutex // guards generation and store writes
	gen     uint64

	refs int
}

// Manager serializes turns per session, bounds each turn in time, and
// lets a reset win over an in-flight turn.
type Manager struct {
	store    Store
	capacity int
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
	locker   redisclient.Locker

	mu       sync.Mutex
	sessions map[string]*entry
}

type ManagerOption func(*Manager)

func WithCapacity(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

func WithTurnTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = logger.OrNop(l) }
}

// WithTurnLocker also holds a shared lock on the session for the whole
// turn, so instances behind a load balancer never run two turns of one
// session at once.
func WithTurnLocker(l redisclient.Locker) ManagerOption {
	return func(m *Manager) { m.locker = l }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		capacity: dialogue.DefaultCapacity,
		timeout:  DefaultTurnTimeout,
		log:      logger.Nop(),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		e = &entry{turn: make(chan struct{}, 1)}
		m.sessions[id] = e
	}
	e.refs++
	return e
}

func (m *Manager) release(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.sessions, id)
	}
}

// Active reports how many sessions currently have a turn or reset in progress.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Turn runs fn against the session's state. Turns for one id run one at a
// time in arrival order; fn's changes are saved only if it returns nil,
// finishes within the turn timeout, and no reset happened meanwhile.
//
// A turn that outlives its timeout keeps the session's turn slot until fn
// actually returns, so the next turn for that id never overlaps it.
func (m *Manager) Turn(ctx context.Context, id string, fn func(ctx context.Context, st *State) error) error {
	e := m.acquire(id)

	turnCtx, cancel := context.WithTimeout(ctx, m.timeout)

	select {
	case e.turn <- struct{}{}:
	case <-turnCtx.Done():
		cancel()
		m.release(id, e)
		return m.timeoutErr(turnCtx, id)
	}

	done := make(chan error, 1)
	go func() {
		defer m.release(id, e)
		defer func() { <-e.turn }()
		defer cancel()
		m.run(ctx, turnCtx, id, e, fn, done)
	}()

	select {
	case err := <-done:
		return err
	case <-turnCtx.Done():
	}

	// run decides whether to save under stateMu; a result already decided
	// there wins over the timeout.
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	select {
	case err := <-done:
		return err
	default:
		return m.timeoutErr(turnCtx, id)
	}
}

func (m *Manager) run(ctx, turnCtx context.Context, id string, e *entry, fn func(ctx context.Context, st *State) error, done chan<- error) {
	e.stateMu.Lock()
	gen := e.gen
	e.stateMu.Unlock()

	ran := false
	err := m.withTurnLock(turnCtx, id, func(lockCtx context.Context) error {
		ran = true
		st, err := m.load(lockCtx, id)
		if err == nil {
			err = fn(lockCtx, st)
		}
		return m.finish(ctx, turnCtx, id, e, gen, st, err, done)
	})
	if !ran {
		if turnCtx.Err() != nil {
			err = turnErr(turnCtx)
		}
		done <- err
	}
}

// finish decides under stateMu whether the turn's state is saved, and
// reports that outcome on done before anyone else can observe the entry.
func (m *Manager) finish(ctx, turnCtx context.Context, id string, e *entry, gen uint64, st *State, err error, done chan<- error) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	switch {
	case err != nil:
	case turnCtx.Err() != nil:
		err = turnErr(turnCtx)
	case e.gen != gen:
		m.log.Debug("dropping state save after reset", zap.String("session_id", id))
	default:
		st.UpdatedAt = m.now()
		if saveErr := m.store.Save(ctx, st); saveErr != nil {
			err = fmt.Errorf("save session: %w", saveErr)
		}
	}
	done <- err
	return err
}

// withTurnLock runs fn under the shared session lock, waiting for another
// instance's turn to finish. fn runs at most once.
func (m *Manager) withTurnLock(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	if m.locker == nil {
		return fn(ctx)
	}
	key := redisclient.SessionKey(id)
	ran := false
	for {
		err := m.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
			ran = true
			return fn(lockCtx)
		})
		if ran || !errors.Is(err, redisclient.ErrLockNotAcquired) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(turnLockRetry):
		}
	}
}

func turnErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTurnTimeout
	}
	return ctx.Err()
}

func (m *Manager) timeoutErr(ctx context.Context, id string) error {
	err := turnErr(ctx)
	if errors.Is(err, ErrTurnTimeout) {
		m.log.Warn("turn timed out", zap.String("session_id", id), zap.Duration("timeout", m.timeout))
	}
	return err
}

// Reset clears the stored state immediately. An in-flight turn keeps
// running but its save is discarded.
func (m *Manager) Reset(ctx context.Context, id string) error {
	e := m.acquire(id)
	defer m.release(id, e)

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.gen++
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// Snapshot returns the stored state, or a fresh one for unknown ids.
func (m *Manager) Snapshot(ctx context.Context, id string) (*State, error) {
	return m.load(ctx, id)
}

func (m *Manager) load(ctx context.Context, id string) (*State, error) {
	st, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewState(id, m.capacity), nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if st.Context == nil {
		st.Context = dialogue.NewContext(m.capacity)
	}
	if st.Phase == "" {
		st.Phase = PhaseCollecting
	}
	st.ID = id
	return st, nil
}
