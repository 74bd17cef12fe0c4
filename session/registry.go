package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairpad/server/protocol"
)

type Options struct {
	// Retention is how long an empty session is kept before eviction.
	Retention       time.Duration
	QueueSize       int
	DefaultCode     string
	DefaultLanguage protocol.Language
	Store           Store
	Logger          *slog.Logger
}

// Registry maps session tokens to live actors. Membership is counted under
// the registry lock so a join always cancels a pending eviction.
type Registry struct {
	opts  Options
	store Store
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	// pending holds tokens whose snapshot is being loaded or flushed.
	pending map[string]chan struct{}
	closed  bool
}

type entry struct {
	actor   *Actor
	members int
	gen     uint64
	timer   *time.Timer
}

func NewRegistry(opts Options) *Registry {
	if opts.Store == nil {
		opts.Store = NopStore{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = protocol.LanguageCPP
	}
	return &Registry{
		opts:     opts,
		store:    opts.Store,
		log:      opts.Logger,
		sessions: make(map[string]*entry),
		pending:  make(map[string]chan struct{}),
	}
}

// GetOrCreate returns the live actor for token, restoring a stored snapshot
// or starting from the default document.
func (r *Registry) GetOrCreate(token string) (*Actor, error) {
	if !protocol.ValidToken(token) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, token)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, created, err := r.acquireLocked(token)
	if err != nil {
		return nil, err
	}
	if created {
		r.scheduleEvictionLocked(token, e)
	}
	return e.actor, nil
}

// CreateNew starts a session under a fresh token seeded with code, kept
// verbatim even when empty. An empty language falls back to the default.
func (r *Registry) CreateNew(code string, language protocol.Language) (string, error) {
	return r.create(code, language)
}

// CreateDefault starts a session holding the configured default document.
func (r *Registry) CreateDefault(language protocol.Language) (string, error) {
	return r.create(r.opts.DefaultCode, language)
}

func (r *Registry) create(code string, language protocol.Language) (string, error) {
	if language == "" {
		language = r.opts.DefaultLanguage
	}
	if !language.IsValid() {
		return "", fmt.Errorf("%w: %q", protocol.ErrUnknownLanguage, language)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}

	token := uuid.NewString()
	for r.sessions[token] != nil {
		token = uuid.NewString()
	}

	e := &entry{actor: newActor(r.newState(token, code, language), r.opts.QueueSize, r.log)}
	r.sessions[token] = e
	r.scheduleEvictionLocked(token, e)

	r.log.Info("session created", "session", token, "language", language)
	return token, nil
}

// Join registers p with the session and returns its actor. The first frame p
// receives is the session's FullState.
func (r *Registry) Join(token string, p Participant) (*Actor, error) {
	if !protocol.ValidToken(token) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, token)
	}

	r.mu.Lock()
	e, _, err := r.acquireLocked(token)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	e.members++
	r.cancelEvictionLocked(e)
	actor := e.actor
	r.mu.Unlock()

	if err := actor.Join(context.Background(), p); err != nil {
		r.release(token, actor)
		return nil, err
	}
	return actor, nil
}

// Leave removes p from the session. The last leave starts the retention timer.
func (r *Registry) Leave(token string, participantID string) {
	r.mu.Lock()
	e, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return
	}
	actor := e.actor
	r.releaseLocked(token, e)
	r.mu.Unlock()

	actor.Leave(participantID)
}

// Snapshot returns the current document of a live session, or the stored
// snapshot of an evicted one.
func (r *Registry) Snapshot(ctx context.Context, token string) (State, error) {
	r.mu.Lock()
	e, ok := r.sessions[token]
	for !ok {
		wait, flushing := r.pending[token]
		if !flushing {
			break
		}
		r.mu.Unlock()
		<-wait
		r.mu.Lock()
		e, ok = r.sessions[token]
	}
	r.mu.Unlock()

	if ok {
		s, err := e.actor.Snapshot(ctx)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSessionClosed) {
			return State{}, err
		}
	}

	if !protocol.ValidToken(token) {
		return State{}, fmt.Errorf("%w: %q", ErrNotFound, token)
	}
	s, found, err := r.store.Load(token)
	if err != nil {
		return State{}, err
	}
	if !found {
		return State{}, fmt.Errorf("%w: %q", ErrNotFound, token)
	}
	return s, nil
}

// Members returns the number of joined participants, zero for unknown tokens.
func (r *Registry) Members(token string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[token]; ok {
		return e.members
	}
	return 0
}

// Participants returns the connection IDs joined to a live session. Evicted
// and unknown sessions have none.
func (r *Registry) Participants(ctx context.Context, token string) ([]string, error) {
	r.mu.Lock()
	e, ok := r.sessions[token]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	ids, err := e.actor.Participants(ctx)
	if errors.Is(err, ErrSessionClosed) {
		return nil, nil
	}
	return ids, err
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{Sessions: len(r.sessions)}
	for _, e := range r.sessions {
		st.Participants += e.members
	}
	return st
}

// Shutdown stops every actor and saves its final state. Later calls to
// GetOrCreate, CreateNew and Join fail with ErrRegistryClosed.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.sessions
	r.sessions = make(map[string]*entry)
	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(a *Actor) {
			defer wg.Done()
			r.persist(a.stop())
		}(e.actor)
	}
	wg.Wait()
	r.log.Info("session registry stopped", "sessions", len(entries))
}

// acquireLocked returns the entry for token, loading it from the store when
// needed. The lock is released while the store is read.
func (r *Registry) acquireLocked(token string) (*entry, bool, error) {
	for {
		if r.closed {
			return nil, false, ErrRegistryClosed
		}
		if e, ok := r.sessions[token]; ok {
			return e, false, nil
		}
		if wait, ok := r.pending[token]; ok {
			r.mu.Unlock()
			<-wait
			r.mu.Lock()
			continue
		}

		done := make(chan struct{})
		r.pending[token] = done
		r.mu.Unlock()
		state, found, err := r.store.Load(token)
		r.mu.Lock()
		delete(r.pending, token)
		close(done)

		if err != nil {
			r.log.Warn("failed to load session snapshot, starting empty", "session", token, "error", err)
			found = false
		}
		if r.closed {
			return nil, false, ErrRegistryClosed
		}
		if !found {
			state = r.newState(token, r.opts.DefaultCode, r.opts.DefaultLanguage)
		}

		e := &entry{actor: newActor(state, r.opts.QueueSize, r.log)}
		r.sessions[token] = e
		if found {
			r.log.Info("session restored", "session", token)
		}
		return e, true, nil
	}
}

func (r *Registry) release(token string, actor *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[token]; ok && e.actor == actor {
		r.releaseLocked(token, e)
	}
}

func (r *Registry) releaseLocked(token string, e *entry) {
	if e.members > 0 {
		e.members--
	}
	if e.members == 0 {
		r.scheduleEvictionLocked(token, e)
	}
}

func (r *Registry) scheduleEvictionLocked(token string, e *entry) {
	r.cancelEvictionLocked(e)
	gen := e.gen
	e.timer = time.AfterFunc(r.opts.Retention, func() {
		r.evict(token, gen)
	})
}

func (r *Registry) cancelEvictionLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

// evict removes the session if nothing joined since the timer was armed.
func (r *Registry) evict(token string, gen uint64) {
	r.mu.Lock()
	e, ok := r.sessions[token]
	if !ok || r.closed || e.gen != gen || e.members > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, token)
	done := make(chan struct{})
	r.pending[token] = done
	r.mu.Unlock()

	r.persist(e.actor.stop())

	r.mu.Lock()
	delete(r.pending, token)
	close(done)
	r.mu.Unlock()

	r.log.Info("session evicted", "session", token)
}

func (r *Registry) persist(s State) {
	if err := r.store.Save(s); err != nil {
		r.log.Error("failed to save session snapshot", "session", s.Token, "error", err)
	}
}

func (r *Registry) newState(token, code string, language protocol.Language) State {
	now := time.Now()
	return State{
		Token:     token,
		Code:      code,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
