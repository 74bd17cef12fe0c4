package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pairpad/server/logger"
	"github.com/pairpad/server/protocol"
)

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdEvent
	cmdSnapshot
	cmdParticipants
	cmdStop
)

type command struct {
	kind        commandKind
	participant Participant
	senderID    string
	event       protocol.Event
	state       chan State
	members     chan []string
}

// Actor owns one session's document and participant set. All mutations run
// on a single goroutine in inbox order, which gives every participant the
// same sequence of updates.
type Actor struct {
	token string
	inbox chan command
	done  chan struct{}
	log   *slog.Logger

	stopOnce sync.Once
	final    State

	// owned by run
	state        State
	participants map[string]Participant
}

func newActor(state State, queueSize int, log *slog.Logger) *Actor {
	if queueSize <= 0 {
		queueSize = 256
	}
	a := &Actor{
		token:        state.Token,
		inbox:        make(chan command, queueSize),
		done:         make(chan struct{}),
		log:          log.With("session", state.Token),
		state:        state,
		participants: make(map[string]Participant),
	}
	go a.run()
	return a
}

func (a *Actor) Token() string {
	return a.token
}

// Join adds p and sends it the current FullState before any later update.
func (a *Actor) Join(ctx context.Context, p Participant) error {
	return a.enqueue(ctx, command{kind: cmdJoin, participant: p})
}

// Leave removes the participant. It is safe to call after the actor stopped.
func (a *Actor) Leave(participantID string) {
	_ = a.enqueue(context.Background(), command{kind: cmdLeave, senderID: participantID})
}

// Submit applies an event sent by participantID. Events from connections
// that are not joined are dropped.
func (a *Actor) Submit(ctx context.Context, participantID string, ev protocol.Event) error {
	return a.enqueue(ctx, command{kind: cmdEvent, senderID: participantID, event: ev})
}

// Snapshot returns the document as of all events accepted before the call.
func (a *Actor) Snapshot(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := a.enqueue(ctx, command{kind: cmdSnapshot, state: reply}); err != nil {
		return State{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-a.done:
		return State{}, ErrSessionClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Participants returns the joined connection IDs in sorted order.
func (a *Actor) Participants(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := a.enqueue(ctx, command{kind: cmdParticipants, members: reply}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-a.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop drains queued commands, ends the loop and returns the final state.
func (a *Actor) stop() State {
	a.stopOnce.Do(func() {
		a.inbox <- command{kind: cmdStop}
	})
	<-a.done
	return a.final
}

func (a *Actor) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-a.done:
		return ErrSessionClosed
	default:
	}
	select {
	case a.inbox <- cmd:
		return nil
	case <-a.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) run() {
	defer close(a.done)
	for cmd := range a.inbox {
		if cmd.kind == cmdStop {
			a.final = a.state
			return
		}
		a.handle(cmd)
	}
}

func (a *Actor) handle(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "session command failed", "session", a.token)
		}
	}()

	switch cmd.kind {
	case cmdJoin:
		p := cmd.participant
		a.participants[p.ID()] = p
		a.send(p, a.state.fullState())
		a.log.Info("participant joined", "participant", p.ID(), "user", p.User(), "participants", len(a.participants))
	case cmdLeave:
		if _, ok := a.participants[cmd.senderID]; ok {
			delete(a.participants, cmd.senderID)
			a.log.Info("participant left", "participant", cmd.senderID, "participants", len(a.participants))
		}
	case cmdEvent:
		a.apply(cmd.senderID, cmd.event)
	case cmdSnapshot:
		cmd.state <- a.state
	case cmdParticipants:
		ids := make([]string, 0, len(a.participants))
		for id := range a.participants {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		cmd.members <- ids
	}
}

func (a *Actor) apply(senderID string, ev protocol.Event) {
	sender, ok := a.participants[senderID]
	if !ok {
		a.log.Debug("dropping event from non-participant", "participant", senderID, "type", typeOf(ev))
		return
	}

	switch e := ev.(type) {
	case protocol.CodeUpdate:
		a.state.Code = e.Code
		a.state.UpdatedAt = time.Now()
		a.broadcast(senderID, e)
	case protocol.LanguageUpdate:
		if !e.Language.IsValid() {
			a.log.Debug("dropping unknown language", "language", e.Language)
			return
		}
		a.state.Language = e.Language
		a.state.UpdatedAt = time.Now()
		a.broadcast(senderID, e)
	case protocol.CursorUpdate:
		e.ConnectionID = senderID
		e.User = sender.User()
		a.broadcast(senderID, e)
	case protocol.FullStateRequest:
		a.send(sender, a.state.fullState())
	default:
		a.log.Debug("dropping unsupported event", "participant", senderID, "type", typeOf(ev))
	}
}

// broadcast encodes ev once and delivers it to everyone except the sender.
func (a *Actor) broadcast(senderID string, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		a.log.Error("failed to encode event", "error", err)
		return
	}
	for id, p := range a.participants {
		if id == senderID {
			continue
		}
		if !p.Deliver(frame) {
			a.log.Debug("frame dropped", "participant", id)
		}
	}
}

func (a *Actor) send(p Participant, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		a.log.Error("failed to encode event", "error", err)
		return
	}
	if !p.Deliver(frame) {
		a.log.Debug("frame dropped", "participant", p.ID())
	}
}

func typeOf(ev protocol.Event) protocol.Type {
	if ev == nil {
		return ""
	}
	return ev.Type()
}
