package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-matchmaker/internal/matchmaking"
	"github.com/DoyleJ11/lobby-matchmaker/internal/sequence"
)

var ErrClosed = errors.New("lobby closed")
var ErrSessionActive = errors.New("session already began")
var ErrCommit = errors.New("commit failed")

// ErrNoSession is a rejection: the session has no bound username.
var ErrNoSession = fmt.Errorf("%w: no active session", matchmaking.ErrRejected)

// Store persists the four lobby collections. Commit receives the events of
// one step; when it fails the step is not applied.
type Store interface {
	Load(ctx context.Context) (matchmaking.State, error)
	Commit(ctx context.Context, events []matchmaking.Event) error
}

// Hooks let host code react to lobby outcomes. Both run on the completing
// sequence's goroutine.
type Hooks struct {
	OnOpenGameAdded func(owner string)
	OnMatchedGame   func(owner, guest string)
}

type Options struct {
	Code   string
	Logger *zap.Logger
	Rules  matchmaking.Rules
	// InboxSize defaults to 64.
	InboxSize int
	// BroadcastOpenGames pushes a fresh open-game list to every matching
	// session after the list changes.
	BroadcastOpenGames bool
	// PruneOrphans removes users loaded from the store on start; none of
	// them can have a live session yet.
	PruneOrphans bool
	Hooks        Hooks
}

type Msg interface{ isLobbyMsg() }

// Exec runs one matchmaking command atomically. For every command except
// CmdAddUser the requesting user is taken from the session binding.
type Exec struct {
	Cmd     matchmaking.Command
	Session string
	Peer    Peer
	Reply   chan Outcome
}

func (Exec) isLobbyMsg() {}

type Outcome struct {
	Events []matchmaking.Event
	Err    error
}

type OpenGames struct {
	User  string
	Reply chan GameList
}

func (OpenGames) isLobbyMsg() {}

type GameList struct {
	Games []string
	Err   error
}

type Sessions struct {
	MatchingOnly bool
	Reply        chan []Binding
}

func (Sessions) isLobbyMsg() {}

type Detach struct{ Session string }

func (Detach) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Binding is a live session and the username the lobby has bound to it.
type Binding struct {
	Peer     Peer
	Username string
}

type View struct {
	Code        string
	Version     int
	NumSessions int
	State       matchmaking.State
}

type Lobby struct {
	code    string
	inbox   chan Msg
	state   matchmaking.State
	version int
	// sessions is keyed by session id
	sessions map[string]*Binding
	store    Store
	engine   *sequence.Engine
	opts     Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewLobby(parent context.Context, st Store, opts Options) (*Lobby, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	log := opts.Logger.With(zap.String("lobby", opts.Code))

	state, err := st.Load(parent)
	if err != nil {
		return nil, fmt.Errorf("load lobby %q: %w", opts.Code, err)
	}
	state.Rules = opts.Rules

	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		code:     opts.Code,
		inbox:    make(chan Msg, opts.InboxSize),
		state:    state,
		sessions: make(map[string]*Binding),
		store:    st,
		engine:   sequence.NewEngine(log),
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if opts.PruneOrphans {
		if err := l.pruneOrphans(); err != nil {
			cancel()
			return nil, err
		}
	}

	go l.loop()
	return l, nil
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Exec:
				msg.Reply <- l.exec(msg)

			case OpenGames:
				if !matchmaking.IsMatching(l.state, msg.User) {
					msg.Reply <- GameList{Err: matchmaking.ErrNotMatching}
					break
				}
				msg.Reply <- GameList{Games: matchmaking.OpenGamesFor(l.state, msg.User)}

			case Sessions:
				msg.Reply <- l.bindings(msg.MatchingOnly)

			case Detach:
				delete(l.sessions, msg.Session)

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					Code:        l.code,
					Version:     l.version,
					NumSessions: len(l.sessions),
					State:       l.state.Clone(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) exec(msg Exec) Outcome {
	cmd := msg.Cmd
	if cmd.Type == matchmaking.CmdAddUser {
		if _, ok := l.sessions[msg.Session]; ok {
			return Outcome{Err: ErrSessionActive}
		}
	} else {
		b, ok := l.sessions[msg.Session]
		if !ok {
			return Outcome{Err: ErrNoSession}
		}
		cmd.User = b.Username
	}

	events, next, err := matchmaking.Apply(l.state, cmd)
	if err != nil {
		return Outcome{Err: err}
	}
	// Nothing is adopted unless the store accepted the whole step.
	if err := l.store.Commit(l.ctx, events); err != nil {
		l.log.Error("commit failed", zap.String("command", string(cmd.Type)), zap.Error(err))
		return Outcome{Err: fmt.Errorf("%w: %w", ErrCommit, err)}
	}

	l.state = next
	l.version++
	l.bind(msg, events)
	return Outcome{Events: events}
}

func (l *Lobby) bind(msg Exec, events []matchmaking.Event) {
	for _, event := range events {
		switch event.Type {
		case matchmaking.EvtUserAdded:
			l.sessions[msg.Session] = &Binding{Peer: msg.Peer, Username: event.User}
		case matchmaking.EvtUsernameChanged:
			if b, ok := l.sessions[msg.Session]; ok {
				b.Username = event.NewName
			}
		case matchmaking.EvtUserRemoved:
			delete(l.sessions, msg.Session)
		}
	}
}

func (l *Lobby) bindings(matchingOnly bool) []Binding {
	out := make([]Binding, 0, len(l.sessions))
	for _, b := range l.sessions {
		if matchingOnly && !matchmaking.IsMatching(l.state, b.Username) {
			continue
		}
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Binding) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

func (l *Lobby) pruneOrphans() error {
	for _, user := range slices.Clone(l.state.Users) {
		events, next, err := matchmaking.Apply(l.state, matchmaking.Command{Type: matchmaking.CmdRemoveUser, User: user})
		if err != nil {
			return fmt.Errorf("prune %q: %w", user, err)
		}
		if err := l.store.Commit(l.ctx, events); err != nil {
			return fmt.Errorf("prune %q: %w", user, err)
		}
		l.state = next
	}
	l.log.Info("pruned orphaned users", zap.Int("active_games_kept", len(l.state.ActiveGames)))
	return nil
}

func (l *Lobby) shutdown() {
	clear(l.sessions)
	l.cancel()
}

// Close stops the actor and waits for in-flight push sequences.
func (l *Lobby) Close() {
	l.cancel()
	<-l.done
	l.engine.Close()
}

func (l *Lobby) Code() string { return l.code }

// Expose the inbox so tests or the transport layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the actor has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Wait blocks until every spawned push sequence has completed.
func (l *Lobby) Wait() { l.engine.Wait() }

// request delivers m and waits for its reply. ctx only bounds delivery: once
// the actor has m it will apply it, so the caller must see the outcome.
func request[T any](ctx context.Context, l *Lobby, m Msg, reply <-chan T) (T, error) {
	var zero T
	select {
	case l.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.done:
		return zero, ErrClosed
	}
	select {
	case r := <-reply:
		return r, nil
	case <-l.done:
		// the actor may have replied just before stopping
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, ErrClosed
		}
	}
}

func (l *Lobby) execute(ctx context.Context, p Peer, cmd matchmaking.Command) ([]matchmaking.Event, error) {
	reply := make(chan Outcome, 1)
	out, err := request(ctx, l, Exec{Cmd: cmd, Session: p.SessionID(), Peer: p, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	return out.Events, out.Err
}

func (l *Lobby) openGamesFor(ctx context.Context, user string) ([]string, error) {
	reply := make(chan GameList, 1)
	out, err := request(ctx, l, OpenGames{User: user, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	return out.Games, out.Err
}

func (l *Lobby) Sessions(ctx context.Context, matchingOnly bool) ([]Binding, error) {
	reply := make(chan []Binding, 1)
	return request(ctx, l, Sessions{MatchingOnly: matchingOnly, Reply: reply}, reply)
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return request(ctx, l, GetState{Reply: reply}, reply)
}

func (l *Lobby) detach(ctx context.Context, session string) error {
	select {
	case l.inbox <- Detach{Session: session}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}
