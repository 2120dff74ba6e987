package lobby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lobby-matchmaker/internal/matchmaking"
	"github.com/DoyleJ11/lobby-matchmaker/internal/sequence"
	"github.com/DoyleJ11/lobby-matchmaker/internal/store"
)

const within = time.Second

// fakePeer records every client step and completion on buffered channels.
type fakePeer struct {
	id string

	mu       sync.Mutex
	username string
	games    []string
	match    *Matched

	began   chan string
	renamed chan bool
	lists   chan []string
	joined  chan bool
	matched chan Matched
	ended   chan struct{}
	errs    chan error
}

func newPeer() *fakePeer {
	return &fakePeer{
		id:      uuid.NewString(),
		began:   make(chan string, 64),
		renamed: make(chan bool, 64),
		lists:   make(chan []string, 64),
		joined:  make(chan bool, 64),
		matched: make(chan Matched, 64),
		ended:   make(chan struct{}, 64),
		errs:    make(chan error, 64),
	}
}

func (p *fakePeer) SessionID() string { return p.id }

func (p *fakePeer) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username
}

func (p *fakePeer) BindUsername(name string) {
	p.mu.Lock()
	p.username = name
	p.mu.Unlock()
}

func (p *fakePeer) ReceiveOpenGames(games []string) {
	p.mu.Lock()
	p.games = games
	p.mu.Unlock()
}

func (p *fakePeer) ReceiveMatch(m Matched) {
	p.mu.Lock()
	p.match = &m
	p.mu.Unlock()
}

func (p *fakePeer) OnBeganSession(username string)       { p.began <- username }
func (p *fakePeer) OnChangeUsername(changed bool)        { p.renamed <- changed }
func (p *fakePeer) OnUpdatedOpenGameList(games []string) { p.lists <- games }
func (p *fakePeer) OnJoinGame(succeeded bool)            { p.joined <- succeeded }
func (p *fakePeer) OnMatchedGame(m Matched)              { p.matched <- m }
func (p *fakePeer) OnSessionEnded()                      { p.ended <- struct{}{} }
func (p *fakePeer) OnError(_ string, err error)          { p.errs <- err }

// helper: receive one value with a timeout so tests never hang
func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero // unreachable
	}
}

func recvNone[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("expected nothing within %v, got %+v", d, v)
	case <-time.After(d):
	}
}

// recvList waits for a pushed list equal to want, skipping stale pushes.
func recvList(t *testing.T, p *fakePeer, want []string) {
	t.Helper()
	deadline := time.After(within)
	var last []string
	for {
		select {
		case games := <-p.lists:
			if assert.ObjectsAreEqual(want, games) {
				return
			}
			last = games
		case <-deadline:
			t.Fatalf("timed out waiting for open games %v, last %v", want, last)
		}
	}
}

func newTestLobby(t *testing.T, st Store, opts Options) *Lobby {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	if opts.Code == "" {
		opts.Code = "TEST01"
	}
	opts.Logger = zaptest.NewLogger(t)
	l, err := NewLobby(context.Background(), st, opts)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func begin(t *testing.T, l *Lobby, name string) *fakePeer {
	t.Helper()
	p := newPeer()
	require.NoError(t, l.BeginSession(context.Background(), p, name))
	recv(t, p.began, "began session")
	return p
}

func view(t *testing.T, l *Lobby) View {
	t.Helper()
	v, err := l.View(context.Background())
	require.NoError(t, err)
	return v
}

func TestBeginSession_SuffixesTakenNames(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()

	names := make([]string, 0, 3)
	for range 3 {
		p := newPeer()
		require.NoError(t, l.BeginSession(ctx, p, "bob"))
		got := recv(t, p.began, "began session")
		assert.Equal(t, got, p.Username())
		names = append(names, got)
	}

	assert.Equal(t, []string{"bob", "bob1", "bob2"}, names)
	v := view(t, l)
	assert.Equal(t, []string{"bob", "bob1", "bob2"}, v.State.Users)
	assert.Equal(t, []string{"bob", "bob1", "bob2"}, v.State.MatchingUsers)
	assert.Equal(t, 3, v.NumSessions)
	assert.Equal(t, 3, v.Version)
}

func TestBeginSession_TwiceIsRefused(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	p := begin(t, l, "alice")

	err := l.BeginSession(context.Background(), p, "again")
	require.ErrorIs(t, err, ErrSessionActive)
	assert.ErrorIs(t, recv(t, p.errs, "error"), ErrSessionActive)
	assert.Equal(t, "alice", p.Username())
	assert.Equal(t, []string{"alice"}, view(t, l).State.Users)
}

func TestBeginSession_InvalidName(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	p := newPeer()

	err := l.BeginSession(context.Background(), p, "   ")
	require.ErrorIs(t, err, matchmaking.ErrInvalidUsername)
	recv(t, p.errs, "error")
	recvNone(t, p.began, 20*time.Millisecond)
	assert.Empty(t, view(t, l).State.Users)
}

func TestBeginSession_PushesOpenGamesExcludingSelf(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()

	alice := begin(t, l, "alice")
	recvList(t, alice, []string{})
	require.NoError(t, l.CreateGame(ctx, alice))

	bob := begin(t, l, "bob")
	recvList(t, bob, []string{"alice"})
	l.Wait()

	// broadcast is off, so alice heard nothing about her own game
	recvNone(t, alice.lists, 20*time.Millisecond)
}

func TestChangeUsername(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	begin(t, l, "alice")
	bob := begin(t, l, "bob")

	changed, err := l.ChangeUsername(ctx, bob, "alice")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, recv(t, bob.renamed, "rename result"))
	assert.Equal(t, "bob", bob.Username())

	changed, err = l.ChangeUsername(ctx, bob, "carol")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, recv(t, bob.renamed, "rename result"))
	assert.Equal(t, "carol", bob.Username())

	v := view(t, l)
	assert.Equal(t, []string{"alice", "carol"}, v.State.Users)
	assert.Equal(t, []string{"alice", "carol"}, v.State.MatchingUsers)
}

func TestChangeUsername_WithoutSession(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	p := newPeer()

	changed, err := l.ChangeUsername(context.Background(), p, "ghost")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, view(t, l).State.Users)
}

func TestChangeUsername_InvalidNameIsAnError(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	p := begin(t, l, "alice")

	_, err := l.ChangeUsername(context.Background(), p, "")
	require.ErrorIs(t, err, matchmaking.ErrInvalidUsername)
	recv(t, p.errs, "error")
	assert.Equal(t, "alice", p.Username())
}

func TestCreateGame_AdvertisesOnce(t *testing.T) {
	var added atomic.Int32
	l := newTestLobby(t, nil, Options{Hooks: Hooks{
		OnOpenGameAdded: func(owner string) {
			assert.Equal(t, "alice", owner)
			added.Add(1)
		},
	}})
	ctx := context.Background()
	alice := begin(t, l, "alice")

	require.NoError(t, l.CreateGame(ctx, alice))
	require.NoError(t, l.CreateGame(ctx, alice))

	assert.Equal(t, int32(1), added.Load())
	assert.Equal(t, []string{"alice"}, view(t, l).State.OpenGames)
	recvNone(t, alice.errs, 20*time.Millisecond)
}

func TestCreateGame_BroadcastsToMatchingSessions(t *testing.T) {
	l := newTestLobby(t, nil, Options{BroadcastOpenGames: true})
	alice := begin(t, l, "alice")
	bob := begin(t, l, "bob")
	recvList(t, bob, []string{})

	require.NoError(t, l.CreateGame(context.Background(), alice))

	recvList(t, bob, []string{"alice"})
	recvList(t, alice, []string{})
}

func TestJoinGame_MatchesBothSides(t *testing.T) {
	var matches atomic.Int32
	l := newTestLobby(t, nil, Options{Hooks: Hooks{
		OnMatchedGame: func(owner, guest string) {
			assert.Equal(t, "alice", owner)
			assert.Equal(t, "bob", guest)
			matches.Add(1)
		},
	}})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	bob := begin(t, l, "bob")
	require.NoError(t, l.CreateGame(ctx, alice))

	ok, err := l.JoinGame(ctx, bob, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, recv(t, bob.joined, "join result"))
	assert.Equal(t, MatchedAsGuest("alice"), recv(t, bob.matched, "guest match"))
	assert.Equal(t, MatchedAsOwner("bob"), recv(t, alice.matched, "owner match"))
	assert.Equal(t, int32(1), matches.Load())

	v := view(t, l)
	assert.Empty(t, v.State.OpenGames)
	assert.Empty(t, v.State.MatchingUsers)
	assert.Equal(t, []matchmaking.Match{{Owner: "alice", Guest: "bob"}}, v.State.ActiveGames)
	assert.Equal(t, []string{"alice", "bob"}, v.State.Users)
}

func TestJoinGame_RaceHasOneWinner(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	require.NoError(t, l.CreateGame(ctx, alice))

	guests := []*fakePeer{begin(t, l, "bob"), begin(t, l, "carol"), begin(t, l, "dave")}
	results := make([]bool, len(guests))
	var wg sync.WaitGroup
	for i, g := range guests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.JoinGame(ctx, g, "alice")
			assert.NoError(t, err)
			results[i] = ok
		}()
	}
	wg.Wait()

	var winner *fakePeer
	for i, ok := range results {
		if ok {
			require.Nil(t, winner, "more than one guest joined")
			winner = guests[i]
		}
	}
	require.NotNil(t, winner)

	assert.Equal(t, MatchedAsOwner(winner.Username()), recv(t, alice.matched, "owner match"))
	recvNone(t, alice.matched, 20*time.Millisecond)

	v := view(t, l)
	require.Len(t, v.State.ActiveGames, 1)
	assert.Equal(t, winner.Username(), v.State.ActiveGames[0].Guest)
	assert.Len(t, v.State.MatchingUsers, len(guests)-1)
	assert.NotContains(t, v.State.MatchingUsers, winner.Username())
	for _, g := range guests {
		if g != winner {
			assert.False(t, recv(t, g.joined, "join result"))
		}
	}
}

func TestJoinGame_Refusals(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	bob := begin(t, l, "bob")
	require.NoError(t, l.CreateGame(ctx, alice))

	for _, owner := range []string{"alice", "nobody"} {
		p := alice
		if owner == "nobody" {
			p = bob
		}
		ok, err := l.JoinGame(ctx, p, owner)
		require.NoError(t, err)
		assert.False(t, ok, owner)
		assert.False(t, recv(t, p.joined, "join result"))
	}
	assert.Equal(t, []string{"alice"}, view(t, l).State.OpenGames)
}

func TestPushGameJoined_SkipsStaleOwner(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	alice := begin(t, l, "alice")

	// alice's session is bound, but not to the name in the notification
	l.notifyOwnerOfGuest("someone", "bob")
	vars := joinedVars{Peer: alice, Session: alice.SessionID(), Owner: "someone", Guest: "bob"}
	require.NoError(t, sequence.Spawn(l.ctx, l.engine, l.pushGameJoinedSeq(), sequence.Lobby, vars))
	l.Wait()

	recvNone(t, alice.matched, 20*time.Millisecond)
	alice.mu.Lock()
	defer alice.mu.Unlock()
	assert.Nil(t, alice.match)
}

func TestEndSession_RetractsAdvertisement(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	require.NoError(t, l.CreateGame(ctx, alice))

	require.NoError(t, l.EndSession(ctx, alice))
	recv(t, alice.ended, "session ended")
	assert.Empty(t, alice.Username())

	v := view(t, l)
	assert.Empty(t, v.State.Users)
	assert.Empty(t, v.State.MatchingUsers)
	assert.Empty(t, v.State.OpenGames)
	assert.Zero(t, v.NumSessions)

	// the name is free again
	again := begin(t, l, "alice")
	assert.Equal(t, "alice", again.Username())
}

func TestEndSession_KeepsActiveGames(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	bob := begin(t, l, "bob")
	require.NoError(t, l.CreateGame(ctx, alice))
	_, err := l.JoinGame(ctx, bob, "alice")
	require.NoError(t, err)

	require.NoError(t, l.EndSession(ctx, bob))

	v := view(t, l)
	assert.Equal(t, []string{"alice"}, v.State.Users)
	assert.Equal(t, []matchmaking.Match{{Owner: "alice", Guest: "bob"}}, v.State.ActiveGames)
}

func TestEndSession_NeverBegun(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	p := newPeer()

	require.NoError(t, l.EndSession(context.Background(), p))
	recv(t, p.ended, "session ended")
	assert.Zero(t, view(t, l).Version)
}

// flakyStore fails commits while fail is set.
type flakyStore struct {
	*store.Memory
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) Commit(ctx context.Context, events []matchmaking.Event) error {
	if s.fail.Load() {
		return errDiskFull
	}
	return s.Memory.Commit(ctx, events)
}

func TestCommitFailure_LeavesStateUntouched(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	l := newTestLobby(t, st, Options{})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	before := view(t, l)

	st.fail.Store(true)
	err := l.CreateGame(ctx, alice)
	require.ErrorIs(t, err, ErrCommit)
	require.ErrorIs(t, err, errDiskFull)
	assert.ErrorIs(t, recv(t, alice.errs, "error"), ErrCommit)

	after := view(t, l)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.State, after.State)
	assert.Len(t, st.Journal(), 1)

	st.fail.Store(false)
	require.NoError(t, l.CreateGame(ctx, alice))
	assert.Equal(t, []string{"alice"}, view(t, l).State.OpenGames)
}

// gatedStore holds the commit of gate's event type until release closes.
type gatedStore struct {
	*store.Memory
	gate    matchmaking.EventType
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Commit(ctx context.Context, events []matchmaking.Event) error {
	if len(events) > 0 && events[0].Type == s.gate {
		close(s.entered)
		<-s.release
	}
	return s.Memory.Commit(ctx, events)
}

func TestJoinGame_CallerCancelAfterDeliveryStillReportsCommit(t *testing.T) {
	st := &gatedStore{
		Memory:  store.NewMemory(),
		gate:    matchmaking.EvtGameMatched,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	var hookCalls atomic.Int32
	l := newTestLobby(t, st, Options{Hooks: Hooks{
		OnMatchedGame: func(string, string) { hookCalls.Add(1) },
	}})
	alice := begin(t, l, "alice")
	bob := begin(t, l, "bob")
	require.NoError(t, l.CreateGame(context.Background(), alice))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := l.JoinGame(ctx, bob, "alice")
		done <- result{ok, err}
	}()

	recv(t, st.entered, "commit to start")
	cancel()
	close(st.release)
	res := recv(t, done, "join to return")

	require.NoError(t, res.err)
	assert.True(t, res.ok)
	assert.True(t, recv(t, bob.joined, "join result"))
	assert.Equal(t, MatchedAsOwner("bob"), recv(t, alice.matched, "owner match"))
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, []matchmaking.Match{{Owner: "alice", Guest: "bob"}}, view(t, l).State.ActiveGames)
	recvNone(t, bob.errs, 20*time.Millisecond)
}

func TestGetState_ViaInbox(t *testing.T) {
	l := newTestLobby(t, nil, Options{Code: "ABC123"})
	begin(t, l, "alice")

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	v := recv(t, reply, "view")

	assert.Equal(t, "ABC123", v.Code)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, []string{"alice"}, v.State.Users)

	// the view is a copy
	v.State.Users[0] = "mallory"
	assert.Equal(t, []string{"alice"}, view(t, l).State.Users)
}

func TestPruneOrphans(t *testing.T) {
	st := store.NewMemory(
		matchmaking.Event{Type: matchmaking.EvtUserAdded, User: "ghost"},
		matchmaking.Event{Type: matchmaking.EvtUserAdded, User: "amy"},
		matchmaking.Event{Type: matchmaking.EvtUserAdded, User: "ben"},
		matchmaking.Event{Type: matchmaking.EvtGameOpened, User: "ghost"},
		matchmaking.Event{Type: matchmaking.EvtGameOpened, User: "amy"},
		matchmaking.Event{Type: matchmaking.EvtGameMatched, User: "amy", Guest: "ben"},
	)
	l := newTestLobby(t, st, Options{PruneOrphans: true})

	v := view(t, l)
	assert.Empty(t, v.State.Users)
	assert.Empty(t, v.State.MatchingUsers)
	assert.Empty(t, v.State.OpenGames)
	assert.Equal(t, []matchmaking.Match{{Owner: "amy", Guest: "ben"}}, v.State.ActiveGames)

	// a reload sees the pruned state
	assert.Empty(t, matchmaking.Reduce(st.Journal()).Users)
}

func TestClosedLobby(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	l.Close()

	p := newPeer()
	err := l.BeginSession(context.Background(), p, "late")
	require.ErrorIs(t, err, ErrClosed)
	_, err = l.View(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentSessions_KeepNamesUnique(t *testing.T) {
	l := newTestLobby(t, nil, Options{BroadcastOpenGames: true})
	ctx := context.Background()

	const n = 20
	peers := make([]*fakePeer, n)
	var wg sync.WaitGroup
	for i := range n {
		peers[i] = newPeer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.BeginSession(ctx, peers[i], "player"))
			if i%2 == 0 {
				assert.NoError(t, l.CreateGame(ctx, peers[i]))
			}
		}()
	}
	wg.Wait()
	l.Wait()

	v := view(t, l)
	require.Len(t, v.State.Users, n)
	seen := make(map[string]bool, n)
	for _, u := range v.State.Users {
		assert.False(t, seen[u], "duplicate user %q", u)
		seen[u] = true
	}
	for _, owner := range v.State.OpenGames {
		assert.True(t, seen[owner])
	}
	for _, u := range v.State.MatchingUsers {
		assert.True(t, seen[u], "matching user %q is not registered", u)
	}
	assert.Len(t, v.State.OpenGames, n/2)
	assert.Equal(t, n, v.NumSessions)
}

func TestPushOpenGames_Idempotent(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	for _, name := range []string{"amy", "ben", "cat"} {
		p := begin(t, l, name)
		require.NoError(t, l.CreateGame(ctx, p))
	}
	watcher := begin(t, l, "ben")
	l.Wait()
	drain(watcher.lists)

	require.NoError(t, l.PushOpenGames(ctx, watcher, watcher.Username()))
	first := recv(t, watcher.lists, "first push")
	require.NoError(t, l.PushOpenGames(ctx, watcher, watcher.Username()))
	second := recv(t, watcher.lists, "second push")

	assert.Equal(t, []string{"amy", "ben", "cat"}, first)
	assert.Equal(t, first, second)
}

func TestPushOpenGames_NotMatchingGetsNothing(t *testing.T) {
	l := newTestLobby(t, nil, Options{})
	ctx := context.Background()
	alice := begin(t, l, "alice")
	bob := begin(t, l, "bob")
	require.NoError(t, l.CreateGame(ctx, alice))
	_, err := l.JoinGame(ctx, bob, "alice")
	require.NoError(t, err)
	l.Wait()
	drain(bob.lists)

	require.NoError(t, l.PushOpenGames(ctx, bob, "bob"))
	recvNone(t, bob.lists, 20*time.Millisecond)
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
