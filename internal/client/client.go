// Package client is the Client role. A Client holds its session's username
// and local view of the lobby, and exposes callbacks fired when the
// sequences it takes part in complete.
package client

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
)

// Lobby is the remote side the client invokes sequences on.
type Lobby interface {
	BeginSession(ctx context.Context, p lobby.Peer, name string) error
	ChangeUsername(ctx context.Context, p lobby.Peer, name string) (bool, error)
	CreateGame(ctx context.Context, p lobby.Peer) error
	JoinGame(ctx context.Context, p lobby.Peer, owner string) (bool, error)
	EndSession(ctx context.Context, p lobby.Peer) error
}

// Callbacks may be left nil. They run on the goroutine completing the
// sequence and must not call back into the same Client synchronously.
type Callbacks struct {
	OnBeganSession        func(username string)
	OnChangeUsername      func(changed bool)
	OnUpdatedOpenGameList func(games []string)
	OnJoinGame            func(succeeded bool)
	OnMatchedGame         func(m lobby.Matched)
	OnSessionEnded        func()
	OnError               func(sequence string, err error)
}

type Client struct {
	id    string
	lobby Lobby
	cb    Callbacks

	// seq serializes the sequences this client initiates; they all share
	// the username variable.
	seq sync.Mutex

	mu        sync.RWMutex
	username  string
	openGames []string
	match     *lobby.Matched
}

func New(lb Lobby, cb Callbacks) *Client {
	return &Client{id: uuid.NewString(), lobby: lb, cb: cb}
}

func (c *Client) BeginSession(ctx context.Context, name string) error {
	c.seq.Lock()
	defer c.seq.Unlock()
	return c.lobby.BeginSession(ctx, c, name)
}

func (c *Client) ChangeUsername(ctx context.Context, name string) (bool, error) {
	c.seq.Lock()
	defer c.seq.Unlock()
	return c.lobby.ChangeUsername(ctx, c, name)
}

func (c *Client) CreateGame(ctx context.Context) error {
	c.seq.Lock()
	defer c.seq.Unlock()
	return c.lobby.CreateGame(ctx, c)
}

func (c *Client) JoinGame(ctx context.Context, owner string) (bool, error) {
	c.seq.Lock()
	defer c.seq.Unlock()
	return c.lobby.JoinGame(ctx, c, owner)
}

func (c *Client) EndSession(ctx context.Context) error {
	c.seq.Lock()
	defer c.seq.Unlock()
	return c.lobby.EndSession(ctx, c)
}

// OpenGames is the last open-game list pushed to this client.
func (c *Client) OpenGames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.openGames)
}

// Match is the game this client was matched into, if any.
func (c *Client) Match() (lobby.Matched, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.match == nil {
		return lobby.Matched{}, false
	}
	return *c.match, true
}

// lobby.Peer

func (c *Client) SessionID() string { return c.id }

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) BindUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

func (c *Client) ReceiveOpenGames(games []string) {
	c.mu.Lock()
	c.openGames = slices.Clone(games)
	c.mu.Unlock()
}

func (c *Client) ReceiveMatch(m lobby.Matched) {
	c.mu.Lock()
	c.match = &m
	c.openGames = nil
	c.mu.Unlock()
}

func (c *Client) OnBeganSession(username string) {
	if c.cb.OnBeganSession != nil {
		c.cb.OnBeganSession(username)
	}
}

func (c *Client) OnChangeUsername(changed bool) {
	if c.cb.OnChangeUsername != nil {
		c.cb.OnChangeUsername(changed)
	}
}

func (c *Client) OnUpdatedOpenGameList(games []string) {
	if c.cb.OnUpdatedOpenGameList != nil {
		c.cb.OnUpdatedOpenGameList(slices.Clone(games))
	}
}

func (c *Client) OnJoinGame(succeeded bool) {
	if c.cb.OnJoinGame != nil {
		c.cb.OnJoinGame(succeeded)
	}
}

func (c *Client) OnMatchedGame(m lobby.Matched) {
	if c.cb.OnMatchedGame != nil {
		c.cb.OnMatchedGame(m)
	}
}

func (c *Client) OnSessionEnded() {
	if c.cb.OnSessionEnded != nil {
		c.cb.OnSessionEnded()
	}
}

func (c *Client) OnError(sequence string, err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(sequence, err)
	}
}
