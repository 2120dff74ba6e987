package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
	"github.com/DoyleJ11/lobby-matchmaker/pkg/types"
)

// RemoteError is a failure reported by the lobby for one sequence.
type RemoteError struct {
	Sequence string
	Message  string
}

func (e *RemoteError) Error() string {
	if e.Sequence == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Sequence, e.Message)
}

// Remote is a Client role speaking to a lobby over a websocket. Invocations
// return once the request is sent; outcomes arrive through Callbacks while
// Run is reading.
type Remote struct {
	conn *websocket.Conn
	cb   Callbacks

	writeMu sync.Mutex

	mu       sync.RWMutex
	username string
	games    []string
}

func Dial(ctx context.Context, url string, cb Callbacks) (*Remote, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Remote{conn: conn, cb: cb}, nil
}

func (r *Remote) BeginSession(ctx context.Context, name string) error {
	return r.send(ctx, types.ClientMessage{Type: types.MsgBeginSession, Name: name})
}

func (r *Remote) ChangeUsername(ctx context.Context, name string) error {
	return r.send(ctx, types.ClientMessage{Type: types.MsgChangeUsername, Name: name})
}

func (r *Remote) CreateGame(ctx context.Context) error {
	return r.send(ctx, types.ClientMessage{Type: types.MsgCreateGame})
}

func (r *Remote) JoinGame(ctx context.Context, owner string) error {
	return r.send(ctx, types.ClientMessage{Type: types.MsgJoinGame, Owner: owner})
}

func (r *Remote) EndSession(ctx context.Context) error {
	return r.send(ctx, types.ClientMessage{Type: types.MsgEndSession})
}

func (r *Remote) Username() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.username
}

func (r *Remote) OpenGames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.games...)
}

// Run reads server messages until ctx ends or the connection closes. A
// normal close returns nil.
func (r *Remote) Run(ctx context.Context) error {
	for {
		_, data, err := r.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.onError("", fmt.Errorf("bad server message: %w", err))
			continue
		}
		r.handle(msg)
	}
}

func (r *Remote) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (r *Remote) handle(msg types.ServerMessage) {
	switch msg.Type {
	case types.MsgBeganSession:
		r.setUsername(msg.Username)
		if r.cb.OnBeganSession != nil {
			r.cb.OnBeganSession(msg.Username)
		}
	case types.MsgChangeUsernameResult:
		r.setUsername(msg.Username)
		if r.cb.OnChangeUsername != nil {
			r.cb.OnChangeUsername(msg.OK)
		}
	case types.MsgOpenGameList:
		r.mu.Lock()
		r.games = append([]string(nil), msg.Games...)
		r.mu.Unlock()
		if r.cb.OnUpdatedOpenGameList != nil {
			r.cb.OnUpdatedOpenGameList(msg.Games)
		}
	case types.MsgJoinGameResult:
		if r.cb.OnJoinGame != nil {
			r.cb.OnJoinGame(msg.OK)
		}
	case types.MsgMatchedGame:
		if r.cb.OnMatchedGame != nil {
			r.cb.OnMatchedGame(lobby.Matched{Role: lobby.Role(msg.Role), Opponent: msg.Opponent})
		}
	case types.MsgSessionEnded:
		r.setUsername("")
		if r.cb.OnSessionEnded != nil {
			r.cb.OnSessionEnded()
		}
	case types.MsgError:
		r.onError(msg.Sequence, &RemoteError{Sequence: msg.Sequence, Message: msg.Error})
	}
}

func (r *Remote) setUsername(name string) {
	r.mu.Lock()
	r.username = name
	r.mu.Unlock()
}

func (r *Remote) onError(sequence string, err error) {
	if r.cb.OnError != nil {
		r.cb.OnError(sequence, err)
	}
}

func (r *Remote) send(ctx context.Context, m types.ClientMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.Write(ctx, websocket.MessageText, payload)
}
