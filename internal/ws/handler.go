package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-matchmaker/internal/client"
	"github.com/DoyleJ11/lobby-matchmaker/internal/hub"
	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
	"github.com/DoyleJ11/lobby-matchmaker/pkg/types"
)

type Options struct {
	DefaultLobby string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// OriginPatterns is passed to websocket.Accept; empty means same-origin.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.DefaultLobby == "" {
		o.DefaultLobby = "main"
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Minute
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	return o
}

func Handler(h *hub.Hub, opts Options, log *zap.Logger) http.HandlerFunc {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("lobby")
		if code == "" {
			code = opts.DefaultLobby
		}

		lb := h.Lookup(r.Context(), code)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connCtx, connCancel := context.WithCancel(r.Context())
		defer connCancel()

		out := make(chan types.ServerMessage, 16)
		send := func(msg types.ServerMessage) {
			select {
			case out <- msg:
			case <-connCtx.Done():
			default:
				// Client is slow/full - drop them.
				log.Warn("outbox full, dropping connection", zap.String("lobby", code))
				connCancel()
			}
		}

		var c *client.Client
		c = client.New(lb, callbacks(send, func() string { return c.Username() }))
		log := log.With(zap.String("lobby", code), zap.String("session", c.SessionID()))
		log.Debug("connected")

		defer func() {
			// The request context is gone by now; teardown gets its own.
			ctx, cancel := context.WithTimeout(context.Background(), opts.WriteTimeout)
			defer cancel()
			if err := c.EndSession(ctx); err != nil {
				log.Debug("end session on disconnect", zap.Error(err))
			}
			log.Debug("disconnected", zap.String("user", c.Username()))
		}()

		// Writer goroutine
		go func() {
			for {
				select {
				case <-connCtx.Done():
					return
				case msg := <-out:
					payload, _ := json.Marshal(msg)
					ctx, cancel := context.WithTimeout(connCtx, opts.WriteTimeout)
					err := conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						connCancel()
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(connCtx, opts.ReadTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}
			if !dispatch(connCtx, c, cm, log) {
				send(types.ServerMessage{Type: types.MsgError, Error: "unknown type"})
			}
		}
	}
}

// dispatch starts the sequence named by m. Outcomes reach the socket through
// the client's callbacks, so returned values are only logged here.
func dispatch(ctx context.Context, c *client.Client, m types.ClientMessage, log *zap.Logger) bool {
	var err error
	switch m.Type {
	case types.MsgBeginSession:
		err = c.BeginSession(ctx, m.Name)
	case types.MsgChangeUsername:
		_, err = c.ChangeUsername(ctx, m.Name)
	case types.MsgCreateGame:
		err = c.CreateGame(ctx)
	case types.MsgJoinGame:
		_, err = c.JoinGame(ctx, m.Owner)
	case types.MsgEndSession:
		err = c.EndSession(ctx)
	default:
		return false
	}
	if err != nil {
		log.Debug("sequence failed", zap.String("type", m.Type), zap.Error(err))
	}
	return true
}

func callbacks(send func(types.ServerMessage), current func() string) client.Callbacks {
	return client.Callbacks{
		OnBeganSession: func(username string) {
			send(types.ServerMessage{Type: types.MsgBeganSession, Username: username})
		},
		OnChangeUsername: func(changed bool) {
			send(types.ServerMessage{Type: types.MsgChangeUsernameResult, OK: changed, Username: current()})
		},
		OnUpdatedOpenGameList: func(games []string) {
			send(types.ServerMessage{Type: types.MsgOpenGameList, Games: games})
		},
		OnJoinGame: func(succeeded bool) {
			send(types.ServerMessage{Type: types.MsgJoinGameResult, OK: succeeded})
		},
		OnMatchedGame: func(m lobby.Matched) {
			send(types.ServerMessage{Type: types.MsgMatchedGame, Role: string(m.Role), Opponent: m.Opponent})
		},
		OnSessionEnded: func() {
			send(types.ServerMessage{Type: types.MsgSessionEnded})
		},
		OnError: func(sequence string, err error) {
			send(types.ServerMessage{Type: types.MsgError, Sequence: sequence, Error: err.Error()})
		},
	}
}
