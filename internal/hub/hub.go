package hub

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
)

// Factory builds the lobby for a code, binding its store.
type Factory func(ctx context.Context, code string) (*lobby.Lobby, error)

type HubMsg interface{ isHubMsg() }

// CreateLobby replies nil when the code is already taken.
type CreateLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type ListLobbies struct {
	Reply chan []string
}

type RemoveLobby struct {
	Code string
}

type ShutdownHub struct{}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	factory Factory
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

func NewHub(parent context.Context, factory Factory, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		factory: factory,
		log:     log.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once every lobby has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if h.lobbies[msg.Code] != nil {
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.create(msg.Code)

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.create(msg.Code)

			case ListLobbies:
				codes := make([]string, 0, len(h.lobbies))
				for code := range h.lobbies {
					codes = append(codes, code)
				}
				slices.Sort(codes)
				msg.Reply <- codes

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					delete(h.lobbies, msg.Code)
					go lb.Close()
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(code string) *lobby.Lobby {
	lb, err := h.factory(h.ctx, code)
	if err != nil {
		h.log.Error("create lobby", zap.String("code", code), zap.Error(err))
		return nil
	}
	h.lobbies[code] = lb
	h.log.Info("lobby created", zap.String("code", code))
	return lb
}

func (h *Hub) shutdown() {
	for code, lb := range h.lobbies {
		lb.Close()
		delete(h.lobbies, code)
	}
	h.cancel()
}

// Lookup asks the hub loop for a lobby; nil when it does not exist.
func (h *Hub) Lookup(ctx context.Context, code string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, GetLobby{Code: code, Reply: reply}, reply)
}

// Ensure returns the lobby for code, creating it when missing.
func (h *Hub) Ensure(ctx context.Context, code string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, EnsureLobby{Code: code, Reply: reply}, reply)
}

// Create builds a new lobby; nil when the code is taken or creation failed.
func (h *Hub) Create(ctx context.Context, code string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, CreateLobby{Code: code, Reply: reply}, reply)
}

func (h *Hub) List(ctx context.Context) []string {
	reply := make(chan []string, 1)
	select {
	case h.inbox <- ListLobbies{Reply: reply}:
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
	select {
	case codes := <-reply:
		return codes
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *lobby.Lobby) *lobby.Lobby {
	select {
	case h.inbox <- m:
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
}
