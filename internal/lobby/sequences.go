package lobby

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-matchmaker/internal/matchmaking"
	"github.com/DoyleJ11/lobby-matchmaker/internal/sequence"
)

const (
	SeqBeginSession   = "BeginSession"
	SeqChangeUsername = "ChangeUsername"
	SeqCreateGame     = "CreateGame"
	SeqPushOpenGames  = "PushOpenGames"
	SeqJoinGame       = "JoinGame"
	SeqPushGameJoined = "PushGameJoined"
	SeqEndSession     = "EndSession"
)

var errStaleBinding = errors.New("session no longer bound to owner")

func rejected(err error) bool { return errors.Is(err, matchmaking.ErrRejected) }

type beginVars struct {
	Peer      Peer
	Requested string
	Username  string
}

// BeginSession registers p under name, or under a suffixed name when name
// is taken. The final name reaches the client through OnBeganSession.
func (l *Lobby) BeginSession(ctx context.Context, p Peer, name string) error {
	seq := sequence.Sequence[beginVars]{
		Name: SeqBeginSession,
		Steps: []sequence.Step[beginVars]{
			{Endpoint: sequence.Client, Name: "start_session", Run: func(_ context.Context, v *beginVars) error {
				v.Username = v.Requested
				return nil
			}},
			{Endpoint: sequence.Lobby, Name: "add_user", Run: func(ctx context.Context, v *beginVars) error {
				events, err := l.execute(ctx, v.Peer, matchmaking.Command{Type: matchmaking.CmdAddUser, User: v.Username})
				if err != nil {
					return err
				}
				v.Username = events[0].User
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[beginVars]{
			sequence.Lobby: func(_ context.Context, v beginVars, err error) {
				if err != nil {
					return
				}
				l.log.Info("session began", zap.String("user", v.Username), zap.String("requested", v.Requested))
				l.pushOpenGames(v.Peer, v.Username)
			},
			sequence.Client: func(_ context.Context, v beginVars, err error) {
				if err != nil {
					v.Peer.OnError(SeqBeginSession, err)
					return
				}
				v.Peer.BindUsername(v.Username)
				v.Peer.OnBeganSession(v.Username)
			},
		},
	}

	_, err := sequence.Run(ctx, l.engine, seq, sequence.Client, beginVars{Peer: p, Requested: name})
	return err
}

type renameVars struct {
	Peer    Peer
	Old     string
	Name    string
	Changed bool
}

// ChangeUsername renames the session's user iff name is free. A taken name
// is reported as changed=false with a nil error.
func (l *Lobby) ChangeUsername(ctx context.Context, p Peer, name string) (bool, error) {
	seq := sequence.Sequence[renameVars]{
		Name: SeqChangeUsername,
		Steps: []sequence.Step[renameVars]{
			{Endpoint: sequence.Client, Name: "set_username", Run: func(_ context.Context, v *renameVars) error {
				v.Old = v.Peer.Username()
				return nil
			}},
			{Endpoint: sequence.Lobby, Name: "handle_change_username", Run: func(ctx context.Context, v *renameVars) error {
				events, err := l.execute(ctx, v.Peer, matchmaking.Command{Type: matchmaking.CmdChangeUsername, Name: v.Name})
				if rejected(err) {
					return nil
				}
				if err != nil {
					return err
				}
				v.Old = events[0].User
				v.Changed = true
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[renameVars]{
			sequence.Lobby: func(_ context.Context, v renameVars, err error) {
				if err != nil || !v.Changed {
					return
				}
				l.log.Info("username changed", zap.String("old", v.Old), zap.String("new", v.Name))
				l.broadcastOpenGames()
			},
			sequence.Client: func(_ context.Context, v renameVars, err error) {
				if err != nil {
					v.Peer.OnError(SeqChangeUsername, err)
					return
				}
				if v.Changed {
					v.Peer.BindUsername(v.Name)
				}
				v.Peer.OnChangeUsername(v.Changed)
			},
		},
	}

	out, err := sequence.Run(ctx, l.engine, seq, sequence.Client, renameVars{Peer: p, Name: name})
	return out.Changed, err
}

type createVars struct {
	Peer     Peer
	Username string
	Created  bool
}

// CreateGame advertises the session's user as a host. Advertising twice is
// a silent no-op; only the host hook observes the difference.
func (l *Lobby) CreateGame(ctx context.Context, p Peer) error {
	seq := sequence.Sequence[createVars]{
		Name: SeqCreateGame,
		Steps: []sequence.Step[createVars]{
			{Endpoint: sequence.Client, Name: "create_game", Run: func(_ context.Context, v *createVars) error {
				v.Username = v.Peer.Username()
				return nil
			}},
			{Endpoint: sequence.Lobby, Name: "create_game", Run: func(ctx context.Context, v *createVars) error {
				events, err := l.execute(ctx, v.Peer, matchmaking.Command{Type: matchmaking.CmdCreateGame})
				if rejected(err) {
					l.log.Debug("create game refused", zap.String("user", v.Username), zap.Error(err))
					return nil
				}
				if err != nil {
					return err
				}
				v.Username = events[0].User
				v.Created = true
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[createVars]{
			sequence.Lobby: func(_ context.Context, v createVars, err error) {
				if err != nil || !v.Created {
					return
				}
				if hook := l.opts.Hooks.OnOpenGameAdded; hook != nil {
					hook(v.Username)
				}
				l.broadcastOpenGames()
			},
			sequence.Client: func(_ context.Context, v createVars, err error) {
				if err != nil {
					v.Peer.OnError(SeqCreateGame, err)
				}
			},
		},
	}

	_, err := sequence.Run(ctx, l.engine, seq, sequence.Client, createVars{Peer: p})
	return err
}

type gameListVars struct {
	Peer     Peer
	Username string
	Games    []string
}

func (l *Lobby) pushOpenGamesSeq() sequence.Sequence[gameListVars] {
	return sequence.Sequence[gameListVars]{
		Name: SeqPushOpenGames,
		Steps: []sequence.Step[gameListVars]{
			{Endpoint: sequence.Lobby, Name: "push_updated_game_list", Run: func(ctx context.Context, v *gameListVars) error {
				games, err := l.openGamesFor(ctx, v.Username)
				if err != nil {
					return err
				}
				v.Games = games
				return nil
			}},
			{Endpoint: sequence.Client, Name: "receive_game_list", Run: func(_ context.Context, v *gameListVars) error {
				v.Peer.ReceiveOpenGames(v.Games)
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[gameListVars]{
			sequence.Client: func(_ context.Context, v gameListVars, err error) {
				if err != nil {
					return
				}
				v.Peer.OnUpdatedOpenGameList(v.Games)
			},
		},
	}
}

// PushOpenGames sends p the current open-game list for username and waits
// for delivery. A user who is no longer matching gets nothing.
func (l *Lobby) PushOpenGames(ctx context.Context, p Peer, username string) error {
	_, err := sequence.Run(ctx, l.engine, l.pushOpenGamesSeq(), sequence.Lobby, gameListVars{Peer: p, Username: username})
	if rejected(err) {
		return nil
	}
	return err
}

func (l *Lobby) pushOpenGames(p Peer, username string) {
	err := sequence.Spawn(l.ctx, l.engine, l.pushOpenGamesSeq(), sequence.Lobby, gameListVars{Peer: p, Username: username})
	if err != nil {
		l.log.Debug("push skipped", zap.String("sequence", SeqPushOpenGames), zap.Error(err))
	}
}

func (l *Lobby) broadcastOpenGames() {
	if !l.opts.BroadcastOpenGames {
		return
	}
	bindings, err := l.Sessions(l.ctx, true)
	if err != nil {
		l.log.Debug("broadcast skipped", zap.Error(err))
		return
	}
	for _, b := range bindings {
		l.pushOpenGames(b.Peer, b.Username)
	}
}

type joinVars struct {
	Peer      Peer
	Owner     string
	Guest     string
	Succeeded bool
}

// JoinGame matches the session's user against owner's advertisement. A
// vanished advertisement is reported as succeeded=false with a nil error.
func (l *Lobby) JoinGame(ctx context.Context, p Peer, owner string) (bool, error) {
	seq := sequence.Sequence[joinVars]{
		Name: SeqJoinGame,
		Steps: []sequence.Step[joinVars]{
			{Endpoint: sequence.Client, Name: "join_user_game", Run: func(_ context.Context, v *joinVars) error {
				v.Guest = v.Peer.Username()
				return nil
			}},
			{Endpoint: sequence.Lobby, Name: "join_game", Run: func(ctx context.Context, v *joinVars) error {
				events, err := l.execute(ctx, v.Peer, matchmaking.Command{Type: matchmaking.CmdJoinGame, Owner: v.Owner})
				if rejected(err) {
					l.log.Debug("join refused", zap.String("owner", v.Owner), zap.String("guest", v.Guest), zap.Error(err))
					return nil
				}
				if err != nil {
					return err
				}
				v.Guest = events[0].Guest
				v.Succeeded = true
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[joinVars]{
			sequence.Lobby: func(_ context.Context, v joinVars, err error) {
				if err != nil || !v.Succeeded {
					return
				}
				l.log.Info("game matched", zap.String("owner", v.Owner), zap.String("guest", v.Guest))
				if hook := l.opts.Hooks.OnMatchedGame; hook != nil {
					hook(v.Owner, v.Guest)
				}
				l.notifyOwnerOfGuest(v.Owner, v.Guest)
				l.broadcastOpenGames()
			},
			sequence.Client: func(_ context.Context, v joinVars, err error) {
				if err != nil {
					v.Peer.OnError(SeqJoinGame, err)
					return
				}
				v.Peer.OnJoinGame(v.Succeeded)
				if v.Succeeded {
					m := MatchedAsGuest(v.Owner)
					v.Peer.ReceiveMatch(m)
					v.Peer.OnMatchedGame(m)
				}
			},
		},
	}

	out, err := sequence.Run(ctx, l.engine, seq, sequence.Client, joinVars{Peer: p, Owner: owner})
	return out.Succeeded, err
}

type joinedVars struct {
	Peer    Peer
	Session string
	Owner   string
	Guest   string
}

func (l *Lobby) pushGameJoinedSeq() sequence.Sequence[joinedVars] {
	return sequence.Sequence[joinedVars]{
		Name: SeqPushGameJoined,
		Steps: []sequence.Step[joinedVars]{
			{Endpoint: sequence.Lobby, Name: "notify_game_joined", Run: func(ctx context.Context, v *joinedVars) error {
				// The owner may have renamed or left since the match.
				bindings, err := l.Sessions(ctx, false)
				if err != nil {
					return err
				}
				for _, b := range bindings {
					if b.Peer.SessionID() == v.Session && b.Username == v.Owner {
						return nil
					}
				}
				return errStaleBinding
			}},
			{Endpoint: sequence.Client, Name: "receive_guest", Run: func(_ context.Context, v *joinedVars) error {
				v.Peer.ReceiveMatch(MatchedAsOwner(v.Guest))
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[joinedVars]{
			sequence.Client: func(_ context.Context, v joinedVars, err error) {
				if err != nil {
					return
				}
				v.Peer.OnMatchedGame(MatchedAsOwner(v.Guest))
			},
		},
	}
}

// notifyOwnerOfGuest pushes PushGameJoined to the sessions bound to owner
// and to no one else.
func (l *Lobby) notifyOwnerOfGuest(owner, guest string) {
	bindings, err := l.Sessions(l.ctx, false)
	if err != nil {
		l.log.Debug("owner notification skipped", zap.Error(err))
		return
	}
	for _, b := range bindings {
		if b.Username != owner {
			continue
		}
		vars := joinedVars{Peer: b.Peer, Session: b.Peer.SessionID(), Owner: owner, Guest: guest}
		if err := sequence.Spawn(l.ctx, l.engine, l.pushGameJoinedSeq(), sequence.Lobby, vars); err != nil {
			l.log.Debug("push skipped", zap.String("sequence", SeqPushGameJoined), zap.Error(err))
		}
	}
}

type endVars struct {
	Peer     Peer
	Username string
	Removed  bool
}

// EndSession tears the session down: the user leaves users and
// matching_users and any open advertisement is retracted. Active games are
// left as they are. Ending a session that never began only detaches it.
func (l *Lobby) EndSession(ctx context.Context, p Peer) error {
	seq := sequence.Sequence[endVars]{
		Name: SeqEndSession,
		Steps: []sequence.Step[endVars]{
			{Endpoint: sequence.Client, Name: "end_session", Run: func(_ context.Context, v *endVars) error {
				v.Username = v.Peer.Username()
				return nil
			}},
			{Endpoint: sequence.Lobby, Name: "remove_user", Run: func(ctx context.Context, v *endVars) error {
				events, err := l.execute(ctx, v.Peer, matchmaking.Command{Type: matchmaking.CmdRemoveUser})
				if rejected(err) {
					return nil
				}
				if err != nil {
					return err
				}
				v.Username = events[0].User
				v.Removed = true
				return nil
			}},
		},
		OnComplete: map[sequence.Endpoint]sequence.CompleteFunc[endVars]{
			sequence.Lobby: func(ctx context.Context, v endVars, err error) {
				if derr := l.detach(ctx, v.Peer.SessionID()); derr != nil {
					l.log.Debug("detach skipped", zap.Error(derr))
				}
				if err != nil || !v.Removed {
					return
				}
				l.log.Info("session ended", zap.String("user", v.Username))
				l.broadcastOpenGames()
			},
			sequence.Client: func(_ context.Context, v endVars, err error) {
				if err != nil {
					v.Peer.OnError(SeqEndSession, err)
					return
				}
				v.Peer.BindUsername("")
				v.Peer.OnSessionEnded()
			},
		},
	}

	_, err := sequence.Run(ctx, l.engine, seq, sequence.Client, endVars{Peer: p})
	return err
}
