package matchmaking

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRejected is wrapped by every expected, recoverable refusal. Sequences
// report these as a false outcome instead of failing.
var ErrRejected = errors.New("rejected")

var (
	ErrUsernameTaken  = fmt.Errorf("%w: username taken", ErrRejected)
	ErrUnknownUser    = fmt.Errorf("%w: unknown user", ErrRejected)
	ErrAlreadyHosting = fmt.Errorf("%w: user already has an open game", ErrRejected)
	ErrNoOpenGame     = fmt.Errorf("%w: owner has no open game", ErrRejected)
	ErrSelfJoin       = fmt.Errorf("%w: cannot join own game", ErrRejected)
	ErrNotMatching    = fmt.Errorf("%w: user is not looking for a game", ErrRejected)
)

var ErrInvalidUsername = errors.New("invalid username")
var ErrRenameExhausted = errors.New("no free username within rename bound")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	MaxUsernameLen           = 32
	DefaultMaxRenameAttempts = 1000
)

type Match struct {
	Owner string `json:"owner"`
	Guest string `json:"guest"`
}

type Rules struct {
	// MaxRenameAttempts bounds the suffix search in CmdAddUser. Zero means
	// DefaultMaxRenameAttempts.
	MaxRenameAttempts int
}

type State struct {
	Users         []string
	MatchingUsers []string
	OpenGames     []string
	ActiveGames   []Match
	Rules         Rules
}

type CommandType string

const (
	CmdAddUser        CommandType = "AddUser"
	CmdChangeUsername CommandType = "ChangeUsername"
	CmdCreateGame     CommandType = "CreateGame"
	CmdJoinGame       CommandType = "JoinGame"
	CmdRemoveUser     CommandType = "RemoveUser"
)

/*
	CmdAddUser        -> EvtUserAdded (final, possibly suffixed name)
	CmdChangeUsername -> EvtUsernameChanged
	CmdCreateGame     -> EvtGameOpened
	CmdJoinGame       -> EvtGameMatched
	CmdRemoveUser     -> EvtUserRemoved
*/

type Command struct {
	Type CommandType
	// User is the requesting user. For CmdAddUser it is the requested name.
	User string
	// Name is the requested new name for CmdChangeUsername.
	Name string
	// Owner is the advertisement being joined by CmdJoinGame.
	Owner string
}

type EventType string

const (
	EvtUserAdded       EventType = "UserAdded"
	EvtUsernameChanged EventType = "UsernameChanged"
	EvtGameOpened      EventType = "GameOpened"
	EvtGameMatched     EventType = "GameMatched"
	EvtUserRemoved     EventType = "UserRemoved"
)

type Event struct {
	Type EventType `json:"type"`
	// User is the subject of the event; the owner for EvtGameMatched.
	User    string `json:"user"`
	NewName string `json:"new_name,omitempty"`
	Guest   string `json:"guest,omitempty"`
}

// Apply validates cmd against s and returns the events it produces together
// with the resulting state. s is never mutated; on error s is returned as is.
func Apply(s State, cmd Command) ([]Event, State, error) {
	var events []Event

	switch cmd.Type {
	case CmdAddUser:
		if err := ValidateUsername(cmd.User); err != nil {
			return nil, s, err
		}
		name, err := resolveUsername(s, cmd.User)
		if err != nil {
			return nil, s, err
		}
		events = []Event{{Type: EvtUserAdded, User: name}}

	case CmdChangeUsername:
		if err := ValidateUsername(cmd.Name); err != nil {
			return nil, s, err
		}
		if !isInTextList(s.Users, cmd.User) {
			return nil, s, ErrUnknownUser
		}
		if isInTextList(s.Users, cmd.Name) {
			return nil, s, ErrUsernameTaken
		}
		events = []Event{{Type: EvtUsernameChanged, User: cmd.User, NewName: cmd.Name}}

	case CmdCreateGame:
		if !isInTextList(s.Users, cmd.User) {
			return nil, s, ErrUnknownUser
		}
		if hasGame(s, cmd.User) {
			return nil, s, ErrAlreadyHosting
		}
		events = []Event{{Type: EvtGameOpened, User: cmd.User}}

	case CmdJoinGame:
		// The advertisement is re-validated here; it may have been consumed
		// or retracted since the guest last saw the list.
		if cmd.Owner == cmd.User {
			return nil, s, ErrSelfJoin
		}
		if !hasGame(s, cmd.Owner) {
			return nil, s, ErrNoOpenGame
		}
		if !isInTextList(s.MatchingUsers, cmd.User) {
			return nil, s, ErrNotMatching
		}
		events = []Event{{Type: EvtGameMatched, User: cmd.Owner, Guest: cmd.User}}

	case CmdRemoveUser:
		if !isInTextList(s.Users, cmd.User) {
			return nil, s, ErrUnknownUser
		}
		events = []Event{{Type: EvtUserRemoved, User: cmd.User}}

	default:
		return nil, s, ErrUnsupportedCommand
	}

	return events, Fold(s, events), nil
}

// Fold applies already-validated events on a copy of s.
func Fold(s State, events []Event) State {
	next := s.Clone()
	for _, event := range events {
		switch event.Type {
		case EvtUserAdded:
			addUser(&next, event.User)
		case EvtUsernameChanged:
			renameUser(&next, event.User, event.NewName)
		case EvtGameOpened:
			addGame(&next, event.User)
		case EvtGameMatched:
			matchGame(&next, event.User, event.Guest)
		case EvtUserRemoved:
			removeUser(&next, event.User)
			removeGame(&next, event.User)
		}
	}
	return next
}

// Reduce rebuilds a state from an event journal.
func Reduce(events []Event) State {
	return Fold(NewEmptyState(), events)
}

// OpenGamesFor is the browse list pushed to user: every advertisement except
// the user's own.
func OpenGamesFor(s State, user string) []string {
	games := make([]string, 0, len(s.OpenGames))
	for _, owner := range s.OpenGames {
		if owner != user {
			games = append(games, owner)
		}
	}
	return games
}

func ValidateUsername(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(name) > MaxUsernameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUsername, MaxUsernameLen)
	}
	return nil
}

func IsMatching(s State, user string) bool {
	return isInTextList(s.MatchingUsers, user)
}

func HasUser(s State, user string) bool {
	return isInTextList(s.Users, user)
}

func HasGame(s State, user string) bool {
	return hasGame(s, user)
}
