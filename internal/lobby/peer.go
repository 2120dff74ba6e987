package lobby

type Role string

const (
	RoleGuest Role = "guest"
	RoleOwner Role = "owner"
)

// Matched tells a client it was paired into a game. A guest learns the
// owner it joined; an owner learns the guest that joined it.
type Matched struct {
	Role     Role
	Opponent string
}

func MatchedAsGuest(owner string) Matched { return Matched{Role: RoleGuest, Opponent: owner} }
func MatchedAsOwner(guest string) Matched { return Matched{Role: RoleOwner, Opponent: guest} }

// Peer is the Client endpoint as the lobby sees it: the client-side steps
// and completion callbacks of every sequence.
type Peer interface {
	SessionID() string
	Username() string

	// Client steps.
	BindUsername(name string)
	ReceiveOpenGames(games []string)
	ReceiveMatch(m Matched)

	// Client completions.
	OnBeganSession(username string)
	OnChangeUsername(changed bool)
	OnUpdatedOpenGameList(games []string)
	OnJoinGame(succeeded bool)
	OnMatchedGame(m Matched)
	OnSessionEnded()
	OnError(sequence string, err error)
}
