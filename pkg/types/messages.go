package types

// Client -> Server
// BeginSession:
//   name: string            // requested username; the lobby may suffix it
//
// ChangeUsername:
//   name: string
//
// CreateGame: {}
//
// JoinGame:
//   owner: string
//
// EndSession: {}

// Server -> Client
// BeganSession:        username
// ChangeUsernameResult: ok, username (current name after the attempt)
// OpenGameList:        games      // never contains the receiver's own advertisement
// JoinGameResult:      ok
// MatchedGame:         role ("guest" | "owner"), opponent
// SessionEnded:        {}
// Error:               sequence?, error

const (
	MsgBeginSession   = "BeginSession"
	MsgChangeUsername = "ChangeUsername"
	MsgCreateGame     = "CreateGame"
	MsgJoinGame       = "JoinGame"
	MsgEndSession     = "EndSession"

	MsgBeganSession         = "BeganSession"
	MsgChangeUsernameResult = "ChangeUsernameResult"
	MsgOpenGameList         = "OpenGameList"
	MsgJoinGameResult       = "JoinGameResult"
	MsgMatchedGame          = "MatchedGame"
	MsgSessionEnded         = "SessionEnded"
	MsgError                = "Error"
)

type ClientMessage struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Owner string `json:"owner,omitempty"`
}

type ServerMessage struct {
	Type     string   `json:"type"`
	Username string   `json:"username,omitempty"`
	OK       bool     `json:"ok,omitempty"`
	Games    []string `json:"games,omitempty"`
	Role     string   `json:"role,omitempty"`
	Opponent string   `json:"opponent,omitempty"`
	Sequence string   `json:"sequence,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// LobbySnapshot is the operator view served at GET /lobbies/{code}.
type LobbySnapshot struct {
	Code          string      `json:"code"`
	Version       int         `json:"version"`
	Sessions      int         `json:"sessions"`
	Users         []string    `json:"users"`
	MatchingUsers []string    `json:"matching_users"`
	OpenGames     []string    `json:"open_games"`
	ActiveGames   [][2]string `json:"active_games"`
}
