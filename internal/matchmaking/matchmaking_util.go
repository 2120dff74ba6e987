package matchmaking

import "slices"

func NewEmptyState() State {
	return State{
		Users:         []string{},
		MatchingUsers: []string{},
		OpenGames:     []string{},
		ActiveGames:   []Match{},
		Rules:         Rules{MaxRenameAttempts: DefaultMaxRenameAttempts},
	}
}

func (s State) Clone() State {
	return State{
		Users:         cloneList(s.Users),
		MatchingUsers: cloneList(s.MatchingUsers),
		OpenGames:     cloneList(s.OpenGames),
		ActiveGames:   cloneList(s.ActiveGames),
		Rules:         s.Rules,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func cloneList[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return slices.Clone(in)
}

func isInTextList(list []string, value string) bool {
	return slices.Contains(list, value)
}

// removeFromTextList drops the first occurrence of value only.
func removeFromTextList(list []string, value string) []string {
	i := slices.Index(list, value)
	if i < 0 {
		return list
	}
	return slices.Delete(list, i, i+1)
}

func replaceInTextList(list []string, old, value string) bool {
	i := slices.Index(list, old)
	if i < 0 {
		return false
	}
	list[i] = value
	return true
}

func hasGame(s State, user string) bool {
	return isInTextList(s.OpenGames, user)
}

func addGame(s *State, user string) {
	if hasGame(*s, user) {
		return
	}
	s.OpenGames = append(s.OpenGames, user)
}

func removeGame(s *State, user string) {
	s.OpenGames = removeFromTextList(s.OpenGames, user)
}

func addUser(s *State, user string) {
	s.Users = append(s.Users, user)
	s.MatchingUsers = append(s.MatchingUsers, user)
}

func removeUser(s *State, user string) {
	s.Users = removeFromTextList(s.Users, user)
	s.MatchingUsers = removeFromTextList(s.MatchingUsers, user)
}

// renameUser keeps the user's position in every list it appears in,
// including an open advertisement.
func renameUser(s *State, old, name string) {
	replaceInTextList(s.Users, old, name)
	replaceInTextList(s.MatchingUsers, old, name)
	replaceInTextList(s.OpenGames, old, name)
}

func matchGame(s *State, owner, guest string) {
	removeGame(s, owner)
	removeGame(s, guest)
	s.MatchingUsers = removeFromTextList(s.MatchingUsers, owner)
	s.MatchingUsers = removeFromTextList(s.MatchingUsers, guest)
	s.ActiveGames = append(s.ActiveGames, Match{Owner: owner, Guest: guest})
}
