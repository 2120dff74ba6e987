package matchmaking

const suffixDigits = "1234567890"

// resolveUsername returns name if it is free, otherwise the first free
// name+suffix where suffixes run 1..9,0 then 11,12,.. over suffixDigits.
func resolveUsername(s State, name string) (string, error) {
	if !isInTextList(s.Users, name) {
		return name, nil
	}

	limit := s.Rules.MaxRenameAttempts
	if limit <= 0 {
		limit = DefaultMaxRenameAttempts
	}

	for n := 0; n < limit; n++ {
		candidate := name + suffix(n)
		if !isInTextList(s.Users, candidate) {
			return candidate, nil
		}
	}
	return "", ErrRenameExhausted
}

// suffix maps n to the n-th string over suffixDigits in length order
// (bijective base ten): 0 -> "1", 9 -> "0", 10 -> "11".
func suffix(n int) string {
	var out []byte
	for {
		out = append([]byte{suffixDigits[n%len(suffixDigits)]}, out...)
		n = n/len(suffixDigits) - 1
		if n < 0 {
			return string(out)
		}
	}
}
