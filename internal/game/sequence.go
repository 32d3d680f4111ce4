package game

// Color is one pad of the board.
type Color uint8

const (
	Green Color = iota
	Red
	Yellow
	Blue

	ColorCount = 4
)

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Blue:
		return "blue"
	default:
		return "unknown"
	}
}

const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

// GenerateSequence produces the color sequence for one attempt. It is a pure
// function of (matchID, playerID, attempt): a reconnecting player or a late
// spectator recomputes exactly what the active player is being shown, with
// no shared RNG state between concurrent matches.
func GenerateSequence(matchID, playerID string, attempt, length int) []Color {
	seed := seedFor(matchID, playerID, attempt)
	out := make([]Color, length)
	for i := range out {
		seed = xorshift32(seed)
		out[i] = Color(seed % ColorCount)
	}
	return out
}

// seedFor hashes "{matchID}:{playerID}:{attempt}" with FNV-1a. A zero seed
// would make xorshift32 a fixed point, so it is bumped to the offset basis.
func seedFor(matchID, playerID string, attempt int) uint32 {
	h := fnvOffsetBasis
	hashString := func(s string) {
		for i := 0; i < len(s); i++ {
			h ^= uint32(s[i])
			h *= fnvPrime
		}
	}
	hashString(matchID)
	hashString(":")
	hashString(playerID)
	hashString(":")
	hashString(itoa(attempt))
	if h == 0 {
		h = fnvOffsetBasis
	}
	return h
}

func xorshift32(s uint32) uint32 {
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	return s
}

// itoa avoids pulling strconv into the hot path for small non-negative ints.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ParseColor maps a wire string to a Color.
func ParseColor(s string) (Color, bool) {
	switch s {
	case "green":
		return Green, true
	case "red":
		return Red, true
	case "yellow":
		return Yellow, true
	case "blue":
		return Blue, true
	default:
		return 0, false
	}
}

// ColorNames renders a sequence for the wire.
func ColorNames(seq []Color) []string {
	out := make([]string, len(seq))
	for i, c := range seq {
		out[i] = c.String()
	}
	return out
}

// ParseColors maps a submitted wire sequence back to colors. Any unknown
// element makes the whole submission malformed.
func ParseColors(names []string) ([]Color, bool) {
	out := make([]Color, len(names))
	for i, s := range names {
		c, ok := ParseColor(s)
		if !ok {
			return nil, false
		}
		out[i] = c
	}
	return out, true
}

// SequencesEqual compares a submission against the expected sequence,
// length and element-wise.
func SequencesEqual(a, b []Color) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
