package combat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FighterID identifies one of the two competitors tracked in a battle.
type FighterID int

const (
	Fighter1 FighterID = 1
	Fighter2 FighterID = 2
)

// Fighters lists every tracked competitor in a stable order.
var Fighters = []FighterID{Fighter1, Fighter2}

// ErrUnknownFighter is returned for identifiers outside the two tracked slots.
var ErrUnknownFighter = errors.New("unknown fighter")

const wirePrefix = "fighter_"

// ParseFighterID accepts the wire form ("fighter_1") or the bare numeric id.
func ParseFighterID(raw string) (FighterID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), wirePrefix)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFighter, raw)
	}
	id := FighterID(n)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFighter, raw)
	}
	return id, nil
}

func (f FighterID) Valid() bool {
	return f == Fighter1 || f == Fighter2
}

// String returns the wire form used by sensors and displays.
func (f FighterID) String() string {
	return wirePrefix + strconv.Itoa(int(f))
}

func (f FighterID) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFighter, int(f))
	}
	return []byte(f.String()), nil
}

func (f *FighterID) UnmarshalText(text []byte) error {
	id, err := ParseFighterID(string(text))
	if err != nil {
		return err
	}
	*f = id
	return nil
}
