package battle

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects what governs round progression.
type Mode string

const (
	ModeRounds Mode = "rounds"
	ModeTime   Mode = "time"
)

var (
	ErrCannotAdvance  = errors.New("both fighters need a recorded hit before the round can close")
	ErrBattleFinished = errors.New("battle finished")
	ErrNotConfigured  = errors.New("battle not configured")
	ErrInvalidConfig  = errors.New("invalid battle config")
	ErrNotTimed       = errors.New("battle is not timed")
	ErrNotRunning     = errors.New("battle is not running")
)

// Config is supplied once at setup. RoundDuration is in seconds and only
// used in time mode.
type Config struct {
	Mode          Mode `json:"mode"`
	Rounds        int  `json:"rounds"`
	RoundDuration int  `json:"roundDuration,omitempty"`
}

func (c Config) Validate() error {
	var problems []string
	switch c.Mode {
	case ModeRounds, ModeTime:
	default:
		problems = append(problems, fmt.Sprintf("mode %q", c.Mode))
	}
	if c.Rounds <= 0 {
		problems = append(problems, "rounds must be positive")
	}
	if c.Mode == ModeTime && c.RoundDuration <= 0 {
		problems = append(problems, "roundDuration must be positive in time mode")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) Timed() bool {
	return c.Mode == ModeTime
}

// Competitor is a participant's identity as shown on the displays.
type Competitor struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	CountryFlag string `json:"countryFlag,omitempty"`
}

// Setup describes a new battle.
type Setup struct {
	Config      Config     `json:"config"`
	Competitor1 Competitor `json:"competitor1"`
	Competitor2 Competitor `json:"competitor2"`
}

func (s Setup) Validate() error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.Competitor1.Name) == "" || strings.TrimSpace(s.Competitor2.Name) == "" {
		return fmt.Errorf("%w: both competitors need a name", ErrInvalidConfig)
	}
	return nil
}
