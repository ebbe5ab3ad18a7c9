package app

import (
	"errors"
	"os"
	"strconv"
	"time"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/ws"
	"beat-hard/server/internal/observability"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
)

const DefaultListenAddr = ":8080"

// Settings is the environment driven configuration of the control process.
type Settings struct {
	ListenAddr               string
	HitTTL                   time.Duration
	HitHistoryLimit          int
	SubscriberQueue          int
	ResetMaxStatsOnNewBattle bool
	LogJSONPath              string
	LogMinSeverity           logging.Severity
	Observability            observability.Config
}

func DefaultSettings() Settings {
	return Settings{
		ListenAddr:               DefaultListenAddr,
		HitTTL:                   combat.DefaultTTL,
		HitHistoryLimit:          combat.DefaultHistoryLimit,
		SubscriberQueue:          ws.DefaultQueueSize,
		ResetMaxStatsOnNewBattle: true,
		LogMinSeverity:           logging.SeverityInfo,
		Observability:            observability.Default(),
	}
}

// LoadSettings overlays environment values on base. Invalid values are
// logged and the base value is kept.
func LoadSettings(base Settings, getenv func(string) string, logger telemetry.Logger) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	s := base

	if raw := getenv("LISTEN_ADDR"); raw != "" {
		s.ListenAddr = raw
	}
	if raw := getenv("HIT_TTL"); raw != "" {
		if value, err := positiveDuration(raw); err == nil {
			s.HitTTL = value
		} else {
			logger.Printf("invalid HIT_TTL=%q: %v", raw, err)
		}
	}
	if raw := getenv("HIT_HISTORY_LIMIT"); raw != "" {
		if value, err := positiveInt(raw); err == nil {
			s.HitHistoryLimit = value
		} else {
			logger.Printf("invalid HIT_HISTORY_LIMIT=%q: %v", raw, err)
		}
	}
	if raw := getenv("SUBSCRIBER_QUEUE"); raw != "" {
		if value, err := positiveInt(raw); err == nil {
			s.SubscriberQueue = value
		} else {
			logger.Printf("invalid SUBSCRIBER_QUEUE=%q: %v", raw, err)
		}
	}
	if raw := getenv("RESET_MAX_STATS_ON_NEW_BATTLE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			s.ResetMaxStatsOnNewBattle = value
		} else {
			logger.Printf("invalid RESET_MAX_STATS_ON_NEW_BATTLE=%q: %v", raw, err)
		}
	}
	if raw := getenv("ENABLE_PPROF_TRACE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			s.Observability.EnablePprofTrace = value
		} else {
			logger.Printf("invalid ENABLE_PPROF_TRACE=%q: %v", raw, err)
		}
	}
	if raw := getenv("LOG_JSON_PATH"); raw != "" {
		s.LogJSONPath = raw
	}
	if raw := getenv("LOG_MIN_SEVERITY"); raw != "" {
		if value, ok := logging.ParseSeverity(raw); ok {
			s.LogMinSeverity = value
		} else {
			logger.Printf("invalid LOG_MIN_SEVERITY=%q", raw)
		}
	}
	return s
}

var errNotPositive = errors.New("must be positive")

func positiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, errNotPositive
	}
	return value, nil
}

func positiveDuration(raw string) (time.Duration, error) {
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, errNotPositive
	}
	return value, nil
}
