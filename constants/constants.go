package constants

import (
	"os"
	"path/filepath"
	"time"
)

func GetConfigPath() string {
	path := os.Getenv("PRACTICE_CONFIG")
	if path != "" {
		return path
	}
	return "./practice.toml"
}

func GetOverrideDBPath() string {
	path := os.Getenv("PRACTICE_OVERRIDE_DB")
	if path != "" {
		return path
	}
	return filepath.Join(".", "out", "tempo_override.db")
}

// Engine pacing constants.
const (
	DefaultBPM = 90.0

	MinDelay              = 50 * time.Millisecond
	DefaultBreathingRoom  = 40 * time.Millisecond
	FermataBreathingRoom  = 200 * time.Millisecond
	PhraseBreathingRoom   = 100 * time.Millisecond
	BarlineBreathingRoom  = 60 * time.Millisecond
	FallbackAdvanceDelay  = 500 * time.Millisecond
	NoteToFeedbackBudget  = 20 * time.Millisecond
	VisualSettleBudget    = 30 * time.Millisecond
	DefaultSchedulerLead  = 2 * time.Millisecond
	CoarseTimerResolution = time.Millisecond
)
