package compaction

// Trigger thresholds for the compaction decision function.
const (
	// DefaultTriggerThreshold compacts unconditionally once the token ratio
	// reaches this fraction of the model's max tokens.
	DefaultTriggerThreshold = 0.70

	// DefaultAlertThreshold, combined with DefaultAlertTurnFallback, compacts
	// earlier once enough turns have passed since the last compaction.
	DefaultAlertThreshold = 0.50

	// DefaultAlertTurnFallback is the turn count paired with DefaultAlertThreshold.
	DefaultAlertTurnFallback = 5

	// DefaultTurnFallback forces compaction after this many turns regardless
	// of token ratio, so a session with unusually small messages still compacts.
	DefaultTurnFallback = 8
)

// TriggerConfig holds the configurable thresholds. Zero values fall back to
// the Default* constants via NewTriggerConfig.
type TriggerConfig struct {
	TriggerThreshold  float64
	AlertThreshold    float64
	AlertTurnFallback int
	TurnFallback      int
}

// NewTriggerConfig returns a TriggerConfig populated with defaults.
func NewTriggerConfig() TriggerConfig {
	return TriggerConfig{
		TriggerThreshold:  DefaultTriggerThreshold,
		AlertThreshold:    DefaultAlertThreshold,
		AlertTurnFallback: DefaultAlertTurnFallback,
		TurnFallback:      DefaultTurnFallback,
	}
}

// Decision is the result of evaluating whether compaction should fire.
type Decision struct {
	Compact bool
	Reason  string
}

// ShouldCompact evaluates the three-tier priority rule:
//
//  1. ratio >= TriggerThreshold                                        → compact
//  2. ratio >= AlertThreshold AND turnsSinceCompaction >= AlertTurnFallback → compact
//  3. turnsSinceCompaction >= TurnFallback                             → compact
//
// ratio is usedTokens/maxTokens (the caller computes it; maxTokens <= 0
// is treated as "no budget known", which never triggers on ratio alone).
func ShouldCompact(cfg TriggerConfig, usedTokens, maxTokens, turnsSinceCompaction int) Decision {
	var ratio float64
	if maxTokens > 0 {
		ratio = float64(usedTokens) / float64(maxTokens)
	}

	if maxTokens > 0 && ratio >= cfg.TriggerThreshold {
		return Decision{Compact: true, Reason: "token_ratio_trigger"}
	}
	if maxTokens > 0 && ratio >= cfg.AlertThreshold && turnsSinceCompaction >= cfg.AlertTurnFallback {
		return Decision{Compact: true, Reason: "token_ratio_alert_with_turns"}
	}
	if turnsSinceCompaction >= cfg.TurnFallback {
		return Decision{Compact: true, Reason: "turn_fallback"}
	}
	return Decision{Compact: false}
}
