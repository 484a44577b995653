package compaction

import "testing"

func TestShouldCompact(t *testing.T) {
	cfg := NewTriggerConfig()

	tests := []struct {
		name           string
		used, max      int
		turnsSince     int
		wantCompact    bool
		wantReasonLike string
	}{
		{"well under every threshold", 1000, 10000, 1, false, ""},
		{"ratio trigger fires at 0.70", 7000, 10000, 0, true, "token_ratio_trigger"},
		{"ratio alert needs enough turns", 6000, 10000, 4, false, ""},
		{"ratio alert fires once turns catch up", 6000, 10000, 5, true, "token_ratio_alert_with_turns"},
		{"turn fallback fires regardless of ratio", 0, 10000, 8, true, "turn_fallback"},
		{"turn fallback fires with unknown budget", 0, 0, 8, true, "turn_fallback"},
		{"unknown budget never ratio-triggers", 1_000_000, 0, 1, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldCompact(cfg, tt.used, tt.max, tt.turnsSince)
			if got.Compact != tt.wantCompact {
				t.Fatalf("Compact = %v, want %v", got.Compact, tt.wantCompact)
			}
			if tt.wantCompact && got.Reason != tt.wantReasonLike {
				t.Fatalf("Reason = %q, want %q", got.Reason, tt.wantReasonLike)
			}
		})
	}
}

func TestShouldCompactPriorityOrder(t *testing.T) {
	cfg := NewTriggerConfig()
	// Both the hard trigger and the alert+turns condition are satisfied;
	// the hard trigger (higher priority) must win the reported reason.
	got := ShouldCompact(cfg, 7500, 10000, 9)
	if !got.Compact || got.Reason != "token_ratio_trigger" {
		t.Fatalf("expected token_ratio_trigger to take priority, got %+v", got)
	}
}
