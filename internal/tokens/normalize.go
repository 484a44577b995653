// Package tokens normalizes raw per-turn token counts across vendor wire
// formats into a provider-agnostic context-window size and per-turn delta.
//
// Ported from original_source/tron-tokens/src/normalization.rs with one
// deliberate behavior change: the Anthropic-family new-input delta is the
// raw input count directly, not context_window-minus-baseline (see
// DESIGN.md, Open Question decision #1).
package tokens

// ProviderType distinguishes the two accounting styles vendors use.
type ProviderType int

const (
	// ProviderAnthropicFamily covers Anthropic (and Bedrock-hosted Claude),
	// which reports input, cache_read, and cache_creation as mutually
	// exclusive buckets.
	ProviderAnthropicFamily ProviderType = iota
	// ProviderDirect covers OpenAI and Google, which report a single input
	// count that already represents the full context sent.
	ProviderDirect
)

// Usage holds the raw per-turn counts reported by a provider.
type Usage struct {
	Input          int
	Output         int
	CacheRead      int
	CacheCreation  int
}

// Normalized is the provider-agnostic result of Normalize.
type Normalized struct {
	ContextWindow int
	NewInputDelta int
}

// Normalize derives the context-window size and new-input delta for one
// turn's usage, given the provider family and the previous turn's
// ContextWindow (0 for the first turn of a session).
func Normalize(u Usage, pt ProviderType, previousBaseline int) Normalized {
	switch pt {
	case ProviderAnthropicFamily:
		contextWindow := u.Input + u.CacheRead + u.CacheCreation
		return Normalized{
			ContextWindow: contextWindow,
			NewInputDelta: u.Input,
		}
	default: // ProviderDirect
		contextWindow := u.Input
		delta := contextWindow - previousBaseline
		if delta < 0 {
			delta = 0
		}
		return Normalized{
			ContextWindow: contextWindow,
			NewInputDelta: delta,
		}
	}
}

// Accumulated holds per-session running totals across all turns.
type Accumulated struct {
	TotalInput         int
	TotalOutput        int
	TotalCacheRead     int
	TotalCacheCreation int
}

// Add folds one turn's raw usage into the running totals.
func (a *Accumulated) Add(u Usage) {
	a.TotalInput += u.Input
	a.TotalOutput += u.Output
	a.TotalCacheRead += u.CacheRead
	a.TotalCacheCreation += u.CacheCreation
}
