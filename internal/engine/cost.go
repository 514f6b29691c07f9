package engine

import (
	"strings"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// No real token counts are available from hook events, so tokens are
// estimated from serialized payload size: one token per four characters plus
// a fixed per-event overhead for the message envelope the agent exchanges.
const (
	charsPerToken      = 4
	baseTokensPerEvent = 25
)

// modelPricing is one pricing tier, USD per million tokens.
type modelPricing struct {
	match       string
	inputPer1M  float64
	outputPer1M float64
}

// pricingTable is ordered: the first case-insensitive substring match of the
// session's model name wins. Unmatched (or empty) names fall back to the mid
// tier, which keeps estimates conservative for unknown models.
var pricingTable = []modelPricing{
	{match: "opus", inputPer1M: 15.0, outputPer1M: 75.0},
	{match: "sonnet", inputPer1M: 3.0, outputPer1M: 15.0},
	{match: "haiku", inputPer1M: 0.80, outputPer1M: 4.0},
}

var defaultPricing = pricingTable[1] // mid tier

// lookupPricing resolves a model name to its pricing tier.
func lookupPricing(model string) modelPricing {
	lower := strings.ToLower(model)
	for _, p := range pricingTable {
		if strings.Contains(lower, p.match) {
			return p
		}
	}
	return defaultPricing
}

// estimateTokens computes the input/output token deltas one event contributes.
func estimateTokens(ev *models.Event, payload models.EventPayload) (input, output int64) {
	input = ceilDiv(int64(len(ev.Payload)), charsPerToken) + baseTokensPerEvent

	if ev.Type == models.HookPostToolUse {
		if text := payload.ToolResponseText(); text != "" {
			output += ceilDiv(int64(len(text)), charsPerToken)
		}
	}
	if ev.Type.IsPromptHeavy() && len(ev.Chat) > 0 {
		input += ceilDiv(int64(len(ev.Chat)), charsPerToken)
	}
	return input, output
}

// accumulateCost adds this event's estimated tokens to the session totals and
// reprices the whole session against the currently-known model. Repricing the
// full totals (rather than the delta) means a late model-name correction
// retroactively fixes earlier under- or over-pricing.
func (e *Engine) accumulateCost(ev *models.Event, payload models.EventPayload) error {
	input, output := estimateTokens(ev, payload)
	model := firstNonEmpty(ev.Model, payload.Model)

	est, err := store.AccumulateCost(e.db, ev.SessionID, ev.SourceApp, model, input, output)
	if err != nil {
		return err
	}

	pricing := lookupPricing(est.Model)
	cost := float64(est.InputTokens)/1e6*pricing.inputPer1M +
		float64(est.OutputTokens)/1e6*pricing.outputPer1M
	return store.SetCost(e.db, ev.SessionID, ev.SourceApp, cost)
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
