package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zaebee/aura/internal/hive"
	"github.com/zaebee/aura/internal/logger"
)

const (
	// Default model behind the "dspy" selection.
	selfTunedModel = "gpt-4o"

	// Model used while the aggregator reports high CPU load.
	downgradeModel       = "gpt-4o-mini"
	downgradeTemperature = 0.1
	highLoadCPUPercent   = 80
	highLoadConstraint   = "SYSTEM_LOAD_HIGH: Be extremely concise."
)

// llmIntent is the JSON shape the model must produce.
type llmIntent struct {
	Action  string  `json:"action"`
	Price   float64 `json:"price"`
	Message string  `json:"message"`
	Thought string  `json:"thought"`
}

// StructuredReasoner asks an external LLM for the intent, constrained to a
// JSON object over the closed action set. Failures surface as a tagged
// failure intent; the membrane recovers with a safe counter.
type StructuredReasoner struct {
	llm         *ChatClient
	model       string
	temperature float64
}

// NewStructuredReasoner builds the LLM strategy.
func NewStructuredReasoner(llm *ChatClient, model string, temperature float64) *StructuredReasoner {
	return &StructuredReasoner{llm: llm, model: model, temperature: temperature}
}

func (r *StructuredReasoner) Name() string { return "structured:" + r.model }

func (r *StructuredReasoner) Think(ctx context.Context, hc *hive.HiveContext) hive.Intent {
	if !hc.Item.Found() {
		return hive.Intent{
			Action:     hive.ActionReject,
			Price:      0,
			ReasonCode: hive.ReasonItemNotFound,
			Message:    "The requested item is not available.",
			Thought:    "item lookup returned nothing",
		}
	}

	model, temperature, constraints := r.tuneForLoad(hc)
	system := buildSystemPrompt(hc, constraints, "")
	user := buildUserPrompt(hc)

	content, err := r.llm.Complete(ctx, model, temperature, system, user)
	if err != nil {
		logger.Warn("REASONER", fmt.Sprintf("llm call failed: %v", err))
		return hive.FailureIntent(err)
	}
	intent, err := parseIntent(content)
	if err != nil {
		logger.Warn("REASONER", fmt.Sprintf("llm response unparseable: %v", err))
		return hive.FailureIntent(err)
	}
	return intent
}

// tuneForLoad applies per-request self-reflective tuning: under high CPU the
// model downgrades to a cheaper one at low temperature and the prompt gains a
// brevity constraint.
func (r *StructuredReasoner) tuneForLoad(hc *hive.HiveContext) (string, float64, []string) {
	if hc.SystemHealth != nil && hc.SystemHealth.CPUPercent > highLoadCPUPercent {
		return downgradeModel, downgradeTemperature, []string{highLoadConstraint}
	}
	return r.model, r.temperature, nil
}

// buildSystemPrompt renders the negotiation brief. The floor price and
// internal cost never appear here: anything in the prompt can echo back into
// the counterparty-visible message.
func buildSystemPrompt(hc *hive.HiveContext, constraints []string, instruction string) string {
	var b strings.Builder
	if instruction != "" {
		b.WriteString(instruction)
		b.WriteString("\n\n")
	} else {
		b.WriteString("You are a price negotiator for a marketplace. ")
		b.WriteString("Decide how to answer one buyer bid.\n\n")
	}
	fmt.Fprintf(&b, "Item: %s\nList price (USD): %.2f\n", hc.Item.Name, hc.Item.BasePrice)
	if hc.Item.Occupancy != "" {
		fmt.Fprintf(&b, "Current demand: %s\n", hc.Item.Occupancy)
	}
	if len(hc.Item.Addons) > 0 {
		b.WriteString("Available add-ons you may offer instead of a discount:\n")
		for _, a := range hc.Item.Addons {
			fmt.Fprintf(&b, "- %s (perceived value %.2f)\n", a.Item, a.PerceivedValue)
		}
	}
	if len(constraints) > 0 {
		b.WriteString("\nsystem_constraints:\n")
		for _, c := range constraints {
			b.WriteString("- " + c + "\n")
		}
	}
	b.WriteString("\nRespond with a single JSON object: ")
	b.WriteString(`{"action":"accept|counter|reject|escalate","price":number,"message":string,"thought":string}`)
	return b.String()
}

func buildUserPrompt(hc *hive.HiveContext) string {
	return fmt.Sprintf("Buyer bid: %.2f USD. Buyer reputation: %.2f.",
		hc.Offer.BidAmount, hc.Offer.Reputation)
}

// parseIntent decodes the model output into an intent over the closed action
// set.
func parseIntent(content string) (hive.Intent, error) {
	var out llmIntent
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return hive.Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	switch out.Action {
	case hive.ActionAccept, hive.ActionCounter, hive.ActionReject, hive.ActionEscalate:
	default:
		return hive.Intent{}, fmt.Errorf("unknown action %q", out.Action)
	}
	if out.Price < 0 {
		return hive.Intent{}, fmt.Errorf("negative price %.2f", out.Price)
	}
	intent := hive.Intent{
		Action:  out.Action,
		Price:   out.Price,
		Message: out.Message,
		Thought: out.Thought,
	}
	if out.Action == hive.ActionEscalate {
		intent.TemplateID = "high_value_confirm"
	}
	if out.Action == hive.ActionReject {
		intent.ReasonCode = hive.ReasonOfferTooLow
	}
	return intent, nil
}
