package hive

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/zaebee/aura/internal/telemetry"
)

// Override reason codes written into counter responses and audit metadata.
const (
	ReasonFailureRecovery    = "FAILURE_RECOVERY"
	ReasonFloorViolation     = "FLOOR_PRICE_VIOLATION"
	ReasonMinMargin          = "MIN_MARGIN_VIOLATION"
	ReasonDiscountLimit      = "DISCOUNT_LIMIT"
	ReasonAddonNotAllowed    = "ADDON_NOT_ALLOWED"
	injectionItemSentinel    = "INVALID_ID_POTENTIAL_INJECTION"
	injectionRedactedValue   = "REDACTED"
	genericNegotiationPhrase = "Thank you for your offer. Let's discuss terms."
)

// ErrInvalidBid rejects non-positive bid amounts before any pipeline work.
var ErrInvalidBid = errors.New("bid_amount must be positive")

// Closed set of prompt-injection markers scanned on inbound free-form fields.
var injectionPatterns = []string{
	"ignore all previous instructions",
	"ignore previous instructions",
	"system override",
	"act as a",
	"you are now",
	"disregard",
}

// Membrane enforces deterministic economic and data-leak guardrails on every
// intent. It never calls the network.
type Membrane struct {
	minMargin          float64
	maxDiscountPercent float64
	allowedAddons      map[string]bool
}

// NewMembrane builds a membrane from the configured guardrail knobs.
// Addon names are matched case-insensitively.
func NewMembrane(minMargin, maxDiscountPercent float64, allowedAddons []string) *Membrane {
	allowed := make(map[string]bool, len(allowedAddons))
	for _, a := range allowedAddons {
		allowed[strings.ToLower(strings.TrimSpace(a))] = true
	}
	if minMargin < 0 || minMargin >= 1 {
		minMargin = 0.10
	}
	return &Membrane{
		minMargin:          minMargin,
		maxDiscountPercent: maxDiscountPercent,
		allowedAddons:      allowed,
	}
}

// Inspect applies the guardrail rules in order and returns the possibly
// rewritten intent. Rewrites preserve the reasoner's original action and
// price under metadata.original_action / metadata.original_price.
func (m *Membrane) Inspect(in Intent, hc *HiveContext) Intent {
	floor := hc.Item.FloorPrice

	// Rule 1: a failed reasoner becomes a safe counter above floor.
	if in.Failure {
		out := m.rewriteCounter(in, floor*1.05, ReasonFailureRecovery)
		out.Message = "We received your offer and would like to propose an alternative."
		out.Thought = appendThought(out.Thought, "reasoner failed, recovered with safe counter")
		return out
	}

	// Rule 2: the floor price must never leak into a human-visible string.
	if strings.Contains(strings.ToLower(in.Message), "floor_price") {
		in.Message = genericNegotiationPhrase
		in.Thought = appendThought(in.Thought, "DLP: message redacted")
		telemetry.MembraneOverrides.WithLabelValues("DLP").Inc()
	}

	// Rule 3: reject and escalate carry no price promise to police.
	if in.Action == ActionReject || in.Action == ActionEscalate {
		return in
	}

	// Rule 4: floor breach.
	if in.Price < floor {
		return m.rewriteCounter(in, floor*1.05, ReasonFloorViolation)
	}

	// Rule 5: minimum margin on revenue, (price - cost) / price.
	if cost := hc.Item.InternalCost; cost > 0 {
		required := cost / (1 - m.minMargin)
		if in.Price < required {
			return m.rewriteCounter(in, required, ReasonMinMargin)
		}
	}

	// Rule 6: discount cap from the base price.
	if base := hc.Item.BasePrice; base > 0 {
		if (base-in.Price)/base > m.maxDiscountPercent {
			return m.rewriteCounter(in, base*(1-m.maxDiscountPercent), ReasonDiscountLimit)
		}
	}

	// Rule 7: the message may only promise whitelisted add-ons.
	if bad := m.disallowedAddon(in.Message, hc.Item.Addons); bad != "" {
		out := m.rewriteCounter(in, math.Max(in.Price, floor*1.05), ReasonAddonNotAllowed)
		out.Thought = appendThought(out.Thought, fmt.Sprintf("stripped unapproved addon %q", bad))
		return out
	}

	return in
}

// rewriteCounter turns the intent into a counter at price, recording the
// original decision the first time a rule fires.
func (m *Membrane) rewriteCounter(in Intent, price float64, reason string) Intent {
	out := in
	if _, done := in.Metadata["original_action"]; !done {
		out.SetMeta("original_action", in.Action)
		out.SetMeta("original_price", in.Price)
	}
	out.Action = ActionCounter
	out.Price = round2(price)
	out.Failure = false
	out.ReasonCode = reason
	out.Message = genericNegotiationPhrase
	out.SetMeta("override_reason", reason)
	telemetry.MembraneOverrides.WithLabelValues(reason).Inc()
	return out
}

// disallowedAddon returns the first item add-on named in the message that is
// not on the whitelist. Matching is case-insensitive and whole-word.
func (m *Membrane) disallowedAddon(message string, addons []ValueAddon) string {
	if message == "" {
		return ""
	}
	lower := strings.ToLower(message)
	for _, addon := range addons {
		name := strings.ToLower(strings.TrimSpace(addon.Item))
		if name == "" || m.allowedAddons[name] {
			continue
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(lower) {
			return addon.Item
		}
	}
	return ""
}

// SanitizeInbound screens a raw request before the aggregator runs. A
// non-positive bid is rejected outright; injection markers in item_id make
// the lookup fail cleanly and markers in agent_did are redacted.
func SanitizeInbound(itemID, agentDID string, bid float64) (string, string, error) {
	if bid <= 0 {
		return "", "", ErrInvalidBid
	}
	if containsInjection(itemID) {
		itemID = injectionItemSentinel
	}
	if containsInjection(agentDID) {
		agentDID = injectionRedactedValue
	}
	return itemID, agentDID, nil
}

func containsInjection(s string) bool {
	lower := strings.ToLower(s)
	for _, pat := range injectionPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func appendThought(thought, note string) string {
	if thought == "" {
		return note
	}
	return thought + " | " + note
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
