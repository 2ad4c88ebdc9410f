package reasoner

import (
	"context"
	"fmt"

	"github.com/zaebee/aura/internal/hive"
)

// RuleReasoner is the deterministic strategy: no network, no model, three
// rules in priority order.
type RuleReasoner struct {
	TriggerPrice float64
}

// NewRuleReasoner builds the rule strategy with the configured escalation
// trigger.
func NewRuleReasoner(triggerPrice float64) *RuleReasoner {
	if triggerPrice <= 0 {
		triggerPrice = 1000
	}
	return &RuleReasoner{TriggerPrice: triggerPrice}
}

func (r *RuleReasoner) Name() string { return "rule" }

// Think applies the rules: unknown item rejects, a bid above the trigger
// escalates, a bid below floor counters at floor, anything else is accepted
// at the bid.
func (r *RuleReasoner) Think(_ context.Context, hc *hive.HiveContext) hive.Intent {
	bid := hc.Offer.BidAmount

	if !hc.Item.Found() {
		return hive.Intent{
			Action:     hive.ActionReject,
			Price:      0,
			ReasonCode: hive.ReasonItemNotFound,
			Message:    "The requested item is not available.",
			Thought:    "item lookup returned nothing",
		}
	}

	if bid > r.TriggerPrice {
		return hive.Intent{
			Action:     hive.ActionEscalate,
			Price:      bid,
			TemplateID: "high_value_confirm",
			ContextData: map[string]string{
				"item_name": hc.Item.Name,
				"bid":       fmt.Sprintf("%.2f", bid),
			},
			Thought: fmt.Sprintf("bid %.2f above trigger %.2f, requires confirmation", bid, r.TriggerPrice),
		}
	}

	if bid < hc.Item.FloorPrice {
		return hive.Intent{
			Action:     hive.ActionCounter,
			Price:      hc.Item.FloorPrice,
			ReasonCode: "BELOW_FLOOR",
			Message:    fmt.Sprintf("We can offer %s at %.2f.", hc.Item.Name, hc.Item.FloorPrice),
			Thought:    "bid below floor, countering at floor",
		}
	}

	return hive.Intent{
		Action:  hive.ActionAccept,
		Price:   bid,
		Message: fmt.Sprintf("Offer accepted for %s.", hc.Item.Name),
		Thought: "bid within range, accepting",
	}
}
