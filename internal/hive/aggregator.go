package hive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/store"
	"github.com/zaebee/aura/internal/telemetry"
)

// Aggregator assembles the per-request HiveContext from the item store and
// the telemetry cache. It never calls an LLM.
type Aggregator struct {
	store     *store.Store
	telemetry *telemetry.Cache
}

// NewAggregator wires the aggregator to its two read-only sources.
func NewAggregator(st *store.Store, tc *telemetry.Cache) *Aggregator {
	return &Aggregator{store: st, telemetry: tc}
}

// Perceive builds the context for one bid. A missing item is not fatal: the
// snapshot stays empty and the reasoner rejects with ITEM_NOT_FOUND.
func (a *Aggregator) Perceive(ctx context.Context, itemID string, offer NegotiationOffer, requestID string) (*HiveContext, error) {
	start := time.Now()
	defer func() {
		telemetry.StageDuration.WithLabelValues("aggregator_perceive").Observe(time.Since(start).Seconds())
	}()

	hc := &HiveContext{
		ItemID:    itemID,
		Offer:     offer,
		RequestID: requestID,
		Metadata:  make(map[string]string),
	}

	item, err := a.store.GetItem(ctx, itemID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Event("HIVE", "item_missing", map[string]interface{}{
			"request_id": requestID, "item_id": itemID,
		})
	case err != nil:
		return nil, fmt.Errorf("aggregate item %s: %w", itemID, err)
	default:
		hc.Item = snapshotItem(item)
	}

	hc.SystemHealth = a.telemetry.Get(ctx)
	return hc, nil
}

// snapshotItem projects the stored item onto the fields the pipeline uses.
func snapshotItem(it *store.Item) ItemSnapshot {
	snap := ItemSnapshot{
		ID:         it.ID,
		Name:       it.Name,
		BasePrice:  it.BasePrice,
		FloorPrice: it.FloorPrice,
		Meta:       it.Meta,
	}
	if v, ok := it.Meta["internal_cost"]; ok {
		if f, ok := toFloat(v); ok {
			snap.InternalCost = f
		}
	}
	if v, ok := it.Meta["occupancy"].(string); ok {
		snap.Occupancy = v
	}
	if raw, ok := it.Meta["value_add_inventory"].([]interface{}); ok {
		for _, entry := range raw {
			attrs, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			addon := ValueAddon{}
			if s, ok := attrs["item"].(string); ok {
				addon.Item = s
			}
			if f, ok := toFloat(attrs["internal_cost"]); ok {
				addon.InternalCost = f
			}
			if f, ok := toFloat(attrs["perceived_value"]); ok {
				addon.PerceivedValue = f
			}
			if addon.Item != "" {
				snap.Addons = append(snap.Addons, addon)
			}
		}
	}
	return snap
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
