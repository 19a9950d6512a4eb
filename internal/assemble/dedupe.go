package assemble

import (
	"fmt"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
)

// Deduper keeps the first plan seen for every natural key. One Deduper
// spans every batch it is given, in order.
type Deduper struct {
	seen map[model.NaturalKey]model.Plan
	log  *logger.Logger
}

// NewDeduper creates an empty deduper
func NewDeduper(log *logger.Logger) *Deduper {
	if log == nil {
		log = logger.Nop()
	}
	return &Deduper{seen: make(map[model.NaturalKey]model.Plan), log: log}
}

// Keep returns the plans of batch whose key has not been kept before.
// Repeats at the same price count as duplicates, at another price as
// collisions.
func (d *Deduper) Keep(batch []model.Plan) (kept []model.Plan, collisions, duplicates int) {
	for _, plan := range batch {
		first, ok := d.seen[plan.Key]
		if !ok {
			d.seen[plan.Key] = plan
			kept = append(kept, plan)
			continue
		}

		if first.SettlementPrice.Equal(plan.SettlementPrice) {
			duplicates++
			continue
		}

		collisions++
		msg := fmt.Sprintf("%s: kept %s, discarded %s", plan.Key.Label,
			first.SettlementPrice.StringFixed(2), plan.SettlementPrice.StringFixed(2))
		d.log.Warn().
			Err(errors.NewCollision(plan.Key.Provider, msg).WithCountry(plan.Key.Country)).
			Str("key", plan.Key.String()).
			Msg("Natural key collision")
	}
	return kept, collisions, duplicates
}
