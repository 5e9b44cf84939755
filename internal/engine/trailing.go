package engine

import "spotbot-core/internal/model"

// effectiveStop combines the fixed stop-loss with an optional armed
// trailing stop, per spec.md §4.E sell-path step 4. The trailing stop
// arms once the high-water mark clears purchasePrice by armPct and,
// once armed, only ever raises the stop above the fixed floor.
func effectiveStop(settings model.Settings, purchasePrice, highWaterMark, initialStop float64) float64 {
	if !settings.UseTrailingStop {
		return initialStop
	}
	armed := highWaterMark > purchasePrice*(1+settings.TrailingStopArmPct/100)
	if !armed {
		return initialStop
	}
	trailing := highWaterMark * (1 - settings.TrailingStopOffPct/100)
	if trailing > initialStop {
		return trailing
	}
	return initialStop
}
