package observability

import (
	"log/slog"

	"perkledger/core/events"
)

// Emitter forwards ledger events to the wrapped emitter while feeding the
// metrics registry and the structured log. It is the emitter wired into every
// engine in the served process.
type Emitter struct {
	next   events.Emitter
	logger *slog.Logger
}

// NewEmitter wraps next; a nil next drops events after observation.
func NewEmitter(next events.Emitter, logger *slog.Logger) *Emitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{next: next, logger: logger}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(event events.Event) {
	m := Metrics()
	switch event.EventType() {
	case events.TypeTradeSettled:
		m.TradesSettled.Inc()
	case events.TypeSuspiciousActivity:
		m.DiscountsClipped.Inc()
	case events.TypeBadgeUnlocked:
		m.BadgesUnlocked.Inc()
	case events.TypeFarmingHarvested:
		m.HarvestsPaid.Inc()
	}
	e.logger.Debug("ledger event", "type", event.EventType())
	e.next.Emit(event)
}
