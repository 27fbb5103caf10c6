package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crownfall/internal/notice"
	"crownfall/internal/store"
)

// Step advances the world by exactly one tick. The phase order is a hard
// contract: upkeep sees pre-trade balances, the market prices with
// post-upkeep signals, NPCs decide at post-trade prices, and ranking
// reflects the fully settled tick. The tick becomes durable in a single
// store transaction; a failed commit is retried once, and a second
// failure halts advancement.
func (w *World) Step(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()

	// AdvanceClock.
	w.tick++
	tick := w.tick

	orders := w.pending
	w.pending = nil

	var notices []notice.Notice

	// Upkeep: production credits, then consumption debits and penalties.
	notices = append(notices, w.upkeep.Run(tick, w.orderedCities(), w.led, w.mkt)...)

	// Event engine: expire, spawn, rebuild the multiplier stack.
	eventNotices := w.events.Advance(tick)
	notices = append(notices, eventNotices...)
	mults := w.events.Multipliers()

	// Market: recompute prices from the accumulated signals, then settle
	// the queued player orders at the fresh prices.
	w.mkt.AccumulateOrders(orders)
	w.mkt.Recompute(mults)
	for _, result := range w.mkt.Settle(orders, w.led) {
		name := ""
		if c, ok := w.byID[result.Order.CityID]; ok {
			name = c.Name
		}
		notices = append(notices, result.Notice(tick, name))
		if result.Err != nil {
			w.metrics.TradesFailed.Inc()
		} else {
			w.metrics.TradesSettled.Inc()
		}
	}

	// NPCs decide and act at this tick's prices.
	notices = append(notices, w.npcs.Run(tick, w.orderedCities(), w.led, w.mkt, mults)...)

	// Ranking reflects everything above.
	standings, rankNotices := w.rank.Recompute(tick, w.orderedCities(), w.led)
	notices = append(notices, rankNotices...)

	// A negative balance at this point means a write bypassed the ledger
	// contract. Never commit it.
	if err := w.led.CheckInvariants(); err != nil {
		w.tick--
		return fmt.Errorf("tick %d aborted: %w", tick, err)
	}

	if err := w.commit(tick, notices); err != nil {
		w.tick--
		return err
	}

	w.countNotices(notices)
	w.snapshot.Store(w.buildSnapshot(standings, notices))
	w.metrics.TicksCommitted.Inc()
	w.metrics.CurrentTick.Set(float64(tick))
	w.metrics.ActiveEvents.Set(float64(len(w.events.Active())))
	w.metrics.TickDuration.Observe(time.Since(start).Seconds())

	slog.Info("tick committed",
		"tick", tick,
		"orders", len(orders),
		"notices", len(notices),
		"events", len(w.events.Active()),
		"elapsed", time.Since(start),
	)
	return nil
}

// commit writes the tick state, retrying a failed save once before
// giving up.
func (w *World) commit(tick uint64, notices []notice.Notice) error {
	state := &store.State{
		Tick:     tick,
		Cities:   w.orderedCities(),
		Balances: w.led.Snapshot(),
		Quotes:   w.mkt.Quotes(),
	}
	for _, inst := range w.events.Active() {
		state.Events = append(state.Events, store.EventState{
			Name:      inst.Def.Name,
			Remaining: inst.Remaining,
		})
	}

	err := w.store.SaveTick(state, notices)
	if err == nil {
		return nil
	}

	slog.Warn("tick commit failed, retrying", "tick", tick, "error", err)
	w.metrics.TickRetries.Inc()
	if retryErr := w.store.SaveTick(state, notices); retryErr != nil {
		return fmt.Errorf("tick %d: commit failed after retry: %w", tick, retryErr)
	}
	return nil
}

func (w *World) countNotices(notices []notice.Notice) {
	for _, n := range notices {
		switch n.Kind {
		case notice.KindStarvation:
			w.metrics.Starvations.Inc()
		case notice.KindDesertion:
			w.metrics.Desertions.Inc()
		case notice.KindEvent:
			w.metrics.EventTransitions.Inc()
		}
	}
}

// Run drives the tick loop until the context is cancelled or a fatal
// condition halts advancement. A halted world stays up for reads; it
// just stops moving time forward.
func (w *World) Run(ctx context.Context) error {
	interval := w.cfg.World.TickInterval
	slog.Info("world running", "tick", w.Tick(), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("world stopped", "tick", w.Tick())
			return ctx.Err()
		case <-ticker.C:
			if err := w.Step(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Error("tick advancement halted", "error", err)
				return err
			}
		}
	}
}
