// Package market is the global price-discovery and trade-settlement
// engine. Prices are recomputed once per tick from the accumulated
// demand/supply signals and the active event multiplier stack; every
// trade within a tick settles at that same freshly computed price.
package market

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"crownfall/internal/config"
	"crownfall/internal/ledger"
	"crownfall/internal/notice"
	"crownfall/internal/worldevent"
)

// Side is the direction of a trade order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// ParseSide maps the wire form ("buy"/"sell") to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown order side %q", s)
}

// Order is one submitted trade. Orders are ephemeral: matched or failed
// within the tick they reach the market, never queued across ticks.
type Order struct {
	ID            uuid.UUID `json:"id"`
	CityID        int64     `json:"city_id"`
	Resource      string    `json:"resource"`
	Side          Side      `json:"side"`
	Qty           int64     `json:"qty"`
	SubmittedTick uint64    `json:"submitted_tick"`
	Seq           uint64    `json:"seq"` // Submission order within the world
}

// TradeResult reports how one order settled.
type TradeResult struct {
	Order     Order
	UnitPrice int64
	Total     int64
	Err       error
}

// Quote is the market state for one resource.
type Quote struct {
	Resource string  `json:"resource"`
	Price    float64 `json:"price"`
	Volume   int64   `json:"volume"` // Units settled this tick
	Supply   int64   `json:"supply"` // World supply counter
}

// Market holds per-resource quotes and the signal accumulators feeding
// the next recompute. It is driven only from the tick goroutine; readers
// get published snapshots.
type Market struct {
	cfg      *config.Config
	currency string

	quotes    map[string]*Quote
	names     []string // Tradable resources in stable order
	demandSig map[string]int64
	supplySig map[string]int64
}

// New creates a market with every tradable resource quoted at its base
// price and base supply.
func New(cfg *config.Config) *Market {
	m := &Market{
		cfg:       cfg,
		currency:  cfg.World.Currency,
		quotes:    make(map[string]*Quote),
		demandSig: make(map[string]int64),
		supplySig: make(map[string]int64),
	}
	for _, def := range cfg.Resources {
		if def.Currency {
			continue
		}
		m.quotes[def.Name] = &Quote{
			Resource: def.Name,
			Price:    def.BasePrice,
			Supply:   def.BaseSupply,
		}
		m.names = append(m.names, def.Name)
	}
	sort.Strings(m.names)
	return m
}

// ReportConsumption feeds upkeep's consumption into the demand signal and
// moves the world supply counter.
func (m *Market) ReportConsumption(resource string, qty int64) {
	q, ok := m.quotes[resource]
	if !ok || qty <= 0 {
		return
	}
	m.demandSig[resource] += qty
	q.Supply -= qty
	if q.Supply < 0 {
		q.Supply = 0
	}
}

// ReportProduction feeds production output into the supply signal and
// moves the world supply counter.
func (m *Market) ReportProduction(resource string, qty int64) {
	q, ok := m.quotes[resource]
	if !ok || qty <= 0 {
		return
	}
	m.supplySig[resource] += qty
	q.Supply += qty
}

// AccumulateOrders adds a tick's submitted orders to the pricing signals
// ahead of the recompute.
func (m *Market) AccumulateOrders(orders []Order) {
	for _, o := range orders {
		if _, ok := m.quotes[o.Resource]; !ok {
			continue
		}
		switch o.Side {
		case Buy:
			m.demandSig[o.Resource] += o.Qty
		case Sell:
			m.supplySig[o.Resource] += o.Qty
		}
	}
}

// Recompute derives every price from its base price, the accumulated
// signals, and the multiplier stack, then clamps to the configured band.
// Signals and per-tick volume reset afterwards; trades settled later in
// the tick accumulate toward the next recompute.
func (m *Market) Recompute(mults worldevent.Multipliers) {
	for _, name := range m.names {
		def, _ := m.cfg.Resource(name)
		q := m.quotes[name]

		signal := float64(m.demandSig[name]-m.supplySig[name]) / def.Scale
		price := def.BasePrice * (1 + def.Volatility*signal) * mults.For(name)

		floor := def.BasePrice * def.FloorMult
		ceiling := def.BasePrice * def.CeilingMult
		if price < floor {
			price = floor
		}
		if price > ceiling {
			price = ceiling
		}

		q.Price = price
		q.Volume = 0
		m.demandSig[name] = 0
		m.supplySig[name] = 0
	}
}

// UnitPrice is the integer settlement price per unit: the current quote
// rounded to the nearest whole unit of currency, never below one.
func (m *Market) UnitPrice(resource string) int64 {
	q, ok := m.quotes[resource]
	if !ok {
		return 0
	}
	unit := int64(math.Round(q.Price))
	if unit < 1 {
		unit = 1
	}
	return unit
}

// Settle executes a batch of orders in submission order, ties broken by
// city ID. Every order fully executes against the ledger or fails
// outright; there are no partial fills. The batch was already fed to
// AccumulateOrders, so settlement does not count it a second time.
func (m *Market) Settle(orders []Order, led *ledger.Ledger) []TradeResult {
	sorted := make([]Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Seq != sorted[j].Seq {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].CityID < sorted[j].CityID
	})

	results := make([]TradeResult, 0, len(sorted))
	for _, o := range sorted {
		results = append(results, m.execute(o, led, true))
	}
	return results
}

// Execute settles a single order at the current tick price. NPC orders
// take this path directly so their decisions apply within the same tick;
// the order feeds the next recompute's signals here, having skipped
// AccumulateOrders.
func (m *Market) Execute(o Order, led *ledger.Ledger) TradeResult {
	return m.execute(o, led, false)
}

func (m *Market) execute(o Order, led *ledger.Ledger, accumulated bool) TradeResult {
	q, ok := m.quotes[o.Resource]
	if !ok {
		return TradeResult{Order: o, Err: fmt.Errorf("resource %q is not traded", o.Resource)}
	}
	if o.Qty <= 0 {
		return TradeResult{Order: o, Err: fmt.Errorf("order quantity must be positive, got %d", o.Qty)}
	}

	unit := m.UnitPrice(o.Resource)
	if o.Qty > math.MaxInt64/unit {
		return TradeResult{Order: o, UnitPrice: unit,
			Err: fmt.Errorf("order total overflows: %d units at %d each", o.Qty, unit)}
	}
	total := unit * o.Qty
	res := TradeResult{Order: o, UnitPrice: unit, Total: total}

	switch o.Side {
	case Buy:
		if err := led.Debit(o.CityID, m.currency, total); err != nil {
			res.Err = err
			return res
		}
		led.Credit(o.CityID, o.Resource, o.Qty)
		q.Supply -= o.Qty
		if q.Supply < 0 {
			q.Supply = 0
		}
		if !accumulated {
			m.demandSig[o.Resource] += o.Qty
		}
	case Sell:
		if err := led.Debit(o.CityID, o.Resource, o.Qty); err != nil {
			res.Err = err
			return res
		}
		led.Credit(o.CityID, m.currency, total)
		q.Supply += o.Qty
		if !accumulated {
			m.supplySig[o.Resource] += o.Qty
		}
	}

	q.Volume += o.Qty
	return res
}

// Quotes returns a copy of every quote, sorted by resource name.
func (m *Market) Quotes() []Quote {
	out := make([]Quote, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, *m.quotes[name])
	}
	return out
}

// RestoreQuote loads persisted market state. Only the recovery path uses
// this.
func (m *Market) RestoreQuote(resource string, price float64, volume, supply int64) {
	q, ok := m.quotes[resource]
	if !ok {
		return
	}
	q.Price = price
	q.Volume = volume
	q.Supply = supply
}

// Notice renders a settlement result as a player-facing notice.
func (r TradeResult) Notice(tick uint64, cityName string) notice.Notice {
	o := r.Order
	if r.Err != nil {
		return notice.Cityf(tick, notice.KindTradeFailed, o.CityID,
			"%s could not %s %d %s: %v", cityName, o.Side, o.Qty, o.Resource, r.Err)
	}
	return notice.Cityf(tick, notice.KindTrade, o.CityID,
		"%s %ss %d %s @ %d (total %d)", cityName, o.Side, o.Qty, o.Resource, r.UnitPrice, r.Total)
}
