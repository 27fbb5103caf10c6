// Package sim owns the world: it wires the ledger, market, event, NPC,
// and ranking engines together and advances them in a fixed order once
// per tick. All shared mutable state lives here or in the components it
// holds; readers see immutable published snapshots.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"crownfall/internal/city"
	"crownfall/internal/config"
	"crownfall/internal/ledger"
	"crownfall/internal/market"
	"crownfall/internal/notice"
	"crownfall/internal/npc"
	"crownfall/internal/observability"
	"crownfall/internal/ranking"
	"crownfall/internal/store"
	"crownfall/internal/upkeep"
	"crownfall/internal/worldevent"
)

// Store is the persistence surface the world drives. *store.Store
// implements it; tests substitute failing variants to exercise the
// commit contract.
type Store interface {
	Load() (*store.State, error)
	SaveTick(st *store.State, notices []notice.Notice) error
	RecentNotices(limit int) ([]notice.Notice, error)
}

// World holds the complete game state and the engines that advance it.
// A single goroutine drives ticks; submissions and registrations
// serialize on the world lock and land between ticks.
type World struct {
	cfg     *config.Config
	store   Store
	led     *ledger.Ledger
	mkt     *market.Market
	events  *worldevent.Engine
	upkeep  *upkeep.Pass
	npcs    *npc.Engine
	rank    *ranking.Engine
	metrics *observability.Metrics

	mu      sync.Mutex
	cities  []*city.City
	byID    map[int64]*city.City
	nextID  int64
	tick    uint64
	seq     uint64
	pending []market.Order

	snapshot atomic.Pointer[Snapshot]
}

// Snapshot is the immutable view published after each committed tick.
// Read-only queries are served from it without touching live state.
type Snapshot struct {
	Tick        uint64                      `json:"tick"`
	Currency    string                      `json:"currency"`
	Quotes      []market.Quote              `json:"quotes"`
	Leaderboard []ranking.Standing          `json:"leaderboard"`
	Events      []EventView                 `json:"events"`
	Cities      []CityView                  `json:"cities"`
	Balances    map[int64]map[string]int64  `json:"balances"`
	Notices     []notice.Notice             `json:"notices"` // This tick's diff, in emission order
}

// EventView is an active world event as shown to readers.
type EventView struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
	Message   string `json:"message"`
}

// CityView is the public face of a city.
type CityView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Population int    `json:"population"`
	Troops     int    `json:"troops"`
	Prestige   int64  `json:"prestige"`
	Defeated   bool   `json:"defeated"`
}

// New builds a world from the last committed state in the store, or
// bootstraps a fresh one from configuration when the store is empty.
func New(cfg *config.Config, st Store, metrics *observability.Metrics) (*World, error) {
	w := &World{
		cfg:     cfg,
		store:   st,
		led:     ledger.New(cfg.World.Currency),
		mkt:     market.New(cfg),
		events:  worldevent.New(cfg.Events, cfg.World.Seed),
		upkeep:  upkeep.New(cfg),
		npcs:    npc.New(cfg, cfg.World.Seed+1),
		rank:    ranking.New(cfg),
		metrics: metrics,
		byID:    make(map[int64]*city.City),
		nextID:  1,
	}

	state, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("restore world: %w", err)
	}

	if len(state.Cities) == 0 {
		w.bootstrap()
	} else {
		w.restore(state)
	}

	standings, _ := w.rank.Recompute(w.tick, w.orderedCities(), w.led)
	w.snapshot.Store(w.buildSnapshot(standings, nil))
	return w, nil
}

// bootstrap creates the configured NPC roster with starting balances.
func (w *World) bootstrap() {
	for _, def := range w.cfg.NPC.Cities {
		c := w.register(def.Name, city.KindNPC)
		c.Traits = city.Traits{Greed: def.Greed, Risk: def.Risk, TradeBias: def.TradeBias}
		c.Traits.Clamp(w.cfg.NPC.TraitMin, w.cfg.NPC.TraitMax)
		c.Spies = def.Spies
	}
}

func (w *World) restore(state *store.State) {
	w.tick = state.Tick
	for _, c := range state.Cities {
		w.cities = append(w.cities, c)
		w.byID[c.ID] = c
		if c.ID >= w.nextID {
			w.nextID = c.ID + 1
		}
	}
	for cityID, balances := range state.Balances {
		for res, bal := range balances {
			w.led.Restore(cityID, res, bal)
		}
	}
	for _, q := range state.Quotes {
		w.mkt.RestoreQuote(q.Resource, q.Price, q.Volume, q.Supply)
	}
	for _, e := range state.Events {
		w.events.Restore(e.Name, e.Remaining)
	}
}

// register creates a city and credits its starting balances. Callers
// hold the world lock (or are running before the world starts).
func (w *World) register(name string, kind city.Kind) *city.City {
	c := city.New(w.nextID, name, kind)
	w.nextID++
	w.cities = append(w.cities, c)
	w.byID[c.ID] = c
	for _, def := range w.cfg.Resources {
		if def.StartingAmount > 0 {
			w.led.Credit(c.ID, def.Name, def.StartingAmount)
		}
	}
	return c
}

// Register adds a player or NPC city between ticks.
func (w *World) Register(name string, kind city.Kind) (CityView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if name == "" {
		return CityView{}, fmt.Errorf("register: city name is empty")
	}
	for _, c := range w.cities {
		if c.Name == name {
			return CityView{}, fmt.Errorf("register: city %q already exists", name)
		}
	}
	c := w.register(name, kind)
	return cityView(c), nil
}

// SubmitOrder queues a player trade for the next tick's market phase.
// Orders accepted here are never cancelled; they settle or fail inside
// the tick that consumes them.
func (w *World) SubmitOrder(cityID int64, resource, side string, qty int64) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.byID[cityID]
	if !ok {
		w.metrics.OrdersRejected.Inc()
		return uuid.Nil, fmt.Errorf("submit order: unknown city %d", cityID)
	}
	if c.Defeated {
		w.metrics.OrdersRejected.Inc()
		return uuid.Nil, fmt.Errorf("submit order: %s has been defeated", c.Name)
	}
	if !w.cfg.Tradable(resource) {
		w.metrics.OrdersRejected.Inc()
		return uuid.Nil, fmt.Errorf("submit order: resource %q is not traded", resource)
	}
	if qty <= 0 {
		w.metrics.OrdersRejected.Inc()
		return uuid.Nil, fmt.Errorf("submit order: quantity must be positive, got %d", qty)
	}
	parsedSide, err := market.ParseSide(side)
	if err != nil {
		w.metrics.OrdersRejected.Inc()
		return uuid.Nil, fmt.Errorf("submit order: %w", err)
	}

	w.seq++
	order := market.Order{
		ID:            uuid.New(),
		CityID:        cityID,
		Resource:      resource,
		Side:          parsedSide,
		Qty:           qty,
		SubmittedTick: w.tick + 1,
		Seq:           w.seq,
	}
	w.pending = append(w.pending, order)
	w.metrics.OrdersQueued.Inc()
	return order.ID, nil
}

// Snapshot returns the view of the last committed tick.
func (w *World) Snapshot() *Snapshot {
	return w.snapshot.Load()
}

// RecentNotices serves the persisted notice feed.
func (w *World) RecentNotices(limit int) ([]notice.Notice, error) {
	return w.store.RecentNotices(limit)
}

// Tick returns the current committed tick.
func (w *World) Tick() uint64 {
	return w.Snapshot().Tick
}

func (w *World) buildSnapshot(standings []ranking.Standing, notices []notice.Notice) *Snapshot {
	events := make([]EventView, 0)
	for _, inst := range w.events.Active() {
		events = append(events, EventView{
			Name:      inst.Def.Name,
			Remaining: inst.Remaining,
			Message:   inst.Def.Message,
		})
	}

	views := make([]CityView, 0, len(w.cities))
	for _, c := range w.orderedCities() {
		views = append(views, cityView(c))
	}

	if notices == nil {
		notices = []notice.Notice{}
	}
	return &Snapshot{
		Tick:        w.tick,
		Currency:    w.cfg.World.Currency,
		Quotes:      w.mkt.Quotes(),
		Leaderboard: standings,
		Events:      events,
		Cities:      views,
		Balances:    w.led.Snapshot(),
		Notices:     notices,
	}
}

func (w *World) orderedCities() []*city.City {
	ordered := make([]*city.City, len(w.cities))
	copy(ordered, w.cities)
	city.SortByID(ordered)
	return ordered
}

func cityView(c *city.City) CityView {
	return CityView{
		ID:         c.ID,
		Name:       c.Name,
		Kind:       c.Kind.String(),
		Population: c.Population,
		Troops:     c.Troops,
		Prestige:   c.Prestige,
		Defeated:   c.Defeated,
	}
}
