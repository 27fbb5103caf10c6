// Package npc drives the AI cities. Each tick an NPC scores a fixed set
// of candidate actions against its personality vector and the current
// ledger and market state, takes the best feasible one immediately, and
// afterwards nudges its traits based on how things went. The feedback
// step is the only path that mutates traits.
package npc

import (
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"crownfall/internal/city"
	"crownfall/internal/config"
	"crownfall/internal/ledger"
	"crownfall/internal/market"
	"crownfall/internal/notice"
	"crownfall/internal/worldevent"
)

// Action enumerates what an NPC can do in a tick. Behavior varies by
// trait weights over this fixed set; there is no per-personality code.
type Action uint8

const (
	ActionNone Action = iota
	ActionBuyFood
	ActionBuyCheap
	ActionSellSurplus
	ActionBuild
	ActionTrain
	ActionAttack
)

func (a Action) String() string {
	switch a {
	case ActionBuyFood:
		return "buy_food"
	case ActionBuyCheap:
		return "buy_cheap"
	case ActionSellSurplus:
		return "sell_surplus"
	case ActionBuild:
		return "build"
	case ActionTrain:
		return "train"
	case ActionAttack:
		return "attack"
	}
	return "idle"
}

// Engine scores and executes NPC actions. The rng only gates how often an
// NPC speculates on the market (scaled by the world event trade-rate
// multiplier); scoring itself is deterministic.
type Engine struct {
	cfg *config.Config
	rng *rand.Rand
}

// New creates the engine with a seeded roll source.
func New(cfg *config.Config, seed int64) *Engine {
	return &Engine{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Run lets every NPC city act for this tick. Decisions execute
// immediately at the tick's freshly computed prices.
func (e *Engine) Run(tick uint64, cities []*city.City, led *ledger.Ledger, mkt *market.Market, mults worldevent.Multipliers) []notice.Notice {
	var notices []notice.Notice
	for _, c := range cities {
		if c.Kind != city.KindNPC || c.Defeated {
			continue
		}
		speculate := e.rng.Float64() < clamp01(c.Traits.TradeBias*mults.NPCTradeRate)
		action := e.Decide(c, led, mkt, cities, speculate)
		notices = append(notices, e.execute(tick, c, action, led, mkt, cities)...)
	}

	if every := e.cfg.NPC.DecayEvery; every > 0 && tick%every == 0 {
		for _, c := range cities {
			if c.Kind != city.KindNPC {
				continue
			}
			c.Traits.Decay(e.cfg.NPC.TraitBaseline, e.cfg.NPC.DecayRate)
			c.Traits.Clamp(e.cfg.NPC.TraitMin, e.cfg.NPC.TraitMax)
		}
	}
	return notices
}

// Decide scores the candidate actions and returns the highest-scoring
// feasible one. speculate opens the opportunistic market actions; need
// driven actions are always considered.
func (e *Engine) Decide(c *city.City, led *ledger.Ledger, mkt *market.Market, cities []*city.City, speculate bool) Action {
	cfg := e.cfg.NPC
	w := cfg.Weights
	gold := led.Balance(c.ID, e.cfg.World.Currency)

	foodReserve := e.foodReserve(c)
	foodShort := shortfall(led.Balance(c.ID, "food"), foodReserve)
	goldReserve := e.goldReserve(c)
	goldSurplus := surplus(gold, goldReserve)

	best := ActionNone
	bestScore := 0.0
	consider := func(a Action, score float64, feasible bool) {
		if feasible && score > bestScore {
			best, bestScore = a, score
		}
	}

	// Buy food: urgency scales with the shortfall, independent of greed.
	if qty := foodReserve - led.Balance(c.ID, "food"); qty > 0 {
		cost := mkt.UnitPrice("food") * qty
		consider(ActionBuyFood, w.Food*foodShort, gold >= cost)
	}

	if speculate {
		if res, ratio := e.cheapest(mkt); res != "" && ratio < cfg.BuyBelowRatio {
			cost := mkt.UnitPrice(res) * cfg.TradeQty
			score := w.Trade * c.Traits.Greed * (1 - ratio)
			consider(ActionBuyCheap, score, gold-goldReserve >= cost)
		}
		if res, ratio, qty := e.richestSurplus(c, led, mkt); res != "" && ratio > cfg.SellAboveRatio {
			score := w.Trade * c.Traits.Greed * (ratio - 1)
			consider(ActionSellSurplus, score, qty > 0)
		}
	}

	if name := e.chooseBuilding(c, led, foodShort); name != "" {
		consider(ActionBuild, w.Build*goldSurplus*(1-foodShort), true)
	}

	trainCost := cfg.TrainCost * int64(cfg.TrainBatch)
	consider(ActionTrain, w.Train*c.Traits.Risk*goldSurplus, gold-goldReserve >= trainCost)

	if target := e.weakestRival(c, cities); target != nil && c.Troops >= cfg.AttackMinTroops {
		adv := (c.Strength() - target.Strength()) / math.Max(target.Strength(), 1)
		consider(ActionAttack, w.Attack*c.Traits.Risk*clamp01(adv), adv > 0)
	}

	return best
}

func (e *Engine) execute(tick uint64, c *city.City, action Action, led *ledger.Ledger, mkt *market.Market, cities []*city.City) []notice.Notice {
	switch action {
	case ActionBuyFood:
		qty := e.foodReserve(c) - led.Balance(c.ID, "food")
		return e.trade(tick, c, market.Buy, "food", qty, led, mkt)
	case ActionBuyCheap:
		res, _ := e.cheapest(mkt)
		return e.trade(tick, c, market.Buy, res, e.cfg.NPC.TradeQty, led, mkt)
	case ActionSellSurplus:
		res, _, qty := e.richestSurplus(c, led, mkt)
		return e.trade(tick, c, market.Sell, res, qty, led, mkt)
	case ActionBuild:
		return e.build(tick, c, led)
	case ActionTrain:
		return e.train(tick, c, led)
	case ActionAttack:
		if target := e.weakestRival(c, cities); target != nil {
			return e.battle(tick, c, target, led)
		}
	}
	return nil
}

// trade executes a market order immediately and feeds the outcome back
// into the city's traits.
func (e *Engine) trade(tick uint64, c *city.City, side market.Side, res string, qty int64, led *ledger.Ledger, mkt *market.Market) []notice.Notice {
	if qty <= 0 || res == "" {
		return nil
	}
	result := mkt.Execute(market.Order{
		ID:            uuid.New(),
		CityID:        c.ID,
		Resource:      res,
		Side:          side,
		Qty:           qty,
		SubmittedTick: tick,
	}, led)

	def, _ := e.cfg.Resource(res)
	profit := int64(0)
	if result.Err == nil && def != nil {
		base := int64(math.Round(def.BasePrice))
		if base < 1 {
			base = 1
		}
		// Profit relative to base price: selling dear or buying cheap.
		if side == market.Sell {
			profit = (result.UnitPrice - base) * qty
		} else {
			profit = (base - result.UnitPrice) * qty
		}
	}
	if result.Err != nil {
		profit = -1
	}
	e.Feedback(c, profit)

	return []notice.Notice{result.Notice(tick, c.Name)}
}

// Feedback nudges greed and risk after a trade outcome: profit pushes
// both up a small step, loss pulls them down a slightly larger one.
// Traits stay clamped to their configured bounds.
func (e *Engine) Feedback(c *city.City, profit int64) {
	cfg := e.cfg.NPC
	var delta float64
	switch {
	case profit > 0:
		delta = cfg.FeedbackStep
	case profit < 0:
		delta = -cfg.LossStep
	default:
		return
	}
	c.Traits.Greed += delta
	c.Traits.Risk += delta
	c.Traits.Clamp(cfg.TraitMin, cfg.TraitMax)
}

func (e *Engine) build(tick uint64, c *city.City, led *ledger.Ledger) []notice.Notice {
	foodShort := shortfall(led.Balance(c.ID, "food"), e.foodReserve(c))
	name := e.chooseBuilding(c, led, foodShort)
	if name == "" {
		return nil
	}
	def := e.cfg.Buildings[name]

	// Pay every cost leg; a failed leg refunds the ones already paid so
	// the build either fully happens or not at all.
	var paid []struct {
		res string
		amt int64
	}
	for _, res := range sortedCostKeys(def.Cost) {
		amt := def.Cost[res]
		if err := led.Debit(c.ID, res, amt); err != nil {
			for _, p := range paid {
				led.Credit(c.ID, p.res, p.amt)
			}
			return nil
		}
		paid = append(paid, struct {
			res string
			amt int64
		}{res, amt})
	}

	c.Buildings[name]++
	return []notice.Notice{notice.Cityf(tick, notice.KindCity, c.ID,
		"%s raises its %s to level %d", c.Name, name, c.Buildings[name])}
}

func (e *Engine) train(tick uint64, c *city.City, led *ledger.Ledger) []notice.Notice {
	cfg := e.cfg.NPC
	cost := cfg.TrainCost * int64(cfg.TrainBatch)
	if err := led.Debit(c.ID, e.cfg.World.Currency, cost); err != nil {
		return nil
	}
	c.Troops += cfg.TrainBatch
	return []notice.Notice{notice.Cityf(tick, notice.KindCity, c.ID,
		"%s trains %d soldiers", c.Name, cfg.TrainBatch)}
}

// battle applies the deterministic outcome contract: higher effective
// strength wins, ties go to the defender. The winner loots a configured
// fraction of the loser's currency through the ledger; loot moves
// atomically or not at all.
func (e *Engine) battle(tick uint64, attacker, defender *city.City, led *ledger.Ledger) []notice.Notice {
	cfg := e.cfg.NPC
	attackerWins := attacker.Strength() > defender.Strength()

	winner, loser := defender, attacker
	if attackerWins {
		winner, loser = attacker, defender
	}

	loot := int64(float64(led.Balance(loser.ID, e.cfg.World.Currency)) * cfg.AttackLootFraction)
	if loot > 0 {
		if err := led.Transfer(loser.ID, winner.ID, e.cfg.World.Currency, loot); err != nil {
			loot = 0
		}
	}

	loserLoss := int(float64(loser.Troops) * cfg.AttackLossFraction)
	winnerLoss := int(float64(winner.Troops) * cfg.AttackLossFraction / 2)
	loser.Troops -= loserLoss
	winner.Troops -= winnerLoss
	winner.BattlesWon++

	step := cfg.FeedbackStep
	winner.Traits.Risk += step
	loser.Traits.Risk -= cfg.LossStep
	winner.Traits.Clamp(cfg.TraitMin, cfg.TraitMax)
	loser.Traits.Clamp(cfg.TraitMin, cfg.TraitMax)

	return []notice.Notice{notice.Worldf(tick, notice.KindBattle,
		"%s marches on %s: %s prevails, looting %d %s",
		attacker.Name, defender.Name, winner.Name, loot, e.cfg.World.Currency)}
}

// foodReserve is how much food the NPC tries to keep on hand: a few
// ticks' worth of population upkeep.
func (e *Engine) foodReserve(c *city.City) int64 {
	perTick := math.Ceil(float64(c.Population) * e.cfg.Upkeep.FoodPerPerson)
	return int64(perTick) * int64(e.cfg.NPC.ReserveTicks)
}

func (e *Engine) goldReserve(c *city.City) int64 {
	perTick := math.Ceil(float64(c.Troops)*e.cfg.Upkeep.GoldPerSoldier +
		float64(c.Spies)*e.cfg.Upkeep.GoldPerSpy)
	return int64(perTick) * int64(e.cfg.NPC.ReserveTicks)
}

// cheapest finds the tradable resource with the lowest price relative to
// its base price.
func (e *Engine) cheapest(mkt *market.Market) (string, float64) {
	best, bestRatio := "", math.Inf(1)
	for _, q := range mkt.Quotes() {
		def, ok := e.cfg.Resource(q.Resource)
		if !ok {
			continue
		}
		ratio := q.Price / def.BasePrice
		if ratio < bestRatio {
			best, bestRatio = q.Resource, ratio
		}
	}
	return best, bestRatio
}

// richestSurplus finds the held resource it would be most profitable to
// sell, keeping the food reserve intact.
func (e *Engine) richestSurplus(c *city.City, led *ledger.Ledger, mkt *market.Market) (string, float64, int64) {
	cfg := e.cfg.NPC
	best, bestRatio, bestQty := "", 0.0, int64(0)
	for _, q := range mkt.Quotes() {
		def, ok := e.cfg.Resource(q.Resource)
		if !ok {
			continue
		}
		held := led.Balance(c.ID, q.Resource)
		if q.Resource == "food" {
			held -= e.foodReserve(c)
		}
		qty := int64(float64(held) * cfg.SellFraction)
		if qty <= 0 {
			continue
		}
		ratio := q.Price / def.BasePrice
		if ratio > bestRatio {
			best, bestRatio, bestQty = q.Resource, ratio, qty
		}
	}
	return best, bestRatio, bestQty
}

// chooseBuilding picks what to construct: farms when food is tight,
// otherwise the first affordable building under its level cap.
func (e *Engine) chooseBuilding(c *city.City, led *ledger.Ledger, foodShort float64) string {
	affordable := func(name string) bool {
		def, ok := e.cfg.Buildings[name]
		if !ok {
			return false
		}
		if def.MaxLevel > 0 && c.Buildings[name] >= def.MaxLevel {
			return false
		}
		for res, amt := range def.Cost {
			if led.Balance(c.ID, res) < amt {
				return false
			}
		}
		return true
	}

	if foodShort > 0.5 && affordable("farm") {
		return "farm"
	}
	for _, name := range sortedBuildingNames(e.cfg.Buildings) {
		if affordable(name) {
			return name
		}
	}
	return ""
}

// weakestRival returns the live city with the lowest strength, excluding
// the NPC itself.
func (e *Engine) weakestRival(c *city.City, cities []*city.City) *city.City {
	var weakest *city.City
	for _, other := range cities {
		if other.ID == c.ID || other.Defeated {
			continue
		}
		if weakest == nil || other.Strength() < weakest.Strength() ||
			(other.Strength() == weakest.Strength() && other.ID < weakest.ID) {
			weakest = other
		}
	}
	return weakest
}

func shortfall(have, want int64) float64 {
	if want <= 0 {
		return 0
	}
	return clamp01(1 - float64(have)/float64(want))
}

func surplus(have, reserve int64) float64 {
	if have <= reserve {
		return 0
	}
	return clamp01(float64(have-reserve) / math.Max(float64(reserve), 1))
}

func sortedCostKeys(costs map[string]int64) []string {
	keys := make([]string, 0, len(costs))
	for k := range costs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedBuildingNames(defs map[string]config.BuildingDef) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
