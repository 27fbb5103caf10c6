package npc_test

import (
	"testing"

	"crownfall/internal/city"
	"crownfall/internal/config"
	"crownfall/internal/ledger"
	"crownfall/internal/market"
	"crownfall/internal/npc"
	"crownfall/internal/worldevent"
)

func setup(t *testing.T) (*npc.Engine, *config.Config, *ledger.Ledger, *market.Market) {
	t.Helper()
	cfg := config.Default()
	led := ledger.New(cfg.World.Currency)
	mkt := market.New(cfg)
	mkt.Recompute(worldevent.None())
	return npc.New(cfg, 1), cfg, led, mkt
}

func npcCity(id int64, greed, risk float64) *city.City {
	c := city.New(id, "Testhold", city.KindNPC)
	c.Traits = city.Traits{Greed: greed, Risk: risk, TradeBias: 0.5}
	return c
}

// A hungry city buys food before anything else, no matter how greedy or
// wealthy it is.
func TestHungryCityBuysFoodFirst(t *testing.T) {
	eng, _, led, mkt := setup(t)
	c := npcCity(1, 0.9, 0.9)
	led.Credit(1, "gold", 10_000)

	got := eng.Decide(c, led, mkt, []*city.City{c}, false)
	if got != npc.ActionBuyFood {
		t.Fatalf("decision: got %v, want %v", got, npc.ActionBuyFood)
	}
}

func TestFedRiskyCityTrains(t *testing.T) {
	eng, _, led, mkt := setup(t)
	c := npcCity(1, 0.2, 0.9)
	led.Credit(1, "gold", 10_000)
	led.Credit(1, "food", 1_000) // Well past the reserve

	got := eng.Decide(c, led, mkt, []*city.City{c}, false)
	if got != npc.ActionTrain {
		t.Fatalf("decision: got %v, want %v", got, npc.ActionTrain)
	}
}

func TestSpeculatorSellsIntoHighPrices(t *testing.T) {
	eng, _, led, mkt := setup(t)
	c := npcCity(1, 0.9, 0)
	led.Credit(1, "food", 1_000)
	led.Credit(1, "iron", 400)

	mults := worldevent.None()
	mults.Resource["iron"] = 1.5
	mkt.Recompute(mults)

	got := eng.Decide(c, led, mkt, []*city.City{c}, true)
	if got != npc.ActionSellSurplus {
		t.Fatalf("decision: got %v, want %v", got, npc.ActionSellSurplus)
	}

	// Without the speculation roll the same state does nothing.
	if got := eng.Decide(c, led, mkt, []*city.City{c}, false); got == npc.ActionSellSurplus {
		t.Fatal("sell decided without speculation")
	}
}

func TestSpeculatorBuysIntoSlump(t *testing.T) {
	eng, _, led, mkt := setup(t)
	c := npcCity(1, 0.9, 0)
	led.Credit(1, "gold", 10_000)
	led.Credit(1, "food", 1_000)

	mults := worldevent.None()
	mults.GlobalPrice = 0.5
	mkt.Recompute(mults)

	got := eng.Decide(c, led, mkt, []*city.City{c}, true)
	if got != npc.ActionBuyCheap {
		t.Fatalf("decision: got %v, want %v", got, npc.ActionBuyCheap)
	}
}

func TestBrokeCityDoesNothing(t *testing.T) {
	eng, _, led, mkt := setup(t)
	c := npcCity(1, 0.5, 0.5)
	led.Credit(1, "food", 1_000)

	got := eng.Decide(c, led, mkt, []*city.City{c}, false)
	if got != npc.ActionNone {
		t.Fatalf("decision: got %v, want %v", got, npc.ActionNone)
	}
}

func TestFeedbackKeepsTraitsInBounds(t *testing.T) {
	eng, cfg, _, _ := setup(t)
	c := npcCity(1, 0.5, 0.5)

	for i := 0; i < 200; i++ {
		eng.Feedback(c, 1)
	}
	if c.Traits.Greed > cfg.NPC.TraitMax || c.Traits.Risk > cfg.NPC.TraitMax {
		t.Fatalf("traits escaped upper bound: %+v", c.Traits)
	}
	if c.Traits.Greed != cfg.NPC.TraitMax {
		t.Fatalf("greed should sit at max after sustained profit: %v", c.Traits.Greed)
	}

	for i := 0; i < 400; i++ {
		eng.Feedback(c, -1)
	}
	if c.Traits.Greed < cfg.NPC.TraitMin || c.Traits.Risk < cfg.NPC.TraitMin {
		t.Fatalf("traits escaped lower bound: %+v", c.Traits)
	}
	if c.Traits.Greed != cfg.NPC.TraitMin {
		t.Fatalf("greed should sit at min after sustained loss: %v", c.Traits.Greed)
	}

	// Break-even outcomes leave traits alone.
	before := c.Traits
	eng.Feedback(c, 0)
	if c.Traits != before {
		t.Fatalf("neutral feedback changed traits: %+v -> %+v", before, c.Traits)
	}
}

func TestTraitDecayPullsTowardBaseline(t *testing.T) {
	cfg := config.Default()
	cfg.NPC.DecayEvery = 1
	cfg.NPC.DecayRate = 0.5
	led := ledger.New(cfg.World.Currency)
	mkt := market.New(cfg)
	mkt.Recompute(worldevent.None())
	eng := npc.New(cfg, 1)

	c := npcCity(1, 1.0, 0.0)
	c.Defeated = true // No action this tick, only the decay pass

	eng.Run(1, []*city.City{c}, led, mkt, worldevent.None())

	if c.Traits.Greed != 0.75 {
		t.Fatalf("greed after decay: got %v, want 0.75", c.Traits.Greed)
	}
	if c.Traits.Risk != 0.25 {
		t.Fatalf("risk after decay: got %v, want 0.25", c.Traits.Risk)
	}
}

func TestBattleOutcomeIsDeterministic(t *testing.T) {
	cfg := config.Default()
	led := ledger.New(cfg.World.Currency)
	mkt := market.New(cfg)
	mkt.Recompute(worldevent.None())
	eng := npc.New(cfg, 1)

	attacker := npcCity(1, 0.5, 1.0)
	attacker.Troops = 100 // Strength 120
	defender := npcCity(2, 0.5, 0.0)
	defender.Troops = 50 // Strength 50
	led.Credit(1, "gold", 550) // Below the training threshold
	led.Credit(1, "food", 10_000)
	led.Credit(2, "gold", 1_000)
	led.Credit(2, "food", 10_000)

	cities := []*city.City{attacker, defender}
	if got := eng.Decide(attacker, led, mkt, cities, false); got != npc.ActionAttack {
		t.Fatalf("decision: got %v, want %v", got, npc.ActionAttack)
	}

	eng.Run(1, cities, led, mkt, worldevent.None())

	// 20% of the loser's 1000 gold moves to the winner.
	if got := led.Balance(1, "gold"); got != 750 {
		t.Fatalf("attacker gold after loot: got %d, want 750", got)
	}
	if got := led.Balance(2, "gold"); got != 800 {
		t.Fatalf("defender gold after loot: got %d, want 800", got)
	}
	// Loser sheds 15% of troops, winner half that rate.
	if defender.Troops != 43 {
		t.Fatalf("defender troops: got %d, want 43", defender.Troops)
	}
	if attacker.Troops != 93 {
		t.Fatalf("attacker troops: got %d, want 93", attacker.Troops)
	}
	if attacker.BattlesWon != 1 {
		t.Fatalf("battles won: got %d, want 1", attacker.BattlesWon)
	}
}

func TestTiesGoToDefender(t *testing.T) {
	cfg := config.Default()
	led := ledger.New(cfg.World.Currency)
	mkt := market.New(cfg)
	eng := npc.New(cfg, 1)

	attacker := npcCity(1, 0.5, 0.5)
	attacker.Troops = 60
	defender := npcCity(2, 0.5, 0.5)
	defender.Troops = 60

	// Equal strength: the advantage is zero, so the attack is never
	// chosen in the first place.
	mkt.Recompute(worldevent.None())
	led.Credit(1, "food", 10_000)
	if got := eng.Decide(attacker, led, mkt, []*city.City{attacker, defender}, false); got == npc.ActionAttack {
		t.Fatal("attack chosen with no strength advantage")
	}
}
