// Package config loads and validates the world definition: resources,
// buildings, upkeep rates, world events, NPC personalities, and prestige
// weights. Configuration is read-only after load; the simulation never
// writes it back.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError is fatal at load time. A process with an invalid world
// definition does not start.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func errf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config is the complete world definition.
type Config struct {
	World     WorldConfig            `yaml:"world"`
	Resources []ResourceDef          `yaml:"resources"`
	Buildings map[string]BuildingDef `yaml:"buildings"`
	Upkeep    UpkeepConfig           `yaml:"upkeep"`
	Events    []EventDef             `yaml:"events"`
	NPC       NPCConfig              `yaml:"npc"`
	Prestige  PrestigeConfig         `yaml:"prestige"`

	byName map[string]*ResourceDef
}

// WorldConfig holds process-level settings.
type WorldConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"` // Wall-clock time per tick
	Seed         int64         `yaml:"seed"`          // Drives event rolls, NPC rolls, yield noise
	DBPath       string        `yaml:"db_path"`
	ListenAddr   string        `yaml:"listen_addr"`
	Currency     string        `yaml:"currency"` // Resource that settles trades and wages
}

// ResourceDef is the canonical definition of one resource type.
type ResourceDef struct {
	Name           string  `yaml:"name"`
	BasePrice      float64 `yaml:"base_price"`
	BaseSupply     int64   `yaml:"base_supply"`
	Volatility     float64 `yaml:"volatility"`  // k in the pricing formula
	Scale          float64 `yaml:"scale"`       // Signal scale in the pricing formula
	FloorMult      float64 `yaml:"floor_mult"`  // Price band floor as multiple of base
	CeilingMult    float64 `yaml:"ceiling_mult"`// Price band ceiling as multiple of base
	StartingAmount int64   `yaml:"starting_amount"`
	PrestigeWeight float64 `yaml:"prestige_weight"`
	Currency       bool    `yaml:"currency"` // Currency is not traded on the market
}

// BuildingDef defines per-level cost, upkeep, and output for one building.
type BuildingDef struct {
	Cost       map[string]int64   `yaml:"cost"`       // One-time cost per level
	Upkeep     map[string]float64 `yaml:"upkeep"`     // Per tick per level
	Production map[string]float64 `yaml:"production"` // Per tick per level
	MaxLevel   int                `yaml:"max_level"`
}

// UpkeepConfig holds per-unit consumption rates and penalty tuning.
type UpkeepConfig struct {
	FoodPerPerson      float64            `yaml:"food_per_person"`
	GoldPerSoldier     float64            `yaml:"gold_per_soldier"`
	GoldPerSpy         float64            `yaml:"gold_per_spy"`
	StarvationLossRate float64            `yaml:"starvation_loss_rate"` // Fraction of population lost at full shortfall
	DesertionLossRate  float64            `yaml:"desertion_loss_rate"`  // Fraction of troops lost at full shortfall
	MaxPenaltyFraction float64            `yaml:"max_penalty_fraction"` // Hard cap on any single penalty
	PopProduction      map[string]float64 `yaml:"pop_production"`       // Output per person per tick
	YieldAmplitude     float64            `yaml:"yield_amplitude"`      // Production noise swing, 0 disables
}

// EventDef defines one world event the engine may spawn.
type EventDef struct {
	Name             string             `yaml:"name"`
	Chance           float64            `yaml:"chance"`   // Spawn probability per tick while inactive
	Duration         int                `yaml:"duration"` // Ticks
	Message          string             `yaml:"message"`
	GlobalPriceMult  float64            `yaml:"global_price_mult"`
	NPCTradeRateMult float64            `yaml:"npc_trade_rate_mult"`
	ResourceMults    map[string]float64 `yaml:"resource_mults"`
	ExclusiveGroup   string             `yaml:"exclusive_group"` // At most one active per group
}

// NPCConfig tunes the decision engine and trait feedback.
type NPCConfig struct {
	TraitMin      float64 `yaml:"trait_min"`
	TraitMax      float64 `yaml:"trait_max"`
	TraitBaseline float64 `yaml:"trait_baseline"` // Decay target
	FeedbackStep  float64 `yaml:"feedback_step"`  // Nudge on success
	LossStep      float64 `yaml:"loss_step"`      // Nudge on failure
	DecayRate     float64 `yaml:"decay_rate"`     // Pull toward baseline per decay pass
	DecayEvery    uint64  `yaml:"decay_every"`    // Ticks between decay passes, 0 disables

	ReserveTicks   int     `yaml:"reserve_ticks"`    // Ticks of upkeep an NPC tries to keep on hand
	BuyBelowRatio  float64 `yaml:"buy_below_ratio"`  // Speculative buy when price/base below this
	SellAboveRatio float64 `yaml:"sell_above_ratio"` // Sell surplus when price/base above this
	SellFraction   float64 `yaml:"sell_fraction"`    // Fraction of surplus sold per trade
	TradeQty       int64   `yaml:"trade_qty"`        // Units per NPC market order

	AttackMinTroops    int     `yaml:"attack_min_troops"`
	AttackLootFraction float64 `yaml:"attack_loot_fraction"` // Of loser's currency
	AttackLossFraction float64 `yaml:"attack_loss_fraction"` // Of loser's troops
	TrainCost          int64   `yaml:"train_cost"`           // Currency per soldier
	TrainBatch         int     `yaml:"train_batch"`

	Weights ActionWeights `yaml:"weights"`

	Cities []NPCCityDef `yaml:"cities"` // NPC roster created at bootstrap
}

// ActionWeights scale the candidate-action scores.
type ActionWeights struct {
	Food   float64 `yaml:"food"`
	Trade  float64 `yaml:"trade"`
	Build  float64 `yaml:"build"`
	Train  float64 `yaml:"train"`
	Attack float64 `yaml:"attack"`
}

// NPCCityDef seeds one NPC city at world bootstrap.
type NPCCityDef struct {
	Name      string  `yaml:"name"`
	Greed     float64 `yaml:"greed"`
	Risk      float64 `yaml:"risk"`
	TradeBias float64 `yaml:"trade_bias"`
	Spies     int     `yaml:"spies"` // informants on the wage bill from tick one
}

// PrestigeConfig weights the derived prestige score.
type PrestigeConfig struct {
	ResourceWeight   float64          `yaml:"resource_weight"` // Global multiplier on weighted holdings
	PopulationWeight float64          `yaml:"population_weight"`
	BuildingWeight   float64          `yaml:"building_weight"`
	BattleWeight     float64          `yaml:"battle_weight"`
	Achievements     []AchievementDef `yaml:"achievements"`
}

// AchievementDef is a threshold check that grants a permanent prestige bonus.
type AchievementDef struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // "resource", "population", "battles"
	Resource   string `yaml:"resource"`
	Threshold  int64  `yaml:"threshold"`
	Bonus      int64  `yaml:"bonus"`
	Message    string `yaml:"message"`
}

// Load reads and validates a YAML world definition. An empty path returns
// the built-in default world.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.index()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.World.TickInterval <= 0 {
		c.World.TickInterval = 5 * time.Second
	}
	if c.World.DBPath == "" {
		c.World.DBPath = "data/crownfall.db"
	}
	if c.World.ListenAddr == "" {
		c.World.ListenAddr = ":8080"
	}
	if c.World.Currency == "" {
		c.World.Currency = "gold"
	}
	if c.Upkeep.MaxPenaltyFraction <= 0 {
		c.Upkeep.MaxPenaltyFraction = 0.25
	}
	if c.NPC.TraitMax <= c.NPC.TraitMin {
		c.NPC.TraitMin, c.NPC.TraitMax = 0, 1
	}
	if c.NPC.TraitBaseline < c.NPC.TraitMin || c.NPC.TraitBaseline > c.NPC.TraitMax {
		c.NPC.TraitBaseline = (c.NPC.TraitMin + c.NPC.TraitMax) / 2
	}
	if c.NPC.ReserveTicks <= 0 {
		c.NPC.ReserveTicks = 5
	}
	if c.NPC.TradeQty <= 0 {
		c.NPC.TradeQty = 10
	}
	if c.NPC.TrainBatch <= 0 {
		c.NPC.TrainBatch = 10
	}
	for i := range c.Resources {
		r := &c.Resources[i]
		if r.FloorMult <= 0 {
			r.FloorMult = 0.25
		}
		if r.CeilingMult <= 0 {
			r.CeilingMult = 3.0
		}
		if r.Scale <= 0 {
			r.Scale = float64(max64(r.BaseSupply, 1))
		}
		if r.PrestigeWeight == 0 {
			r.PrestigeWeight = 1
		}
	}
}

// Validate returns a ConfigError describing the first problem found.
func (c *Config) Validate() error {
	if len(c.Resources) == 0 {
		return errf("resources", "at least one resource must be defined")
	}
	seen := make(map[string]bool, len(c.Resources))
	currency := false
	for i, r := range c.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		if r.Name == "" {
			return errf(field, "resource name is empty")
		}
		if seen[r.Name] {
			return errf(field, "duplicate resource %q", r.Name)
		}
		seen[r.Name] = true
		if r.BasePrice <= 0 {
			return errf(field, "%s: base_price must be positive, got %v", r.Name, r.BasePrice)
		}
		if r.BaseSupply < 0 || r.StartingAmount < 0 {
			return errf(field, "%s: supply and starting amount must be non-negative", r.Name)
		}
		if r.Volatility < 0 {
			return errf(field, "%s: volatility must be non-negative", r.Name)
		}
		if r.FloorMult <= 0 || r.CeilingMult < r.FloorMult {
			return errf(field, "%s: price band [%v, %v] is invalid", r.Name, r.FloorMult, r.CeilingMult)
		}
		if r.Name == c.World.Currency {
			if !r.Currency {
				return errf(field, "%s is the world currency but not flagged as one", r.Name)
			}
			currency = true
		}
	}
	if !currency {
		return errf("world.currency", "currency resource %q is not defined", c.World.Currency)
	}

	for name, b := range c.Buildings {
		for res := range b.Cost {
			if !seen[res] {
				return errf("buildings."+name, "cost references unknown resource %q", res)
			}
		}
		for res := range b.Upkeep {
			if !seen[res] {
				return errf("buildings."+name, "upkeep references unknown resource %q", res)
			}
		}
		for res := range b.Production {
			if !seen[res] {
				return errf("buildings."+name, "production references unknown resource %q", res)
			}
		}
	}
	for res := range c.Upkeep.PopProduction {
		if !seen[res] {
			return errf("upkeep.pop_production", "unknown resource %q", res)
		}
	}

	eventNames := make(map[string]bool, len(c.Events))
	for i, e := range c.Events {
		field := fmt.Sprintf("events[%d]", i)
		if e.Name == "" {
			return errf(field, "event name is empty")
		}
		if eventNames[e.Name] {
			return errf(field, "duplicate event %q", e.Name)
		}
		eventNames[e.Name] = true
		if e.Chance < 0 || e.Chance > 1 {
			return errf(field, "%s: chance %v outside [0,1]", e.Name, e.Chance)
		}
		if e.Duration <= 0 {
			return errf(field, "%s: duration must be positive", e.Name)
		}
		for res := range e.ResourceMults {
			if !seen[res] {
				return errf(field, "%s: resource_mults references unknown resource %q", e.Name, res)
			}
		}
	}

	for i, n := range c.NPC.Cities {
		field := fmt.Sprintf("npc.cities[%d]", i)
		if n.Name == "" {
			return errf(field, "city name is empty")
		}
		if n.Spies < 0 {
			return errf(field, "%s: spies must be non-negative, got %d", n.Name, n.Spies)
		}
	}

	for i, a := range c.Prestige.Achievements {
		field := fmt.Sprintf("prestige.achievements[%d]", i)
		switch a.Kind {
		case "resource":
			if !seen[a.Resource] {
				return errf(field, "%s: unknown resource %q", a.Name, a.Resource)
			}
		case "population", "battles":
		default:
			return errf(field, "%s: unknown kind %q", a.Name, a.Kind)
		}
	}

	return nil
}

func (c *Config) index() {
	c.byName = make(map[string]*ResourceDef, len(c.Resources))
	for i := range c.Resources {
		c.byName[c.Resources[i].Name] = &c.Resources[i]
	}
}

// Resource looks up a resource definition by name.
func (c *Config) Resource(name string) (*ResourceDef, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// Tradable reports whether a resource exists and is traded on the market.
func (c *Config) Tradable(name string) bool {
	r, ok := c.byName[name]
	return ok && !r.Currency
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
