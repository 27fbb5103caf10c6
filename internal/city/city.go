// Package city provides the entity model: player- and NPC-controlled
// cities with populations, armies, buildings, and (for NPCs) a
// personality vector.
package city

import "sort"

// Kind distinguishes player cities from NPC cities.
type Kind uint8

const (
	KindPlayer Kind = iota
	KindNPC
)

func (k Kind) String() string {
	if k == KindNPC {
		return "npc"
	}
	return "player"
}

// Traits is the bounded personality vector driving NPC decisions.
// Values only change through Nudge (trade/battle feedback) or Decay.
type Traits struct {
	Greed     float64 `json:"greed"`
	Risk      float64 `json:"risk"`
	TradeBias float64 `json:"trade_bias"`
}

// Clamp forces every trait into [min, max].
func (t *Traits) Clamp(min, max float64) {
	t.Greed = clamp(t.Greed, min, max)
	t.Risk = clamp(t.Risk, min, max)
	t.TradeBias = clamp(t.TradeBias, min, max)
}

// Decay pulls every trait toward baseline by rate.
func (t *Traits) Decay(baseline, rate float64) {
	t.Greed += (baseline - t.Greed) * rate
	t.Risk += (baseline - t.Risk) * rate
	t.TradeBias += (baseline - t.TradeBias) * rate
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// City is one entity in the world. Created at registration, mutated every
// tick by the upkeep, market, and NPC passes, never deleted — a beaten
// city is marked Defeated instead.
type City struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Kind       Kind           `json:"kind"`
	Population int            `json:"population"`
	Troops     int            `json:"troops"`
	Spies      int            `json:"spies"`
	Buildings  map[string]int `json:"buildings"` // name → level

	Traits     Traits `json:"traits"` // Meaningful for NPC cities only
	Prestige   int64  `json:"prestige"`
	BattlesWon int    `json:"battles_won"`
	Defeated   bool   `json:"defeated"`

	Achievements map[string]bool `json:"achievements"` // Earned achievement names
}

// New creates a city with empty building and achievement sets.
func New(id int64, name string, kind Kind) *City {
	return &City{
		ID:           id,
		Name:         name,
		Kind:         kind,
		Population:   100,
		Buildings:    make(map[string]int),
		Achievements: make(map[string]bool),
	}
}

// BuildingCount returns the total number of building levels.
func (c *City) BuildingCount() int {
	total := 0
	for _, lvl := range c.Buildings {
		total += lvl
	}
	return total
}

// BuildingNames returns building names in a stable order.
func (c *City) BuildingNames() []string {
	names := make([]string, 0, len(c.Buildings))
	for name := range c.Buildings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Strength is the deterministic military strength used by the battle
// outcome contract.
func (c *City) Strength() float64 {
	return float64(c.Troops) * (1 + 0.2*c.Traits.Risk)
}

// SortByID orders cities by ascending ID, the world's deterministic
// iteration order.
func SortByID(cities []*City) {
	sort.Slice(cities, func(i, j int) bool { return cities[i].ID < cities[j].ID })
}
