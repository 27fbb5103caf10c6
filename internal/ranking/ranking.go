// Package ranking derives the prestige leaderboard from committed world
// state. Prestige is never an input to any other system and is safe to
// recompute from scratch every tick.
package ranking

import (
	"sort"

	"crownfall/internal/city"
	"crownfall/internal/config"
	"crownfall/internal/ledger"
	"crownfall/internal/notice"
)

// Standing is one leaderboard row.
type Standing struct {
	Rank     int    `json:"rank"`
	CityID   int64  `json:"city_id"`
	Name     string `json:"name"`
	Prestige int64  `json:"prestige"`
}

// Engine recomputes prestige and the leaderboard.
type Engine struct {
	cfg *config.Config
}

// New creates the engine.
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Recompute derives every city's prestige from its weighted resource
// holdings, population, buildings, battle record, and earned achievement
// bonuses, then orders the leaderboard by descending prestige with ties
// broken by ascending city ID. Newly crossed achievement thresholds are
// recorded on the city and reported as notices.
func (e *Engine) Recompute(tick uint64, cities []*city.City, led *ledger.Ledger) ([]Standing, []notice.Notice) {
	var notices []notice.Notice
	standings := make([]Standing, 0, len(cities))

	for _, c := range cities {
		notices = append(notices, e.checkAchievements(tick, c, led)...)
		c.Prestige = e.prestige(c, led)
		standings = append(standings, Standing{CityID: c.ID, Name: c.Name, Prestige: c.Prestige})
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Prestige != standings[j].Prestige {
			return standings[i].Prestige > standings[j].Prestige
		}
		return standings[i].CityID < standings[j].CityID
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings, notices
}

func (e *Engine) prestige(c *city.City, led *ledger.Ledger) int64 {
	w := e.cfg.Prestige

	holdings := 0.0
	for res, bal := range led.Balances(c.ID) {
		def, ok := e.cfg.Resource(res)
		if !ok {
			continue
		}
		holdings += float64(bal) * def.BasePrice * def.PrestigeWeight
	}

	score := holdings*w.ResourceWeight +
		float64(c.Population)*w.PopulationWeight +
		float64(c.BuildingCount())*w.BuildingWeight +
		float64(c.BattlesWon)*w.BattleWeight

	return int64(score) + e.achievementBonus(c)
}

func (e *Engine) achievementBonus(c *city.City) int64 {
	var bonus int64
	for _, def := range e.cfg.Prestige.Achievements {
		if c.Achievements[def.Name] {
			bonus += def.Bonus
		}
	}
	return bonus
}

// checkAchievements records first-time threshold crossings. Achievements
// are never revoked; the bonus is permanent once earned.
func (e *Engine) checkAchievements(tick uint64, c *city.City, led *ledger.Ledger) []notice.Notice {
	var notices []notice.Notice
	for _, def := range e.cfg.Prestige.Achievements {
		if c.Achievements[def.Name] {
			continue
		}
		var value int64
		switch def.Kind {
		case "resource":
			value = led.Balance(c.ID, def.Resource)
		case "population":
			value = int64(c.Population)
		case "battles":
			value = int64(c.BattlesWon)
		}
		if value >= def.Threshold {
			c.Achievements[def.Name] = true
			notices = append(notices, notice.Cityf(tick, notice.KindAchievement, c.ID,
				"%s has %s", c.Name, def.Message))
		}
	}
	return notices
}
