// Package notice defines the structured per-tick change feed the core
// publishes for external consumers to render as player-facing messages.
package notice

import "fmt"

// Kind categorizes a notice for filtering and display.
const (
	KindUpkeep      = "upkeep"
	KindStarvation  = "starvation"
	KindDesertion   = "desertion"
	KindTrade       = "trade"
	KindTradeFailed = "trade_failed"
	KindEvent       = "event"
	KindBattle      = "battle"
	KindAchievement = "achievement"
	KindCity        = "city"
)

// Notice is one structured entry in a tick's change feed. Notices are
// ordered by emission within the tick and persisted alongside the tick
// they were produced in.
type Notice struct {
	Tick   uint64 `json:"tick" db:"tick"`
	Kind   string `json:"kind" db:"kind"`
	CityID int64  `json:"city_id" db:"city_id"` // 0 for world-scoped notices
	Body   string `json:"body" db:"body"`
}

// Worldf builds a world-scoped notice from a format string.
func Worldf(tick uint64, kind, format string, args ...any) Notice {
	return Notice{Tick: tick, Kind: kind, Body: fmt.Sprintf(format, args...)}
}

// Cityf builds a city-scoped notice from a format string.
func Cityf(tick uint64, kind string, cityID int64, format string, args ...any) Notice {
	return Notice{Tick: tick, Kind: kind, CityID: cityID, Body: fmt.Sprintf(format, args...)}
}
