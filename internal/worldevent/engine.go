// Package worldevent runs timed global modifiers: world trade events that
// scale prices and NPC trade rates for a bounded number of ticks. The
// engine owns the full multiplier lifecycle; nothing else spawns or
// expires events.
package worldevent

import (
	"math/rand"
	"sort"

	"crownfall/internal/config"
	"crownfall/internal/notice"
)

// Multipliers is the product of all active events' effect fields,
// recomputed each tick before the market consumes it.
type Multipliers struct {
	GlobalPrice  float64
	NPCTradeRate float64
	Resource     map[string]float64
}

// None is the identity multiplier stack.
func None() Multipliers {
	return Multipliers{GlobalPrice: 1, NPCTradeRate: 1, Resource: map[string]float64{}}
}

// For returns the combined price multiplier for one resource.
func (m Multipliers) For(resource string) float64 {
	mult := m.GlobalPrice
	if r, ok := m.Resource[resource]; ok {
		mult *= r
	}
	return mult
}

// Instance is one active event counting down to expiry.
type Instance struct {
	Def       config.EventDef
	Remaining int
}

// Engine holds the active event set and the seeded roll source. Spawn
// rolls are deterministic given the seed, which makes event timelines
// reproducible in tests.
type Engine struct {
	rng    *rand.Rand
	defs   []config.EventDef
	active map[string]*Instance
}

// New creates an engine over the configured event definitions.
func New(defs []config.EventDef, seed int64) *Engine {
	return &Engine{
		rng:    rand.New(rand.NewSource(seed)),
		defs:   defs,
		active: make(map[string]*Instance),
	}
}

// Restore re-activates a persisted event instance with its remaining
// duration. Only the recovery path uses this.
func (e *Engine) Restore(name string, remaining int) {
	for _, def := range e.defs {
		if def.Name == name {
			e.active[name] = &Instance{Def: def, Remaining: remaining}
			return
		}
	}
	// Persisted event no longer configured; drop it.
}

// Advance runs one tick of the event state machine: active instances
// count down and expire, then each inactive definition rolls its spawn
// chance. At most one new event spawns per tick.
func (e *Engine) Advance(tick uint64) []notice.Notice {
	var notices []notice.Notice

	// Expire in name order for determinism.
	for _, name := range e.activeNames() {
		inst := e.active[name]
		inst.Remaining--
		if inst.Remaining <= 0 {
			delete(e.active, name)
			notices = append(notices, notice.Worldf(tick, notice.KindEvent,
				"The %s has run its course.", displayName(name)))
		}
	}

	// Spawn rolls in configured order; definitions are rolled even when
	// blocked so the rng stream does not depend on active state.
	spawned := false
	for _, def := range e.defs {
		roll := e.rng.Float64()
		if spawned || roll >= def.Chance {
			continue
		}
		if _, ok := e.active[def.Name]; ok {
			continue
		}
		if def.ExclusiveGroup != "" && e.groupActive(def.ExclusiveGroup) {
			continue
		}
		e.active[def.Name] = &Instance{Def: def, Remaining: def.Duration}
		spawned = true
		msg := def.Message
		if msg == "" {
			msg = "A world event begins: " + displayName(def.Name)
		}
		notices = append(notices, notice.Worldf(tick, notice.KindEvent, "%s", msg))
	}

	return notices
}

// Multipliers returns the combined effect of every active instance.
// Unset effect fields contribute the identity.
func (e *Engine) Multipliers() Multipliers {
	m := None()
	for _, name := range e.activeNames() {
		def := e.active[name].Def
		if def.GlobalPriceMult > 0 {
			m.GlobalPrice *= def.GlobalPriceMult
		}
		if def.NPCTradeRateMult > 0 {
			m.NPCTradeRate *= def.NPCTradeRateMult
		}
		for res, mult := range def.ResourceMults {
			if mult > 0 {
				if _, ok := m.Resource[res]; !ok {
					m.Resource[res] = 1
				}
				m.Resource[res] *= mult
			}
		}
	}
	return m
}

// Active returns a copy of the active instances, sorted by name.
func (e *Engine) Active() []Instance {
	out := make([]Instance, 0, len(e.active))
	for _, name := range e.activeNames() {
		out = append(out, *e.active[name])
	}
	return out
}

func (e *Engine) activeNames() []string {
	names := make([]string, 0, len(e.active))
	for name := range e.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) groupActive(group string) bool {
	for _, inst := range e.active {
		if inst.Def.ExclusiveGroup == group {
			return true
		}
	}
	return false
}

func displayName(name string) string {
	out := []byte(name)
	for i := range out {
		if out[i] == '_' {
			out[i] = ' '
		}
	}
	return string(out)
}
