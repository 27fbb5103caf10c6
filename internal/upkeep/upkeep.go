// Package upkeep runs the per-tick production and consumption pass.
// Production credits population and building output; upkeep debits food
// and wages. A city that cannot pay takes a bounded starvation or
// desertion penalty scaled by the shortfall — the tick itself never
// aborts over an unpaid bill.
package upkeep

import (
	"errors"
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"crownfall/internal/city"
	"crownfall/internal/config"
	"crownfall/internal/ledger"
	"crownfall/internal/market"
	"crownfall/internal/notice"
)

// Pass holds the configuration and the yield-noise source. The noise is
// smooth over tick-time and deterministic from the world seed, so harvests
// swell and shrink gradually instead of jittering.
type Pass struct {
	cfg       *config.Config
	noise     opensimplex.Noise
	resOffset map[string]float64
}

// New creates the pass. Yield noise is keyed by the world seed.
func New(cfg *config.Config) *Pass {
	offsets := make(map[string]float64, len(cfg.Resources))
	for i, def := range cfg.Resources {
		offsets[def.Name] = float64(i) * 17.31
	}
	return &Pass{
		cfg:       cfg,
		noise:     opensimplex.New(cfg.World.Seed),
		resOffset: offsets,
	}
}

// yield returns the production multiplier for a resource at a tick.
func (p *Pass) yield(resource string, tick uint64) float64 {
	amp := p.cfg.Upkeep.YieldAmplitude
	if amp <= 0 {
		return 1
	}
	return 1 + amp*p.noise.Eval2(p.resOffset[resource], float64(tick)*0.05)
}

// Run processes every city in order: production credits first, then
// upkeep debits, then penalties for whatever went unpaid. Consumption and
// production are reported to the market as pricing signals.
func (p *Pass) Run(tick uint64, cities []*city.City, led *ledger.Ledger, mkt *market.Market) []notice.Notice {
	var notices []notice.Notice
	for _, c := range cities {
		if c.Defeated {
			continue
		}
		p.produce(tick, c, led, mkt)
		notices = append(notices, p.consume(tick, c, led, mkt)...)
	}
	return notices
}

func (p *Pass) produce(tick uint64, c *city.City, led *ledger.Ledger, mkt *market.Market) {
	output := make(map[string]float64)
	for res, perHead := range p.cfg.Upkeep.PopProduction {
		output[res] += float64(c.Population) * perHead
	}
	for _, name := range c.BuildingNames() {
		def, ok := p.cfg.Buildings[name]
		if !ok {
			continue
		}
		level := float64(c.Buildings[name])
		for res, perLevel := range def.Production {
			output[res] += perLevel * level
		}
	}

	for _, res := range sortedKeys(output) {
		qty := int64(math.Floor(output[res] * p.yield(res, tick)))
		if qty <= 0 {
			continue
		}
		led.Credit(c.ID, res, qty)
		mkt.ReportProduction(res, qty)
	}
}

// consume computes the tick's upkeep bill per resource and attempts each
// debit. Each penalty is computed once and applied once.
func (p *Pass) consume(tick uint64, c *city.City, led *ledger.Ledger, mkt *market.Market) []notice.Notice {
	cfg := p.cfg.Upkeep
	currency := p.cfg.World.Currency

	needs := map[string]float64{
		"food":   float64(c.Population) * cfg.FoodPerPerson,
		currency: float64(c.Troops)*cfg.GoldPerSoldier + float64(c.Spies)*cfg.GoldPerSpy,
	}
	for _, name := range c.BuildingNames() {
		def, ok := p.cfg.Buildings[name]
		if !ok {
			continue
		}
		level := float64(c.Buildings[name])
		for res, perLevel := range def.Upkeep {
			needs[res] += perLevel * level
		}
	}

	var notices []notice.Notice
	for _, res := range sortedKeys(needs) {
		need := int64(math.Ceil(needs[res]))
		if need <= 0 {
			continue
		}
		err := led.Debit(c.ID, res, need)
		if err == nil {
			mkt.ReportConsumption(res, need)
			continue
		}

		var short *ledger.ShortfallError
		if !errors.As(err, &short) {
			continue
		}
		ratio := float64(short.Need-short.Have) / float64(short.Need)
		switch res {
		case "food":
			notices = append(notices, p.starve(tick, c, ratio)...)
		case currency:
			notices = append(notices, p.desert(tick, c, ratio))
		default:
			notices = append(notices, notice.Cityf(tick, notice.KindUpkeep, c.ID,
				"%s cannot maintain its works: short %d %s", c.Name, short.Need-short.Have, res))
		}
	}
	return notices
}

// starve removes population for an unpaid food bill. A city starved
// down to nobody is defeated and drops out of the simulation.
func (p *Pass) starve(tick uint64, c *city.City, ratio float64) []notice.Notice {
	loss := p.penalty(c.Population, p.cfg.Upkeep.StarvationLossRate, ratio)
	c.Population -= loss
	notices := []notice.Notice{notice.Cityf(tick, notice.KindStarvation, c.ID,
		"Famine in %s: %d people starve", c.Name, loss)}
	if c.Population <= 0 {
		c.Population = 0
		c.Defeated = true
		notices = append(notices, notice.Cityf(tick, notice.KindCity, c.ID,
			"%s has fallen: its last citizens have starved", c.Name))
	}
	return notices
}

func (p *Pass) desert(tick uint64, c *city.City, ratio float64) notice.Notice {
	loss := p.penalty(c.Troops, p.cfg.Upkeep.DesertionLossRate, ratio)
	c.Troops -= loss
	if c.Troops < 0 {
		c.Troops = 0
	}
	return notice.Cityf(tick, notice.KindDesertion, c.ID,
		"Unpaid soldiers desert %s: %d troops gone", c.Name, loss)
}

// penalty scales the configured loss rate by the shortfall ratio, bounded
// below by one unit and above by the configured max fraction.
func (p *Pass) penalty(units int, rate, ratio float64) int {
	if units <= 0 {
		return 0
	}
	loss := int(float64(units) * rate * ratio)
	if loss < 1 {
		loss = 1
	}
	limit := int(float64(units) * p.cfg.Upkeep.MaxPenaltyFraction)
	if limit < 1 {
		limit = 1
	}
	if loss > limit {
		loss = limit
	}
	return loss
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
