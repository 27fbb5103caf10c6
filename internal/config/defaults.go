package config

import "time"

// Default returns the built-in world definition. Used directly when no
// config file is given, and as the base that a loaded file overrides.
func Default() *Config {
	cfg := &Config{
		World: WorldConfig{
			TickInterval: 5 * time.Second,
			Seed:         42,
			DBPath:       "data/crownfall.db",
			ListenAddr:   ":8080",
			Currency:     "gold",
		},
		Resources: []ResourceDef{
			{Name: "gold", BasePrice: 1, BaseSupply: 0, StartingAmount: 500, PrestigeWeight: 1, Currency: true},
			{Name: "food", BasePrice: 1, BaseSupply: 2000, Volatility: 0.6, StartingAmount: 300, PrestigeWeight: 0.5},
			{Name: "wood", BasePrice: 2, BaseSupply: 1500, Volatility: 0.5, StartingAmount: 150, PrestigeWeight: 1},
			{Name: "stone", BasePrice: 3, BaseSupply: 1200, Volatility: 0.5, StartingAmount: 100, PrestigeWeight: 1},
			{Name: "iron", BasePrice: 10, BaseSupply: 800, Volatility: 0.8, StartingAmount: 40, PrestigeWeight: 2},
		},
		Buildings: map[string]BuildingDef{
			"farm": {
				Cost:       map[string]int64{"gold": 100, "wood": 40},
				Upkeep:     map[string]float64{"gold": 1},
				Production: map[string]float64{"food": 8},
				MaxLevel:   10,
			},
			"sawmill": {
				Cost:       map[string]int64{"gold": 120, "stone": 30},
				Upkeep:     map[string]float64{"gold": 1},
				Production: map[string]float64{"wood": 5},
				MaxLevel:   10,
			},
			"quarry": {
				Cost:       map[string]int64{"gold": 150, "wood": 50},
				Upkeep:     map[string]float64{"gold": 2},
				Production: map[string]float64{"stone": 4},
				MaxLevel:   10,
			},
			"mine": {
				Cost:       map[string]int64{"gold": 250, "wood": 60, "stone": 40},
				Upkeep:     map[string]float64{"gold": 3, "food": 2},
				Production: map[string]float64{"iron": 2},
				MaxLevel:   8,
			},
			"barracks": {
				Cost:     map[string]int64{"gold": 200, "wood": 80, "stone": 60},
				Upkeep:   map[string]float64{"gold": 2},
				MaxLevel: 5,
			},
		},
		Upkeep: UpkeepConfig{
			FoodPerPerson:      0.5,
			GoldPerSoldier:     1.0,
			GoldPerSpy:         2.0,
			StarvationLossRate: 0.05,
			DesertionLossRate:  0.10,
			MaxPenaltyFraction: 0.25,
			PopProduction:      map[string]float64{"food": 0.6, "gold": 0.2},
			YieldAmplitude:     0.15,
		},
		Events: []EventDef{
			{
				Name:            "trade_boom",
				Chance:          0.02,
				Duration:        12,
				Message:         "A trade boom sweeps the world; merchants flood the roads.",
				GlobalPriceMult: 1.2, NPCTradeRateMult: 1.5,
				ExclusiveGroup: "trade",
			},
			{
				Name:            "trade_slump",
				Chance:          0.02,
				Duration:        12,
				Message:         "Trade routes fall quiet; prices sag across the world.",
				GlobalPriceMult: 0.8, NPCTradeRateMult: 0.6,
				ExclusiveGroup: "trade",
			},
			{
				Name:     "iron_shortage",
				Chance:   0.015,
				Duration: 10,
				Message:  "An iron shortage grips the forges.",
				ResourceMults: map[string]float64{"iron": 1.5},
			},
			{
				Name:     "bountiful_harvest",
				Chance:   0.02,
				Duration: 8,
				Message:  "A bountiful harvest fills granaries everywhere.",
				ResourceMults: map[string]float64{"food": 0.7},
			},
		},
		NPC: NPCConfig{
			TraitMin:      0,
			TraitMax:      1,
			TraitBaseline: 0.5,
			FeedbackStep:  0.02,
			LossStep:      0.03,
			DecayRate:     0.01,
			DecayEvery:    50,

			ReserveTicks:   5,
			BuyBelowRatio:  0.85,
			SellAboveRatio: 1.20,
			SellFraction:   0.25,
			TradeQty:       10,

			AttackMinTroops:    40,
			AttackLootFraction: 0.20,
			AttackLossFraction: 0.15,
			TrainCost:          10,
			TrainBatch:         10,

			Weights: ActionWeights{
				Food:   3.0,
				Trade:  1.5,
				Build:  1.0,
				Train:  1.0,
				Attack: 0.8,
			},

			Cities: []NPCCityDef{
				{Name: "Ironhold", Greed: 0.4, Risk: 0.8, TradeBias: 0.3},
				{Name: "Goldmere", Greed: 0.9, Risk: 0.3, TradeBias: 0.8, Spies: 2},
				{Name: "Thornwall", Greed: 0.5, Risk: 0.5, TradeBias: 0.5},
				{Name: "Saltharbor", Greed: 0.7, Risk: 0.4, TradeBias: 0.9, Spies: 1},
			},
		},
		Prestige: PrestigeConfig{
			ResourceWeight:   0.01,
			PopulationWeight: 0.05,
			BuildingWeight:   2,
			BattleWeight:     10,
			Achievements: []AchievementDef{
				{Name: "hoarder", Kind: "resource", Resource: "gold", Threshold: 5000, Bonus: 50,
					Message: "amassed a vault of five thousand gold"},
				{Name: "granary_king", Kind: "resource", Resource: "food", Threshold: 2000, Bonus: 25,
					Message: "filled the granaries to bursting"},
				{Name: "metropolis", Kind: "population", Threshold: 500, Bonus: 50,
					Message: "grew into a true metropolis"},
				{Name: "warlord", Kind: "battles", Threshold: 10, Bonus: 100,
					Message: "won ten battles on the field"},
			},
		},
	}
	cfg.applyDefaults()
	cfg.index()
	return cfg
}
