// Package store provides SQLite-backed world persistence. All tick state
// is written in a single transaction, so a crash always recovers to the
// last committed tick.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"crownfall/internal/city"
	"crownfall/internal/market"
	"crownfall/internal/notice"
)

// Store wraps a SQLite connection for world state persistence. WAL mode
// keeps read queries live while a tick commit is in flight.
type Store struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cities (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		kind INTEGER NOT NULL,
		population INTEGER NOT NULL,
		troops INTEGER NOT NULL,
		spies INTEGER NOT NULL,
		prestige INTEGER NOT NULL,
		battles_won INTEGER NOT NULL,
		defeated INTEGER NOT NULL,
		greed REAL NOT NULL,
		risk REAL NOT NULL,
		trade_bias REAL NOT NULL,
		buildings_json TEXT NOT NULL,
		achievements_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger (
		city_id INTEGER NOT NULL,
		resource TEXT NOT NULL,
		balance INTEGER NOT NULL,
		PRIMARY KEY (city_id, resource)
	);

	CREATE TABLE IF NOT EXISTS market (
		resource TEXT PRIMARY KEY,
		price REAL NOT NULL,
		volume INTEGER NOT NULL,
		supply INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS active_events (
		name TEXT PRIMARY KEY,
		remaining INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		city_id INTEGER NOT NULL,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notices_tick ON notices(tick);
	CREATE INDEX IF NOT EXISTS idx_notices_city ON notices(city_id);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// EventState is a persisted active event instance.
type EventState struct {
	Name      string `db:"name"`
	Remaining int    `db:"remaining"`
}

// State is everything the world needs to resume from the last committed
// tick.
type State struct {
	Tick     uint64
	Cities   []*city.City
	Balances map[int64]map[string]int64
	Quotes   []market.Quote
	Events   []EventState
}

// SaveTick writes a complete tick state and its notices in one
// transaction. Either the whole tick becomes durable or none of it does.
func (s *Store) SaveTick(st *State, notices []notice.Notice) error {
	tx, err := s.conn.Beginx()
	if err != nil {
		return fmt.Errorf("save tick %d: begin: %w", st.Tick, err)
	}
	defer tx.Rollback()

	if err := saveCities(tx, st.Cities); err != nil {
		return fmt.Errorf("save tick %d: cities: %w", st.Tick, err)
	}
	if err := saveLedger(tx, st.Balances); err != nil {
		return fmt.Errorf("save tick %d: ledger: %w", st.Tick, err)
	}
	if err := saveMarket(tx, st.Quotes); err != nil {
		return fmt.Errorf("save tick %d: market: %w", st.Tick, err)
	}
	if err := saveEvents(tx, st.Events); err != nil {
		return fmt.Errorf("save tick %d: events: %w", st.Tick, err)
	}
	for _, n := range notices {
		if _, err := tx.Exec(
			"INSERT INTO notices (tick, kind, city_id, body) VALUES (?, ?, ?, ?)",
			n.Tick, n.Kind, n.CityID, n.Body,
		); err != nil {
			return fmt.Errorf("save tick %d: notices: %w", st.Tick, err)
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES ('tick', ?)",
		strconv.FormatUint(st.Tick, 10),
	); err != nil {
		return fmt.Errorf("save tick %d: meta: %w", st.Tick, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save tick %d: commit: %w", st.Tick, err)
	}
	return nil
}

func saveCities(tx *sqlx.Tx, cities []*city.City) error {
	if _, err := tx.Exec("DELETE FROM cities"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO cities
		(id, name, kind, population, troops, spies, prestige, battles_won,
		 defeated, greed, risk, trade_bias, buildings_json, achievements_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cities {
		buildingsJSON, _ := json.Marshal(c.Buildings)
		achievementsJSON, _ := json.Marshal(c.Achievements)
		defeated := 0
		if c.Defeated {
			defeated = 1
		}
		if _, err := stmt.Exec(
			c.ID, c.Name, c.Kind, c.Population, c.Troops, c.Spies,
			c.Prestige, c.BattlesWon, defeated,
			c.Traits.Greed, c.Traits.Risk, c.Traits.TradeBias,
			string(buildingsJSON), string(achievementsJSON),
		); err != nil {
			return fmt.Errorf("insert city %d: %w", c.ID, err)
		}
	}
	return nil
}

func saveLedger(tx *sqlx.Tx, balances map[int64]map[string]int64) error {
	if _, err := tx.Exec("DELETE FROM ledger"); err != nil {
		return err
	}
	stmt, err := tx.Preparex("INSERT INTO ledger (city_id, resource, balance) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for cityID, resBalances := range balances {
		for res, bal := range resBalances {
			if _, err := stmt.Exec(cityID, res, bal); err != nil {
				return fmt.Errorf("insert balance %d/%s: %w", cityID, res, err)
			}
		}
	}
	return nil
}

func saveMarket(tx *sqlx.Tx, quotes []market.Quote) error {
	if _, err := tx.Exec("DELETE FROM market"); err != nil {
		return err
	}
	for _, q := range quotes {
		if _, err := tx.Exec(
			"INSERT INTO market (resource, price, volume, supply) VALUES (?, ?, ?, ?)",
			q.Resource, q.Price, q.Volume, q.Supply,
		); err != nil {
			return fmt.Errorf("insert quote %s: %w", q.Resource, err)
		}
	}
	return nil
}

func saveEvents(tx *sqlx.Tx, events []EventState) error {
	if _, err := tx.Exec("DELETE FROM active_events"); err != nil {
		return err
	}
	for _, e := range events {
		if _, err := tx.Exec(
			"INSERT INTO active_events (name, remaining) VALUES (?, ?)",
			e.Name, e.Remaining,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.Name, err)
		}
	}
	return nil
}

// Load restores the last committed state. A fresh database yields tick
// zero with no cities; the caller bootstraps from config.
func (s *Store) Load() (*State, error) {
	st := &State{Balances: make(map[int64]map[string]int64)}

	var tickStr string
	err := s.conn.Get(&tickStr, "SELECT value FROM world_meta WHERE key = 'tick'")
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("load tick: %w", err)
	}
	st.Tick, err = strconv.ParseUint(tickStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load tick: bad counter %q: %w", tickStr, err)
	}

	if err := s.loadCities(st); err != nil {
		return nil, err
	}
	if err := s.loadLedger(st); err != nil {
		return nil, err
	}
	if err := s.loadMarket(st); err != nil {
		return nil, err
	}
	if err := s.conn.Select(&st.Events, "SELECT name, remaining FROM active_events ORDER BY name"); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return st, nil
}

func (s *Store) loadCities(st *State) error {
	rows, err := s.conn.Queryx(`SELECT id, name, kind, population, troops, spies,
		prestige, battles_won, defeated, greed, risk, trade_bias,
		buildings_json, achievements_json FROM cities ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load cities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                kindedCity
			buildingsJSON    string
			achievementsJSON string
			defeated         int
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.Population, &c.Troops,
			&c.Spies, &c.Prestige, &c.BattlesWon, &defeated,
			&c.Greed, &c.Risk, &c.TradeBias,
			&buildingsJSON, &achievementsJSON); err != nil {
			return fmt.Errorf("scan city: %w", err)
		}

		loaded := city.New(c.ID, c.Name, city.Kind(c.Kind))
		loaded.Population = c.Population
		loaded.Troops = c.Troops
		loaded.Spies = c.Spies
		loaded.Prestige = c.Prestige
		loaded.BattlesWon = c.BattlesWon
		loaded.Defeated = defeated != 0
		loaded.Traits = city.Traits{Greed: c.Greed, Risk: c.Risk, TradeBias: c.TradeBias}
		if err := json.Unmarshal([]byte(buildingsJSON), &loaded.Buildings); err != nil {
			return fmt.Errorf("city %d buildings: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(achievementsJSON), &loaded.Achievements); err != nil {
			return fmt.Errorf("city %d achievements: %w", c.ID, err)
		}
		st.Cities = append(st.Cities, loaded)
	}
	return rows.Err()
}

type kindedCity struct {
	ID         int64
	Name       string
	Kind       int
	Population int
	Troops     int
	Spies      int
	Prestige   int64
	BattlesWon int
	Greed      float64
	Risk       float64
	TradeBias  float64
}

func (s *Store) loadLedger(st *State) error {
	rows, err := s.conn.Queryx("SELECT city_id, resource, balance FROM ledger")
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cityID   int64
			resource string
			balance  int64
		)
		if err := rows.Scan(&cityID, &resource, &balance); err != nil {
			return fmt.Errorf("scan balance: %w", err)
		}
		if st.Balances[cityID] == nil {
			st.Balances[cityID] = make(map[string]int64)
		}
		st.Balances[cityID][resource] = balance
	}
	return rows.Err()
}

func (s *Store) loadMarket(st *State) error {
	rows, err := s.conn.Queryx("SELECT resource, price, volume, supply FROM market ORDER BY resource")
	if err != nil {
		return fmt.Errorf("load market: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q market.Quote
		if err := rows.Scan(&q.Resource, &q.Price, &q.Volume, &q.Supply); err != nil {
			return fmt.Errorf("scan quote: %w", err)
		}
		st.Quotes = append(st.Quotes, q)
	}
	return rows.Err()
}

// RecentNotices returns the most recent notices, newest first. Served to
// readers concurrently with tick commits.
func (s *Store) RecentNotices(limit int) ([]notice.Notice, error) {
	var notices []notice.Notice
	err := s.conn.Select(&notices,
		"SELECT tick, kind, city_id, body FROM notices ORDER BY id DESC LIMIT ?", limit)
	return notices, err
}
