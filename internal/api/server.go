// Package api serves read-only world queries and the order submission
// endpoint over HTTP. Reads come from the published tick snapshot and
// never block tick processing.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crownfall/internal/city"
	"crownfall/internal/sim"
)

// Server exposes the world over HTTP.
type Server struct {
	World *sim.World
	Addr  string

	// Registry backs the /metrics endpoint.
	Registry *prometheus.Registry
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/market", s.handleMarket)
	mux.HandleFunc("GET /api/v1/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/notices", s.handleNotices)
	mux.HandleFunc("GET /api/v1/city/", s.handleCity)
	mux.HandleFunc("POST /api/v1/city", s.handleRegister)
	mux.HandleFunc("POST /api/v1/order", s.handleOrder)

	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	server := &http.Server{
		Addr:         s.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("api listening", "addr", s.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.World.Snapshot()

	totalGold := int64(0)
	for _, balances := range snap.Balances {
		totalGold += balances[snap.Currency]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tick":              snap.Tick,
		"cities":            len(snap.Cities),
		"active_events":     len(snap.Events),
		"total_gold":        totalGold,
		"total_gold_pretty": humanize.Comma(totalGold),
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	snap := s.World.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"tick":   snap.Tick,
		"quotes": snap.Quotes,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	snap := s.World.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"tick":        snap.Tick,
		"leaderboard": snap.Leaderboard,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap := s.World.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"tick":   snap.Tick,
		"events": snap.Events,
	})
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	notices, err := s.World.RecentNotices(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, notices)
}

// handleCity serves /api/v1/city/{id} and /api/v1/city/{id}/balances.
func (s *Server) handleCity(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/city/")
	idStr, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad city id %q", idStr))
		return
	}

	snap := s.World.Snapshot()
	var view *sim.CityView
	for i := range snap.Cities {
		if snap.Cities[i].ID == id {
			view = &snap.Cities[i]
			break
		}
	}
	if view == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown city %d", id))
		return
	}

	switch sub {
	case "":
		writeJSON(w, http.StatusOK, view)
	case "balances":
		writeJSON(w, http.StatusOK, map[string]any{
			"tick":     snap.Tick,
			"city_id":  id,
			"balances": snap.Balances[id],
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown city resource %q", sub))
	}
}

type registerRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	view, err := s.World.Register(req.Name, city.KindPlayer)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

type orderRequest struct {
	CityID   int64  `json:"city_id"`
	Resource string `json:"resource"`
	Side     string `json:"side"`
	Qty      int64  `json:"qty"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	id, err := s.World.SubmitOrder(req.CityID, req.Resource, req.Side, req.Qty)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"order_id": id,
		"tick":     s.World.Tick() + 1,
	})
}
