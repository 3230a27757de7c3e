package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/danmuck/pgasnet/internal/auth"
	"github.com/danmuck/pgasnet/internal/observability"
)

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	if s.cfg.MetricsToken == "" {
		return mux
	}
	return auth.Middleware(auth.StaticToken{Token: s.cfg.MetricsToken}, mux)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"node":    s.cfg.NodeID,
		"uptime":  time.Since(s.appeared).Round(time.Second).String(),
		"threads": s.cfg.Threads,
		"schemas": s.codec.Schemas(),
		"pending": s.env.Requests.Pending(),
	})
}
