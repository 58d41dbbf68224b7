package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type storeHealth interface {
	HealthCheck(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// ServeHealth is the only non-websocket endpoint: process liveness plus
// an opportunistic store probe.
func ServeHealth(s storeHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Store: "ok"}
		if err := s.HealthCheck(ctx); err != nil {
			slog.WarnContext(ctx, "store health check failed", "error", err)
			resp.Store = "unavailable"
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.WarnContext(ctx, "failed to write health response", "error", err)
		}
	}
}
