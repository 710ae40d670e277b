package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/agentlink/registry"
	"github.com/cyberinferno/agentlink/session"
)

// statusSource is the part of *session.Manager the HTTP endpoints read.
type statusSource interface {
	ConnectionText() string
	State() session.State
	KnownAgents() []registry.Agent
	KnownUIDevices() []registry.UIDevice
}

type statusResponse struct {
	Text      string              `json:"text"`
	State     string              `json:"state"`
	Agents    []registry.Agent    `json:"agents"`
	UIDevices []registry.UIDevice `json:"ui_devices"`
}

func newRouter(src statusSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{
			Text:      src.ConnectionText(),
			State:     src.State().String(),
			Agents:    src.KnownAgents(),
			UIDevices: src.KnownUIDevices(),
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
