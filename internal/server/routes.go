package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/agentdeck/internal/api/v1"
	"github.com/gosuda/agentdeck/internal/api/ws"
	"github.com/gosuda/agentdeck/internal/transcript"
)

func registerAPIRoutes(api huma.API, deps Deps, policy transcript.DisplayPolicy) {
	v1.RegisterAgentRoutes(api, deps.Directory)
	v1.RegisterSessionRoutes(api, deps.Directory, deps.Controller)
	v1.RegisterTranscriptRoutes(api, deps.Controller, policy)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/updates", hub.ServeUpdates)
	r.Get("/sessions/{id}", hub.ServeSession)
}
