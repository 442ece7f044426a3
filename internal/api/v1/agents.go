package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/agentdeck/internal/domain"
)

type ListAgentsOutput struct {
	Body []domain.Agent
}

func RegisterAgentRoutes(api huma.API, dir Directory) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List the agent catalog",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, _ *struct{}) (*ListAgentsOutput, error) {
		agents, err := dir.ListAgents(ctx)
		if err != nil {
			return nil, huma.Error502BadGateway("failed to list agents", err)
		}
		if agents == nil {
			agents = []domain.Agent{}
		}
		return &ListAgentsOutput{Body: agents}, nil
	})
}
