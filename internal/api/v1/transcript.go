package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/samber/lo"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/transcript"
)

// TurnView is a turn prepared for display. Content is always the stored
// content; Display is what a reader shows by default.
type TurnView struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Display   string      `json:"display"`
	Truncated bool        `json:"truncated"`
	Timestamp time.Time   `json:"timestamp"`
	Streaming bool        `json:"is_streaming"`
}

type GetTranscriptInput struct {
	Expand bool `query:"expand" default:"false" doc:"Show system turns in full"`
}

type GetTranscriptOutput struct {
	Body struct {
		Typing bool       `json:"typing"`
		Turns  []TurnView `json:"turns"`
	}
}

type SendMessageInput struct {
	Body struct {
		Content string `json:"content" minLength:"1" doc:"Text to send to the agent"`
	}
}

type SendMessageOutput struct{}

func RegisterTranscriptRoutes(api huma.API, ctrl SessionController, policy transcript.DisplayPolicy) {
	huma.Register(api, huma.Operation{
		OperationID: "get-transcript",
		Method:      http.MethodGet,
		Path:        "/transcript",
		Summary:     "Get the active transcript",
		Tags:        []string{"Session"},
	}, func(_ context.Context, input *GetTranscriptInput) (*GetTranscriptOutput, error) {
		snap := ctrl.Snapshot()
		out := &GetTranscriptOutput{}
		out.Body.Typing = snap.Typing
		out.Body.Turns = lo.Map(snap.Turns, func(turn domain.Turn, _ int) TurnView {
			display, truncated := policy.Display(turn, input.Expand)
			return TurnView{
				Role:      turn.Role,
				Content:   turn.Content,
				Display:   display,
				Truncated: truncated,
				Timestamp: turn.Timestamp,
				Streaming: turn.Streaming,
			}
		})
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/messages",
		Summary:       "Send a user message to the active session",
		Description:   "The message appears in the transcript once the backend echoes it.",
		Tags:          []string{"Session"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SendMessageInput) (*SendMessageOutput, error) {
		if err := ctrl.SendUserMessage(ctx, input.Body.Content); err != nil {
			return nil, lifecycleError(ctrl, "failed to send message", err)
		}
		return &SendMessageOutput{}, nil
	})
}
