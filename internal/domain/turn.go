package domain

import "time"

// Role tags the author of a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// ParseRole maps a wire role onto a transcript role. The server tags
// forwarded log lines with "log"; those become system turns. Anything
// unrecognised is attributed to the agent.
func ParseRole(s string) Role {
	switch s {
	case "user":
		return RoleUser
	case "system", "log":
		return RoleSystem
	default:
		return RoleAgent
	}
}

// Turn is one role-tagged unit of a transcript. Streaming marks a turn that
// is still receiving content; it flips to false exactly once.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"is_streaming"`
}
