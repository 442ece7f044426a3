package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/gosuda/agentdeck/internal/domain"
)

//nolint:gochecknoglobals // styles
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

func roleStyle(role domain.Role) lipgloss.Style {
	switch role {
	case domain.RoleUser:
		return userStyle
	case domain.RoleSystem:
		return systemStyle
	default:
		return agentStyle
	}
}

func statusStyle(status domain.SessionStatus) lipgloss.Style {
	switch {
	case status.Active():
		return userStyle
	case status == domain.SessionStatusFailed || status == domain.SessionStatusUnresponsive:
		return errorStyle
	default:
		return dateStyle
	}
}
