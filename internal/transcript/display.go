package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/gosuda/agentdeck/internal/domain"
)

const ellipsis = "…"

// DisplayPolicy truncates system turns for presentation. It never touches
// stored content; readers apply it when rendering.
type DisplayPolicy struct {
	// MaxChars caps the rendered length in runes. Zero disables the cap.
	MaxChars int
	// FirstLineOnly cuts the content at the first newline.
	FirstLineOnly bool
}

// DefaultDisplayPolicy shows the first line of a log entry, at most 100 runes.
func DefaultDisplayPolicy() DisplayPolicy {
	return DisplayPolicy{MaxChars: 100, FirstLineOnly: true}
}

// Display returns the text to show for turn and whether it was shortened.
// Only system turns are subject to truncation; expanded bypasses it.
func (p DisplayPolicy) Display(turn domain.Turn, expanded bool) (string, bool) {
	if expanded || turn.Role != domain.RoleSystem {
		return turn.Content, false
	}

	text := turn.Content
	cut := false
	if p.FirstLineOnly {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
			cut = true
		}
	}
	if p.MaxChars > 0 && utf8.RuneCountInString(text) > p.MaxChars {
		runes := []rune(text)
		text = string(runes[:p.MaxChars])
		cut = true
	}
	if cut {
		text += ellipsis
	}
	return text, cut
}
