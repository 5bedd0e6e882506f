package output

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles used by text output.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	ViewName lipgloss.Style
	External lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSkipped lipgloss.Style
	StatusRunning lipgloss.Style
}

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1A56DB", Dark: "#76A9FA"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	colorError   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
)

// NewStyles creates styles bound to a lipgloss renderer, so colour follows
// that renderer's profile.
func NewStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1: r.NewStyle().Bold(true).Foreground(colorPrimary).Underline(true),
		Header2: r.NewStyle().Bold(true).Foreground(colorPrimary),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(colorMuted),
		Info:    r.NewStyle().Foreground(colorPrimary),
		Success: r.NewStyle().Foreground(colorSuccess),
		Warning: r.NewStyle().Foreground(colorWarning),
		Error:   r.NewStyle().Bold(true).Foreground(colorError),

		ViewName: r.NewStyle().Bold(true),
		External: r.NewStyle().Italic(true).Foreground(colorMuted),

		StatusSuccess: r.NewStyle().Foreground(colorSuccess),
		StatusFailed:  r.NewStyle().Bold(true).Foreground(colorError),
		StatusSkipped: r.NewStyle().Foreground(colorWarning),
		StatusRunning: r.NewStyle().Foreground(colorPrimary),
	}
}

// StatusStyle returns the style for a deployment or run status.
func (s *Styles) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "success", "completed":
		return s.StatusSuccess
	case "failed":
		return s.StatusFailed
	case "skipped":
		return s.StatusSkipped
	default:
		return s.StatusRunning
	}
}
