package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/readaloud/internal/supervisor"
)

type phase int

const (
	phaseIdle phase = iota
	phaseProcessing
	phasePlaying
	phaseError
)

func (p phase) String() string {
	switch p {
	case phaseProcessing:
		return "preparing"
	case phasePlaying:
		return "playing"
	case phaseError:
		return "error"
	default:
		return "idle"
	}
}

// StatusDisplay renders a supervisor status snapshot.
type StatusDisplay struct {
	phase      phase
	current    int
	total      int
	message    string
	errMessage string
}

// NewStatusDisplay creates an idle display.
func NewStatusDisplay() *StatusDisplay {
	return &StatusDisplay{}
}

// Update replaces the display state with st.
func (s *StatusDisplay) Update(st supervisor.Status) {
	s.current = st.CurrentChunk
	s.total = st.TotalChunks
	s.message = st.ProcessingMessage
	s.errMessage = st.LastError

	switch {
	case st.IsProcessing:
		s.phase = phaseProcessing
	case st.IsPlaying:
		s.phase = phasePlaying
	case st.LastError != "":
		s.phase = phaseError
	default:
		s.phase = phaseIdle
	}
}

// Progress returns the fraction of chunks started.
func (s *StatusDisplay) Progress() float64 {
	if s.total <= 0 {
		return 0
	}
	p := float64(s.current+1) / float64(s.total)
	if p > 1 {
		p = 1
	}
	return p
}

// CompactStatus returns a one line status.
func (s *StatusDisplay) CompactStatus() string {
	if s.phase == phaseIdle {
		return ""
	}

	status := lipgloss.NewStyle().Foreground(s.color()).Render(s.icon() + " " + s.phase.String())
	if s.phase == phasePlaying && s.total > 0 {
		counter := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
		status += counter.Render(fmt.Sprintf(" %d/%d", s.current+1, s.total))
	}
	return status
}

// DetailedStatus returns the multi-line status panel.
func (s *StatusDisplay) DetailedStatus(width int) string {
	var lines []string

	if line := s.CompactStatus(); line != "" {
		lines = append(lines, line)
	}
	if s.phase == phaseProcessing && s.message != "" {
		lines = append(lines, truncate.StringWithTail(s.message, uint(max(width, 4)), ellipsis)) //nolint:gosec
	}

	// Errors are shown while playing too; a skipped chunk does not end the session.
	if s.errMessage != "" {
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
		line := truncate.StringWithTail(s.errMessage, uint(max(width-2, 4)), ellipsis) //nolint:gosec
		lines = append(lines, errorStyle.Render(line))
	}
	return strings.Join(lines, "\n")
}

// IsActive reports whether a session is under way.
func (s *StatusDisplay) IsActive() bool {
	return s.phase == phaseProcessing || s.phase == phasePlaying
}

func (s *StatusDisplay) color() lipgloss.Color {
	switch s.phase {
	case phasePlaying:
		return lipgloss.Color("#00FF00")
	case phaseProcessing:
		return lipgloss.Color("#00AAFF")
	case phaseError:
		return lipgloss.Color("#FF0000")
	default:
		return lipgloss.Color("#666666")
	}
}

func (s *StatusDisplay) icon() string {
	switch s.phase {
	case phasePlaying:
		return "▶"
	case phaseProcessing:
		return "⟳"
	case phaseError:
		return "✗"
	default:
		return "○"
	}
}
