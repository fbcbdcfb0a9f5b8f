// Package ui provides the terminal view shown while text is read aloud.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/readaloud/internal/supervisor"
)

const (
	ellipsis     = "…"
	stopTimeout  = 5 * time.Second
	defaultWidth = 80
	padding      = 2
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

// Controller is the part of the supervisor the view needs.
type Controller interface {
	Stop(ctx context.Context) error
	Status() supervisor.Status
	Subscribe(size int) (<-chan supervisor.Status, func())
}

type statusMsg supervisor.Status

type updatesClosedMsg struct{}

type stoppedMsg struct{ err error }

// Model is the bubbletea model observing one session.
type Model struct {
	cfg  Config
	ctrl Controller

	updates     <-chan supervisor.Status
	unsubscribe func()

	display  *StatusDisplay
	spinner  spinner.Model
	progress progress.Model
	width    int

	started  bool
	stopping bool
	quitting bool
	final    supervisor.Status
}

// NewModel subscribes to ctrl and returns the model.
func NewModel(cfg Config, ctrl Controller) *Model {
	updates, unsubscribe := ctrl.Subscribe(16)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAFF"))

	width := defaultWidth
	if cfg.MaxWidth > 0 {
		width = int(cfg.MaxWidth) //nolint:gosec
	}

	m := &Model{
		cfg:         cfg,
		ctrl:        ctrl,
		updates:     updates,
		unsubscribe: unsubscribe,
		display:     NewStatusDisplay(),
		spinner:     sp,
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:       width,
	}
	m.progress.Width = width - padding*2
	m.apply(ctrl.Status())
	return m
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, ctrl Controller) *tea.Program {
	log.Debug("Starting ui", "chunks", len(cfg.Chunks), "preview", cfg.ShowPreview)

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	return tea.NewProgram(NewModel(cfg, ctrl), opts...)
}

// Final returns the last status seen before the program quit.
func (m *Model) Final() supervisor.Status {
	return m.final
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForStatus())
}

func (m *Model) waitForStatus() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return statusMsg(st)
	}
}

func (m *Model) stop() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return stoppedMsg{err: ctrl.Stop(ctx)}
	}
}

// apply records st and reports whether the session has finished.
func (m *Model) apply(st supervisor.Status) bool {
	m.display.Update(st)
	m.final = st
	if st.Active() {
		m.started = true
		return false
	}
	return m.started
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.unsubscribe()
	return m, tea.Quit
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.stopping {
				return m.quit()
			}
			m.stopping = true
			return m, m.stop()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if m.cfg.MaxWidth > 0 && m.width > int(m.cfg.MaxWidth) { //nolint:gosec
			m.width = int(m.cfg.MaxWidth) //nolint:gosec
		}
		m.progress.Width = max(m.width-padding*2, 10)

	case statusMsg:
		if m.apply(supervisor.Status(msg)) {
			return m.quit()
		}
		return m, m.waitForStatus()

	case updatesClosedMsg:
		return m.quit()

	case stoppedMsg:
		if msg.err != nil {
			log.Warn("Stop reported an error", "err", msg.err)
		}
		m.final = m.ctrl.Status()
		return m.quit()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) View() string {
	pad := strings.Repeat(" ", padding)
	inner := max(m.width-padding*2, 10)

	var b strings.Builder
	b.WriteString("\n")

	if m.cfg.Title != "" {
		b.WriteString(pad + titleStyle.Render(truncate.StringWithTail(m.cfg.Title, uint(inner), ellipsis)) + "\n\n") //nolint:gosec
	}

	switch {
	case m.stopping:
		b.WriteString(pad + m.spinner.View() + " Stopping…\n")
	case m.display.phase == phaseProcessing:
		b.WriteString(pad + m.spinner.View() + " " + m.display.DetailedStatus(inner-2) + "\n")
	default:
		if s := m.display.DetailedStatus(inner); s != "" {
			for _, line := range strings.Split(s, "\n") {
				b.WriteString(pad + line + "\n")
			}
		}
	}

	if m.display.total > 0 {
		b.WriteString("\n" + pad + m.progress.ViewAs(m.display.Progress()) + "\n")
	}

	if preview := m.preview(inner); preview != "" {
		b.WriteString("\n" + pad + previewStyle.Render(preview) + "\n")
	}

	b.WriteString("\n" + pad + helpStyle.Render("q: stop") + "\n")
	return b.String()
}

// preview returns the text of the current chunk cut to width cells.
func (m *Model) preview(width int) string {
	if !m.cfg.ShowPreview || m.display.phase != phasePlaying {
		return ""
	}
	i := m.display.current
	if i < 0 || i >= len(m.cfg.Chunks) {
		return ""
	}
	text := strings.Join(strings.Fields(m.cfg.Chunks[i]), " ")
	if runewidth.StringWidth(text) <= width {
		return text
	}
	return truncate.StringWithTail(text, uint(width), ellipsis) //nolint:gosec
}
