package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// EventMsg carries one engine event into the program.
type EventMsg struct {
	Event dispatch.Event
}

// DoneMsg is sent when Engine.Run returns.
type DoneMsg struct {
	Report *models.RunReport
	Err    error
}

// StopFunc requests a graceful stop of the run.
type StopFunc func(reason string)

// RunApp is the bubbletea model for the run command.
type RunApp struct {
	state   *ProgressState
	spinner spinner.Model
	stop    StopFunc
	source  string

	width    int
	height   int
	quitting bool
	done     bool
	err      error

	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	barFull      lipgloss.Style
	barEmpty     lipgloss.Style
	runningStyle lipgloss.Style
	doneStyle    lipgloss.Style
	partialStyle lipgloss.Style
	failedStyle  lipgloss.Style
	dimStyle     lipgloss.Style
}

// NewRunApp creates the model. stop is called on the first q or ctrl+c.
func NewRunApp(source string, stop StopFunc) *RunApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &RunApp{
		state:   NewProgressState(),
		spinner: s,
		stop:    stop,
		source:  source,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
		labelStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12),
		valueStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true),
		barFull:      lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		barEmpty:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		partialStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		failedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		dimStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// State exposes the progress state.
func (a *RunApp) State() *ProgressState {
	return a.state
}

// Init implements tea.Model.
func (a *RunApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *RunApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The first press asks the engine to stop after the current batch.
			if a.done || a.state.Stopping {
				a.quitting = true
				return a, tea.Quit
			}
			a.state.Stopping = true
			if a.stop != nil {
				a.stop("stop requested from terminal")
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case EventMsg:
		a.state.Apply(msg.Event)

	case DoneMsg:
		a.done = true
		a.err = msg.Err
		if msg.Report != nil {
			a.state.Report = msg.Report
		}

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// View implements tea.Model.
func (a *RunApp) View() string {
	if a.quitting {
		return ""
	}
	st := a.state
	var b strings.Builder

	title := "mosaic"
	if a.source != "" {
		title += "  " + a.source
	}
	b.WriteString(a.headerStyle.Render(title))
	b.WriteString("\n")

	phase := st.Phase
	if !a.done {
		phase = a.spinner.View() + " " + phase
	}
	b.WriteString(a.labelStyle.Render("Phase:"))
	b.WriteString(a.valueStyle.Render(phase))
	if st.Priority > 0 {
		b.WriteString(a.dimStyle.Render(fmt.Sprintf("  priority %d, batch %d", st.Priority, st.Batch)))
	}
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Tasks:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d/%d finished, %d running, %d failed",
		st.Finished, st.Total, st.Running(), st.Failed)))
	b.WriteString("\n")
	b.WriteString(renderBar(st.Percent(), 30, a.barFull, a.barEmpty))
	b.WriteString("\n\n")

	for _, r := range st.Rows() {
		b.WriteString(a.renderRow(r))
		b.WriteString("\n")
	}

	if logs := a.renderLogs(6); logs != "" {
		b.WriteString("\n")
		b.WriteString(logs)
	}

	b.WriteString("\n")
	b.WriteString(a.footer())
	b.WriteString("\n")
	return b.String()
}

func (a *RunApp) renderRow(r TaskRow) string {
	var mark string
	switch r.Status {
	case TaskRunning, TaskDegraded:
		mark = a.runningStyle.Render("●")
	case TaskDone:
		mark = a.doneStyle.Render("✓")
	case TaskPartial:
		mark = a.partialStyle.Render("◐")
	case TaskFailed:
		mark = a.failedStyle.Render("✗")
	default:
		mark = a.dimStyle.Render("·")
	}

	line := fmt.Sprintf("  %s P%d %-24s", mark, r.Priority, truncate(r.Name, 24))
	if r.Duration > 0 {
		line += a.dimStyle.Render(fmt.Sprintf(" %6s", r.Duration.Round(time.Second)))
	}
	if r.Degraded {
		line += " " + a.partialStyle.Render("[shared dir]")
	}
	if r.Detail != "" && r.Status != TaskRunning && r.Status != TaskDegraded {
		width := 60
		if a.width > 50 {
			width = a.width - 50
		}
		line += " " + a.dimStyle.Render(truncate(oneLine(r.Detail), width))
	}
	return line
}

func (a *RunApp) renderLogs(n int) string {
	logs := a.state.Logs
	if len(logs) == 0 {
		return ""
	}
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	var b strings.Builder
	for _, e := range logs {
		kind := lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Width(10).Render(e.Kind)
		fmt.Fprintf(&b, "  %s %s %s\n", a.dimStyle.Render(e.Timestamp.Format("15:04:05")), kind, e.Message)
	}
	return b.String()
}

func (a *RunApp) footer() string {
	switch {
	case a.done && a.err != nil:
		return a.failedStyle.Render(fmt.Sprintf("Run aborted: %v. Press q to exit.", a.err))
	case a.done && a.state.Report != nil && !a.state.Report.OK():
		return a.failedStyle.Render(fmt.Sprintf("%d of %d tasks failed. Press q to exit.", a.state.Report.Failed, a.state.Report.Total))
	case a.done:
		return a.doneStyle.Render("All tasks finished. Press q to exit.")
	case a.state.Stopping:
		return a.partialStyle.Render("Stopping after the current batch. Press q again to leave the display.")
	default:
		return a.dimStyle.Render("Press q to stop after the current batch")
	}
}

func renderBar(pct float64, width int, full, empty lipgloss.Style) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	filled := int(pct / 100 * float64(width))
	return fmt.Sprintf("  %s%s %.0f%%",
		full.Render(strings.Repeat("█", filled)),
		empty.Render(strings.Repeat("░", width-filled)),
		pct)
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Forward pumps engine events into the program until the channel closes.
func Forward(events <-chan dispatch.Event, p *tea.Program) {
	for ev := range events {
		p.Send(EventMsg{Event: ev})
	}
}

// NewRunProgram creates the program for a run. refresh sets how often the
// screen is redrawn; zero keeps the renderer's default.
func NewRunProgram(source string, stop StopFunc, refresh time.Duration) (*tea.Program, *RunApp) {
	app := NewRunApp(source, stop)
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if fps := framesPerSecond(refresh); fps > 0 {
		opts = append(opts, tea.WithFPS(fps))
	}
	return tea.NewProgram(app, opts...), app
}

// framesPerSecond converts a redraw interval to the renderer's 1-120 range.
func framesPerSecond(refresh time.Duration) int {
	if refresh <= 0 {
		return 0
	}
	fps := int(time.Second / refresh)
	switch {
	case fps < 1:
		return 1
	case fps > 120:
		return 120
	}
	return fps
}
