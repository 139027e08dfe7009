package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/handleui/shimmer"

	"github.com/handleui/caliper/internal/engine"
)

// FileStartMsg signals that a file entered analysis.
type FileStartMsg struct {
	Path string
}

// FileResultMsg carries the finished report for one file.
type FileResultMsg struct {
	Path   string
	Report *engine.Report
}

// BatchDoneMsg signals that the batch finished.
type BatchDoneMsg struct {
	Duration  time.Duration
	Cancelled bool
}

// ErrMsg signals an error
type ErrMsg error

// BatchModel is the Bubble Tea model for batch analysis progress.
type BatchModel struct {
	shimmer    shimmer.Model
	tracker    *FileTracker
	done       bool
	err        error
	duration   time.Duration
	startTime  time.Time
	Cancelled  bool
	cancelFunc func()
	quitting   bool
}

// NewBatchModel creates a new TUI model for a batch run over the given
// paths.
func NewBatchModel(paths []string, cancelFunc func()) BatchModel {
	// Base color is grey (#585858) so shimmer wave can lighten to white
	shim := shimmer.New("Scanning pipelines", "#585858")
	shim = shim.SetLoading(true)

	return BatchModel{
		shimmer:    shim,
		tracker:    NewFileTracker(paths),
		startTime:  time.Now(),
		cancelFunc: cancelFunc,
	}
}

// Init initializes the model
func (m *BatchModel) Init() tea.Cmd {
	return m.shimmer.Init()
}

// Update handles messages and updates the model state
func (m *BatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.done || m.quitting {
				return m, tea.Quit
			}
			m.quitting = true
			if m.cancelFunc != nil {
				m.cancelFunc()
			}
			return m, tea.Quit
		}

	case FileStartMsg:
		if m.tracker.MarkAnalyzing(msg.Path) {
			m.updateShimmerForCurrentFile()
		}
		// Fall through to shimmer update

	case FileResultMsg:
		if m.tracker.MarkDone(msg.Path, msg.Report) {
			m.updateShimmerForCurrentFile()
		}
		// Fall through to shimmer update

	case BatchDoneMsg:
		m.done = true
		m.duration = msg.Duration
		m.Cancelled = msg.Cancelled
		m.tracker.MarkRemainingSkipped()
		return m, tea.Quit

	case ErrMsg:
		m.err = msg
		return m, tea.Quit
	}

	// Always forward messages to shimmer to keep animation running
	var cmd tea.Cmd
	m.shimmer, cmd = m.shimmer.Update(msg)
	return m, cmd
}

// updateShimmerForCurrentFile updates shimmer text to show the file
// currently under analysis.
func (m *BatchModel) updateShimmerForCurrentFile() {
	for _, file := range m.tracker.Files() {
		if file.Status == FileAnalyzing {
			m.shimmer = m.shimmer.SetText(file.Path).SetLoading(true)
			return
		}
	}
}

// Reports returns the collected reports keyed by path. The caller
// prints them after the TUI exits.
func (m *BatchModel) Reports() map[string]*engine.Report {
	reports := make(map[string]*engine.Report)
	for _, file := range m.tracker.Files() {
		if file.Report != nil {
			reports[file.Path] = file.Report
		}
	}
	return reports
}

// Err returns the fatal error that ended the TUI, if any.
func (m *BatchModel) Err() error {
	return m.err
}

// View renders the current model state as a string
func (m *BatchModel) View() string {
	if m.err != nil || m.done {
		// Return empty to clear the TUI area - the batch summary is
		// printed after the TUI exits by the calling code
		return ""
	}

	var b strings.Builder

	files := m.tracker.Files()
	settled := 0
	for _, file := range files {
		if file.Status == FileDone || file.Status == FileFailed {
			settled++
		}
	}

	elapsed := int(time.Since(m.startTime).Seconds())
	header := fmt.Sprintf("caliper · %d/%d pipelines · %ds", settled, len(files), elapsed)
	b.WriteString(SecondaryStyle.Render(header) + "\n\n")

	for _, file := range files {
		b.WriteString("  " + m.renderFileLine(file) + "\n")
	}

	return b.String()
}

// renderFileLine renders a single file line with its status icon.
func (m *BatchModel) renderFileLine(file *TrackedFile) string {
	var icon string
	var text string

	switch file.Status {
	case FilePending:
		icon = MutedStyle.Render("·")
		text = MutedStyle.Render(file.Path)

	case FileAnalyzing:
		icon = SecondaryStyle.Render("·")
		text = m.shimmer.View()

	case FileDone:
		if file.Report != nil && len(file.Report.Findings) > 0 {
			label := "findings"
			if len(file.Report.Findings) == 1 {
				label = "finding"
			}
			icon = WarningStyle.Render("●")
			text = PrimaryStyle.Render(file.Path) + MutedStyle.Render(fmt.Sprintf(" · %d %s", len(file.Report.Findings), label))
		} else {
			icon = SuccessStyle.Render("✓")
			text = PrimaryStyle.Render(file.Path)
		}

	case FileFailed:
		icon = ErrorStyle.Render("✗")
		text = PrimaryStyle.Render(file.Path)

	case FileSkipped:
		icon = SecondaryStyle.Render("⏭")
		text = SecondaryStyle.Render(file.Path)
	}

	return fmt.Sprintf("%s %s", icon, text)
}
