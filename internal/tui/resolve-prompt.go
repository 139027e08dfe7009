package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/handleui/caliper/internal/coordinate"
)

// ResolveResult contains the user's decision for one conflict.
type ResolveResult struct {
	// Resolution is the chosen resolution, nil when the user typed a
	// replacement instead.
	Resolution *coordinate.Resolution
	// Renames maps pipeline name to its replacement when the user typed
	// one: a new name for name conflicts, a new output path for file
	// conflicts.
	Renames   map[string]string
	Cancelled bool
}

// ResolvePromptModel is a Bubble Tea model for walking the user through
// one conflict that has no automatic resolution.
type ResolvePromptModel struct {
	conflict      coordinate.Conflict
	selectedIndex int
	renaming      bool
	renameTarget  string
	textInput     textinput.Model
	result        *ResolveResult
	inputError    string
	quitting      bool
}

// NewResolvePromptModel creates a prompt for the given conflict.
func NewResolvePromptModel(conflict coordinate.Conflict) *ResolvePromptModel {
	ti := textinput.New()
	ti.Placeholder = "new pipeline name"
	if conflict.Type == coordinate.ConflictFile {
		ti.Placeholder = "path/to/pipeline.yml"
	}
	ti.CharLimit = 100
	ti.Width = 40

	return &ResolvePromptModel{
		conflict:  conflict,
		textInput: ti,
	}
}

// GetResult returns the user's choice after the prompt completes.
func (m *ResolvePromptModel) GetResult() *ResolveResult {
	return m.result
}

// optionCount returns the number of selectable entries. Name and file
// conflicts get an extra typed-replacement entry after the resolutions;
// resource conflicts have nothing sensible to type.
func (m *ResolvePromptModel) optionCount() int {
	n := len(m.conflict.Resolutions)
	if m.typedEntryLabel() != "" {
		n++
	}
	return n
}

// typedEntryLabel returns the label for the typed-replacement entry, or
// "" when the conflict type has none.
func (m *ResolvePromptModel) typedEntryLabel() string {
	switch m.conflict.Type {
	case coordinate.ConflictName:
		return "Type a different name"
	case coordinate.ConflictFile:
		return "Type a different path"
	}
	return ""
}

// Init implements tea.Model.
func (m *ResolvePromptModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *ResolvePromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		return m.handleKeyPress(keyMsg)
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// handleKeyPress processes keyboard input.
func (m *ResolvePromptModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.renaming {
		return m.handleRenameKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "esc":
		m.result = &ResolveResult{Cancelled: true}
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}

	case "down", "j":
		if m.selectedIndex < m.optionCount()-1 {
			m.selectedIndex++
		}

	case "enter":
		if m.selectedIndex >= len(m.conflict.Resolutions) {
			// The extra entry: switch to typing a replacement for the
			// last affected pipeline.
			m.renaming = true
			m.renameTarget = m.conflict.Affected[len(m.conflict.Affected)-1]
			m.textInput.Focus()
			return m, textinput.Blink
		}
		chosen := m.conflict.Resolutions[m.selectedIndex]
		m.result = &ResolveResult{Resolution: &chosen}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// handleRenameKey processes keyboard input while typing a new name.
func (m *ResolvePromptModel) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.result = &ResolveResult{Cancelled: true}
		m.quitting = true
		return m, tea.Quit

	case "esc":
		// Back to the resolution list without deciding.
		m.renaming = false
		m.inputError = ""
		m.textInput.Blur()
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.textInput.Value())
		if value == "" {
			m.inputError = "value cannot be empty"
			return m, nil
		}
		if m.conflict.Type == coordinate.ConflictName {
			for _, affected := range m.conflict.Affected {
				if value == affected {
					m.inputError = fmt.Sprintf("%q is already taken by a conflicting pipeline", value)
					return m, nil
				}
			}
		}
		m.result = &ResolveResult{
			Renames: map[string]string{m.renameTarget: value},
		}
		m.quitting = true
		return m, tea.Quit
	}

	// Clear error on typing
	m.inputError = ""

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *ResolvePromptModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(BoldPrimaryStyle.Render(fmt.Sprintf("%s conflict needs a decision", m.conflict.Type)))
	b.WriteString("\n\n")

	b.WriteString(SecondaryStyle.Render("Affected pipelines: "))
	b.WriteString(MutedStyle.Render(strings.Join(m.conflict.Affected, ", ")))
	b.WriteString("\n\n")

	if m.renaming {
		noun := "name"
		if m.conflict.Type == coordinate.ConflictFile {
			noun = "path"
		}
		b.WriteString(SecondaryStyle.Render(fmt.Sprintf("New %s for %q:", noun, m.renameTarget)))
		b.WriteString("\n\n")
		b.WriteString(m.textInput.View())
		b.WriteString("\n")

		if m.inputError != "" {
			b.WriteString(ErrorStyle.Render(m.inputError))
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(HintStyle.Render("[enter] rename  [esc] back"))
		return b.String()
	}

	for i, resolution := range m.conflict.Resolutions {
		cursor := "  "
		style := PrimaryStyle
		if i == m.selectedIndex {
			cursor = "> "
			style = SuccessStyle
		}
		b.WriteString(style.Render(cursor + resolution.Description))
		b.WriteString("\n")
	}
	if label := m.typedEntryLabel(); label != "" {
		i := len(m.conflict.Resolutions)
		cursor := "  "
		style := PrimaryStyle
		if i == m.selectedIndex {
			cursor = "> "
			style = SuccessStyle
		}
		b.WriteString(style.Render(cursor + label))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(HintStyle.Render("[up/down to select, enter to confirm, esc to cancel]"))

	return b.String()
}
