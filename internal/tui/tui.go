// Package tui provides a Bubble Tea TUI for viewing termctx exports.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/export"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	kindCommandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	kindProcStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindFileStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindPaneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true)
	kindEnvStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	outputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))

	// Selected row in the Commands list
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabCommands
	tabProcesses
	tabFiles
	tabPanes
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Commands", "Processes", "Files", "Panes", "Timeline",
}

// badges label timeline rows by event kind.
var badges = map[event.Kind]struct {
	label string
	style lipgloss.Style
}{
	event.KindCommand:       {"CMD", kindCommandStyle},
	event.KindProcessStart:  {"START", kindProcStyle},
	event.KindProcessStop:   {"STOP", kindProcStyle},
	event.KindFileChange:    {"FILE", kindFileStyle},
	event.KindFileReference: {"REF", kindFileStyle},
	event.KindTmuxContent:   {"PANE", kindPaneStyle},
	event.KindEnvChange:     {"ENV", kindEnvStyle},
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	doc       *export.Document
	filename  string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool

	commands []event.Event
	procs    []event.Event
	files    []event.Event
	panes    []event.Event // last capture per pane, in first-seen order

	// Commands tab: cursor position and expanded set
	cmdCursor   int
	expandedCmd map[int]bool
}

// New creates a new TUI model for the given document and source filename.
func New(doc *export.Document, filename string) Model {
	m := Model{
		doc:         doc,
		filename:    filepath.Base(filename),
		expandedCmd: make(map[int]bool),
	}
	last := map[string]int{}
	for _, e := range doc.Events {
		switch e.Kind {
		case event.KindCommand:
			m.commands = append(m.commands, e)
		case event.KindProcessStart, event.KindProcessStop:
			m.procs = append(m.procs, e)
		case event.KindFileChange, event.KindFileReference:
			m.files = append(m.files, e)
		case event.KindTmuxContent:
			if i, ok := last[e.Pane.PaneID]; ok {
				m.panes[i] = e
			} else {
				last[e.Pane.PaneID] = len(m.panes)
				m.panes = append(m.panes, e)
			}
		}
	}
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5", "6":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.rebuildTimelineViewport()
			}
		case "up", "k":
			if m.activeTab == tabCommands && m.cmdCursor > 0 {
				m.cmdCursor--
				m.rebuildCommandsViewport()
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabCommands && m.cmdCursor < len(m.commands)-1 {
				m.cmdCursor++
				m.rebuildCommandsViewport()
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabCommands && len(m.commands) > 0 {
				if m.commands[m.cmdCursor].Command.Output != "" {
					if m.expandedCmd[m.cmdCursor] {
						delete(m.expandedCmd, m.cmdCursor)
					} else {
						m.expandedCmd[m.cmdCursor] = true
					}
					m.rebuildCommandsViewport()
				}
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  termctx  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	if m.activeTab == tabTimeline {
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	}
	if m.activeTab == tabCommands {
		hint += "  ↑/↓ select  enter show output"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuildTimelineViewport() {
	m.viewports[tabTimeline].SetContent(m.renderTab(tabTimeline))
	m.viewports[tabTimeline].GotoTop()
}

func (m *Model) rebuildCommandsViewport() {
	m.viewports[tabCommands].SetContent(m.renderTab(tabCommands))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabCommands:
		return m.renderCommands()
	case tabProcesses:
		return m.renderProcesses()
	case tabFiles:
		return m.renderFiles()
	case tabPanes:
		return m.renderPanes()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func none() string {
	return dimStyle.Render("  (none)") + "\n"
}

func (m *Model) renderSummary() string {
	s := m.doc.Session
	sum := m.doc.Summary
	var sb strings.Builder
	sb.WriteString(heading("Session Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-18s", label)) + "  " + value + "\n")
	}
	row("Work Dir:", s.WorkDir)
	row("Started:", s.StartTime.Format("2006-01-02 15:04:05 MST"))
	if s.StopTime != nil {
		row("Stopped:", s.StopTime.Format("2006-01-02 15:04:05 MST"))
	}
	row("Duration:", sum.Duration.Round(time.Second).String())
	row("Active:", fmt.Sprintf("%s (%.2fh)", sum.ActiveDuration.Round(time.Second), sum.ActiveHours))
	if m.doc.Author != "" {
		row("Author:", m.doc.Author)
	}
	if s.Env.Shell != "" {
		row("Shell:", s.Env.Shell)
	}
	if sum.CurrentDirectory != "" {
		row("Last Directory:", sum.CurrentDirectory)
	}
	if len(sum.Degraded) > 0 {
		row("Degraded:", warnStyle.Render(strings.Join(sum.Degraded, ", ")))
	}

	sb.WriteString(heading("Counts"))
	row("Commands:", humanize.Comma(int64(sum.TotalCommands)))
	row("Processes Started:", humanize.Comma(int64(sum.TotalProcesses)))
	row("File Accesses:", humanize.Comma(int64(sum.TotalFileAccess)))
	row("Dir Changes:", humanize.Comma(int64(sum.DirectoryChanges)))
	row("Events Retained:", humanize.Comma(int64(len(m.doc.Events))))
	if sum.Evicted > 0 {
		row("Events Evicted:", humanize.Comma(int64(sum.Evicted)))
	}

	if len(sum.CommandFrequency) > 0 {
		sb.WriteString(heading("Top Commands"))
		for _, c := range sum.CommandFrequency {
			sb.WriteString(bullet(fmt.Sprintf("%-20s %s", c.Name, dimStyle.Render(fmt.Sprintf("×%d", c.Count)))))
		}
	}
	if len(sum.PrimaryLanguages) > 0 {
		sb.WriteString(heading("Languages"))
		for _, l := range sum.PrimaryLanguages {
			sb.WriteString(bullet(fmt.Sprintf("%s (%d)", l.Name, l.Count)))
		}
	}
	if len(sum.RecentFiles) > 0 {
		sb.WriteString(heading("Recent Files"))
		for _, f := range sum.RecentFiles {
			sb.WriteString(bullet(stripWorkDir(f, s.WorkDir)))
		}
	}
	return sb.String()
}

func (m *Model) renderCommands() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Terminal Commands (%d)", len(m.commands))))
	if len(m.commands) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for i, e := range m.commands {
		c := e.Command
		hasOutput := c.Output != ""
		toggle := "    "
		if hasOutput {
			toggle = dimStyle.Render("  ▶ ")
			if m.expandedCmd[i] {
				toggle = dimStyle.Render("  ▼ ")
			}
		}
		at := e.Timestamp
		if !c.RecordedAt.IsZero() {
			at = c.RecordedAt
		}
		num := dimStyle.Render(fmt.Sprintf("%3d.", i+1))
		row := fmt.Sprintf("%s%s %s  %s", toggle, num, timeStyle.Render("["+at.Format("15:04:05")+"]"), c.Text)
		if i == m.cmdCursor {
			row = selectedRowStyle.Width(max(m.width-2, 1)).Render(row)
		}
		sb.WriteString(row + "\n")
		if hasOutput && m.expandedCmd[i] {
			sb.WriteString(renderBlock(c.Output, m.width, outputStyle))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderProcesses() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Processes (%d)", len(m.procs))))
	if len(m.procs) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for _, e := range m.procs {
		p := e.Process
		b := badges[e.Kind]
		cmdline := p.Cmdline
		if cmdline == "" {
			cmdline = p.Name
		}
		fmt.Fprintf(&sb, "  %s  %s  %s  %s\n",
			timeStyle.Render(e.Timestamp.Format("15:04:05")),
			b.style.Render(fmt.Sprintf("%-5s", b.label)),
			dimStyle.Render(fmt.Sprintf("%7d", p.PID)),
			cmdline)
	}
	return sb.String()
}

func (m *Model) renderFiles() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("File Activity (%d)", len(m.files))))
	if len(m.files) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	workDir := m.doc.Session.WorkDir
	for _, e := range m.files {
		ts := timeStyle.Render(e.Timestamp.Format("15:04:05"))
		if e.Kind == event.KindFileReference {
			r := e.Reference
			detail := humanize.Bytes(uint64(r.Size))
			if r.Truncated {
				detail += ", truncated"
			}
			fmt.Fprintf(&sb, "  %s  %s  %s %s\n", ts, kindFileStyle.Render(fmt.Sprintf("%-8s", "ref")),
				stripWorkDir(r.Path, workDir), dimStyle.Render("("+detail+")"))
			continue
		}
		fmt.Fprintf(&sb, "  %s  %s  %s\n", ts, kindFileStyle.Render(fmt.Sprintf("%-8s", e.File.Op)), stripWorkDir(e.File.Path, workDir))
	}
	return sb.String()
}

func (m *Model) renderPanes() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Terminal Panes (%d)", len(m.panes))))
	if len(m.panes) == 0 {
		sb.WriteString(dimStyle.Render("  (no multiplexer captures in this session)") + "\n")
		return sb.String()
	}
	for _, e := range m.panes {
		sb.WriteString(labelStyle.Render("  Pane "+e.Pane.PaneID) + "  " + timeStyle.Render(e.Timestamp.Format("15:04:05")) + "\n")
		sb.WriteString(renderBlock(e.Pane.Text, m.width, outputStyle))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderBlock frames multi-line text between two rules.
func renderBlock(text string, width int, style lipgloss.Style) string {
	var sb strings.Builder
	border := dimStyle.Render("  " + strings.Repeat("─", max(width-4, 1)))
	sb.WriteString(border + "\n")
	sb.WriteString(style.Render(indent(strings.TrimRight(text, "\n"), "  ")) + "\n")
	sb.WriteString(border + "\n")
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder

	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := make([]event.Event, len(m.doc.Events))
	copy(events, m.doc.Events)
	if m.sortAsc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Sequence > events[j].Sequence })
	}

	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (no events in this session)") + "\n")
		return sb.String()
	}

	workDir := m.doc.Session.WorkDir
	for _, e := range events {
		ts := timeStyle.Render(e.Timestamp.Format("15:04:05"))
		b := badges[e.Kind]
		badge := b.style.Render(fmt.Sprintf("  %-6s", b.label))
		text := e.Summary()
		switch e.Kind {
		case event.KindFileChange:
			text = fmt.Sprintf("%s %s", e.File.Op, stripWorkDir(e.File.Path, workDir))
		case event.KindFileReference:
			text = stripWorkDir(e.Reference.Path, workDir)
		}
		sb.WriteString(ts + badge + "  " + text + "\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// stripWorkDir removes the workDir prefix from path, returning a relative path.
// If path doesn't start with workDir, it's returned unchanged.
func stripWorkDir(path, workDir string) string {
	if workDir == "" {
		return path
	}
	prefix := workDir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if strings.HasPrefix(path, prefix) {
		return path[len(prefix):]
	}
	return path
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Run starts the TUI for the given document.
func Run(doc *export.Document, filename string) error {
	p := tea.NewProgram(New(doc, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
