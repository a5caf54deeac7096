// Package statusui is a small bubbletea dashboard for cmd/atmd: it shows
// the card and HSM link states, the outcome of the last customer
// operation, and a host resource line, refreshed on a tick. It has no
// control over the ATM backend; it only polls a StatusSource.
package statusui

import (
	"fmt"
	"runtime"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"atmcore/internal/devicelink"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	readyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")).Bold(true)
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// Snapshot is the state statusui renders each tick. cmd/atmd builds one
// from its card/HSM links and the last operation it ran.
type Snapshot struct {
	CardState     devicelink.State
	HSMState      devicelink.State
	LastOperation string
	LastError     error
	UpdatedAt     time.Time
}

// StatusSource is polled once per tick to get the latest Snapshot. cmd/atmd
// implements this over its live Orchestrator/links without exposing them
// directly to the UI package.
type StatusSource interface {
	Snapshot() Snapshot
}

// Model is the bubbletea model driving the dashboard.
type Model struct {
	source   StatusSource
	snapshot Snapshot
	resource string
	width    int
	quitting bool
}

// New builds a Model polling source every tick.
func New(source StatusSource) Model {
	return Model{source: source, snapshot: source.Snapshot()}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.pollResources())
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type resourceMsg string

func (m Model) pollResources() tea.Cmd {
	return func() tea.Msg {
		cpuPercent, _ := psutil.Percent(0, false)
		memInfo, _ := psmem.VirtualMemory()
		cpu := 0.0
		if len(cpuPercent) > 0 {
			cpu = cpuPercent[0]
		}
		mem := 0.0
		if memInfo != nil {
			mem = memInfo.UsedPercent
		}
		return resourceMsg(fmt.Sprintf("CPU %.1f%% | RAM %.1f%% | Go %s", cpu, mem, runtime.Version()))
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		m.snapshot = m.source.Snapshot()
		return m, tick()
	case resourceMsg:
		m.resource = string(msg)
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.pollResources()() })
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width < 40 {
		width = 60
	}

	header := headerStyle.Width(width).Render("atmd status")

	cardLine := fmt.Sprintf("%s  %s", labelStyle.Render("card:"), stateStyle(m.snapshot.CardState))
	hsmLine := fmt.Sprintf("%s   %s", labelStyle.Render("hsm:"), stateStyle(m.snapshot.HSMState))

	lastOp := m.snapshot.LastOperation
	if lastOp == "" {
		lastOp = "(none yet)"
	}
	lastLine := fmt.Sprintf("%s %s", labelStyle.Render("last op:"), infoStyle.Render(lastOp))

	errLine := ""
	if m.snapshot.LastError != nil {
		errLine = downStyle.Render("error: "+m.snapshot.LastError.Error()) + "\n"
	}

	footer := footerStyle.Width(width).Render(m.resource + "  |  q to quit")

	return fmt.Sprintf("%s\n\n%s\n%s\n%s\n%s\n%s", header, cardLine, hsmLine, lastLine, errLine, footer)
}

func stateStyle(s devicelink.State) string {
	if s == devicelink.StateReady || s == devicelink.StateInFlight {
		return readyStyle.Render(s.String())
	}
	return downStyle.Render(s.String())
}
