// Package main is surftop, a terminal dashboard for a running surf service.
// It polls /api/v1/status and renders system gauges, the session table, and
// pool and pacer state.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"

	"github.com/nomadbarefoot/surf/internal/handlers"
	"github.com/nomadbarefoot/surf/internal/session"
)

const historyLen = 60

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("117"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))
)

// apiEnvelope mirrors the service's success wrapper.
type apiEnvelope struct {
	Success bool                     `json:"success"`
	Data    *handlers.StatusResponse `json:"data"`
}

type statusMsg struct {
	status *handlers.StatusResponse
}

type errMsg struct {
	err error
}

type tickMsg time.Time

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) fetchStatus() tea.Msg {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return errMsg{err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errMsg{fmt.Errorf("status endpoint returned %s", resp.Status)}
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errMsg{fmt.Errorf("decode status: %w", err)}
	}
	if !env.Success || env.Data == nil {
		return errMsg{fmt.Errorf("status endpoint returned no data")}
	}
	return statusMsg{status: env.Data}
}

type model struct {
	client   *client
	interval time.Duration

	status     *handlers.StatusResponse
	cpuHistory []float64
	memHistory []float64

	lastErr     error
	lastRefresh time.Time
	width       int
}

func newModel(c *client, interval time.Duration) model {
	return model{client: c, interval: interval, width: 100}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.client.fetchStatus, m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.client.fetchStatus
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.client.fetchStatus, m.tick())

	case statusMsg:
		m.status = msg.status
		m.lastErr = nil
		m.lastRefresh = time.Now()
		if msg.status.Monitor != nil {
			m.cpuHistory = appendHistory(m.cpuHistory, msg.status.Monitor.System.CPUPercent)
			m.memHistory = appendHistory(m.memHistory, msg.status.Monitor.System.MemoryPercent)
		}

	case errMsg:
		m.lastErr = msg.err
	}
	return m, nil
}

func appendHistory(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	return h
}

func (m model) View() string {
	var b strings.Builder

	title := "surftop"
	if m.status != nil {
		title = fmt.Sprintf("surftop - surf %s, up %s",
			m.status.Version, humanizeUptime(m.status.UptimeSeconds))
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	if m.status == nil {
		b.WriteString(dimStyle.Render("waiting for first status sample..."))
		b.WriteString("\n")
		b.WriteString(m.statusBar())
		return b.String()
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(m.systemPane()),
		paneStyle.Render(m.servicePane()),
	))
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.sessionsPane()))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	return b.String()
}

func (m model) systemPane() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("System"))
	b.WriteString("\n")

	if m.status.Monitor == nil {
		b.WriteString(dimStyle.Render("monitor disabled"))
		return b.String()
	}

	sys := m.status.Monitor.System
	b.WriteString(fmt.Sprintf("CPU %5.1f%%   Mem %5.1f%% (%.1f GB free)   Disk %5.1f%%\n",
		sys.CPUPercent, sys.MemoryPercent, sys.MemoryAvailableGB, sys.DiskPercent))

	if len(m.cpuHistory) > 1 {
		b.WriteString(dimStyle.Render("cpu"))
		b.WriteString("\n")
		b.WriteString(asciigraph.Plot(m.cpuHistory,
			asciigraph.Height(4), asciigraph.Width(44)))
		b.WriteString("\n")
	}
	if len(m.memHistory) > 1 {
		b.WriteString(dimStyle.Render("mem"))
		b.WriteString("\n")
		b.WriteString(asciigraph.Plot(m.memHistory,
			asciigraph.Height(4), asciigraph.Width(44)))
	}
	return b.String()
}

func (m model) servicePane() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Service"))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("sessions  %d / %d\n",
		m.status.Sessions.Active, m.status.Sessions.Max))

	if mon := m.status.Monitor; mon != nil {
		b.WriteString(fmt.Sprintf("requests  %s  success %.0f%%  avg %.0f ms\n",
			humanize.Comma(mon.TotalRequests), mon.SuccessRate*100, mon.AvgResponseTime))
	}
	if p := m.status.Pool; p != nil {
		state := okStyle.Render("running")
		if !p.Running {
			state = dimStyle.Render("idle")
		}
		b.WriteString(fmt.Sprintf("pool      %s  contexts %d open / %d total  launches %d\n",
			state, p.OpenContexts, p.ContextsTotal, p.Launches))
	}
	if pc := m.status.Pacer; pc != nil {
		if pc.Enabled {
			b.WriteString(fmt.Sprintf("pacer     delay %s  success %.0f%% over %s reqs\n",
				pc.CurrentDelay.Round(time.Millisecond), pc.SuccessRate*100,
				humanize.Comma(pc.TotalRequests)))
		} else {
			b.WriteString(dimStyle.Render("pacer     disabled") + "\n")
		}
	}
	if sm := m.status.SiteMemory; sm != nil {
		b.WriteString(fmt.Sprintf("sites     %s tracked  avg success %.0f%%\n",
			humanize.Comma(sm.TotalSites), sm.AvgSuccessRate*100))
	}
	return b.String()
}

func (m model) sessionsPane() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sessions"))
	b.WriteString("\n")

	list := m.status.Sessions.List
	if len(list) == 0 {
		b.WriteString(dimStyle.Render("no active sessions"))
		return b.String()
	}

	sorted := make([]session.Info, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	b.WriteString(dimStyle.Render(fmt.Sprintf("%-14s %-8s %8s %8s %8s  %s",
		"ID", "STATUS", "AGE", "PAGES", "REQS", "URL")))
	b.WriteString("\n")
	for _, info := range sorted {
		age := time.Since(info.CreatedAt).Round(time.Second)
		b.WriteString(fmt.Sprintf("%-14s %-8s %8s %8d %8d  %s\n",
			info.ID, info.Status, age,
			info.Stats.PagesLoaded, info.Stats.Requests,
			truncate(info.URL, 40)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) statusBar() string {
	if m.lastErr != nil {
		return errStyle.Render("error: " + m.lastErr.Error() + "  (r to retry, q to quit)")
	}
	if m.lastRefresh.IsZero() {
		return dimStyle.Render("q quit · r refresh")
	}
	return dimStyle.Render(fmt.Sprintf("updated %s · q quit · r refresh",
		m.lastRefresh.Format("15:04:05")))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func humanizeUptime(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return strings.TrimSpace(humanize.RelTime(time.Now().Add(-d), time.Now(), "", ""))
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8000", "surf server base URL")
	token := flag.String("token", "", "bearer token, when the server requires one")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		token:   *token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	p := tea.NewProgram(newModel(c, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "surftop:", err)
		os.Exit(1)
	}
}
