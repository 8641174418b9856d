// Package tui provides a terminal monitor for IxNetwork RFC2544 runs
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/report"
)

// portColumns are shown per port, in this order
var portColumns = []struct {
	header string
	key    string
}{
	{"Port", "stat_name"},
	{"Frames Tx", "Frames_Tx"},
	{"Frames Rx", "Valid_Frames_Rx"},
	{"Tx fps", "Frames_Tx_Rate"},
	{"Rx fps", "Valid_Frames_Rx_Rate"},
	{"Tx Mbps", "Tx_Rate_Mbps"},
	{"Rx Mbps", "Rx_Rate_Mbps"},
}

// latencyColumns are shown per flow group
var latencyColumns = []struct {
	header string
	key    string
}{
	{"Min (ns)", "Store-Forward_Min_latency_ns"},
	{"Avg (ns)", "Store-Forward_Avg_latency_ns"},
	{"Max (ns)", "Store-Forward_Max_latency_ns"},
}

// App represents the TUI application
type App struct {
	app          *tview.Application
	pages        *tview.Pages
	portView     *tview.Table
	latencyView  *tview.Table
	logView      *tview.TextView
	progressBar  *tview.TextView
	statusBar    *tview.TextView
	defaultTitle string

	// Callbacks
	OnStart func()
	OnStop  func()
	OnQuit  func()
}

// New creates a new TUI application
func New() *App {
	a := &App{
		app:          tview.NewApplication(),
		pages:        tview.NewPages(),
		defaultTitle: "[yellow]IxNetwork RFC2544[white] | [green]F1[white] Start | [red]F2[white] Stop | [blue]F10[white] Quit",
	}
	a.build()
	return a
}

func (a *App) build() {
	// Per-port statistics (top)
	a.portView = tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	a.portView.SetTitle(" Port Statistics ").SetBorder(true)
	setHeader(a.portView, portHeaders())

	// Latency per flow group (right)
	a.latencyView = tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	a.latencyView.SetTitle(" Latency ").SetBorder(true)
	setHeader(a.latencyView, latencyHeaders())

	// Progress bar
	a.progressBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progressBar.SetTitle(" Progress ").SetBorder(true)
	a.progressBar.SetText(ProgressText(0, 0))

	// Log view (bottom)
	a.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			a.app.Draw()
		})
	a.logView.SetTitle(" Log ").SetBorder(true)

	// Status bar
	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.statusBar.SetText(a.defaultTitle)

	// Layout
	topRow := tview.NewFlex().
		AddItem(a.portView, 0, 3, false).
		AddItem(a.latencyView, 0, 2, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 3, false).
		AddItem(a.progressBar, 3, 0, false).
		AddItem(a.logView, 0, 1, false).
		AddItem(a.statusBar, 1, 0, false)

	a.pages.AddPage("main", mainFlex, true, true)

	// Key bindings
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			if a.OnStart != nil {
				go a.OnStart()
			}
			return nil
		case tcell.KeyF2:
			if a.OnStop != nil {
				go a.OnStop()
			}
			return nil
		case tcell.KeyF10, tcell.KeyEscape:
			if a.OnQuit != nil {
				a.OnQuit()
			}
			a.app.Stop()
			return nil
		}
		return event
	})

	a.app.SetRoot(a.pages, true)
}

func portHeaders() []string {
	out := make([]string, len(portColumns))
	for i, c := range portColumns {
		out[i] = c.header
	}
	return out
}

func latencyHeaders() []string {
	out := []string{"Flow"}
	for _, c := range latencyColumns {
		out = append(out, c.header)
	}
	return out
}

func setHeader(t *tview.Table, headers []string) {
	for i, h := range headers {
		t.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false))
	}
}

func fillTable(t *tview.Table, headers []string, rows [][]string) {
	t.Clear()
	setHeader(t, headers)
	for r, row := range rows {
		for c, v := range row {
			align := tview.AlignRight
			if c == 0 {
				align = tview.AlignLeft
			}
			t.SetCell(r+1, c, tview.NewTableCell(v).
				SetTextColor(tcell.ColorWhite).
				SetAlign(align))
		}
	}
}

// cell returns the i-th value of a statistic, humanized, or "-"
func cell(stats ixnextgen.Statistics, key string, i int) string {
	vals := stats[key]
	if i >= len(vals) {
		return "-"
	}
	return report.Humanize(vals[i])
}

func rowCount(stats ixnextgen.Statistics, keys ...string) int {
	n := 0
	for _, k := range keys {
		n = max(n, len(stats[k]))
	}
	return n
}

// PortRows lays the port statistics out one row per port
func PortRows(stats ixnextgen.Statistics) [][]string {
	keys := make([]string, len(portColumns))
	for i, c := range portColumns {
		keys[i] = c.key
	}
	rows := make([][]string, rowCount(stats, keys...))
	for i := range rows {
		for _, c := range portColumns {
			rows[i] = append(rows[i], cell(stats, c.key, i))
		}
		if rows[i][0] == "-" {
			rows[i][0] = fmt.Sprintf("Port %d", i+1)
		}
	}
	return rows
}

// LatencyRows lays the latency statistics out one row per flow group
func LatencyRows(stats ixnextgen.Statistics) [][]string {
	keys := make([]string, len(latencyColumns))
	for i, c := range latencyColumns {
		keys[i] = c.key
	}
	rows := make([][]string, rowCount(stats, keys...))
	for i := range rows {
		rows[i] = append(rows[i], fmt.Sprint(i+1))
		for _, c := range latencyColumns {
			rows[i] = append(rows[i], cell(stats, c.key, i))
		}
	}
	return rows
}

// ProgressText renders a bar for elapsed out of duration
func ProgressText(elapsed, duration time.Duration) string {
	const width = 50
	pct := 0.0
	if duration > 0 {
		pct = min(100, 100*elapsed.Seconds()/duration.Seconds())
	}
	filled := int(pct / 100.0 * width)

	var bar strings.Builder
	if filled > 0 {
		bar.WriteString("[green]" + strings.Repeat("█", filled))
	}
	if filled < width {
		bar.WriteString("[gray]" + strings.Repeat("░", width-filled))
	}
	return fmt.Sprintf("%s[white] %.1f%% (%s / %s)", bar.String(), pct,
		elapsed.Round(time.Second), duration.Round(time.Second))
}

// UpdateStats redraws the port and latency tables
func (a *App) UpdateStats(stats ixnextgen.Statistics) {
	ports, latency := PortRows(stats), LatencyRows(stats)
	a.app.QueueUpdateDraw(func() {
		fillTable(a.portView, portHeaders(), ports)
		fillTable(a.latencyView, latencyHeaders(), latency)
	})
}

// UpdateProgress redraws the progress bar
func (a *App) UpdateProgress(elapsed, duration time.Duration) {
	text := ProgressText(elapsed, duration)
	a.app.QueueUpdateDraw(func() {
		a.progressBar.SetText(text)
	})
}

func (a *App) logLine(tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.logView, "[gray]%s %s[white] %s\n", timestamp, tag, msg)
		a.logView.ScrollToEnd()
	})
}

// LogInfo logs an info message
func (a *App) LogInfo(format string, args ...interface{}) {
	a.logLine("[green][INFO]", format, args...)
}

// LogWarn logs a warning message
func (a *App) LogWarn(format string, args ...interface{}) {
	a.logLine("[yellow][WARN]", format, args...)
}

// LogError logs an error message
func (a *App) LogError(format string, args ...interface{}) {
	a.logLine("[red][ERROR]", format, args...)
}

// Write implements io.Writer so a logger can target the log view
func (a *App) Write(p []byte) (int, error) {
	text := tview.Escape(strings.TrimRight(string(p), "\n"))
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintln(a.logView, text)
		a.logView.ScrollToEnd()
	})
	return len(p), nil
}

// SetStatus updates the status bar; an empty message restores the key help
func (a *App) SetStatus(msg string) {
	if msg == "" {
		msg = a.defaultTitle
	}
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetText(msg)
	})
}

// Run starts the TUI application
func (a *App) Run() error {
	return a.app.Run()
}

// Stop stops the TUI application
func (a *App) Stop() {
	a.app.Stop()
}
