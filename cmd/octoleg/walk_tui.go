package main

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/motion"
	"github.com/gwillem/octoleg/pkg/robot"
)

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 8 // log box height with help line
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors - left legs warm, right legs cool
var jointColors = map[robot.JointID]string{
	robot.LeftFront:     "196", // red
	robot.LeftFrontMid:  "208", // orange
	robot.LeftRearMid:   "226", // yellow
	robot.LeftRear:      "190", // lime
	robot.RightFront:    "46",  // green
	robot.RightFrontMid: "51",  // cyan
	robot.RightRearMid:  "33",  // blue
	robot.RightRear:     "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	movingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	stopStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

const helpText = "w/x forward/back  a/d turn  s stop  e safety stop  r reset  q quit"

// logWriter collects log lines for the log box. Lines are dropped when the
// UI falls behind.
type logWriter struct {
	mu  sync.Mutex
	buf []byte
	ch  chan string
}

func newLogWriter(size int) *logWriter {
	return &logWriter{ch: make(chan string, size)}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}

func (w *logWriter) Lines() <-chan string {
	return w.ch
}

type walkModel struct {
	ctrl      *motion.Controller
	latch     *intent.Latch // nil when a script or fixed command drives the robot
	logSrc    *logWriter
	chart     *streamlinechart.Model
	width     int      // terminal width
	height    int      // terminal height
	logs      []string // last N log messages
	quitting  bool
	last      motion.Tick
	lastFrame *robot.JointFrame // previous plotted frame, to freeze the chart when still
}

// Messages from the controller
type tickMsg motion.Tick
type logMsg string
type loopDoneMsg struct{ err error }

func waitForTick(ctrl *motion.Controller) tea.Cmd {
	return func() tea.Msg {
		return tickMsg(<-ctrl.Ticks())
	}
}

func waitForLog(w *logWriter) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-w.Lines())
	}
}

func initialWalkModel(ctrl *motion.Controller, latch *intent.Latch, logs *logWriter) walkModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(float64(robot.MinPosition), float64(robot.MaxPosition)),
	)

	for _, id := range robot.AllJoints() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[id]))
		chart.SetDataSetStyles(id.String(), runes.ThinLineStyle, style)
	}

	return walkModel{
		ctrl:   ctrl,
		latch:  latch,
		logSrc: logs,
		chart:  &chart,
	}
}

func (m *walkModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *walkModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m walkModel) Init() tea.Cmd {
	return tea.Batch(
		waitForTick(m.ctrl),
		waitForLog(m.logSrc),
	)
}

func (m walkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "e", "!":
			m.ctrl.Machine().Trip("operator")
			return m, nil
		case "r":
			if m.ctrl.Machine().Reset() && m.latch != nil {
				m.latch.Set(intent.Idle)
			}
			return m, nil
		}
		if m.latch != nil {
			if cmd, ok := intent.KeyCommand(key); ok {
				m.latch.Set(cmd)
			}
		}

	case tickMsg:
		t := motion.Tick(msg)
		m.last = t
		// Only update chart when the frame changes (freeze when idle or stopped)
		if t.Emitted && (m.lastFrame == nil || *m.lastFrame != t.Frame) {
			for _, id := range robot.AllJoints() {
				m.chart.PushDataSet(id.String(), float64(t.Frame.At(id)))
			}
			m.chart.DrawAll()
			frame := t.Frame
			m.lastFrame = &frame
		}
		return m, waitForTick(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logSrc)

	case loopDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m walkModel) View() string {
	if m.quitting {
		return "Walk stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("octoleg walk"))
	sb.WriteString(fmt.Sprintf(" - %d Hz  ", m.ctrl.Hz()))
	sb.WriteString(renderState(m.last.State, m.ctrl.Machine().Reason()))
	if m.last.Holding {
		sb.WriteString(statusStyle.Render("  holding neutral"))
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  command %s  tick %d", m.last.Command, m.last.Seq)))
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render(helpText)
	} else {
		logLines = strings.Join(m.logs, "\n") + "\n" + statusStyle.Render(helpText)
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderState(s motion.State, reason string) string {
	switch s {
	case motion.Moving:
		return movingStyle.Render(s.String())
	case motion.SafetyStop:
		return stopStyle.Render(fmt.Sprintf("%s (%s)", s, reason))
	}
	return statusStyle.Render(s.String())
}

func renderLegend() string {
	var items []string
	for _, id := range robot.AllJoints() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[id])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+id.String())
	}
	return strings.Join(items, "  ")
}
