package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/gwillem/octoleg/pkg/actuator"
	"github.com/gwillem/octoleg/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Baud     int    `short:"b" long:"baud" default:"57600" description:"Bus baud rate to try"`
	Protocol string `long:"protocol" default:"dynamixel" choice:"dynamixel" choice:"sts" description:"Servo protocol"`
	SkipTrim bool   `long:"skip-trim" description:"Only find the bus, keep the current calibration"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("octoleg setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	// A broken file is reported rather than replaced with the defaults.
	cfg, err := robot.LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	if robot.ConfigExists(opts.Config) {
		fmt.Println(dimStyle.Render("Updating " + opts.Config))
		fmt.Println()
	}

	// Step 1: Find the bus
	found, err := c.identifyBus()
	if err != nil {
		return err
	}
	defer found.link.Close()

	cfg.Bus.Port = found.port
	cfg.Bus.Baud = c.Baud
	cfg.Bus.Protocol = c.Protocol
	if err := cfg.SaveTo(opts.Config); err != nil {
		return errors.Wrap(err, "save config")
	}

	// Step 2: Trim the neutral stance
	if !c.SkipTrim {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Trimming Neutral Stance ━━━"))
		fmt.Println()
		cal, err := trimJoints(found.link, cfg.Calibration)
		if err != nil {
			return err
		}
		cfg.Calibration = cal
		if err := cfg.SaveTo(opts.Config); err != nil {
			return errors.Wrap(err, "save config")
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start walking with: " + headerStyle.Render("octoleg walk"))
	return nil
}

type busInfo struct {
	port string
	ids  []int
	link *actuator.Link
}

func (c *SetupCommand) identifyBus() (*busInfo, error) {
	fmt.Println("Scanning serial ports for leg servos...")
	fmt.Println()

	buses := c.findBuses()
	if len(buses) == 0 {
		fmt.Println("No servos found.")
		fmt.Println("Make sure the robot is connected and powered on.")
		return nil, errors.New("no servo bus found")
	}

	fmt.Printf("Found %d bus(es). Let's identify the robot...\n\n", len(buses))

	var chosen *busInfo
	for _, b := range buses {
		if chosen != nil {
			b.link.Close()
			continue
		}
		ok, err := confirmWithWiggle(b)
		if err != nil {
			b.link.Close()
			return nil, err
		}
		if ok {
			chosen = b
		} else {
			b.link.Close()
		}
	}
	if chosen == nil {
		return nil, errors.New("robot not identified")
	}

	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Robot identified on " + chosen.port))
	fmt.Println(renderJointPresence(chosen.ids))
	if len(chosen.ids) < robot.NumJoints {
		fmt.Println(warnStyle.Render("Not every joint answered. Check wiring and ids with 'octoleg scan'."))
	}
	return chosen, nil
}

func (c *SetupCommand) findBuses() []*busInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	quiet := log.New(io.Discard)
	var buses []*busInfo

	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		link, err := actuator.Open(robot.BusConfig{
			Port:     port,
			Baud:     c.Baud,
			Protocol: c.Protocol,
			Timeout:  robot.Duration(50 * time.Millisecond),
		}, quiet)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ids, err := link.Scan(ctx, 1, robot.NumJoints)
		cancel()
		if err != nil || len(ids) == 0 {
			link.Close()
			continue
		}

		fmt.Printf("  Found %d leg servo(s) on %s\n", len(ids), port)
		buses = append(buses, &busInfo{port: port, ids: ids, link: link})
	}

	return buses
}

// confirmWithWiggle moves the first answering joint a little and asks the
// operator whether that was the robot.
func confirmWithWiggle(b *busInfo) (bool, error) {
	ctx := context.Background()
	id := robot.JointID(b.ids[0])

	origin, res := b.link.ReadPosition(ctx, id)
	if !res.OK() {
		fmt.Printf("  Error reading position: %v\n", res.Err())
		return false, nil
	}
	if res := b.link.SetTorque(ctx, id, true); !res.OK() {
		fmt.Printf("  Error enabling servo: %v\n", res.Err())
		return false, nil
	}

	fmt.Printf("\n  Wiggling %s on %s...\n", id, b.port)

	// Wiggle: single gentle movement each way
	wiggleAmount := 30
	for _, pos := range []int{origin + wiggleAmount, origin - wiggleAmount, origin} {
		b.link.WritePosition(ctx, id, pos, actuator.Acknowledged)
		time.Sleep(600 * time.Millisecond)
	}
	b.link.SetTorque(ctx, id, false)

	var yes bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Did the %s leg move?", strings.ReplaceAll(id.String(), "_", " "))).
				Description(b.port).
				Affirmative("Yes, use this bus").
				Negative("No, skip it").
				Value(&yes),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.Wrap(err, "setup aborted")
	}
	return yes, nil
}

func renderJointPresence(ids []int) string {
	present := make(map[int]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	rows := make([][]string, 0, robot.NumJoints)
	missing := make(map[int]bool)
	for i, id := range robot.AllJoints() {
		status := "ok"
		if !present[int(id)] {
			status = "missing"
			missing[i] = true
		}
		rows = append(rows, []string{fmt.Sprintf("%d", int(id)), id.String(), status})
	}
	return renderTable([]string{"ID", "Joint", "Status"}, rows, missing)
}

// trimJoints releases every joint, lets the operator pose the neutral
// stance by hand and records each joint's distance from center as its trim.
func trimJoints(link *actuator.Link, base robot.Calibration) (robot.Calibration, error) {
	ctx := context.Background()
	if err := link.TorqueAll(ctx, false); err != nil {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Torque release incomplete: %v", err)))
	}

	fmt.Println("Move every leg by hand to its neutral (standing) stance.")
	fmt.Println("The trim is the distance from the servo center.")
	fmt.Println()

	model := newTrimModel(link)
	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	if err != nil {
		return nil, errors.Wrap(err, "run trim")
	}
	tm := finalModel.(trimModel)
	if tm.aborted {
		return nil, errors.New("trim aborted")
	}

	cal := make(robot.Calibration, robot.NumJoints)
	defaults := robot.DefaultCalibration()
	for i, id := range robot.AllJoints() {
		jc, ok := base[id]
		if !ok {
			jc = defaults[id]
		}
		if tm.positions[i] >= 0 {
			jc.OffsetTicks = tm.positions[i] - robot.CenterPosition
		}
		cal[id] = jc
	}
	fmt.Println("Neutral stance recorded.")
	return cal, nil
}

// Trim TUI model
type trimModel struct {
	link      *actuator.Link
	positions [robot.NumJoints]int // -1 when the joint does not answer
	quitting  bool
	aborted   bool
}

type trimTickMsg time.Time

func newTrimModel(link *actuator.Link) trimModel {
	m := trimModel{link: link}
	for i := range m.positions {
		m.positions[i] = -1
	}
	return m
}

func trimTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return trimTickMsg(t)
	})
}

func (m trimModel) Init() tea.Cmd {
	return trimTick()
}

func (m trimModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.quitting = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.quitting = true
			m.aborted = true
			return m, tea.Quit
		}

	case trimTickMsg:
		ctx := context.Background()
		for i, id := range robot.AllJoints() {
			pos, res := m.link.ReadPosition(ctx, id)
			if !res.OK() {
				continue
			}
			m.positions[i] = pos
		}
		return m, trimTick()
	}

	return m, nil
}

func (m trimModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	// Table styles
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableTrimGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableTrimLargeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, robot.NumJoints)
	trims := make([]int, 0, robot.NumJoints)
	for i, id := range robot.AllJoints() {
		pos := m.positions[i]
		if pos < 0 {
			rows = append(rows, []string{id.String(), "-", "-", "-"})
			trims = append(trims, 0)
			continue
		}
		trim := pos - robot.CenterPosition
		trims = append(trims, trim)
		rows = append(rows, []string{
			id.String(),
			fmt.Sprintf("%d", pos),
			fmt.Sprintf("%+d", trim),
			fmt.Sprintf("%+.1f°", robot.TicksToDegrees(trim)),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Current", "Trim", "Degrees").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableJointStyle
			case 1:
				return tableCurrentStyle
			case 2, 3:
				if row >= 0 && row < len(trims) && abs(trims[row]) > robot.DegreesToTicks(20) {
					return tableTrimLargeStyle
				}
				return tableTrimGoodStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter to record, q to abort"))

	return sb.String()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
