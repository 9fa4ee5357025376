package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"

	"github.com/gwillem/octoleg/pkg/channel"
	"github.com/gwillem/octoleg/pkg/robot"
)

// centerTolerance is the largest read-back error, in ticks, that counts as
// centered.
const centerTolerance = 10

type ScanCommand struct {
	Bus  BusOptions `group:"Bus Options"`
	From int        `long:"from" default:"1" description:"First id to ping"`
	To   int        `long:"to" default:"253" description:"Last id to ping"`
}

func (c *ScanCommand) Execute(args []string) error {
	logger := newLogger(os.Stderr)
	cfg, link, err := openLink(logger, c.Bus)
	if err != nil {
		return err
	}
	defer link.Close()

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("Scanning ids %d-%d on %s at %d baud...\n\n", c.From, c.To, cfg.Bus.Port, cfg.Bus.Baud)
	found, err := link.ScanModels(ctx, c.From, c.To)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No servos answered.")
		return nil
	}

	rows := make([][]string, 0, len(found))
	for _, s := range found {
		joint := "-"
		if id := robot.JointID(s.ID); id.Valid() {
			joint = id.String()
		}
		rows = append(rows, []string{strconv.Itoa(s.ID), strconv.Itoa(s.Model), joint})
	}
	fmt.Println(renderTable([]string{"ID", "Model", "Joint"}, rows, nil))
	fmt.Printf("%d servo(s) found\n", len(found))
	return nil
}

type SetIDCommand struct {
	Bus  BusOptions `group:"Bus Options"`
	Args struct {
		Current int `positional-arg-name:"current" description:"Id the servo answers to now"`
		New     int `positional-arg-name:"new" description:"Id to assign"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SetIDCommand) Execute(args []string) error {
	logger := newLogger(os.Stderr)
	_, link, err := openLink(logger, c.Bus)
	if err != nil {
		return err
	}
	defer link.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := link.SetID(ctx, c.Args.Current, c.Args.New); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Servo %d now answers to id %d.", c.Args.Current, c.Args.New)))
	return nil
}

type SetBaudCommand struct {
	Bus  BusOptions `group:"Bus Options"`
	Args struct {
		ID   int `positional-arg-name:"id" description:"Servo id"`
		Baud int `positional-arg-name:"new-baud" description:"Baud rate to program"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SetBaudCommand) Execute(args []string) error {
	logger := newLogger(os.Stderr)
	_, link, err := openLink(logger, c.Bus)
	if err != nil {
		return err
	}
	defer link.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := link.SetBaud(ctx, c.Args.ID, c.Args.Baud); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Servo %d now talks at %d baud.", c.Args.ID, c.Args.Baud)))
	fmt.Println(dimStyle.Render(fmt.Sprintf("Reconnect with --baud %d or update %s.", c.Args.Baud, opts.Config)))
	return nil
}

type SetLimitsCommand struct {
	Bus  BusOptions `group:"Bus Options"`
	CW   int        `long:"cw" default:"0" description:"Clockwise angle limit"`
	CCW  int        `long:"ccw" default:"1023" description:"Counter-clockwise angle limit"`
	Args struct {
		IDs []int `positional-arg-name:"id" description:"Servo ids (default: every joint)"`
	} `positional-args:"yes"`
}

func (c *SetLimitsCommand) Execute(args []string) error {
	logger := newLogger(os.Stderr)
	_, link, err := openLink(logger, c.Bus)
	if err != nil {
		return err
	}
	defer link.Close()

	ctx, stop := signalContext()
	defer stop()

	ids := c.Args.IDs
	if len(ids) == 0 {
		for _, id := range robot.AllJoints() {
			ids = append(ids, int(id))
		}
	}

	var failed int
	for _, id := range ids {
		if err := link.SetLimits(ctx, id, c.CW, c.CCW); err != nil {
			logger.Error("set limits failed", "id", id, "err", err)
			failed++
			continue
		}
		fmt.Printf("  Servo %d: cw=%d ccw=%d\n", id, c.CW, c.CCW)
	}
	if failed > 0 {
		return errors.Errorf("%d of %d servo(s) failed", failed, len(ids))
	}
	fmt.Println(dimStyle.Render("Power-cycle the servos to apply the new limits."))
	return nil
}

type CenterCommand struct {
	Bus    BusOptions    `group:"Bus Options"`
	Sync   bool          `long:"sync" description:"Move all joints with one broadcast write"`
	Settle time.Duration `long:"settle" default:"1s" description:"Time to wait before reading positions back"`
	Raw    bool          `long:"raw" description:"Ignore the calibration trims"`
}

func (c *CenterCommand) Execute(args []string) error {
	logger := newLogger(os.Stderr)
	cfg, link, err := openLink(logger, c.Bus)
	if err != nil {
		return err
	}
	defer link.Close()

	ctx, stop := signalContext()
	defer stop()

	target := robot.CenterFrame()
	if !c.Raw {
		target = cfg.Calibration.Frame(robot.Offsets{})
	}

	present, moveErr := link.Center(ctx, target, c.Sync, c.Settle)

	// Release torque even after an interrupt.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), channel.DisableTimeout)
	defer cancel()
	if err := link.TorqueAll(rctx, false); err != nil {
		logger.Warn("torque release incomplete", "err", err)
	}

	rows := make([][]string, 0, robot.NumJoints)
	bad := make(map[int]bool)
	for i, id := range robot.AllJoints() {
		want, got := target[i], present[i]
		diff := "-"
		if got >= 0 {
			diff = fmt.Sprintf("%+d", got-want)
		}
		if got < 0 || abs(got-want) > centerTolerance {
			bad[i] = true
		}
		rows = append(rows, []string{id.String(), strconv.Itoa(want), strconv.Itoa(got), diff})
	}
	fmt.Println(renderTable([]string{"Joint", "Target", "Present", "Error"}, rows, bad))

	if moveErr != nil {
		return moveErr
	}
	if len(bad) > 0 {
		return errors.Errorf("%d joint(s) off center by more than %d ticks", len(bad), centerTolerance)
	}
	fmt.Println(successStyle.Render("All joints centered."))
	return nil
}

// renderTable draws rows with the shared table style. Rows whose index is
// set in bad are highlighted.
func renderTable(headers []string, rows [][]string, bad map[int]bool) string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle.Padding(0, 1)
			case bad[row]:
				return warnStyle.Padding(0, 1)
			case col == 0:
				return subHeaderStyle.Padding(0, 1)
			}
			return cell
		}).
		Render()
}
