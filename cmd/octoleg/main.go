package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/octoleg/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" description:"Configuration file (default: octoleg.json)"`
	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`

	Serve     ServeCommand     `command:"serve" description:"Drive the servos from frames read on stdin"`
	Walk      WalkCommand      `command:"walk" description:"Run the gait loop and stream frames to the servos"`
	Setup     SetupCommand     `command:"setup" description:"Find the servo bus and trim the neutral stance"`
	Scan      ScanCommand      `command:"scan" description:"List every servo that answers on the bus"`
	SetID     SetIDCommand     `command:"set-id" description:"Change the id of one servo"`
	SetBaud   SetBaudCommand   `command:"set-baud" description:"Change the baud rate of one servo"`
	SetLimits SetLimitsCommand `command:"set-limits" description:"Write the angle limits of one servo"`
	Center    CenterCommand    `command:"center" description:"Move every joint to its center position and verify it"`
}

var opts = Options{Config: robot.DefaultConfigFile}
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "octoleg - gait control for an eight legged walking robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
