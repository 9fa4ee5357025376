package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/gwillem/octoleg/pkg/channel"
)

type ServeCommand struct {
	Bus BusOptions `group:"Bus Options"`
}

// Execute reads frames from stdin. Stdout is left alone so the command can
// sit at the end of a pipe; logs go to stderr.
func (c *ServeCommand) Execute(args []string) error {
	logger := newLogger(os.Stderr).WithPrefix("serve")

	cfg, link, err := openLink(logger, c.Bus)
	if err != nil {
		logger.Error("cannot open servo bus", "err", err)
		return err
	}
	defer link.Close()

	ctx, stop := signalContext()
	defer stop()

	srv := channel.NewServer(link, logger)
	srv.Limits = servoLimits(cfg)
	err = srv.Run(ctx, os.Stdin)
	st := srv.Stats()
	logger.Info("stream closed", "frames", st.Frames, "malformed", st.Malformed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
