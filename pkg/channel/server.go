package channel

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gwillem/octoleg/pkg/actuator"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// DisableTimeout bounds the torque disable pass run when a stream ends.
const DisableTimeout = 2 * time.Second

// Stats summarises a running stream.
type Stats struct {
	Frames    int
	Malformed int
	FPS       float64
}

// Server is the driver end of the channel. It applies every frame it reads
// to the servos and keeps torque enabled only while the stream is open.
type Server struct {
	link   *actuator.Link
	logger *log.Logger
	meter  *RateMeter

	// ReportInterval sets how often the frame rate is logged.
	ReportInterval time.Duration

	// Limits, when set, are written to every joint after torque is
	// enabled.
	Limits *actuator.Limits

	mu    sync.Mutex
	stats Stats
	// next is the joint whose position is read back after the next frame.
	next int
}

// NewServer returns a server driving link. A nil logger selects the default
// logger.
func NewServer(link *actuator.Link, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		link:           link,
		logger:         logger,
		meter:          NewRateMeter(),
		ReportInterval: time.Second,
	}
}

// Stats returns a snapshot of the stream counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.FPS = s.meter.Rate()
	return st
}

type readResult struct {
	line string
	err  error
}

// Run enables torque on every joint, then writes each frame read from r
// until QUIT, end of input, a read error or ctx cancellation. Torque is
// always disabled again before Run returns. A failed disable pass is
// reported even when the stream ended by cancellation.
func (s *Server) Run(ctx context.Context, r io.Reader) (err error) {
	if err := s.link.TorqueAll(ctx, true); err != nil {
		s.logger.Warn("torque enable incomplete", "err", err)
	} else {
		s.logger.Info("torque enabled", "joints", len(s.link.Joints()))
	}
	if s.Limits != nil {
		if err := s.link.ApplyLimits(ctx, *s.Limits); err != nil {
			s.logger.Warn("servo limits incomplete", "err", err)
		} else {
			s.logger.Info("servo limits applied", "speed", s.Limits.MovingSpeed, "torque", s.Limits.TorqueLimit)
		}
	}

	defer func() {
		// The parent context may already be cancelled.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DisableTimeout)
		defer cancel()
		derr := s.link.TorqueAll(dctx, false)
		if derr == nil {
			s.logger.Info("torque disabled")
			return
		}
		s.logger.Error("torque disable incomplete", "err", derr)
		if err != nil {
			derr = errors.Wrapf(derr, "stream ended: %v", err)
		}
		err = derr
	}()

	lines := make(chan readResult)
	done := make(chan struct{})
	defer close(done)
	go readLines(r, lines, done)

	ticker := time.NewTicker(s.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream cancelled")
			return ctx.Err()

		case <-ticker.C:
			fps := s.meter.Sample()
			s.logger.Info("frame rate", "fps", fps, "frames", s.Stats().Frames)

		case rr := <-lines:
			if rr.line != "" {
				if IsQuit(rr.line) {
					s.logger.Info("quit received")
					return nil
				}
				s.handle(ctx, rr.line)
			}
			if rr.err == io.EOF {
				s.logger.Info("end of input")
				return nil
			}
			if rr.err != nil {
				return errors.Wrap(rr.err, "read frames")
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, line string) {
	frame, err := ParseFrame(line)
	if err != nil {
		s.mu.Lock()
		s.stats.Malformed++
		s.mu.Unlock()
		s.logger.Warn("dropping frame", "err", err, "line", strings.TrimRight(line, "\r\n"))
		return
	}

	s.link.WriteFrame(ctx, frame, actuator.FireAndForget)

	// Queued writes are never answered, so one joint per frame is read
	// back to keep the failure counters honest on a dead bus.
	s.mu.Lock()
	id := robot.AllJoints()[s.next]
	s.next = (s.next + 1) % robot.NumJoints
	s.mu.Unlock()
	s.link.ReadPosition(ctx, id)

	s.meter.Tick()
	s.mu.Lock()
	s.stats.Frames++
	s.mu.Unlock()
}

// readLines forwards lines from r until it fails. The final result carries
// the error, with any trailing partial line.
func readLines(r io.Reader, out chan<- readResult, done <-chan struct{}) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		select {
		case out <- readResult{line: line, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}
