package intent

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

type step struct {
	cmd   Command
	ticks int
}

// Script replays a fixed command sequence, one command per tick. Each
// script line holds a command name and an optional tick count (default 1):
//
//	forward 100
//	turn_left 50
//	stop
//
// Blank lines and lines starting with # are skipped. Lines naming an
// unknown command are logged and ignored. When the script is exhausted
// Poll returns Stop.
type Script struct {
	mu    sync.Mutex
	steps []step
	pos   int
	used  int
}

// NewScript reads a script from r. A nil logger selects the default
// logger.
func NewScript(r io.Reader, logger *log.Logger) (*Script, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Script{}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		cmd, err := ParseCommand(fields[0])
		if err != nil {
			logger.Warn("ignoring script line", "line", n, "err", err)
			continue
		}
		ticks := 1
		if len(fields) > 1 {
			ticks, err = strconv.Atoi(fields[1])
			if err != nil || ticks < 1 {
				logger.Warn("ignoring script line", "line", n, "err", "invalid tick count "+strconv.Quote(fields[1]))
				continue
			}
		}
		s.steps = append(s.steps, step{cmd: cmd, ticks: ticks})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	return s, nil
}

// Poll returns the next command of the script.
func (s *Script) Poll() Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.steps) {
		return Stop
	}
	st := s.steps[s.pos]
	s.used++
	if s.used >= st.ticks {
		s.pos++
		s.used = 0
	}
	return st.cmd
}

// Done reports whether every scripted command has been returned.
func (s *Script) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos >= len(s.steps)
}

// Len returns the total number of ticks in the script.
func (s *Script) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, st := range s.steps {
		total += st.ticks
	}
	return total
}
