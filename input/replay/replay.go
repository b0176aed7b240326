// Package replay plays recorded controller frames back as an input source.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
)

// Record is the on-disk form of one frame, one JSON object per line:
//
//	{"buttons": ["0:ButtonSouth"], "axes": {"0:AbsoluteY": -0.4}}
type Record struct {
	Buttons []string           `json:"buttons,omitempty"`
	Axes    map[string]float64 `json:"axes,omitempty"`
	// Repeat plays the frame this many extra times.
	Repeat int `json:"repeat,omitempty"`
}

// Frame converts the record.
func (r Record) Frame() (input.Frame, error) {
	f := input.NewFrame()
	for _, b := range r.Buttons {
		c, err := input.ParseControl(b)
		if err != nil {
			return input.Frame{}, err
		}
		f.Press(c)
	}
	for name, v := range r.Axes {
		c, err := input.ParseControl(name)
		if err != nil {
			return input.Frame{}, err
		}
		f.WithAxis(c, v)
	}
	return f, nil
}

// Source replays frames in order. Once exhausted it returns io.EOF, or starts over if looping.
type Source struct {
	mu     sync.Mutex
	frames []input.Frame
	next   int
	loop   bool
	logger logging.Logger
}

// Read decodes every record from r.
func Read(r io.Reader, loop bool, logger logging.Logger) (*Source, error) {
	s := &Source{loop: loop, logger: logger}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		f, err := rec.Frame()
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		for i := 0; i <= rec.Repeat; i++ {
			s.frames = append(s.frames, f)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	logger.Debugw("loaded replay", "frames", len(s.frames), "loop", loop)
	return s, nil
}

// Open reads a replay file.
func Open(path string, loop bool, logger logging.Logger) (*Source, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warnw("error closing replay file", "path", path, "error", err)
		}
	}()
	return Read(f, loop, logger)
}

// Len returns the number of frames, counting repeats.
func (s *Source) Len() int {
	return len(s.frames)
}

// Read implements input.Source.
func (s *Source) Read(ctx context.Context) (input.Frame, error) {
	if err := ctx.Err(); err != nil {
		return input.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		if !s.loop || len(s.frames) == 0 {
			return input.Frame{}, io.EOF
		}
		s.next = 0
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}
