// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package pytrace // import "github.com/callscope/callscope/adapter/pytrace"

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/callscope/callscope/adapter"
	"github.com/callscope/callscope/target"
)

// maxEventLine bounds one ND-JSON line; identities longer than this are
// malformed.
const maxEventLine = 64 * 1024

type source struct {
	cmd    *exec.Cmd
	engine *adapter.Engine

	hookDir string
	eventsR *os.File
	eventsW *os.File

	decoder *decoder

	// done is closed when the decoder goroutine has drained the pipe.
	done chan struct{}

	decodeErr error

	// hookSampled/hookDropped carry the hook's own rate-limit stats,
	// reported in its final meta line.
	hookSampled atomic.Bool
	hookDropped atomic.Uint64
}

var _ adapter.EventSource = (*source)(nil)

func newSource(cmd *exec.Cmd, engine *adapter.Engine, hookDir string,
	eventsR, eventsW *os.File) *source {
	return &source{
		cmd:     cmd,
		engine:  engine,
		hookDir: hookDir,
		eventsR: eventsR,
		eventsW: eventsW,
		decoder: newDecoder(engine.MaxEventsPerSec),
		done:    make(chan struct{}),
	}
}

// Start launches the instrumented interpreter and begins decoding its
// event stream.
func (s *source) Start(ctx context.Context) (*target.Handle, error) {
	handle, err := target.Start(s.cmd)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("%w: %v", adapter.ErrAttach, err)
	}

	// The child holds its own copy of the write end; ours would keep
	// the read side from ever seeing EOF.
	_ = s.eventsW.Close()
	s.eventsW = nil

	go s.drain(ctx)
	return handle, nil
}

// drain decodes the pipe line by line until the hook exits.
func (s *source) drain(ctx context.Context) {
	defer close(s.done)

	scanner := bufio.NewScanner(s.eventsR)
	scanner.Buffer(make([]byte, 4096), maxEventLine)

	lines := 0
	for scanner.Scan() {
		lines++
		ev, meta, err := s.decoder.decodeLine(scanner.Bytes())
		if err != nil {
			if !errors.Is(err, errLimited) {
				// One malformed line does not corrupt the
				// framing; skip it and keep the stream alive.
				log.Warnf("Skipping malformed event line %d: %v",
					lines, err)
			}
			continue
		}
		if meta != nil {
			if meta.Sampled {
				s.hookSampled.Store(true)
			}
			s.hookDropped.Add(meta.Dropped)
			continue
		}
		if err := s.engine.Sink.Push(ctx, ev); err != nil {
			s.decodeErr = err
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.decodeErr = fmt.Errorf("reading event pipe: %w", err)
	}
	log.Debugf("Event pipe closed after %d lines", lines)
}

// Close waits for the stream to drain and releases the hook resources.
func (s *source) Close() error {
	<-s.done
	s.cleanup()
	return s.decodeErr
}

func (s *source) cleanup() {
	if s.eventsW != nil {
		_ = s.eventsW.Close()
		s.eventsW = nil
	}
	_ = s.eventsR.Close()
	_ = os.RemoveAll(s.hookDir)
}

func (s *source) Stats() adapter.SourceStats {
	return adapter.SourceStats{
		Sampled: s.hookSampled.Load() || s.decoder.sampled,
		Dropped: s.hookDropped.Load() + s.decoder.dropped,
	}
}

// rateLimiter thins allocation events to at most limit per wall-clock
// second without ever reordering the stream.
type rateLimiter struct {
	limit       int
	windowStart time.Duration
	windowCount int
}

// allow reports whether an allocation event at run-relative time ts may
// pass.
func (r *rateLimiter) allow(ts time.Duration) bool {
	if r.limit <= 0 {
		return true
	}
	if ts-r.windowStart >= time.Second {
		r.windowStart = ts.Truncate(time.Second)
		r.windowCount = 0
	}
	if r.windowCount >= r.limit {
		return false
	}
	r.windowCount++
	return true
}
