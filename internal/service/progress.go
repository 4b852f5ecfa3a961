package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrEditFailed wraps a failed progress edit. It is logged, never returned.
var ErrEditFailed = errors.New("progress edit failed")

// DefaultProgressFrames is the bar shown while a lookup runs. Frame 0 is the
// placeholder's initial content.
var DefaultProgressFrames = []string{
	"[□□□□] 0%",
	"[■□□□] 25%",
	"[■■□□] 50%",
	"[■■■□] 75%",
	"[■■■■] 100%",
}

// FrameFunc writes one frame to the progress message.
type FrameFunc func(ctx context.Context, frame string) error

// ProgressOptions configures StartProgress.
type ProgressOptions struct {
	Frames   []string
	Interval time.Duration
	// Start is the index of the first frame written; earlier frames are
	// assumed to be on screen already.
	Start  int
	Logger *zap.Logger
}

// Progress is a running animator. Only its owner may Stop it.
type Progress struct {
	mu      sync.Mutex
	stopped atomic.Bool
	edits   int

	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// StartProgress cycles through the frames every interval until Stop is
// called, wrapping around after the last frame.
func StartProgress(ctx context.Context, opts ProgressOptions, write FrameFunc) *Progress {
	frames := opts.Frames
	if len(frames) == 0 {
		frames = DefaultProgressFrames
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Progress{
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}
	go p.run(ctx, frames, interval, opts.Start, write)
	return p
}

func (p *Progress) run(ctx context.Context, frames []string, interval time.Duration, start int, write FrameFunc) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("progress animator panicked", zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := start; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !p.step(ctx, frames[i%len(frames)], write) {
			return
		}
	}
}

// step writes one frame unless Stop has been requested. The stop flag is set
// without mu, so a tick queued behind an in-flight edit sees it and is dropped.
func (p *Progress) step(ctx context.Context, frame string, write FrameFunc) bool {
	if p.stopped.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() || ctx.Err() != nil {
		return false
	}
	if err := write(ctx, frame); err != nil {
		p.log.Debug("progress edit swallowed", zap.Error(fmt.Errorf("%w: %w", ErrEditFailed, err)))
		return true
	}
	p.edits++
	return true
}

// Stop cancels the animator and returns once it has exited. An edit already
// in flight completes first; none is issued afterwards. Stop is idempotent.
func (p *Progress) Stop() {
	p.stopped.Store(true)
	p.cancel()
	<-p.done
}

// Edits returns the number of successful frame writes.
func (p *Progress) Edits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edits
}
