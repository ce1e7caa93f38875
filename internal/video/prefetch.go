package video

import (
	"context"

	"github.com/andresmejia3/barpath/internal/types"
)

type prefetched struct {
	frame types.Frame
	err   error
}

// Prefetcher decodes ahead of the consumer on a single goroutine. Frames are
// delivered in source order; the first error (including io.EOF) is sticky.
type Prefetcher struct {
	src   Source
	depth int

	frames chan prefetched
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Prefetch wraps src so up to depth frames are decoded ahead of Read.
// A depth below 1 returns src unchanged.
func Prefetch(src Source, depth int) Source {
	if depth < 1 {
		return src
	}
	return &Prefetcher{src: src, depth: depth}
}

func (p *Prefetcher) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.frames = make(chan prefetched, p.depth)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil

	go func() {
		defer close(p.done)
		for {
			f, err := p.src.Read(ctx)
			select {
			case p.frames <- prefetched{frame: f, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (p *Prefetcher) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

// Read implements Source.
func (p *Prefetcher) Read(ctx context.Context) (types.Frame, error) {
	if p.err != nil {
		return types.Frame{}, p.err
	}
	if p.cancel == nil {
		p.start()
	}
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case item := <-p.frames:
		if item.err != nil {
			p.err = item.err
		}
		return item.frame, item.err
	}
}

// FPS implements Source.
func (p *Prefetcher) FPS() float64 { return p.src.FPS() }

// FrameCount implements Source.
func (p *Prefetcher) FrameCount() int { return p.src.FrameCount() }

// Rewind discards buffered frames and rewinds the underlying source.
func (p *Prefetcher) Rewind(ctx context.Context) error {
	p.stop()
	p.err = nil
	return p.src.Rewind(ctx)
}

// Close stops the decode goroutine and closes the underlying source.
func (p *Prefetcher) Close() error {
	p.stop()
	return p.src.Close()
}
