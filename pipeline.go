package av

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PipelineState represents the state of a Pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Decoding
	PipelineStateDone                         // Input finished or failed, frames may remain
	PipelineStateStopped                      // Closed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateDone:
		return "done"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineStats provides pipeline statistics.
type PipelineStats struct {
	PacketsRead     uint64 // Packets returned by the session
	PacketsSkipped  uint64 // Packets of streams that are not decoded
	PacketsDropped  uint64 // Packets rejected by a decoder as invalid
	FramesDecoded   uint64 // Frames received from decoders
	FramesDelivered uint64 // Frames returned by Next
	Retries         uint64 // WouldBlock retries
	FormatChanges   uint64 // OutputChanged events
	Seeks           uint64

	Decoders map[int]DecoderStats // by stream index
}

// Pipeline reads packets from a Session on a worker goroutine, decodes the
// selected streams and hands frames to the consumer through a bounded queue.
// The worker blocks while the queue is full.
type Pipeline struct {
	sess     *Session
	decoders map[int]*Decoder
	cfg      Config
	log      zerolog.Logger

	root       context.Context
	rootCancel context.CancelFunc

	mu     sync.Mutex
	cur    *pipelineRun
	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool

	state   atomic.Int32
	stats   PipelineStats
	statsMu sync.Mutex
}

// pipelineRun is one lifetime of the worker, replaced on every Seek.
type pipelineRun struct {
	frames chan *Frame
	err    error // written before frames is closed
}

// NewPipeline opens locator and starts decoding it. Close must be called to
// release the input and decoders.
func NewPipeline(ctx context.Context, locator string, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	root, cancel := context.WithCancel(ctx)
	sess, err := Open(root, locator, cfg.Open)
	if err != nil {
		cancel()
		return nil, err
	}
	p, err := newPipeline(root, cancel, sess, cfg)
	if err != nil {
		sess.Close()
		cancel()
		return nil, err
	}
	return p, nil
}

// NewSessionPipeline starts decoding an already opened session. The pipeline
// takes ownership of sess and closes it on Close.
func NewSessionPipeline(ctx context.Context, sess *Session, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	root, cancel := context.WithCancel(ctx)
	p, err := newPipeline(root, cancel, sess, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

func newPipeline(root context.Context, cancel context.CancelFunc, sess *Session, cfg Config) (*Pipeline, error) {
	log := loggerOr(cfg.Logger).With().Str("input", sess.locator).Logger()

	indices, err := selectStreams(sess, cfg.Streams)
	if err != nil {
		return nil, err
	}

	decoders := make(map[int]*Decoder, len(indices))
	closeAll := func() {
		for _, d := range decoders {
			d.Close()
		}
	}
	for _, i := range indices {
		st, err := sess.Stream(i)
		if err != nil {
			closeAll()
			return nil, err
		}
		dec, err := OpenDecoder(&st, cfg.Decoder)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
		decoders[i] = dec
	}

	p := &Pipeline{
		sess:       sess,
		decoders:   decoders,
		cfg:        cfg,
		log:        log,
		root:       root,
		rootCancel: cancel,
	}
	p.state.Store(int32(PipelineStateIdle))
	p.mu.Lock()
	p.startLocked()
	p.mu.Unlock()
	log.Debug().Ints("streams", indices).Int("queue", cfg.QueueSize).Msg("pipeline started")
	return p, nil
}

// selectStreams validates the requested streams, or picks the best video and
// audio stream that have a decoder.
func selectStreams(sess *Session, want []int) ([]int, error) {
	if len(want) > 0 {
		for _, i := range want {
			if _, err := sess.Stream(i); err != nil {
				return nil, err
			}
		}
		return want, nil
	}
	var out []int
	for _, t := range []MediaType{MediaTypeVideo, MediaTypeAudio} {
		i, err := sess.BestStream(t)
		if err != nil {
			continue
		}
		st, _ := sess.Stream(i)
		if _, err := FindDecoder(st.Codec); err == nil {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return nil, codeError("select streams", CodeDecoderNotFound)
	}
	return out, nil
}

func (p *Pipeline) startLocked() {
	ctx, cancel := context.WithCancel(p.root)
	g, ctx := errgroup.WithContext(ctx)
	run := &pipelineRun{frames: make(chan *Frame, p.cfg.QueueSize)}

	p.cur = run
	p.cancel = cancel
	p.group = g
	p.state.Store(int32(PipelineStateRunning))

	g.Go(func() error {
		defer close(run.frames)
		err := p.work(ctx, run.frames)
		if err != nil && ctx.Err() != nil && p.root.Err() == nil {
			// Stopped for a seek.
			return nil
		}
		run.err = err
		if err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Msg("pipeline failed")
		}
		p.state.CompareAndSwap(int32(PipelineStateRunning), int32(PipelineStateDone))
		return err
	})
}

// stopLocked stops the worker and waits for it to exit.
func (p *Pipeline) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.group.Wait()
	p.cancel = nil
}

// work is the worker loop. It returns nil at end of input.
func (p *Pipeline) work(ctx context.Context, frames chan<- *Frame) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := p.sess.NextPacket()
		if err != nil {
			code := CodeOf(err)
			switch {
			case IsRetryable(code):
				p.count(func(s *PipelineStats) { s.Retries++ })
				if err := sleepCtx(ctx, p.cfg.Backoff(attempt)); err != nil {
					return err
				}
				attempt++
				continue
			case code == CodeEndOfStream:
				return p.drainAll(ctx, frames)
			default:
				return err
			}
		}
		attempt = 0
		p.count(func(s *PipelineStats) { s.PacketsRead++ })

		dec, ok := p.decoders[pkt.StreamIndex]
		if !ok {
			p.count(func(s *PipelineStats) { s.PacketsSkipped++ })
			continue
		}
		if err := p.decode(ctx, dec, pkt, frames); err != nil {
			return err
		}
	}
}

// decode submits pkt, receiving frames whenever the decoder asks for it.
func (p *Pipeline) decode(ctx context.Context, dec *Decoder, pkt *Packet, frames chan<- *Frame) error {
	for {
		err := dec.Submit(pkt)
		switch CodeOf(err) {
		case CodeOk:
			return p.receive(ctx, dec, frames)
		case CodeWouldBlock:
			if err := p.receive(ctx, dec, frames); err != nil {
				return err
			}
		case CodeInvalidData:
			p.count(func(s *PipelineStats) { s.PacketsDropped++ })
			p.log.Warn().Err(err).Int("stream", pkt.StreamIndex).Int64("pts", pkt.PTS).Msg("dropping corrupt packet")
			return nil
		default:
			return err
		}
	}
}

// receive delivers frames until the decoder needs more input.
func (p *Pipeline) receive(ctx context.Context, dec *Decoder, frames chan<- *Frame) error {
	for {
		f, err := dec.ReceiveFrame()
		switch CodeOf(err) {
		case CodeOk:
		case CodeWouldBlock, CodeEndOfStream:
			return nil
		case CodeOutputChanged:
			p.count(func(s *PipelineStats) { s.FormatChanges++ })
			p.log.Info().Int("stream", dec.Stream().Index).Interface("format", dec.OutputFormat()).Msg("decoder output changed")
			continue
		default:
			return err
		}
		p.count(func(s *PipelineStats) { s.FramesDecoded++ })

		if !p.cfg.Target.IsZero() {
			if f, err = Convert(f, p.cfg.Target); err != nil {
				return err
			}
		}
		select {
		case frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) drainAll(ctx context.Context, frames chan<- *Frame) error {
	for _, dec := range p.decoders {
		if err := dec.Flush(); err != nil {
			return err
		}
		if err := p.receive(ctx, dec, frames); err != nil {
			return err
		}
	}
	p.log.Debug().Msg("pipeline reached end of input")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) count(f func(*PipelineStats)) {
	p.statsMu.Lock()
	f(&p.stats)
	p.statsMu.Unlock()
}

// Next returns the next decoded frame. It returns EndOfStream once the input
// is finished and every frame has been delivered, or the error that stopped
// the worker.
func (p *Pipeline) Next(ctx context.Context) (*Frame, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		run := p.cur
		p.mu.Unlock()

		select {
		case f, ok := <-run.frames:
			if ok {
				p.count(func(s *PipelineStats) { s.FramesDelivered++ })
				return f, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		p.mu.Lock()
		cur, closed := p.cur, p.closed
		p.mu.Unlock()
		switch {
		case closed:
			return nil, ErrClosed
		case cur != run:
			// Restarted by Seek.
			continue
		case run.err != nil:
			return nil, run.err
		}
		return nil, codeError("pipeline", CodeEndOfStream)
	}
}

// Seek repositions the input at ts from the start and resets the decoders.
// Frames queued before the seek are discarded.
func (p *Pipeline) Seek(ts time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if !p.sess.Seekable() {
		return ErrNotSeekable
	}
	p.stopLocked()

	var errs []error
	if err := p.sess.Seek(-1, ts.Microseconds()); err != nil && CodeOf(err) != CodeEndOfStream {
		errs = append(errs, err)
	}
	for _, dec := range p.decoders {
		if err := dec.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	p.count(func(s *PipelineStats) { s.Seeks++ })
	p.startLocked()
	p.log.Debug().Dur("ts", ts).Msg("pipeline seek")
	return errors.Join(errs...)
}

// Session returns the input the pipeline reads from.
func (p *Pipeline) Session() *Session { return p.sess }

// Streams returns the decoded streams in index order.
func (p *Pipeline) Streams() []Stream {
	all := p.sess.Streams()
	out := make([]Stream, 0, len(p.decoders))
	for _, st := range all {
		if _, ok := p.decoders[st.Index]; ok {
			out = append(out, st)
		}
	}
	return out
}

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()

	s.Decoders = make(map[int]DecoderStats, len(p.decoders))
	for i, d := range p.decoders {
		s.Decoders[i] = d.Stats()
	}
	return s
}

// Close stops the worker and releases the decoders and the input. Calling
// Close more than once does nothing.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.rootCancel()
	p.stopLocked()
	p.state.Store(int32(PipelineStateStopped))
	p.mu.Unlock()

	var errs []error
	for _, d := range p.decoders {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.sess.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
