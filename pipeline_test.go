package av

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

const pipelineTestSrc = "testsrc://?size=16x8&rate=10&duration=0.5&tone=440&samplerate=8000"

func newTestPipeline(t *testing.T, locator string, cfg Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(t.Context(), locator, cfg)
	if err != nil {
		t.Fatalf("NewPipeline(%s) = %v", locator, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// drainPipeline reads frames until EndOfStream.
func drainPipeline(t *testing.T, p *Pipeline) (video, audio []*Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	for {
		f, err := p.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			return video, audio
		}
		if err != nil {
			t.Fatalf("Next = %v", err)
		}
		if f.MediaType == MediaTypeVideo {
			video = append(video, f)
		} else {
			audio = append(audio, f)
		}
	}
}

func TestPipelineDecodesAll(t *testing.T) {
	p := newTestPipeline(t, pipelineTestSrc, DefaultConfig())
	if n := len(p.Streams()); n != 2 {
		t.Fatalf("decoding %d streams, want 2", n)
	}

	video, audio := drainPipeline(t, p)
	if len(video) != 5 {
		t.Errorf("got %d video frames, want 5", len(video))
	}
	for i, f := range video {
		if f.PTS != int64(i) || f.Width != 16 || f.Height != 8 || f.PixelFormat != PixelFormatI420 {
			t.Errorf("video %d: pts %d %dx%d %s", i, f.PTS, f.Width, f.Height, f.PixelFormat)
		}
	}
	samples := 0
	for _, f := range audio {
		if f.PTS != int64(samples) {
			t.Errorf("audio pts %d, want %d", f.PTS, samples)
		}
		samples += f.SampleCount
	}
	if samples != 4000 {
		t.Errorf("got %d samples, want 4000", samples)
	}

	// Next keeps reporting the end of input.
	if _, err := p.Next(t.Context()); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Next after end = %v", err)
	}
	if s := p.State(); s != PipelineStateDone {
		t.Errorf("State = %v, want done", s)
	}

	st := p.Stats()
	if st.PacketsRead != 9 || st.FramesDecoded != 9 || st.FramesDelivered != 9 {
		t.Errorf("stats = %+v", st)
	}
	if len(st.Decoders) != 2 || st.Decoders[0].FramesDecoded != 5 {
		t.Errorf("decoder stats = %+v", st.Decoders)
	}
}

func TestPipelineConverts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target = Target{PixelFormat: PixelFormatRGB24, Width: 8, SampleFormat: SampleFormatF32P, Layout: LayoutStereo}
	p := newTestPipeline(t, pipelineTestSrc, cfg)

	video, audio := drainPipeline(t, p)
	if len(video) == 0 || len(audio) == 0 {
		t.Fatalf("got %d video, %d audio frames", len(video), len(audio))
	}
	for _, f := range video {
		if f.PixelFormat != PixelFormatRGB24 || f.Width != 8 || f.Height != 4 {
			t.Fatalf("video frame %s %dx%d", f.PixelFormat, f.Width, f.Height)
		}
	}
	for _, f := range audio {
		if f.SampleFormat != SampleFormatF32P || len(f.Data) != 2 || f.SampleRate != 8000 {
			t.Fatalf("audio frame %s, %d buffers, %dHz", f.SampleFormat, len(f.Data), f.SampleRate)
		}
	}
}

func TestPipelineStreamSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Streams = []int{1}
	p := newTestPipeline(t, pipelineTestSrc, cfg)
	if st := p.Streams(); len(st) != 1 || st[0].Type != MediaTypeAudio {
		t.Fatalf("Streams = %+v", st)
	}
	video, _ := drainPipeline(t, p)
	if len(video) != 0 {
		t.Errorf("got %d video frames from an audio-only pipeline", len(video))
	}
	if s := p.Stats(); s.PacketsSkipped != 5 {
		t.Errorf("PacketsSkipped = %d, want 5", s.PacketsSkipped)
	}

	cfg.Streams = []int{4}
	if _, err := NewPipeline(t.Context(), pipelineTestSrc, cfg); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("NewPipeline(stream 4) = %v, want StreamNotFound", err)
	}
	if _, err := NewPipeline(t.Context(), "gopher://nowhere", DefaultConfig()); err == nil {
		t.Error("NewPipeline with a bad locator should fail")
	}
}

func TestPipelineSeek(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	p := newTestPipeline(t, pipelineTestSrc, cfg)

	// Leave frames queued behind the seek.
	if _, err := p.Next(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := p.Seek(300 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	video, audio := drainPipeline(t, p)
	if len(video) != 2 || video[0].PTS != 3 {
		t.Fatalf("after seek: %d video frames, first %+v", len(video), video)
	}
	if len(audio) == 0 || audio[0].PTS != 2400 {
		t.Errorf("first audio after seek = %+v", audio)
	}
	if s := p.Stats(); s.Seeks != 1 {
		t.Errorf("Seeks = %d, want 1", s.Seeks)
	}

	// Seeking after the end restarts the worker.
	if err := p.Seek(0); err != nil {
		t.Fatal(err)
	}
	if video, _ := drainPipeline(t, p); len(video) != 5 {
		t.Errorf("after rewind: %d video frames, want 5", len(video))
	}
}

func TestPipelineNotSeekable(t *testing.T) {
	sess, err := OpenReader(t.Context(), bytes.NewReader(buildY4M("W4 H2 F25:1", y4mFrames(3, 12))), Options{ProbeSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewSessionPipeline(t.Context(), sess, DefaultConfig())
	if err != nil {
		sess.Close()
		t.Fatal(err)
	}
	defer p.Close()
	if p.Session() != sess {
		t.Error("Session mismatch")
	}
	if err := p.Seek(time.Second); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("Seek = %v, want ErrNotSeekable", err)
	}
	if video, _ := drainPipeline(t, p); len(video) != 3 {
		t.Errorf("got %d frames, want 3", len(video))
	}
}

func TestPipelineClose(t *testing.T) {
	p, err := NewPipeline(t.Context(), pipelineTestSrc, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if s := p.State(); s != PipelineStateStopped {
		t.Errorf("State = %v, want stopped", s)
	}
	if _, err := p.Next(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after Close = %v", err)
	}
	if err := p.Seek(0); !errors.Is(err, ErrClosed) {
		t.Errorf("Seek after Close = %v", err)
	}
}

func TestPipelineNextContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Streams = []int{0}
	p := newTestPipeline(t, "testsrc://?size=16x8&rate=10", cfg)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	// A cancelled context may still pick up a queued frame; it must not block.
	for i := 0; i < 100; i++ {
		if _, err := p.Next(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Next = %v, want context.Canceled", err)
			}
			return
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Millisecond, 10*time.Millisecond)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Millisecond},
		{1, 2 * time.Millisecond},
		{3, 8 * time.Millisecond},
		{4, 10 * time.Millisecond},
		{100, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	cfg := Config{}.withDefaults()
	if cfg.QueueSize != defaultQueueSize || cfg.Backoff == nil {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestPipelineStateString(t *testing.T) {
	for s, want := range map[PipelineState]string{
		PipelineStateIdle:    "idle",
		PipelineStateRunning: "running",
		PipelineStateDone:    "done",
		PipelineStateStopped: "stopped",
		PipelineState(9):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("PipelineState(%d).String() = %q, want %q", s, got, want)
		}
	}
}
