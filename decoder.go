package av

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// decoderBackend is implemented by every codec. Results follow the native
// convention: >= 0 is success, negative values are native error codes.
// Backends return frames in the order they become available and leave
// presentation ordering to Decoder.
type decoderBackend interface {
	decode(pkt *Packet) ([]*Frame, int32)
	drain() ([]*Frame, int32)
	reset() int32
	close()
}

type decoderFactory func(s *Stream, opts DecoderOptions) (decoderBackend, error)

// DecoderOptions configures OpenDecoder.
type DecoderOptions struct {
	// PreferredDecoders lists decoder names tried before the default for the
	// stream's codec, e.g. "libopenh264".
	PreferredDecoders []string
	Threads           int
	Logger            *zerolog.Logger
}

// DecoderInfo describes a registered decoder.
type DecoderInfo struct {
	Name      string
	Codec     CodecID
	Provider  Provider
	Available bool
}

// DecoderStats provides decoding metrics.
type DecoderStats struct {
	PacketsSubmitted uint64 // Packets accepted by Submit
	BytesDecoded     uint64 // Compressed bytes accepted
	FramesDecoded    uint64 // Frames returned by ReceiveFrame
	FramesDropped    uint64 // Frames discarded because a later frame was already released
	CorruptedPackets uint64 // Packets rejected as invalid data
	FormatChanges    uint64 // OutputChanged events
}

// --- Registry ---

type decoderEntry struct {
	name      string
	codec     CodecID
	provider  Provider
	available func() bool
	factory   decoderFactory
}

type decoderRegistry struct {
	mu sync.RWMutex

	byCodec map[CodecID][]*decoderEntry
	byName  map[string]*decoderEntry
}

var globalDecoderRegistry = &decoderRegistry{
	byCodec: make(map[CodecID][]*decoderEntry),
	byName:  make(map[string]*decoderEntry),
}

func alwaysAvailable() bool { return true }

// registerDecoder adds a decoder. Permissive providers are preferred over
// copyleft ones when no preference is given.
func registerDecoder(e decoderEntry) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()

	if e.available == nil {
		e.available = alwaysAvailable
	}
	entry := &e
	globalDecoderRegistry.byName[e.name] = entry
	list := append(globalDecoderRegistry.byCodec[e.codec], entry)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].provider.License().Permissive() && !list[j].provider.License().Permissive()
	})
	globalDecoderRegistry.byCodec[e.codec] = list
}

func (e *decoderEntry) info() DecoderInfo {
	return DecoderInfo{Name: e.name, Codec: e.codec, Provider: e.provider, Available: e.available()}
}

// Decoders lists every registered decoder sorted by name.
func Decoders() []DecoderInfo {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	out := make([]DecoderInfo, 0, len(globalDecoderRegistry.byName))
	for _, e := range globalDecoderRegistry.byName {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindDecoder returns the default available decoder for codec.
func FindDecoder(codec CodecID) (DecoderInfo, error) {
	e, err := resolveDecoder(codec, nil)
	if err != nil {
		return DecoderInfo{}, err
	}
	return e.info(), nil
}

func resolveDecoder(codec CodecID, preferred []string) (*decoderEntry, error) {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	for _, name := range preferred {
		e, ok := globalDecoderRegistry.byName[name]
		if ok && e.codec == codec && e.available() {
			return e, nil
		}
	}
	for _, e := range globalDecoderRegistry.byCodec[codec] {
		if e.available() {
			return e, nil
		}
	}
	return nil, codeError("find decoder "+codec.String(), CodeDecoderNotFound)
}

// --- Decoder ---

// Decoder turns packets of one stream into frames. Call Submit with a packet,
// then ReceiveFrame until it reports WouldBlock. Frames are released in
// strictly increasing PTS order. Flush starts draining; ReceiveFrame then
// returns the remaining frames followed by EndOfStream.
type Decoder struct {
	mu sync.Mutex

	stream  Stream
	info    DecoderInfo
	backend decoderBackend
	log     zerolog.Logger

	queue     frameQueue
	depth     int
	draining  bool
	closed    bool
	stashed   *Frame
	lastOut   int64
	lastIn    int64
	format    Format
	formatSet bool

	stats DecoderStats
}

// OpenDecoder creates a decoder for s. It fails with DecoderNotFound when no
// usable decoder exists for the stream's codec.
func OpenDecoder(s *Stream, opts DecoderOptions) (*Decoder, error) {
	log := loggerOr(opts.Logger)
	if err := Init(); err != nil {
		log.Warn().Err(err).Msg("native library initialization failed")
	}

	entry, err := resolveDecoder(s.Codec, opts.PreferredDecoders)
	if err != nil {
		return nil, err
	}
	backend, err := entry.factory(s, opts)
	if err != nil {
		return nil, fmt.Errorf("open decoder %s: %w", entry.name, err)
	}

	depth := s.ReorderDepth
	if depth < 0 {
		depth = 0
	}
	d := &Decoder{
		stream:  *s,
		info:    entry.info(),
		backend: backend,
		log:     log.With().Str("decoder", entry.name).Int("stream", s.Index).Logger(),
		depth:   depth,
		lastOut: NoPTS,
		lastIn:  NoPTS,
		format:  streamFormat(s),
	}
	d.log.Debug().Str("codec", s.Codec.String()).Int("reorder_depth", depth).Msg("decoder opened")
	return d, nil
}

func streamFormat(s *Stream) Format {
	if s.Type == MediaTypeVideo {
		return Format{MediaType: MediaTypeVideo, Width: s.Params.Width, Height: s.Params.Height, PixelFormat: s.Params.PixelFormat}
	}
	return Format{MediaType: s.Type, SampleFormat: s.Params.SampleFormat, SampleRate: s.Params.SampleRate, Layout: s.Params.Layout}
}

// Info returns the decoder's registry entry.
func (d *Decoder) Info() DecoderInfo { return d.info }

// Stream returns the stream the decoder was opened for.
func (d *Decoder) Stream() Stream { return d.stream }

// OutputFormat returns the format of frames currently produced. Before the
// first frame it reflects the stream parameters.
func (d *Decoder) OutputFormat() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// Submit feeds one packet. It returns WouldBlock while decoded frames are
// waiting to be received, and EndOfStream after Flush. A nil packet is
// equivalent to Flush.
func (d *Decoder) Submit(pkt *Packet) error {
	if pkt == nil {
		return d.Flush()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.draining {
		return codeError("submit", CodeEndOfStream)
	}
	if d.readyLocked() {
		return codeError("submit", CodeWouldBlock)
	}

	frames, ret := d.backend.decode(pkt)
	if err := check("decode "+d.info.Name, ret); err != nil {
		switch CodeOf(err) {
		case CodeInvalidData:
			d.stats.CorruptedPackets++
		case CodeUnknown:
			d.log.Error().Int32("raw", ret).Msg("decoder returned unknown error code")
		}
		return err
	}

	d.stats.PacketsSubmitted++
	d.stats.BytesDecoded += uint64(len(pkt.Data))
	for _, f := range frames {
		d.pushLocked(f, pkt)
	}
	return nil
}

// ReceiveFrame returns the next frame in presentation order. It returns
// WouldBlock when more input is needed, EndOfStream once a flushed decoder is
// empty, and OutputChanged once when the output format changes; the frame
// with the new format is returned by the following call.
func (d *Decoder) ReceiveFrame() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.stashed != nil {
		f := d.stashed
		d.stashed = nil
		return f, nil
	}

	for d.queue.Len() > d.depth || (d.draining && d.queue.Len() > 0) {
		f := heap.Pop(&d.queue).(*Frame)
		if d.lastOut != NoPTS && f.PTS <= d.lastOut {
			d.stats.FramesDropped++
			d.log.Debug().Int64("pts", f.PTS).Int64("last", d.lastOut).Msg("dropping late frame")
			continue
		}
		d.lastOut = f.PTS
		d.stats.FramesDecoded++

		format := f.Format()
		if d.formatSet && format != d.format {
			d.format = format
			d.stashed = f
			d.stats.FormatChanges++
			d.log.Info().Interface("format", format).Msg("output format changed")
			return nil, codeError("receive frame", CodeOutputChanged)
		}
		d.format = format
		d.formatSet = true
		return f, nil
	}

	if d.draining {
		return nil, codeError("receive frame", CodeEndOfStream)
	}
	return nil, codeError("receive frame", CodeWouldBlock)
}

// Flush signals end of input. Buffered frames remain available through
// ReceiveFrame. Flushing twice does nothing.
func (d *Decoder) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.draining {
		return nil
	}
	frames, ret := d.backend.drain()
	if err := check("flush "+d.info.Name, ret); err != nil {
		return err
	}
	for _, f := range frames {
		d.pushLocked(f, nil)
	}
	d.draining = true
	return nil
}

// Reset discards all buffered state, e.g. after a seek. The decoder accepts
// packets again afterwards.
func (d *Decoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	ret := d.backend.reset()
	d.queue = d.queue[:0]
	d.draining = false
	d.stashed = nil
	d.lastOut = NoPTS
	d.lastIn = NoPTS
	return check("reset "+d.info.Name, ret)
}

// Stats returns decoding counters.
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close releases the decoder. Calling Close more than once does nothing.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.backend.close()
	d.queue = nil
	d.stashed = nil
	return nil
}

func (d *Decoder) readyLocked() bool {
	return d.stashed != nil || d.queue.Len() > d.depth
}

// pushLocked assigns stream timing to f and queues it for reordering.
func (d *Decoder) pushLocked(f *Frame, pkt *Packet) {
	f.StreamIndex = d.stream.Index
	if f.TimeBase == (TimeBase{}) {
		f.TimeBase = d.stream.TimeBase
	}
	if f.PTS == NoPTS && pkt != nil {
		f.PTS = pkt.DTS
	}
	if f.PTS == NoPTS {
		switch {
		case d.lastIn == NoPTS:
			f.PTS = 0
		case f.Duration > 0:
			f.PTS = d.lastIn + f.Duration
		default:
			f.PTS = d.lastIn + 1
		}
	}
	if d.lastIn == NoPTS || f.PTS > d.lastIn {
		d.lastIn = f.PTS
	}
	heap.Push(&d.queue, f)
}

// frameQueue is a min-heap of frames ordered by PTS.
type frameQueue []*Frame

func (q frameQueue) Len() int           { return len(q) }
func (q frameQueue) Less(i, j int) bool { return q[i].PTS < q[j].PTS }
func (q frameQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *frameQueue) Push(x any) { *q = append(*q, x.(*Frame)) }

func (q *frameQueue) Pop() any {
	old := *q
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return f
}

func loggerOr(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
