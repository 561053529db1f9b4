package av

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// demuxer is implemented by every container and network input. Results
// follow the native convention: >= 0 is success, negative values are native
// error codes.
//
// readHeader fills the stream table. It runs in blocking mode and may queue
// packets it had to read ahead. readPacket returns the next packet or
// NativeWouldBlock without losing state.
type demuxer interface {
	readHeader(fc *formatContext) int32
	readPacket(fc *formatContext) (*Packet, int32)
	close()
}

// directSeeker is implemented by demuxers that can compute the offset of a
// timestamp. ts is in the time base of the given stream.
type directSeeker interface {
	seek(fc *formatContext, stream int, ts int64) int32
}

// rewinder is implemented by demuxers that can restart from the first packet.
// Seeking then scans forward to the first keyframe at or after the target.
type rewinder interface {
	rewind(fc *formatContext) int32
}

// listener is implemented by network inputs that wait for a sender.
type listener interface {
	localAddr() net.Addr
}

// formatContext is the state shared between a Session and its demuxer.
type formatContext struct {
	ctx      context.Context
	src      *byteSource // nil for packet oriented inputs
	streams  []*Stream
	metadata Metadata
	duration int64 // TimeBaseMicroseconds, NoPTS when unknown
	nonBlock bool
	opts     Options
	log      zerolog.Logger

	// queue holds packets read ahead while probing.
	queue []*Packet
}

func (fc *formatContext) addStream(s *Stream) *Stream {
	s.Index = len(fc.streams)
	if s.Metadata == nil {
		s.Metadata = Metadata{}
	}
	if s.StartTime == 0 && s.Duration == 0 {
		s.StartTime, s.Duration = NoPTS, NoPTS
	}
	fc.streams = append(fc.streams, s)
	return s
}

func (fc *formatContext) enqueue(p *Packet) { fc.queue = append(fc.queue, p) }

func (fc *formatContext) dequeue() *Packet {
	if len(fc.queue) == 0 {
		return nil
	}
	p := fc.queue[0]
	fc.queue[0] = nil
	fc.queue = fc.queue[1:]
	return p
}

// ioError wraps a failed source read with its cause.
func (fc *formatContext) ioError(op string, ret int32) error {
	if fc.src != nil && fc.src.err != nil && ret == nativeIOError {
		return checkCause(op, ret, fc.src.err)
	}
	return check(op, ret)
}

// inputFormat describes a container demuxer.
type inputFormat struct {
	name string
	long string
	exts []string
	// probe scores the first bytes of the input, 0 meaning no match and 100 a
	// certain match.
	probe func(b []byte) int
	open  func() demuxer
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]*inputFormat{}
)

func registerFormat(f *inputFormat) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[f.name] = f
}

// Formats returns the names of the registered container formats.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFormat(name string) *inputFormat {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	return formats[name]
}

// probeFormat picks the best scoring format for head, falling back to the
// file extension when no content probe matches.
func probeFormat(head []byte, ext string) *inputFormat {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)

	var best *inputFormat
	bestScore := 0
	for _, name := range names {
		f := formats[name]
		if f.probe == nil {
			continue
		}
		if score := f.probe(head); score > bestScore {
			best, bestScore = f, score
		}
	}
	if best != nil {
		return best
	}

	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, name := range names {
		for _, e := range formats[name].exts {
			if e == ext {
				return formats[name]
			}
		}
	}
	return nil
}

// Options configures Open.
type Options struct {
	// Format forces a container format by name instead of probing.
	Format string
	// NonBlocking makes NextPacket return WouldBlock instead of waiting for
	// network or pipe input. It can be changed later with SetNonBlocking.
	NonBlocking bool
	// Timeout bounds connection setup for network inputs. Zero means 10s.
	Timeout time.Duration
	// ProbeSize is the number of bytes inspected to detect the format.
	ProbeSize int
	Logger    *zerolog.Logger
}

const (
	defaultProbeSize = 2048
	defaultTimeout   = 10 * time.Second
)

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

// State is the lifecycle state of a Session.
type State int

const (
	StateClosed State = iota
	StateOpened
	StateReading
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateReading:
		return "reading"
	default:
		return "closed"
	}
}

// Session is an opened media input. It reads packets of all streams in file
// order. A Session is safe for use from multiple goroutines, but packets are
// produced sequentially.
type Session struct {
	mu sync.Mutex

	locator string
	format  *inputFormat
	fc      *formatContext
	dmx     demuxer
	state   State
	eof     bool
}

// Open opens a media input. locator is a file path, a file:// URL or one of
// the network inputs srt://, rtmp://, rtp:// and testsrc://. The context
// bounds connection setup and, in blocking mode, every read.
func Open(ctx context.Context, locator string, opts Options) (*Session, error) {
	in, err := openLocator(ctx, locator, opts)
	if err != nil {
		return nil, err
	}
	return openInput(ctx, locator, in, opts)
}

// OpenReader opens a container read from r. The format is probed unless
// opts.Format is set. r is read from a separate goroutine, so NextPacket can
// report WouldBlock while r has no data. If r is an io.Closer it is closed by
// Session.Close.
func OpenReader(ctx context.Context, r io.Reader, opts Options) (*Session, error) {
	closer, _ := r.(io.Closer)
	return openInput(ctx, "pipe:", &input{src: newStreamSource(ctx, r, closer), format: opts.Format}, opts)
}

func openInput(ctx context.Context, locator string, in *input, opts Options) (*Session, error) {
	log := loggerOr(opts.Logger).With().Str("input", locator).Logger()
	fc := &formatContext{
		ctx:      ctx,
		src:      in.src,
		metadata: Metadata{},
		duration: NoPTS,
		opts:     opts,
		log:      log,
	}
	cleanup := func() {
		if in.src != nil {
			in.src.close()
		}
	}

	format := in.format
	if opts.Format != "" {
		format = opts.Format
	}

	var f *inputFormat
	switch {
	case in.dmx != nil:
		f = &inputFormat{name: in.format}
	case format != "":
		if f = lookupFormat(format); f == nil {
			cleanup()
			return nil, fmt.Errorf("format %q: %w", format, ErrInvalidData)
		}
	default:
		size := opts.ProbeSize
		if size <= 0 {
			size = defaultProbeSize
		}
		head, ret := in.src.peek(size)
		if ret < 0 && ret != NativeEndOfStream {
			err := fc.ioError("probe", ret)
			cleanup()
			return nil, err
		}
		if f = probeFormat(head, in.ext); f == nil {
			cleanup()
			return nil, codeError("probe "+locator, CodeInvalidData)
		}
	}

	dmx := in.dmx
	if dmx == nil {
		dmx = f.open()
	}
	if ret := dmx.readHeader(fc); ret < 0 {
		err := fc.ioError("read header "+f.name, ret)
		dmx.close()
		cleanup()
		return nil, err
	}
	if !hasDecodableStream(fc.streams) {
		dmx.close()
		cleanup()
		return nil, codeError("read header "+f.name, CodeStreamNotFound)
	}
	fc.nonBlock = opts.NonBlocking
	if fc.src != nil {
		fc.src.nonBlock = opts.NonBlocking
	}

	log.Debug().Str("format", f.name).Int("streams", len(fc.streams)).Msg("input opened")
	return &Session{
		locator: locator,
		format:  f,
		fc:      fc,
		dmx:     dmx,
		state:   StateOpened,
	}, nil
}

func hasDecodableStream(streams []*Stream) bool {
	for _, s := range streams {
		if s.Codec != CodecUnknown {
			return true
		}
	}
	return false
}

// Format returns the short name of the input format, e.g. "mpegts".
func (s *Session) Format() string { return s.format.name }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Streams returns a copy of the stream table.
func (s *Session) Streams() []Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stream, len(s.fc.streams))
	for i, st := range s.fc.streams {
		out[i] = *st
	}
	return out
}

// Stream returns stream i.
func (s *Session) Stream(i int) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.fc.streams) {
		return Stream{}, codeError(fmt.Sprintf("stream %d", i), CodeStreamNotFound)
	}
	return *s.fc.streams[i], nil
}

// BestStream returns the index of the preferred stream of type t: the default
// stream with an available decoder, skipping attached pictures, falling back
// to the first stream of that type.
func (s *Session) BestStream(t MediaType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best, bestScore := -1, -1
	for _, st := range s.fc.streams {
		if st.Type != t || st.Disposition.Has(DispositionAttachedPic) {
			continue
		}
		score := 0
		if _, err := FindDecoder(st.Codec); err == nil {
			score += 2
		}
		if st.Disposition.Has(DispositionDefault) {
			score++
		}
		if score > bestScore {
			best, bestScore = st.Index, score
		}
	}
	if best < 0 {
		return -1, codeError("best stream "+t.String(), CodeStreamNotFound)
	}
	return best, nil
}

// Metadata returns container level metadata.
func (s *Session) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Metadata, len(s.fc.metadata))
	for k, v := range s.fc.metadata {
		out[k] = v
	}
	return out
}

// Duration returns the input duration when the container declares one or it
// can be computed.
func (s *Session) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ToDuration(s.fc.duration, TimeBaseMicroseconds)
}

// LocalAddr returns the address a listening network input (rtp://, rtmp://)
// is bound to, or nil for other inputs.
func (s *Session) LocalAddr() net.Addr {
	if l, ok := s.dmx.(listener); ok {
		return l.localAddr()
	}
	return nil
}

// Seekable reports whether Seek is supported.
func (s *Session) Seekable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekableLocked()
}

func (s *Session) seekableLocked() bool {
	switch s.dmx.(type) {
	case directSeeker:
		return s.fc.src == nil || s.fc.src.seekable()
	case rewinder:
		return s.fc.src != nil && s.fc.src.seekable()
	}
	return false
}

// SetNonBlocking switches between blocking and non-blocking reads.
func (s *Session) SetNonBlocking(nonBlock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fc.nonBlock = nonBlock
	if s.fc.src != nil {
		s.fc.src.nonBlock = nonBlock
	}
}

// NextPacket returns the next packet in input order. It returns EndOfStream
// at the end of input, and keeps returning it. In non-blocking mode it
// returns WouldBlock when no complete packet is available yet.
func (s *Session) NextPacket() (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return nil, ErrClosed
	case s.eof:
		return nil, codeError("read packet", CodeEndOfStream)
	}
	s.state = StateReading

	if p := s.fc.dequeue(); p != nil {
		return p, nil
	}
	pkt, ret := s.dmx.readPacket(s.fc)
	if ret < 0 {
		err := s.fc.ioError("read packet "+s.format.name, ret)
		switch CodeOf(err) {
		case CodeEndOfStream:
			s.eof = true
		case CodeUnknown:
			s.fc.log.Error().Err(err).Int32("raw", ret).Msg("unknown demuxer error")
		}
		return nil, err
	}
	return pkt, nil
}

// Seek positions the input at the first keyframe of stream whose timestamp is
// at or after ts, in the stream's time base. A stream of -1 selects the best
// video stream, or the first stream, with ts in microseconds. Decoders fed
// from this session must be Reset afterwards.
func (s *Session) Seek(stream int, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	if !s.seekableLocked() {
		return ErrNotSeekable
	}

	if stream < 0 {
		stream = 0
		for _, st := range s.fc.streams {
			if st.Type == MediaTypeVideo {
				stream = st.Index
				break
			}
		}
		ts = Rescale(ts, TimeBaseMicroseconds, s.fc.streams[stream].TimeBase)
	}
	if stream >= len(s.fc.streams) {
		return codeError(fmt.Sprintf("seek stream %d", stream), CodeStreamNotFound)
	}

	s.fc.queue = nil
	s.eof = false
	nonBlock := s.fc.nonBlock
	s.setBlockingLocked(false)
	defer s.setBlockingLocked(nonBlock)

	if ds, ok := s.dmx.(directSeeker); ok {
		return s.fc.ioError("seek "+s.format.name, ds.seek(s.fc, stream, ts))
	}
	return s.scanSeekLocked(stream, ts)
}

func (s *Session) setBlockingLocked(nonBlock bool) {
	s.fc.nonBlock = nonBlock
	if s.fc.src != nil {
		s.fc.src.nonBlock = nonBlock
	}
}

// scanSeekLocked restarts the demuxer and reads forward to the first keyframe
// of stream at or after ts. That packet is queued for the next NextPacket.
func (s *Session) scanSeekLocked(stream int, ts int64) error {
	rw := s.dmx.(rewinder)
	if ret := rw.rewind(s.fc); ret < 0 {
		return s.fc.ioError("seek "+s.format.name, ret)
	}
	s.fc.queue = nil

	for {
		pkt, ret := s.dmx.readPacket(s.fc)
		if ret < 0 {
			err := s.fc.ioError("seek "+s.format.name, ret)
			if CodeOf(err) == CodeEndOfStream {
				s.eof = true
			}
			return err
		}
		if pkt.StreamIndex != stream || !pkt.Keyframe {
			continue
		}
		pts := pkt.PTS
		if pts == NoPTS {
			pts = pkt.DTS
		}
		if pts != NoPTS && pts >= ts {
			s.fc.queue = append([]*Packet{pkt}, s.fc.queue...)
			s.fc.log.Debug().Int("stream", stream).Int64("target", ts).Int64("pts", pts).Msg("seek")
			return nil
		}
	}
}

// Close releases the input. Calling Close more than once does nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.dmx.close()
	s.fc.queue = nil
	if s.fc.src != nil {
		if err := s.fc.src.close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
	return nil
}
