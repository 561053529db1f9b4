package av

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// PatternType selects the picture drawn by the testsrc input.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
	PatternNoise                           // Random noise
	PatternMovingBox                       // Moving box (animated)
)

var patternNames = map[string]PatternType{
	"bars":         PatternColorBars,
	"gradient":     PatternGradient,
	"checkerboard": PatternCheckerboard,
	"solid":        PatternSolidColor,
	"noise":        PatternNoise,
	"box":          PatternMovingBox,
}

func (p PatternType) String() string {
	for name, v := range patternNames {
		if v == p {
			return name
		}
	}
	return "unknown"
}

const (
	testSrcAudioBlock = 1024
	testSrcAmplitude  = 0.25
)

// testSrcConfig is parsed from testsrc://?size=WxH&rate=N&duration=S&pattern=P.
// tone=F adds a mono sine wave of F Hz at samplerate (default 48000).
type testSrcConfig struct {
	width, height int
	rate          TimeBase
	duration      float64 // seconds, 0 for unbounded
	pattern       PatternType
	solid         [3]uint8
	checkerSize   int
	tone          float64
	sampleRate    int
}

func parseTestSrc(u *url.URL) (testSrcConfig, error) {
	cfg := testSrcConfig{
		width:       320,
		height:      240,
		rate:        TimeBase{25, 1},
		pattern:     PatternColorBars,
		solid:       [3]uint8{0, 0, 192},
		checkerSize: 32,
		sampleRate:  48000,
	}
	q := u.Query()
	bad := func(key string) error {
		return fmt.Errorf("testsrc %s=%q: %w", key, q.Get(key), ErrInvalidData)
	}

	if v := q.Get("size"); v != "" {
		w, h, ok := strings.Cut(v, "x")
		var err1, err2 error
		cfg.width, err1 = strconv.Atoi(w)
		cfg.height, err2 = strconv.Atoi(h)
		if !ok || err1 != nil || err2 != nil || cfg.width <= 0 || cfg.height <= 0 {
			return cfg, bad("size")
		}
	}
	if v := q.Get("rate"); v != "" {
		num, den, ok := parseRatio(v)
		if !ok {
			n, err := strconv.ParseInt(v, 10, 64)
			num, den, ok = n, 1, err == nil
		}
		if !ok || num <= 0 || den <= 0 {
			return cfg, bad("rate")
		}
		cfg.rate = TimeBase{num, den}
	}
	if v := q.Get("duration"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d < 0 {
			return cfg, bad("duration")
		}
		cfg.duration = d
	}
	if v := q.Get("pattern"); v != "" {
		p, ok := patternNames[v]
		if !ok {
			return cfg, bad("pattern")
		}
		cfg.pattern = p
	}
	if v := q.Get("color"); v != "" {
		rgb, err := strconv.ParseUint(strings.TrimPrefix(v, "#"), 16, 32)
		if err != nil || len(strings.TrimPrefix(v, "#")) != 6 {
			return cfg, bad("color")
		}
		cfg.solid = [3]uint8{uint8(rgb >> 16), uint8(rgb >> 8), uint8(rgb)}
	}
	if v := q.Get("tone"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return cfg, bad("tone")
		}
		cfg.tone = f
	}
	if v := q.Get("samplerate"); v != "" {
		r, err := strconv.Atoi(v)
		if err != nil || r <= 0 {
			return cfg, bad("samplerate")
		}
		cfg.sampleRate = r
	}
	return cfg, nil
}

// testSrcDemuxer generates raw I420 pictures and optionally a sine tone. It
// is not paced: packets are produced as fast as they are read.
type testSrcDemuxer struct {
	cfg testSrcConfig

	video, audio int // stream indices, audio -1 when disabled
	frame        int64
	sample       int64
	lastFrame    int64 // -1 when unbounded
	lastSample   int64
}

func newTestSrcDemuxer(u *url.URL) (demuxer, error) {
	cfg, err := parseTestSrc(u)
	if err != nil {
		return nil, err
	}
	return &testSrcDemuxer{cfg: cfg, audio: -1, lastFrame: -1, lastSample: -1}, nil
}

func (d *testSrcDemuxer) readHeader(fc *formatContext) int32 {
	cfg := d.cfg
	v := fc.addStream(&Stream{
		Type:        MediaTypeVideo,
		Codec:       CodecRawVideo,
		TimeBase:    cfg.rate.Invert(),
		Disposition: DispositionDefault,
		Params: CodecParameters{
			Width:       cfg.width,
			Height:      cfg.height,
			PixelFormat: PixelFormatI420,
			FrameRate:   cfg.rate,
		},
		Metadata: Metadata{"pattern": cfg.pattern.String()},
	})
	v.StartTime = 0
	d.video = v.Index

	if cfg.tone > 0 {
		a := fc.addStream(&Stream{
			Type:        MediaTypeAudio,
			Codec:       CodecPCMS16LE,
			TimeBase:    TimeBase{1, int64(cfg.sampleRate)},
			Disposition: DispositionDefault,
			Params: CodecParameters{
				SampleRate:    cfg.sampleRate,
				Layout:        LayoutMono,
				SampleFormat:  SampleFormatS16,
				BlockAlign:    2,
				BitsPerSample: 16,
			},
		})
		a.StartTime = 0
		d.audio = a.Index
	}

	if cfg.duration > 0 {
		us := int64(math.Round(cfg.duration * 1e6))
		fc.duration = us
		v.Duration = Rescale(us, TimeBaseMicroseconds, v.TimeBase)
		d.lastFrame = v.Duration
		if d.audio >= 0 {
			a := fc.streams[d.audio]
			a.Duration = Rescale(us, TimeBaseMicroseconds, a.TimeBase)
			d.lastSample = a.Duration
		}
	}
	fc.metadata["title"] = "testsrc"
	return 0
}

func (d *testSrcDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	videoDone := d.lastFrame >= 0 && d.frame >= d.lastFrame
	audioDone := d.audio < 0 || (d.lastSample >= 0 && d.sample >= d.lastSample)
	switch {
	case videoDone && audioDone:
		return nil, NativeEndOfStream
	case videoDone:
		return d.audioPacket(), 0
	case audioDone:
		return d.videoPacket(), 0
	}

	// Interleave by presentation time.
	vt := Rescale(d.frame, fc.streams[d.video].TimeBase, TimeBaseMicroseconds)
	at := Rescale(d.sample, fc.streams[d.audio].TimeBase, TimeBaseMicroseconds)
	if at < vt {
		return d.audioPacket(), 0
	}
	return d.videoPacket(), 0
}

func (d *testSrcDemuxer) videoPacket() *Packet {
	w, h := d.cfg.width, d.cfg.height
	buf := make([]byte, PixelFormatI420.ImageSize(w, h))
	d.draw(buf, d.frame)
	pkt := &Packet{
		Data:        buf,
		StreamIndex: d.video,
		PTS:         d.frame,
		DTS:         d.frame,
		Duration:    1,
		Keyframe:    true,
		Pos:         -1,
	}
	d.frame++
	return pkt
}

func (d *testSrcDemuxer) audioPacket() *Packet {
	n := int64(testSrcAudioBlock)
	if d.lastSample >= 0 && d.sample+n > d.lastSample {
		n = d.lastSample - d.sample
	}
	buf := make([]byte, 2*n)
	step := 2 * math.Pi * d.cfg.tone / float64(d.cfg.sampleRate)
	for i := int64(0); i < n; i++ {
		v := testSrcAmplitude * math.Sin(step*float64(d.sample+i))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	pkt := &Packet{
		Data:        buf,
		StreamIndex: d.audio,
		PTS:         d.sample,
		DTS:         d.sample,
		Duration:    n,
		Keyframe:    true,
		Pos:         -1,
	}
	d.sample += n
	return pkt
}

// seek positions both streams at the first frame at or after ts. Every
// picture is a keyframe.
func (d *testSrcDemuxer) seek(fc *formatContext, stream int, ts int64) int32 {
	us := Rescale(max(ts, 0), fc.streams[stream].TimeBase, TimeBaseMicroseconds)
	vb := fc.streams[d.video].TimeBase
	frame := Rescale(us, TimeBaseMicroseconds, vb)
	if Rescale(frame, vb, TimeBaseMicroseconds) < us {
		frame++
	}
	if d.lastFrame >= 0 && frame > d.lastFrame {
		frame = d.lastFrame
	}
	d.frame = frame
	if d.audio >= 0 {
		d.sample = Rescale(Rescale(frame, vb, TimeBaseMicroseconds), TimeBaseMicroseconds, fc.streams[d.audio].TimeBase)
		if d.lastSample >= 0 && d.sample > d.lastSample {
			d.sample = d.lastSample
		}
	}
	return 0
}

func (d *testSrcDemuxer) close() {}

func (d *testSrcDemuxer) draw(buf []byte, frame int64) {
	w, h := d.cfg.width, d.cfg.height
	ySize := w * h
	cw, ch := PixelFormatI420.PlaneSize(1, w, h)
	p := i420Planes{
		w: w, h: h, cw: cw,
		y: buf[:ySize],
		u: buf[ySize : ySize+cw*ch],
		v: buf[ySize+cw*ch:],
	}

	switch d.cfg.pattern {
	case PatternGradient:
		p.gradient()
	case PatternCheckerboard:
		p.checkerboard(d.cfg.checkerSize)
	case PatternSolidColor:
		p.solid(d.cfg.solid[0], d.cfg.solid[1], d.cfg.solid[2])
	case PatternNoise:
		p.noise(uint64(frame)*0x9E3779B97F4A7C15 + 1)
	case PatternMovingBox:
		p.movingBox(frame)
	default:
		p.colorBars()
	}
}

type i420Planes struct {
	w, h, cw int
	y, u, v  []byte
}

func (p i420Planes) setChroma(x, y int, u, v uint8) {
	if x%2 == 0 && y%2 == 0 {
		i := (y/2)*p.cw + x/2
		p.u[i] = u
		p.v[i] = v
	}
}

func (p i420Planes) neutralChroma() {
	for i := range p.u {
		p.u[i] = 128
		p.v[i] = 128
	}
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (p i420Planes) colorBars() {
	barWidth := max(p.w/8, 1)
	var yuv [8][3]uint8
	for i, rgb := range colorBarsRGB {
		yuv[i][0], yuv[i][1], yuv[i][2] = rgbToYUV(rgb[0], rgb[1], rgb[2])
	}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			bar := min(x/barWidth, 7)
			p.y[y*p.w+x] = yuv[bar][0]
			p.setChroma(x, y, yuv[bar][1], yuv[bar][2])
		}
	}
}

func (p i420Planes) gradient() {
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			p.y[y*p.w+x] = uint8((x * 255) / p.w)
		}
	}
	p.neutralChroma()
}

func (p i420Planes) checkerboard(size int) {
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			if ((x/size)+(y/size))%2 == 0 {
				p.y[y*p.w+x] = 235
			} else {
				p.y[y*p.w+x] = 16
			}
		}
	}
	p.neutralChroma()
}

func (p i420Planes) solid(r, g, b uint8) {
	yv, u, v := rgbToYUV(r, g, b)
	for i := range p.y {
		p.y[i] = yv
	}
	for i := range p.u {
		p.u[i] = u
		p.v[i] = v
	}
}

// noise fills luma with xorshift64 output. The seed is derived from the frame
// number so a seek reproduces the same pictures.
func (p i420Planes) noise(state uint64) {
	for i := range p.y {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		p.y[i] = uint8(state)
	}
	p.neutralChroma()
}

func (p i420Planes) movingBox(frame int64) {
	for i := range p.y {
		p.y[i] = 16
	}
	p.neutralChroma()

	boxSize := max(min(p.w, p.h)/5, 2)
	radius := float64(min(p.w, p.h)) / 4
	angle := float64(frame) * 0.05
	boxX := p.w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := p.h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < p.h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < p.w; x++ {
			p.y[y*p.w+x] = 235
		}
	}
}

// rgbToYUV converts RGB to limited range BT.601 YUV.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clampf(yf, 16, 235) + 0.5)
	u = uint8(clampf(uf, 16, 240) + 0.5)
	v = uint8(clampf(vf, 16, 240) + 0.5)
	return
}

func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
