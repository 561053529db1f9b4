package av

import "fmt"

// rawVideoDecoder splits tightly packed pictures into planes.
type rawVideoDecoder struct {
	width  int
	height int
	format PixelFormat
	size   int
}

func newRawVideoDecoder(s *Stream, _ DecoderOptions) (decoderBackend, error) {
	p := s.Params
	if p.Width <= 0 || p.Height <= 0 || p.PixelFormat.PlaneCount() == 0 {
		return nil, fmt.Errorf("rawvideo: %dx%d %s: %w", p.Width, p.Height, p.PixelFormat, ErrInvalidData)
	}
	return &rawVideoDecoder{
		width:  p.Width,
		height: p.Height,
		format: p.PixelFormat,
		size:   p.PixelFormat.ImageSize(p.Width, p.Height),
	}, nil
}

func (d *rawVideoDecoder) decode(pkt *Packet) ([]*Frame, int32) {
	if len(pkt.Data) < d.size {
		return nil, NativeInvalidData
	}

	f := NewVideoFrame(d.format, d.width, d.height)
	f.PTS = pkt.PTS
	f.Duration = pkt.Duration
	f.Keyframe = true

	off := 0
	for i := range f.Data {
		n := copy(f.Data[i], pkt.Data[off:])
		off += n
	}
	return []*Frame{f}, 0
}

func (d *rawVideoDecoder) drain() ([]*Frame, int32) { return nil, 0 }
func (d *rawVideoDecoder) reset() int32              { return 0 }
func (d *rawVideoDecoder) close()                    {}

func init() {
	registerDecoder(decoderEntry{
		name:     "rawvideo",
		codec:    CodecRawVideo,
		provider: ProviderBuiltin,
		factory:  newRawVideoDecoder,
	})
}
