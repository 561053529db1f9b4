package av

import "fmt"

// rgbLayout describes the byte order of a packed RGB format.
type rgbLayout struct {
	r, g, b, a int // a is -1 when there is no alpha byte
	bpp        int
}

func rgbLayoutOf(p PixelFormat) (rgbLayout, bool) {
	switch p {
	case PixelFormatRGB24:
		return rgbLayout{r: 0, g: 1, b: 2, a: -1, bpp: 3}, true
	case PixelFormatRGBA:
		return rgbLayout{r: 0, g: 1, b: 2, a: 3, bpp: 4}, true
	case PixelFormatBGRA:
		return rgbLayout{r: 2, g: 1, b: 0, a: 3, bpp: 4}, true
	}
	return rgbLayout{}, false
}

// convertPixels converts a video frame to another pixel format at the same
// size. Packed RGB formats are swizzled directly; everything else goes
// through I420 using BT.601 limited range.
func convertPixels(f *Frame, to PixelFormat) (*Frame, error) {
	if f.PixelFormat == to {
		return f, nil
	}
	if to.PlaneCount() == 0 {
		return nil, fmt.Errorf("convert %s to %s: %w", f.PixelFormat, to, ErrUnsupportedConversion)
	}
	src, srcRGB := rgbLayoutOf(f.PixelFormat)
	dst, dstRGB := rgbLayoutOf(to)
	if srcRGB && dstRGB {
		return swizzleRGB(f, src, to, dst), nil
	}
	i420, err := toI420(f)
	if err != nil {
		return nil, err
	}
	return fromI420(i420, to), nil
}

func swizzleRGB(f *Frame, src rgbLayout, to PixelFormat, dst rgbLayout) *Frame {
	out := NewVideoFrame(to, f.Width, f.Height)
	copyFrameTiming(out, f)
	in, o := f.Data[0], out.Data[0]
	for y := 0; y < f.Height; y++ {
		si, di := y*f.Stride[0], y*out.Stride[0]
		for x := 0; x < f.Width; x++ {
			s, d := si+x*src.bpp, di+x*dst.bpp
			o[d+dst.r] = in[s+src.r]
			o[d+dst.g] = in[s+src.g]
			o[d+dst.b] = in[s+src.b]
			if dst.a >= 0 {
				if src.a >= 0 {
					o[d+dst.a] = in[s+src.a]
				} else {
					o[d+dst.a] = 0xFF
				}
			}
		}
	}
	return out
}

// toI420 returns f as a tightly packed I420 frame.
func toI420(f *Frame) (*Frame, error) {
	out := NewVideoFrame(PixelFormatI420, f.Width, f.Height)
	copyFrameTiming(out, f)
	w, h := f.Width, f.Height
	cw, ch := PixelFormatI420.PlaneSize(1, w, h)
	yp, up, vp := out.Data[0], out.Data[1], out.Data[2]

	switch f.PixelFormat {
	case PixelFormatI420:
		copyRows(yp, w, f.Data[0], f.Stride[0], w, h)
		copyRows(up, cw, f.Data[1], f.Stride[1], cw, ch)
		copyRows(vp, cw, f.Data[2], f.Stride[2], cw, ch)

	case PixelFormatNV12:
		copyRows(yp, w, f.Data[0], f.Stride[0], w, h)
		for y := 0; y < ch; y++ {
			row := f.Data[1][y*f.Stride[1]:]
			for x := 0; x < cw; x++ {
				up[y*cw+x] = row[2*x]
				vp[y*cw+x] = row[2*x+1]
			}
		}

	case PixelFormatGray8:
		copyRows(yp, w, f.Data[0], f.Stride[0], w, h)
		fillPlane(up, 128)
		fillPlane(vp, 128)

	case PixelFormatRGB24, PixelFormatRGBA, PixelFormatBGRA:
		l, _ := rgbLayoutOf(f.PixelFormat)
		in, stride := f.Data[0], f.Stride[0]
		pixel := func(x, y int) (r, g, b int) {
			i := y*stride + x*l.bpp
			return int(in[i+l.r]), int(in[i+l.g]), int(in[i+l.b])
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b := pixel(x, y)
				yp[y*w+x] = uint8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
			}
		}
		// Chroma from the average of each 2x2 block.
		for cy := 0; cy < ch; cy++ {
			for cx := 0; cx < cw; cx++ {
				var sr, sg, sb, n int
				for y := 2 * cy; y < min(2*cy+2, h); y++ {
					for x := 2 * cx; x < min(2*cx+2, w); x++ {
						r, g, b := pixel(x, y)
						sr, sg, sb, n = sr+r, sg+g, sb+b, n+1
					}
				}
				r, g, b := sr/n, sg/n, sb/n
				up[cy*cw+cx] = uint8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
				vp[cy*cw+cx] = uint8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
			}
		}

	default:
		return nil, fmt.Errorf("convert from %s: %w", f.PixelFormat, ErrUnsupportedConversion)
	}
	return out, nil
}

// fromI420 converts a tightly packed I420 frame.
func fromI420(f *Frame, to PixelFormat) *Frame {
	if to == PixelFormatI420 {
		return f
	}
	out := NewVideoFrame(to, f.Width, f.Height)
	copyFrameTiming(out, f)
	w, h := f.Width, f.Height
	cw, ch := PixelFormatI420.PlaneSize(1, w, h)
	yp, up, vp := f.Data[0], f.Data[1], f.Data[2]

	switch to {
	case PixelFormatGray8:
		copy(out.Data[0], yp)

	case PixelFormatNV12:
		copy(out.Data[0], yp)
		uv := out.Data[1]
		for i := 0; i < cw*ch; i++ {
			uv[2*i] = up[i]
			uv[2*i+1] = vp[i]
		}

	default:
		l, _ := rgbLayoutOf(to)
		o := out.Data[0]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				ci := (y/2)*cw + x/2
				r, g, b := yuvToRGB(yp[y*w+x], up[ci], vp[ci])
				i := y*out.Stride[0] + x*l.bpp
				o[i+l.r], o[i+l.g], o[i+l.b] = r, g, b
				if l.a >= 0 {
					o[i+l.a] = 0xFF
				}
			}
		}
	}
	return out
}

// yuvToRGB converts limited range BT.601 YUV to RGB.
func yuvToRGB(y, u, v uint8) (r, g, b uint8) {
	c := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128
	r = clampByte((298*c + 409*e + 128) >> 8)
	g = clampByte((298*c - 100*d - 208*e + 128) >> 8)
	b = clampByte((298*c + 516*d + 128) >> 8)
	return
}

func clampByte(v int) uint8 {
	return uint8(max(0, min(255, v)))
}

func fillPlane(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

func copyRows(dst []byte, dstStride int, src []byte, srcStride, width, rows int) {
	for row := 0; row < rows; row++ {
		copy(dst[row*dstStride:row*dstStride+width], src[row*srcStride:row*srcStride+width])
	}
}
