package av

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (letterboxes).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	case ScaleModeStretch:
		return "stretch"
	default:
		return "unknown"
	}
}

// ScaleModeByName parses the names returned by String.
func ScaleModeByName(name string) (ScaleMode, bool) {
	for m := ScaleModeFit; m <= ScaleModeStretch; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return ScaleModeFit, false
}

// VideoScaler scales I420 frames with bilinear interpolation. Each call to
// Scale allocates a new output frame.
type VideoScaler struct {
	dstWidth, dstHeight int
	mode                ScaleMode
}

// NewVideoScaler creates a new scaler for the given output size.
func NewVideoScaler(dstWidth, dstHeight int, mode ScaleMode) *VideoScaler {
	return &VideoScaler{dstWidth: dstWidth, dstHeight: dstHeight, mode: mode}
}

// Scale scales an I420 frame to the target dimensions. The input frame is
// returned unchanged when no scaling is needed.
func (s *VideoScaler) Scale(frame *Frame) *Frame {
	if frame.Width == s.dstWidth && frame.Height == s.dstHeight {
		return frame
	}

	out := NewVideoFrame(PixelFormatI420, s.dstWidth, s.dstHeight)
	copyFrameTiming(out, frame)

	// Destination region: the whole frame unless letterboxing.
	dx, dy, dw, dh := 0, 0, s.dstWidth, s.dstHeight
	if s.mode == ScaleModeFit {
		dw, dh = CalculateScaledSize(frame.Width, frame.Height, s.dstWidth, s.dstHeight, ScaleModeFit)
		dw, dh = min(dw, s.dstWidth), min(dh, s.dstHeight)
		dx, dy = ((s.dstWidth-dw)/2)&^1, ((s.dstHeight-dh)/2)&^1
		fillBlack(out)
	}
	srcX, srcY, srcW, srcH := s.sourceRegion(frame.Width, frame.Height)

	scalePlane(frame.Data[0], frame.Stride[0], srcX, srcY, srcW, srcH,
		out.Data[0], out.Stride[0], dx, dy, dw, dh)
	csw := min((srcW+1)/2, (frame.Width+1)/2-srcX/2)
	csh := min((srcH+1)/2, (frame.Height+1)/2-srcY/2)
	cdw := min((dw+1)/2, (s.dstWidth+1)/2-dx/2)
	cdh := min((dh+1)/2, (s.dstHeight+1)/2-dy/2)
	for i := 1; i <= 2; i++ {
		scalePlane(frame.Data[i], frame.Stride[i], srcX/2, srcY/2, csw, csh,
			out.Data[i], out.Stride[i], dx/2, dy/2, cdw, cdh)
	}
	return out
}

// sourceRegion determines what region of the source to use based on scale mode.
func (s *VideoScaler) sourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}
	// Crop source to match target aspect ratio
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)
	switch {
	case srcAspect > dstAspect:
		newW := int(float64(srcH) * dstAspect)
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	case srcAspect < dstAspect:
		newH := int(float64(srcW) / dstAspect)
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// scalePlane scales a region of one plane into a region of another using
// bilinear interpolation in 16.16 fixed point.
func scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstX, dstY, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		y0 := srcYFP>>16 + srcY
		y1 := min(y0+1, srcY+srcH-1)
		yWeight := srcYFP & 0xFFFF
		row := (y + dstY) * dstStride

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			x0 := srcXFP>>16 + srcX
			x1 := min(x0+1, srcX+srcW-1)
			xWeight := srcXFP & 0xFFFF

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
			bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
			dst[row+x+dstX] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
		}
	}
}

// fillBlack paints an I420 frame black.
func fillBlack(f *Frame) {
	for i := range f.Data[0] {
		f.Data[0][i] = 16
	}
	for _, p := range f.Data[1:] {
		for i := range p {
			p[i] = 128
		}
	}
}

// ScaleFrame is a convenience function to scale a frame without creating a scaler.
func ScaleFrame(frame *Frame, dstWidth, dstHeight int, mode ScaleMode) *Frame {
	return NewVideoScaler(dstWidth, dstHeight, mode).Scale(frame)
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
// This is useful for determining letterbox dimensions in ScaleModeFit.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)

	if srcAspect > dstAspect {
		// Source is wider, fit to width
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		// Source is taller, fit to height
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	// Ensure even dimensions for YUV
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	return w, h
}
