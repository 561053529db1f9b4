package av

import (
	"testing"
)

func TestVideoScaler_NoScaling(t *testing.T) {
	frame := createGradientFrame(640, 480)
	frame.PTS = 12345

	scaler := NewVideoScaler(640, 480, ScaleModeStretch)
	out := scaler.Scale(frame)

	// Should return same frame when no scaling needed
	if out != frame {
		t.Error("Expected same frame when no scaling needed")
	}
}

func TestVideoScaler_Downscale(t *testing.T) {
	srcW, srcH := 1280, 720
	dstW, dstH := 640, 360

	frame := createGradientFrame(srcW, srcH)
	frame.PTS = 42
	frame.TimeBase = TimeBase{1, 30}

	scaler := NewVideoScaler(dstW, dstH, ScaleModeStretch)
	out := scaler.Scale(frame)

	if out.Width != dstW || out.Height != dstH {
		t.Errorf("Expected %dx%d, got %dx%d", dstW, dstH, out.Width, out.Height)
	}
	if len(out.Data[0]) != dstW*dstH {
		t.Errorf("Y plane size mismatch: expected %d, got %d", dstW*dstH, len(out.Data[0]))
	}
	if len(out.Data[1]) != (dstW/2)*(dstH/2) {
		t.Errorf("U plane size mismatch")
	}
	if out.PTS != 42 || out.TimeBase != frame.TimeBase {
		t.Errorf("timing not copied: pts %d, time base %v", out.PTS, out.TimeBase)
	}
	if out.Data[0][0] != frame.Data[0][0] {
		t.Errorf("first pixel = %d, want %d", out.Data[0][0], frame.Data[0][0])
	}
}

func TestVideoScaler_Upscale(t *testing.T) {
	srcW, srcH := 320, 240
	dstW, dstH := 640, 480

	frame := NewVideoFrame(PixelFormatI420, srcW, srcH)
	fillPlane(frame.Data[0], 77)
	fillPlane(frame.Data[1], 100)
	fillPlane(frame.Data[2], 150)

	scaler := NewVideoScaler(dstW, dstH, ScaleModeStretch)
	out := scaler.Scale(frame)

	if out.Width != dstW || out.Height != dstH {
		t.Fatalf("Expected %dx%d, got %dx%d", dstW, dstH, out.Width, out.Height)
	}
	// A flat image stays flat.
	for i, want := range []byte{77, 100, 150} {
		for j, v := range out.Data[i] {
			if v != want {
				t.Fatalf("plane %d[%d] = %d, want %d", i, j, v, want)
			}
		}
	}
}

func TestVideoScaler_Fit(t *testing.T) {
	// 16:9 source into 4:3: 640x360 picture with 60 black rows above and below.
	frame := NewVideoFrame(PixelFormatI420, 1920, 1080)
	fillPlane(frame.Data[0], 200)
	fillPlane(frame.Data[1], 90)
	fillPlane(frame.Data[2], 90)

	out := NewVideoScaler(640, 480, ScaleModeFit).Scale(frame)
	if out.Width != 640 || out.Height != 480 {
		t.Fatalf("Expected 640x480, got %dx%d", out.Width, out.Height)
	}
	tests := []struct {
		row  int
		want byte
	}{
		{0, 16},
		{59, 16},
		{60, 200},
		{240, 200},
		{419, 200},
		{420, 16},
		{479, 16},
	}
	for _, tt := range tests {
		if got := out.Data[0][tt.row*out.Stride[0]+320]; got != tt.want {
			t.Errorf("Y row %d = %d, want %d", tt.row, got, tt.want)
		}
	}
	if got := out.Data[1][0]; got != 128 {
		t.Errorf("letterbox U = %d, want 128", got)
	}
	if got := out.Data[1][120*out.Stride[1]+160]; got != 90 {
		t.Errorf("picture U = %d, want 90", got)
	}
}

func TestVideoScaler_Fill(t *testing.T) {
	// 16:9 source to 4:3 destination (should crop sides)
	srcW, srcH := 1920, 1080
	dstW, dstH := 640, 480

	frame := createGradientFrame(srcW, srcH)

	scaler := NewVideoScaler(dstW, dstH, ScaleModeFill)
	out := scaler.Scale(frame)

	if out.Width != dstW || out.Height != dstH {
		t.Errorf("Expected %dx%d, got %dx%d", dstW, dstH, out.Width, out.Height)
	}
	// 1440 of 1920 columns survive, starting at column 240.
	if got, want := out.Data[0][0], frame.Data[0][240]; got != want {
		t.Errorf("left edge = %d, want %d", got, want)
	}
}

func TestScaleFrameOddSize(t *testing.T) {
	frame := NewVideoFrame(PixelFormatI420, 7, 5)
	out := ScaleFrame(frame, 3, 3, ScaleModeStretch)
	if out.Width != 3 || out.Height != 3 {
		t.Fatalf("Expected 3x3, got %dx%d", out.Width, out.Height)
	}
	if len(out.Data[1]) != 4 {
		t.Errorf("chroma plane = %d bytes, want 4", len(out.Data[1]))
	}
}

func TestCalculateScaledSize(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		maxW, maxH       int
		mode             ScaleMode
		expectW, expectH int
	}{
		{"16:9 to 4:3 fit", 1920, 1080, 640, 480, ScaleModeFit, 640, 360},
		{"4:3 to 16:9 fit", 640, 480, 1280, 720, ScaleModeFit, 960, 720},
		{"same aspect", 1280, 720, 640, 360, ScaleModeFit, 640, 360},
		{"fill mode", 1920, 1080, 640, 480, ScaleModeFill, 640, 480},
		{"stretch mode", 1920, 1080, 640, 480, ScaleModeStretch, 640, 480},
		{"empty source", 0, 0, 640, 480, ScaleModeFit, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := CalculateScaledSize(tt.srcW, tt.srcH, tt.maxW, tt.maxH, tt.mode)
			if w != tt.expectW || h != tt.expectH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.expectW, tt.expectH, w, h)
			}
		})
	}
}

func TestScaleModeByName(t *testing.T) {
	for _, m := range []ScaleMode{ScaleModeFit, ScaleModeFill, ScaleModeStretch} {
		if got, ok := ScaleModeByName(m.String()); !ok || got != m {
			t.Errorf("ScaleModeByName(%q) = %v, %v", m, got, ok)
		}
	}
	if _, ok := ScaleModeByName("zoom"); ok {
		t.Error("ScaleModeByName(zoom) should fail")
	}
	if got := ScaleMode(7).String(); got != "unknown" {
		t.Errorf("ScaleMode(7).String() = %q", got)
	}
}

func createGradientFrame(width, height int) *Frame {
	frame := NewVideoFrame(PixelFormatI420, width, height)

	// Fill Y with horizontal gradient
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			frame.Data[0][y*width+x] = byte(x * 255 / width)
		}
	}

	// Fill U/V with neutral values
	fillPlane(frame.Data[1], 128)
	fillPlane(frame.Data[2], 128)
	return frame
}

func BenchmarkVideoScaler_720pTo480p(b *testing.B) {
	frame := createGradientFrame(1280, 720)
	scaler := NewVideoScaler(640, 480, ScaleModeFill)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scaler.Scale(frame)
	}
}

func BenchmarkVideoScaler_1080pTo720p(b *testing.B) {
	frame := createGradientFrame(1920, 1080)
	scaler := NewVideoScaler(1280, 720, ScaleModeFill)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scaler.Scale(frame)
	}
}
