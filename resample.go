package av

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Audio conversion works on float64 samples normalised to [-1, 1], one slice
// per channel.

// decodeSamples reads an audio frame into per-channel float64 slices.
func decodeSamples(f *Frame) ([][]float64, error) {
	bps := f.SampleFormat.BytesPerSample()
	if bps == 0 {
		return nil, fmt.Errorf("convert from %s: %w", f.SampleFormat, ErrUnsupportedConversion)
	}
	ch, n := f.Channels(), f.SampleCount
	out := make([][]float64, ch)
	for c := range out {
		out[c] = make([]float64, n)
	}
	planar := f.SampleFormat.IsPlanar()
	packed := f.SampleFormat.Packed()
	for c := 0; c < ch; c++ {
		buf, off, step := f.Data[0], c*bps, ch*bps
		if planar {
			buf, off, step = f.Data[c], 0, bps
		}
		for i := 0; i < n; i++ {
			out[c][i] = readSample(buf[off+i*step:], packed)
		}
	}
	return out, nil
}

// encodeSamples writes per-channel samples into a new frame.
func encodeSamples(samples [][]float64, format SampleFormat, layout ChannelLayout, rate int) *Frame {
	n := 0
	if len(samples) > 0 {
		n = len(samples[0])
	}
	f := NewAudioFrame(format, layout, rate, n)
	bps := format.BytesPerSample()
	ch := len(samples)
	packed := format.Packed()
	for c, s := range samples {
		buf, off, step := f.Data[0], c*bps, ch*bps
		if format.IsPlanar() {
			buf, off, step = f.Data[c], 0, bps
		}
		for i, v := range s {
			writeSample(buf[off+i*step:], packed, v)
		}
	}
	return f
}

func readSample(b []byte, format SampleFormat) float64 {
	switch format {
	case SampleFormatU8:
		return (float64(b[0]) - 128) / 128
	case SampleFormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / (1 << 15)
	case SampleFormatS32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
	case SampleFormatF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case SampleFormatF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func writeSample(b []byte, format SampleFormat, v float64) {
	switch format {
	case SampleFormatU8:
		b[0] = uint8(clampRound(v*128+128, 0, math.MaxUint8))
	case SampleFormatS16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clampRound(v*(1<<15), math.MinInt16, math.MaxInt16))))
	case SampleFormatS32:
		binary.LittleEndian.PutUint32(b, uint32(int32(clampRound(v*(1<<31), math.MinInt32, math.MaxInt32))))
	case SampleFormatF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case SampleFormatF64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

func clampRound(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

// remix maps channels: downmixing averages the input channels folded onto
// each output channel, upmixing repeats input channels.
func remix(in [][]float64, channels int) [][]float64 {
	if len(in) == channels || len(in) == 0 {
		return in
	}
	n := len(in[0])
	out := make([][]float64, channels)
	if channels > len(in) {
		for c := range out {
			out[c] = append([]float64(nil), in[c%len(in)]...)
		}
		return out
	}
	for c := range out {
		out[c] = make([]float64, n)
		count := 0
		for src := c; src < len(in); src += channels {
			for i, v := range in[src] {
				out[c][i] += v
			}
			count++
		}
		for i := range out[c] {
			out[c][i] /= float64(count)
		}
	}
	return out
}

// resampledCount is the number of output samples for n input samples.
func resampledCount(n, from, to int) int {
	return int((int64(n)*int64(to) + int64(from)/2) / int64(from))
}

// resampleLinear converts the sample rate by linear interpolation. Each call
// is independent, so block edges are not filtered.
func resampleLinear(in [][]float64, from, to int) [][]float64 {
	if from == to || len(in) == 0 {
		return in
	}
	n := len(in[0])
	m := resampledCount(n, from, to)
	step := float64(from) / float64(to)
	out := make([][]float64, len(in))
	for c, s := range in {
		o := make([]float64, m)
		for i := range o {
			pos := float64(i) * step
			j := int(pos)
			if j >= n-1 {
				o[i] = s[n-1]
				continue
			}
			frac := pos - float64(j)
			o[i] = s[j]*(1-frac) + s[j+1]*frac
		}
		out[c] = o
	}
	return out
}
