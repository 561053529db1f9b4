package av

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// NoPTS marks a timestamp that is absent. It is distinct from tick 0.
const NoPTS int64 = math.MinInt64

// TimeBase is the duration of one timestamp tick in seconds, as Num/Den.
type TimeBase struct {
	Num int64
	Den int64
}

// Common time bases.
var (
	TimeBaseMicroseconds = TimeBase{1, 1000000}
	TimeBaseNanoseconds  = TimeBase{1, 1000000000}
	TimeBaseMilliseconds = TimeBase{1, 1000}
	TimeBase90kHz        = TimeBase{1, 90000}
)

// NewTimeBase returns num/den.
func NewTimeBase(num, den int64) TimeBase { return TimeBase{Num: num, Den: den} }

// Valid reports whether the time base has a positive numerator and
// denominator.
func (tb TimeBase) Valid() bool { return tb.Num > 0 && tb.Den > 0 }

// Float64 returns the tick length in seconds.
func (tb TimeBase) Float64() float64 {
	if tb.Den == 0 {
		return 0
	}
	return float64(tb.Num) / float64(tb.Den)
}

// Invert returns den/num, e.g. a frame rate from a frame duration.
func (tb TimeBase) Invert() TimeBase { return TimeBase{Num: tb.Den, Den: tb.Num} }

func (tb TimeBase) String() string { return fmt.Sprintf("%d/%d", tb.Num, tb.Den) }

// Rescale converts v ticks of from into ticks of to using exact rational
// arithmetic, rounding half to even. NoPTS is preserved, and identical time
// bases return v unchanged. Rescale is total: a zero-length target tick or
// a zero source denominator saturates by sign, and results outside the
// int64 range saturate. No other input yields NoPTS.
func Rescale(v int64, from, to TimeBase) int64 {
	if v == NoPTS {
		return NoPTS
	}
	if from == to {
		return v
	}

	// v * from.Num/from.Den / (to.Num/to.Den) = v*from.Num*to.Den / (from.Den*to.Num)
	num := new(big.Int).SetInt64(v)
	num.Mul(num, big.NewInt(from.Num))
	num.Mul(num, big.NewInt(to.Den))
	den := new(big.Int).SetInt64(from.Den)
	den.Mul(den, big.NewInt(to.Num))

	switch den.Sign() {
	case 0:
		return saturate(num.Sign())
	case -1:
		num.Neg(num)
		den.Neg(den)
	}

	// Euclidean division keeps the remainder non-negative, so q is the floor.
	q, m := new(big.Int).DivMod(num, den, new(big.Int))
	m.Lsh(m, 1)
	switch m.Cmp(den) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}

	if !q.IsInt64() {
		return saturate(q.Sign())
	}
	r := q.Int64()
	if r == NoPTS {
		return math.MinInt64 + 1
	}
	return r
}

func saturate(sign int) int64 {
	switch {
	case sign > 0:
		return math.MaxInt64
	case sign < 0:
		return math.MinInt64 + 1
	}
	return 0
}

// ToWallClock converts ts from base into target. The boolean is false if and
// only if ts is NoPTS; every other input, including tick 0, yields a value.
func ToWallClock(ts int64, base, target TimeBase) (int64, bool) {
	if ts == NoPTS {
		return 0, false
	}
	return Rescale(ts, base, target), true
}

// ToDuration converts ts from base into a time.Duration.
func ToDuration(ts int64, base TimeBase) (time.Duration, bool) {
	ns, ok := ToWallClock(ts, base, TimeBaseNanoseconds)
	if !ok {
		return 0, false
	}
	return time.Duration(ns), true
}

// FromDuration converts d into ticks of base.
func FromDuration(d time.Duration, base TimeBase) int64 {
	return Rescale(int64(d), TimeBaseNanoseconds, base)
}
