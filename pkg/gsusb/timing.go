package gsusb

import "fmt"

// Default sample points in tenths of a percent.
const (
	SamplePointClassic = 875
	SamplePointFD      = 750
)

// TimingLimits bound the bit-timing register search space. They come from
// the device capability report: TSeg1 covers the propagation and first
// phase segment combined, TSeg2 the second phase segment, BRP the clock
// prescaler.
type TimingLimits struct {
	TSeg1Min uint32
	TSeg1Max uint32
	TSeg2Min uint32
	TSeg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32
}

// BitTiming is one register set realizing a bit rate from a reference
// clock. The total bit time is 1 + PropSeg + PhaseSeg1 + PhaseSeg2 quanta,
// each quantum BRP clock cycles long.
type BitTiming struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
	BRP       uint32
}

// Quanta returns the number of time quanta per bit.
func (bt BitTiming) Quanta() uint32 {
	return 1 + bt.PropSeg + bt.PhaseSeg1 + bt.PhaseSeg2
}

// SamplePoint returns the realized sample point in tenths of a percent.
func (bt BitTiming) SamplePoint() uint32 {
	q := bt.Quanta()
	if q == 0 {
		return 0
	}
	return (q - bt.PhaseSeg2) * 1000 / q
}

// Bitrate returns the realized bit rate for the given clock.
func (bt BitTiming) Bitrate(clockHz uint32) uint32 {
	div := bt.BRP * bt.Quanta()
	if div == 0 {
		return 0
	}
	return clockHz / div
}

// Validate checks the register values against the device limits.
func (bt BitTiming) Validate(limits TimingLimits) error {
	tseg1 := bt.PropSeg + bt.PhaseSeg1
	if tseg1 < limits.TSeg1Min || tseg1 > limits.TSeg1Max {
		return fmt.Errorf("%w: tseg1 %d outside %d..%d", ErrUnsupportedBitrate, tseg1, limits.TSeg1Min, limits.TSeg1Max)
	}
	if bt.PhaseSeg2 < limits.TSeg2Min || bt.PhaseSeg2 > limits.TSeg2Max {
		return fmt.Errorf("%w: tseg2 %d outside %d..%d", ErrUnsupportedBitrate, bt.PhaseSeg2, limits.TSeg2Min, limits.TSeg2Max)
	}
	if bt.BRP < limits.BRPMin || bt.BRP > limits.BRPMax {
		return fmt.Errorf("%w: prescaler %d outside %d..%d", ErrUnsupportedBitrate, bt.BRP, limits.BRPMin, limits.BRPMax)
	}
	if inc := limits.BRPInc; inc > 1 && (bt.BRP-limits.BRPMin)%inc != 0 {
		return fmt.Errorf("%w: prescaler %d not reachable with increment %d", ErrUnsupportedBitrate, bt.BRP, inc)
	}
	if bt.SJW == 0 || bt.SJW > limits.SJWMax {
		return fmt.Errorf("%w: sjw %d outside 1..%d", ErrUnsupportedBitrate, bt.SJW, limits.SJWMax)
	}
	if bt.SJW > bt.PhaseSeg1 || bt.SJW > bt.PhaseSeg2 {
		return fmt.Errorf("%w: sjw %d exceeds phase segments %d/%d", ErrUnsupportedBitrate, bt.SJW, bt.PhaseSeg1, bt.PhaseSeg2)
	}
	return nil
}

// ComputeBitTiming searches for the register set realizing bitrate from
// clockHz with a sample point as close as possible to samplePoint (tenths
// of a percent, e.g. 875). Candidate prescalers are scanned in ascending
// order and only exact integral quanta divisions are accepted. Among valid
// candidates the smallest sample-point error wins; ties resolve to the
// smallest prescaler, then to the higher sample point.
//
// A bitrate no prescaler can divide down to within the segment limits
// fails with ErrUnsupportedBitrate rather than being approximated.
func ComputeBitTiming(bitrate, clockHz, samplePoint uint32, limits TimingLimits) (BitTiming, error) {
	if bitrate == 0 || clockHz == 0 {
		return BitTiming{}, fmt.Errorf("%w: %d bit/s from %d Hz clock", ErrUnsupportedBitrate, bitrate, clockHz)
	}
	brpMin := limits.BRPMin
	if brpMin == 0 {
		brpMin = 1
	}
	brpInc := limits.BRPInc
	if brpInc == 0 {
		brpInc = 1
	}
	quantaMin := 1 + limits.TSeg1Min + limits.TSeg2Min
	quantaMax := 1 + limits.TSeg1Max + limits.TSeg2Max

	var (
		found   bool
		best    BitTiming
		bestNum uint64 // sample-point distance numerator
		bestDen uint64 // and its denominator (the quanta count)
	)
	for brp := brpMin; brp <= limits.BRPMax; brp += brpInc {
		step := uint64(brp) * uint64(bitrate)
		if uint64(clockHz)%step != 0 {
			continue
		}
		quanta := uint64(clockHz) / step
		if quanta < uint64(quantaMin) || quanta > uint64(quantaMax) {
			continue
		}
		q := uint32(quanta)
		for tseg2 := limits.TSeg2Min; tseg2 <= limits.TSeg2Max && tseg2 < q-1; tseg2++ {
			tseg1 := q - 1 - tseg2
			if tseg1 < limits.TSeg1Min || tseg1 > limits.TSeg1Max {
				continue
			}
			num, den := samplePointDistance(q, tseg2, samplePoint)
			if found && num*bestDen >= bestNum*den {
				continue
			}
			best = splitSegments(tseg1, tseg2, limits)
			best.BRP = brp
			bestNum, bestDen = num, den
			found = true
		}
	}
	if !found {
		return BitTiming{}, fmt.Errorf("%w: %d bit/s from %d Hz clock", ErrUnsupportedBitrate, bitrate, clockHz)
	}
	return best, nil
}

// samplePointDistance returns |realized - target| as an exact fraction
// (num/den) so candidates with different quanta counts compare without
// floating-point rounding.
func samplePointDistance(quanta, tseg2, target uint32) (num, den uint64) {
	realized := uint64(quanta-tseg2) * 1000
	want := uint64(target) * uint64(quanta)
	if realized > want {
		return realized - want, uint64(quanta)
	}
	return want - realized, uint64(quanta)
}

// splitSegments distributes tseg1 between the propagation segment and
// phase segment 1, and derives the widest legal jump width.
func splitSegments(tseg1, tseg2 uint32, limits TimingLimits) BitTiming {
	bt := BitTiming{PhaseSeg2: tseg2}
	if tseg1 > 1 {
		bt.PropSeg = 1
		bt.PhaseSeg1 = tseg1 - 1
	} else {
		bt.PhaseSeg1 = tseg1
	}
	bt.SJW = limits.SJWMax
	if bt.SJW > bt.PhaseSeg1 {
		bt.SJW = bt.PhaseSeg1
	}
	if bt.SJW > bt.PhaseSeg2 {
		bt.SJW = bt.PhaseSeg2
	}
	if bt.SJW == 0 {
		bt.SJW = 1
	}
	return bt
}
