package gsusb

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Frame is a single CAN or CAN FD frame. ID carries the identifier plus
// the CANEFFFlag/CANRTRFlag/CANERRFlag bits; extended addressing is
// signalled by the flag bit alone, never inferred from the value range.
type Frame struct {
	ID        uint32
	Channel   uint8
	Data      []byte
	Flags     uint8  // FrameFlag* bits
	Timestamp uint32 // device microsecond counter, wraps at 2^32 us
	EchoID    uint32
}

// NewFrame returns a classic frame for id. Payload limits are enforced at
// encode time, not here.
func NewFrame(id uint32, data []byte) Frame {
	return Frame{ID: id, Data: data}
}

// NewFDFrame returns a CAN FD frame for id. brs requests a faster
// data-phase bit rate for this frame.
func NewFDFrame(id uint32, data []byte, brs bool) Frame {
	f := Frame{ID: id, Data: data, Flags: FrameFlagFD}
	if brs {
		f.Flags |= FrameFlagBRS
	}
	return f
}

// CANID returns the identifier without the flag bits.
func (f Frame) CANID() uint32 {
	return f.ID & CANEFFMask
}

// IsExtended reports whether the frame uses 29-bit addressing.
func (f Frame) IsExtended() bool {
	return f.ID&CANEFFFlag != 0
}

// IsRemote reports whether the frame is a remote transmission request.
func (f Frame) IsRemote() bool {
	return f.ID&CANRTRFlag != 0
}

// IsError reports whether the frame is an error message frame.
func (f Frame) IsError() bool {
	return f.ID&CANERRFlag != 0
}

// IsFD reports whether the frame uses the CAN FD format.
func (f Frame) IsFD() bool {
	return f.Flags&FrameFlagFD != 0
}

// IsRx reports whether the frame is bus traffic rather than the echo of a
// local transmission.
func (f Frame) IsRx() bool {
	return f.EchoID == RxEchoID
}

// DLCToLength converts a wire DLC to the payload byte count.
func DLCToLength(dlc uint8, fd bool) int {
	if fd {
		if int(dlc) < len(fdDataLengths) {
			return fdDataLengths[dlc]
		}
		return FDMaxData
	}
	if int(dlc) > ClassicMaxData {
		return ClassicMaxData
	}
	return int(dlc)
}

// LengthToDLC converts a payload byte count to the wire DLC. FD lengths
// between the canonical sizes round up to the next one; the gap is
// zero-padded on the wire and decoding yields the padded length, not the
// original. Lengths above the format maximum fail with ErrInvalidFrame.
func LengthToDLC(length int, fd bool) (uint8, error) {
	if length < 0 {
		return 0, fmt.Errorf("%w: negative payload length %d", ErrInvalidFrame, length)
	}
	if fd {
		for dlc, dlen := range fdDataLengths {
			if dlen >= length {
				return uint8(dlc), nil
			}
		}
		return 0, fmt.Errorf("%w: FD payload of %d bytes exceeds %d", ErrInvalidFrame, length, FDMaxData)
	}
	if length > ClassicMaxData {
		return 0, fmt.Errorf("%w: classic payload of %d bytes exceeds %d", ErrInvalidFrame, length, ClassicMaxData)
	}
	return uint8(length), nil
}

// TimestampDelta returns the elapsed time from earlier to later, treating
// the values as a wrapping 32-bit microsecond counter.
func TimestampDelta(later, earlier uint32) time.Duration {
	return time.Duration(later-earlier) * time.Microsecond
}

var (
	idSprintf   = color.New(color.FgGreen).SprintfFunc()
	flagSprintf = color.New(color.FgYellow).SprintfFunc()
	errSprintf  = color.New(color.FgRed).SprintfFunc()
)

// String renders the frame in candump style: identifier, length, data,
// with FD flag markers appended.
func (f Frame) String() string {
	var out strings.Builder
	if f.IsExtended() || f.IsError() {
		fmt.Fprintf(&out, "%08X", f.CANID())
	} else {
		fmt.Fprintf(&out, "%3X", f.CANID())
	}
	if f.IsRemote() {
		fmt.Fprintf(&out, "  [%d]  remote request", len(f.Data))
		return out.String()
	}
	fmt.Fprintf(&out, "  [%d] ", len(f.Data))
	for _, b := range f.Data {
		fmt.Fprintf(&out, " %02X", b)
	}
	out.WriteString(f.flagMarkers(fmt.Sprintf))
	return out.String()
}

// ColorString renders the frame like String with ANSI colors for terminal
// monitors.
func (f Frame) ColorString() string {
	var out strings.Builder
	if f.IsError() {
		out.WriteString(errSprintf("%08X", f.CANID()))
	} else if f.IsExtended() {
		out.WriteString(idSprintf("%08X", f.CANID()))
	} else {
		out.WriteString(idSprintf("%3X", f.CANID()))
	}
	if f.IsRemote() {
		fmt.Fprintf(&out, "  [%d]  remote request", len(f.Data))
		return out.String()
	}
	fmt.Fprintf(&out, "  [%d] ", len(f.Data))
	for _, b := range f.Data {
		fmt.Fprintf(&out, " %02X", b)
	}
	out.WriteString(f.flagMarkers(flagSprintf))
	return out.String()
}

func (f Frame) flagMarkers(sprintf func(string, ...interface{}) string) string {
	if !f.IsFD() {
		return ""
	}
	s := sprintf("  FD")
	if f.Flags&FrameFlagBRS != 0 {
		s += sprintf(" BRS")
	}
	if f.Flags&FrameFlagESI != 0 {
		s += sprintf(" ESI")
	}
	return s
}
