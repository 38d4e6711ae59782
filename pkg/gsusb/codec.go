package gsusb

import (
	"encoding/binary"
	"fmt"
)

// Wire frame geometry: 12-byte header, data region, optional trailing
// hardware timestamp.
const (
	wireHeaderSize = 12
	timestampSize  = 4
)

// FrameCodec converts frames to and from the bulk-endpoint wire layout.
// FDMode and HWTimestamp mirror the mode the channel was started with:
// FDMode sizes the outbound data region (64 bytes instead of 8) and
// HWTimestamp appends a microsecond counter to every wire frame.
type FrameCodec struct {
	FDMode      bool
	HWTimestamp bool
}

// MaxFrameSize returns the largest wire frame the channel can produce,
// which is the size inbound bulk reads must request.
func (c FrameCodec) MaxFrameSize() int {
	return c.frameSize(c.FDMode)
}

func (c FrameCodec) frameSize(fd bool) int {
	n := wireHeaderSize + ClassicMaxData
	if fd {
		n = wireHeaderSize + FDMaxData
	}
	if c.HWTimestamp {
		n += timestampSize
	}
	return n
}

// EncodeFrame packs f for the bulk-OUT endpoint. Classic payloads above 8
// bytes fail with ErrInvalidFrame; FD payloads round up to the next
// canonical length with zero padding. An FD frame on a channel not started
// in FD mode is rejected.
func (c FrameCodec) EncodeFrame(f Frame) ([]byte, error) {
	if f.IsFD() && !c.FDMode {
		return nil, fmt.Errorf("%w: FD frame on a classic channel", ErrInvalidFrame)
	}
	dlc, err := LengthToDLC(len(f.Data), f.IsFD())
	if err != nil {
		return nil, err
	}

	buf := make([]byte, c.frameSize(c.FDMode))
	binary.LittleEndian.PutUint32(buf[0:4], f.EchoID)
	binary.LittleEndian.PutUint32(buf[4:8], f.ID)
	buf[8] = dlc
	buf[9] = f.Channel
	buf[10] = f.Flags
	buf[11] = 0 // reserved
	copy(buf[wireHeaderSize:], f.Data)
	if c.HWTimestamp {
		binary.LittleEndian.PutUint32(buf[len(buf)-timestampSize:], f.Timestamp)
	}
	return buf, nil
}

// DecodeFrame unpacks one inbound wire frame. The FD bit of the flags byte
// selects the data-region layout per frame; the decoded payload has the
// canonical length indicated by the DLC, zero padding included.
func (c FrameCodec) DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < wireHeaderSize {
		return Frame{}, fmt.Errorf("%w: truncated wire frame: %d bytes", ErrInvalidFrame, len(buf))
	}
	f := Frame{
		EchoID:  binary.LittleEndian.Uint32(buf[0:4]),
		ID:      binary.LittleEndian.Uint32(buf[4:8]),
		Channel: buf[9],
		Flags:   buf[10],
	}
	fd := f.Flags&FrameFlagFD != 0
	region := ClassicMaxData
	if fd {
		region = FDMaxData
	}
	f.Data = make([]byte, DLCToLength(buf[8], fd))
	avail := buf[wireHeaderSize:]
	if len(avail) > region {
		avail = avail[:region]
	}
	copy(f.Data, avail)
	if c.HWTimestamp && len(buf) >= wireHeaderSize+region+timestampSize {
		f.Timestamp = binary.LittleEndian.Uint32(buf[wireHeaderSize+region:])
	}
	return f, nil
}

// DeviceInfo identifies an adapter: channel count and firmware/hardware
// revisions from the DEVICE_CONFIG report, plus the USB serial number when
// the transport provides one.
type DeviceInfo struct {
	ChannelCount    uint8
	FirmwareVersion uint32
	HardwareVersion uint32
	Serial          string
}

// DeviceCapability is the BT_CONST report: supported features, the CAN
// core clock, and the bit-timing register limits. DataLimits holds the FD
// data-phase limits when the device reported the extended variant.
type DeviceCapability struct {
	Feature       Feature
	ClockHz       uint32
	Limits        TimingLimits
	DataLimits    TimingLimits
	HasDataLimits bool
}

// DeviceState is a snapshot of the CAN controller state and its error
// counters.
type DeviceState struct {
	State    BusState
	RxErrors uint32
	TxErrors uint32
}

func encodeMode(cmd uint32, flags Mode) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(flags))
	return buf
}

func encodeBitTiming(bt BitTiming) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], bt.PropSeg)
	binary.LittleEndian.PutUint32(buf[4:8], bt.PhaseSeg1)
	binary.LittleEndian.PutUint32(buf[8:12], bt.PhaseSeg2)
	binary.LittleEndian.PutUint32(buf[12:16], bt.SJW)
	binary.LittleEndian.PutUint32(buf[16:20], bt.BRP)
	return buf
}

func encodeHostFormat() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, hostFormatMagic)
	return buf
}

func encodeIdentify(on bool) []byte {
	buf := make([]byte, 4)
	if on {
		binary.LittleEndian.PutUint32(buf, identifyOn)
	} else {
		binary.LittleEndian.PutUint32(buf, identifyOff)
	}
	return buf
}

func encodeTermination(on bool) []byte {
	buf := make([]byte, 4)
	if on {
		binary.LittleEndian.PutUint32(buf, 1)
	}
	return buf
}

func decodeDeviceInfo(resp []byte) (DeviceInfo, error) {
	if len(resp) < 12 {
		return DeviceInfo{}, fmt.Errorf("gsusb: device config response too short: %d bytes", len(resp))
	}
	return DeviceInfo{
		ChannelCount:    resp[3] + 1, // icount is the highest channel index
		FirmwareVersion: binary.LittleEndian.Uint32(resp[4:8]),
		HardwareVersion: binary.LittleEndian.Uint32(resp[8:12]),
	}, nil
}

func decodeCapability(resp []byte) (DeviceCapability, error) {
	if len(resp) < 40 {
		return DeviceCapability{}, fmt.Errorf("gsusb: capability response too short: %d bytes", len(resp))
	}
	return DeviceCapability{
		Feature: Feature(binary.LittleEndian.Uint32(resp[0:4])),
		ClockHz: binary.LittleEndian.Uint32(resp[4:8]),
		Limits: TimingLimits{
			TSeg1Min: binary.LittleEndian.Uint32(resp[8:12]),
			TSeg1Max: binary.LittleEndian.Uint32(resp[12:16]),
			TSeg2Min: binary.LittleEndian.Uint32(resp[16:20]),
			TSeg2Max: binary.LittleEndian.Uint32(resp[20:24]),
			SJWMax:   binary.LittleEndian.Uint32(resp[24:28]),
			BRPMin:   binary.LittleEndian.Uint32(resp[28:32]),
			BRPMax:   binary.LittleEndian.Uint32(resp[32:36]),
			BRPInc:   binary.LittleEndian.Uint32(resp[36:40]),
		},
	}, nil
}

func decodeCapabilityExt(resp []byte) (DeviceCapability, error) {
	if len(resp) < 72 {
		return DeviceCapability{}, fmt.Errorf("gsusb: extended capability response too short: %d bytes", len(resp))
	}
	caps, err := decodeCapability(resp)
	if err != nil {
		return DeviceCapability{}, err
	}
	caps.DataLimits = TimingLimits{
		TSeg1Min: binary.LittleEndian.Uint32(resp[40:44]),
		TSeg1Max: binary.LittleEndian.Uint32(resp[44:48]),
		TSeg2Min: binary.LittleEndian.Uint32(resp[48:52]),
		TSeg2Max: binary.LittleEndian.Uint32(resp[52:56]),
		SJWMax:   binary.LittleEndian.Uint32(resp[56:60]),
		BRPMin:   binary.LittleEndian.Uint32(resp[60:64]),
		BRPMax:   binary.LittleEndian.Uint32(resp[64:68]),
		BRPInc:   binary.LittleEndian.Uint32(resp[68:72]),
	}
	caps.HasDataLimits = true
	return caps, nil
}

func decodeDeviceState(resp []byte) (DeviceState, error) {
	if len(resp) < 12 {
		return DeviceState{}, fmt.Errorf("gsusb: state response too short: %d bytes", len(resp))
	}
	return DeviceState{
		State:    BusState(binary.LittleEndian.Uint32(resp[0:4])),
		RxErrors: binary.LittleEndian.Uint32(resp[4:8]),
		TxErrors: binary.LittleEndian.Uint32(resp[8:12]),
	}, nil
}

func decodeTimestamp(resp []byte) (uint32, error) {
	if len(resp) < 4 {
		return 0, fmt.Errorf("gsusb: timestamp response too short: %d bytes", len(resp))
	}
	return binary.LittleEndian.Uint32(resp[0:4]), nil
}

func decodeTermination(resp []byte) (bool, error) {
	if len(resp) < 4 {
		return false, fmt.Errorf("gsusb: termination response too short: %d bytes", len(resp))
	}
	return binary.LittleEndian.Uint32(resp[0:4]) != 0, nil
}
