package gsusb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeFrameClassic(t *testing.T) {
	codec := FrameCodec{}
	f := NewFrame(0x123, []byte{0x01, 0x02, 0x03})
	f.EchoID = 7

	got, err := codec.EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}
	want := []byte{
		0x07, 0x00, 0x00, 0x00, // echo_id
		0x23, 0x01, 0x00, 0x00, // can_id
		0x03,                   // dlc
		0x00,                   // channel
		0x00,                   // flags
		0x00,                   // reserved
		0x01, 0x02, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, // data padded to 8
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeFrame() = % X, want % X", got, want)
	}
}

func TestEncodeFrameClassicTooLong(t *testing.T) {
	codec := FrameCodec{}
	f := NewFrame(0x123, make([]byte, 9))
	if _, err := codec.EncodeFrame(f); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("EncodeFrame(9 byte classic) error = %v, want ErrInvalidFrame", err)
	}
}

func TestEncodeFrameFDRoundsUp(t *testing.T) {
	codec := FrameCodec{FDMode: true}
	f := NewFDFrame(0x100, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, false)

	buf, err := codec.EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}
	if len(buf) != wireHeaderSize+FDMaxData {
		t.Fatalf("wire size = %d, want %d", len(buf), wireHeaderSize+FDMaxData)
	}
	if buf[8] != 9 {
		t.Errorf("dlc byte = %d, want 9 (12 bytes)", buf[8])
	}

	decoded, err := codec.DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if len(decoded.Data) != 12 {
		t.Fatalf("decoded length = %d, want 12", len(decoded.Data))
	}
	if decoded.Data[10] != 0 || decoded.Data[11] != 0 {
		t.Errorf("padding bytes = % X, want zeros", decoded.Data[10:])
	}
}

func TestEncodeFrameFDOnClassicChannel(t *testing.T) {
	codec := FrameCodec{}
	f := NewFDFrame(0x100, []byte{1}, false)
	if _, err := codec.EncodeFrame(f); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("EncodeFrame(FD on classic channel) error = %v, want ErrInvalidFrame", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		codec FrameCodec
		frame Frame
	}{
		{
			name:  "classic full payload",
			codec: FrameCodec{},
			frame: Frame{ID: 0x7FF, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, EchoID: 3},
		},
		{
			name:  "extended id",
			codec: FrameCodec{},
			frame: Frame{ID: CANEFFFlag | 0x18DB33F1, Data: []byte{0xAA, 0xBB}, EchoID: 0},
		},
		{
			name:  "fd canonical 12",
			codec: FrameCodec{FDMode: true},
			frame: Frame{ID: 0x100, Data: make([]byte, 12), Flags: FrameFlagFD | FrameFlagBRS, EchoID: 9},
		},
		{
			name:  "fd max payload",
			codec: FrameCodec{FDMode: true},
			frame: Frame{ID: 0x200, Data: bytes.Repeat([]byte{0x5A}, 64), Flags: FrameFlagFD, EchoID: 1},
		},
		{
			name:  "classic with timestamp",
			codec: FrameCodec{HWTimestamp: true},
			frame: Frame{ID: 0x321, Data: []byte{9}, Timestamp: 0xDEADBEEF, EchoID: 2, Channel: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.codec.EncodeFrame(tt.frame)
			if err != nil {
				t.Fatalf("EncodeFrame() error: %v", err)
			}
			if len(buf) != tt.codec.MaxFrameSize() {
				t.Errorf("wire size = %d, want %d", len(buf), tt.codec.MaxFrameSize())
			}
			got, err := tt.codec.DecodeFrame(buf)
			if err != nil {
				t.Fatalf("DecodeFrame() error: %v", err)
			}
			want := tt.frame
			want.Data = make([]byte, len(tt.frame.Data))
			copy(want.Data, tt.frame.Data)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip = %+v, want %+v", got, want)
			}
		})
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	codec := FrameCodec{}
	if _, err := codec.DecodeFrame(make([]byte, 11)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("DecodeFrame(11 bytes) error = %v, want ErrInvalidFrame", err)
	}
}

func TestDecodeFrameRxSentinel(t *testing.T) {
	codec := FrameCodec{}
	buf := make([]byte, codec.MaxFrameSize())
	binary.LittleEndian.PutUint32(buf[0:4], RxEchoID)
	binary.LittleEndian.PutUint32(buf[4:8], 0x42)
	buf[8] = 2
	buf[12], buf[13] = 0xCA, 0xFE

	f, err := codec.DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if !f.IsRx() {
		t.Error("IsRx() = false for sentinel echo id")
	}
	if !bytes.Equal(f.Data, []byte{0xCA, 0xFE}) {
		t.Errorf("Data = % X, want CA FE", f.Data)
	}
}

func TestMaxFrameSize(t *testing.T) {
	tests := []struct {
		name  string
		codec FrameCodec
		want  int
	}{
		{"classic", FrameCodec{}, 20},
		{"classic with timestamp", FrameCodec{HWTimestamp: true}, 24},
		{"fd", FrameCodec{FDMode: true}, 76},
		{"fd with timestamp", FrameCodec{FDMode: true, HWTimestamp: true}, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.codec.MaxFrameSize(); got != tt.want {
				t.Errorf("MaxFrameSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeDeviceInfo(t *testing.T) {
	resp := []byte{
		0x00, 0x00, 0x00, 0x01, // reserved x3, icount=1
		0x14, 0x00, 0x00, 0x00, // fw 20
		0x0A, 0x00, 0x00, 0x00, // hw 10
	}
	info, err := decodeDeviceInfo(resp)
	if err != nil {
		t.Fatalf("decodeDeviceInfo() error: %v", err)
	}
	if info.ChannelCount != 2 {
		t.Errorf("ChannelCount = %d, want 2", info.ChannelCount)
	}
	if info.FirmwareVersion != 20 || info.HardwareVersion != 10 {
		t.Errorf("versions = %d/%d, want 20/10", info.FirmwareVersion, info.HardwareVersion)
	}

	if _, err := decodeDeviceInfo(resp[:8]); err == nil {
		t.Error("decodeDeviceInfo(short) expected error")
	}
}

func TestDecodeCapability(t *testing.T) {
	fields := []uint32{
		uint32(FeatureFD | FeatureHWTimestamp | FeatureBTConstExt), // feature
		80000000, // fclk
		1, 16,    // tseg1
		1, 8, // tseg2
		4,       // sjw max
		1, 1024, // brp
		1, // brp inc
	}
	resp := make([]byte, 0, 40)
	for _, v := range fields {
		resp = binary.LittleEndian.AppendUint32(resp, v)
	}

	caps, err := decodeCapability(resp)
	if err != nil {
		t.Fatalf("decodeCapability() error: %v", err)
	}
	if !caps.Feature.Has(FeatureFD) || !caps.Feature.Has(FeatureBTConstExt) {
		t.Errorf("Feature = %#x missing expected bits", caps.Feature)
	}
	if caps.ClockHz != 80000000 {
		t.Errorf("ClockHz = %d, want 80000000", caps.ClockHz)
	}
	want := TimingLimits{TSeg1Min: 1, TSeg1Max: 16, TSeg2Min: 1, TSeg2Max: 8, SJWMax: 4, BRPMin: 1, BRPMax: 1024, BRPInc: 1}
	if caps.Limits != want {
		t.Errorf("Limits = %+v, want %+v", caps.Limits, want)
	}
	if caps.HasDataLimits {
		t.Error("HasDataLimits = true for 40-byte response")
	}

	ext := resp
	for _, v := range []uint32{6, 16, 2, 8, 4, 1, 1024, 1} {
		ext = binary.LittleEndian.AppendUint32(ext, v)
	}
	caps, err = decodeCapabilityExt(ext)
	if err != nil {
		t.Fatalf("decodeCapabilityExt() error: %v", err)
	}
	if !caps.HasDataLimits {
		t.Fatal("HasDataLimits = false for 72-byte response")
	}
	wantData := TimingLimits{TSeg1Min: 6, TSeg1Max: 16, TSeg2Min: 2, TSeg2Max: 8, SJWMax: 4, BRPMin: 1, BRPMax: 1024, BRPInc: 1}
	if caps.DataLimits != wantData {
		t.Errorf("DataLimits = %+v, want %+v", caps.DataLimits, wantData)
	}
}

func TestDecodeDeviceState(t *testing.T) {
	resp := make([]byte, 0, 12)
	for _, v := range []uint32{uint32(BusStateErrorWarning), 96, 128} {
		resp = binary.LittleEndian.AppendUint32(resp, v)
	}
	state, err := decodeDeviceState(resp)
	if err != nil {
		t.Fatalf("decodeDeviceState() error: %v", err)
	}
	if state.State != BusStateErrorWarning {
		t.Errorf("State = %v, want %v", state.State, BusStateErrorWarning)
	}
	if state.RxErrors != 96 || state.TxErrors != 128 {
		t.Errorf("error counters = %d/%d, want 96/128", state.RxErrors, state.TxErrors)
	}
	if got := state.State.String(); got != "error-warning" {
		t.Errorf("State.String() = %q, want %q", got, "error-warning")
	}
}

func TestEncodeControlPayloads(t *testing.T) {
	if got := encodeHostFormat(); !bytes.Equal(got, []byte{0xEF, 0xBE, 0x00, 0x00}) {
		t.Errorf("encodeHostFormat() = % X, want EF BE 00 00", got)
	}

	mode := encodeMode(canModeStart, ModeLoopBack|ModeHWTimestamp)
	wantMode := []byte{0x01, 0x00, 0x00, 0x00, 0x12, 0x00, 0x00, 0x00}
	if !bytes.Equal(mode, wantMode) {
		t.Errorf("encodeMode() = % X, want % X", mode, wantMode)
	}

	bt := encodeBitTiming(BitTiming{PropSeg: 1, PhaseSeg1: 12, PhaseSeg2: 2, SJW: 2, BRP: 10})
	wantBT := make([]byte, 0, 20)
	for _, v := range []uint32{1, 12, 2, 2, 10} {
		wantBT = binary.LittleEndian.AppendUint32(wantBT, v)
	}
	if !bytes.Equal(bt, wantBT) {
		t.Errorf("encodeBitTiming() = % X, want % X", bt, wantBT)
	}

	if got := encodeIdentify(true); binary.LittleEndian.Uint32(got) != identifyOn {
		t.Errorf("encodeIdentify(true) = % X, want 01 00 00 00", got)
	}
	if got := encodeTermination(false); binary.LittleEndian.Uint32(got) != 0 {
		t.Errorf("encodeTermination(false) = % X, want zeros", got)
	}
}
