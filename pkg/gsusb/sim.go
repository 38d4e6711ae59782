package gsusb

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// ControlOp records one control transfer for test assertions.
type ControlOp struct {
	Request uint8
	Value   uint16
	Data    []byte
}

// SimTransport is an in-memory Transport for tests. Control requests are
// answered from the configurable reports below, transmitted frames come
// back as confirmations (plus bus traffic in loop-back mode), and faults
// are injectable. Configure the public fields before first use.
type SimTransport struct {
	ChannelCount    uint8
	FirmwareVersion uint32
	HardwareVersion uint32
	SerialNo        string
	Capability      DeviceCapability
	StateReport     DeviceState
	TerminationOn   bool

	// Fault injection.
	FailHostFormat bool // the byte-order handshake stalls
	DropEcho       bool // transmitted frames produce no confirmation
	TransmitError  bool // confirmations carry the error frame flag

	mu      sync.Mutex
	ops     []ControlOp
	started bool
	mode    Mode
	clock   uint32
	closed  bool

	queue    chan []byte
	gone     chan struct{}
	goneOnce sync.Once
}

// NewSimTransport returns a simulator shaped like a single-channel 80 MHz
// candleLight: classic timing limits and the common feature set. Tests
// needing FD or termination add the feature bits themselves.
func NewSimTransport() *SimTransport {
	return &SimTransport{
		ChannelCount:    1,
		FirmwareVersion: 20,
		HardwareVersion: 10,
		SerialNo:        "SIM0001",
		Capability: DeviceCapability{
			Feature: FeatureListenOnly | FeatureLoopBack | FeatureHWTimestamp |
				FeatureIdentify | FeatureGetState,
			ClockHz: 80000000,
			Limits: TimingLimits{
				TSeg1Min: 1, TSeg1Max: 16,
				TSeg2Min: 1, TSeg2Max: 8,
				SJWMax: 4,
				BRPMin: 1, BRPMax: 1024, BRPInc: 1,
			},
		},
		queue: make(chan []byte, 64),
		gone:  make(chan struct{}),
	}
}

// Disconnect simulates the device dropping off the bus: every call from
// now on fails with ErrDisconnected and blocked reads return immediately.
func (s *SimTransport) Disconnect() {
	s.goneOnce.Do(func() { close(s.gone) })
}

func (s *SimTransport) isGone() bool {
	select {
	case <-s.gone:
		return true
	default:
		return false
	}
}

// ControlLog returns a copy of every control transfer seen so far.
func (s *SimTransport) ControlLog() []ControlOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]ControlOp, len(s.ops))
	for i, op := range s.ops {
		ops[i] = ControlOp{
			Request: op.Request,
			Value:   op.Value,
			Data:    append([]byte(nil), op.Data...),
		}
	}
	return ops
}

// Closed reports whether Close was called.
func (s *SimTransport) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// QueueRx injects f as inbound bus traffic, as if another node had
// transmitted it. The data region follows the frame's own FD flag and the
// timestamp field follows the started mode, like real firmware; the
// timestamp value comes from the simulated clock.
func (s *SimTransport) QueueRx(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codec := FrameCodec{FDMode: f.IsFD(), HWTimestamp: s.mode&ModeHWTimestamp != 0}
	f.EchoID = RxEchoID
	buf, err := codec.EncodeFrame(f)
	if err != nil {
		return err
	}
	s.stamp(buf, codec.HWTimestamp)
	return s.push(buf)
}

func (s *SimTransport) ControlOut(request uint8, value uint16, data []byte) error {
	if s.isGone() {
		return ErrDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, ControlOp{
		Request: request,
		Value:   value,
		Data:    append([]byte(nil), data...),
	})

	switch request {
	case ReqHostFormat:
		if s.FailHostFormat {
			return fmt.Errorf("sim: host format request stalled")
		}
	case ReqMode:
		if len(data) < 8 {
			return fmt.Errorf("sim: short mode payload: %d bytes", len(data))
		}
		cmd := binary.LittleEndian.Uint32(data[0:4])
		if cmd == canModeStart {
			s.started = true
			s.mode = Mode(binary.LittleEndian.Uint32(data[4:8]))
		} else {
			s.started = false
			s.drainQueue()
		}
	case ReqSetTermination:
		if len(data) >= 4 {
			s.TerminationOn = binary.LittleEndian.Uint32(data) != 0
		}
	}
	return nil
}

func (s *SimTransport) ControlIn(request uint8, value uint16, length int) ([]byte, error) {
	if s.isGone() {
		return nil, ErrDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, ControlOp{Request: request, Value: value})

	var resp []byte
	switch request {
	case ReqDeviceConfig:
		resp = make([]byte, 12)
		resp[3] = s.ChannelCount - 1
		binary.LittleEndian.PutUint32(resp[4:8], s.FirmwareVersion)
		binary.LittleEndian.PutUint32(resp[8:12], s.HardwareVersion)
	case ReqBTConst:
		resp = s.buildCapability(false)
	case ReqBTConstExt:
		resp = s.buildCapability(true)
	case ReqGetState:
		resp = make([]byte, 12)
		binary.LittleEndian.PutUint32(resp[0:4], uint32(s.StateReport.State))
		binary.LittleEndian.PutUint32(resp[4:8], s.StateReport.RxErrors)
		binary.LittleEndian.PutUint32(resp[8:12], s.StateReport.TxErrors)
	case ReqTimestamp:
		resp = make([]byte, 4)
		binary.LittleEndian.PutUint32(resp, s.clock)
	case ReqGetTermination:
		resp = make([]byte, 4)
		if s.TerminationOn {
			binary.LittleEndian.PutUint32(resp, 1)
		}
	default:
		return nil, fmt.Errorf("sim: unsupported request %d", request)
	}
	if length < len(resp) {
		resp = resp[:length]
	}
	return resp, nil
}

func (s *SimTransport) BulkWrite(data []byte, timeout time.Duration) error {
	if s.isGone() {
		return ErrDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.DropEcho {
		// A reset device discards frames silently.
		return nil
	}
	hwTS := s.mode&ModeHWTimestamp != 0

	in := FrameCodec{FDMode: s.mode&ModeFD != 0, HWTimestamp: hwTS}
	f, err := in.DecodeFrame(data)
	if err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	// Device-to-host frames are laid out per frame: the FD data region only
	// when the frame itself is FD, like real firmware.
	out := FrameCodec{FDMode: f.IsFD(), HWTimestamp: hwTS}

	echo := f
	if s.TransmitError {
		echo.ID |= CANERRFlag
	}
	buf, err := out.EncodeFrame(echo)
	if err != nil {
		return err
	}
	s.stamp(buf, hwTS)
	if err := s.push(buf); err != nil {
		return err
	}

	if s.mode&ModeLoopBack != 0 && !s.TransmitError {
		rx := f
		rx.EchoID = RxEchoID
		buf, err := out.EncodeFrame(rx)
		if err != nil {
			return err
		}
		s.stamp(buf, hwTS)
		return s.push(buf)
	}
	return nil
}

func (s *SimTransport) BulkRead(buf []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.gone:
		return 0, ErrDisconnected
	case frame := <-s.queue:
		return copy(buf, frame), nil
	case <-timer.C:
		return 0, fmt.Errorf("%w: no inbound transfer within %v", ErrReadTimeout, timeout)
	}
}

func (s *SimTransport) Serial() string { return s.SerialNo }

func (s *SimTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// stamp advances the simulated microsecond clock and writes it into the
// trailing timestamp field when hardware timestamps are active.
func (s *SimTransport) stamp(frame []byte, hwTS bool) {
	s.clock += 100
	if hwTS && len(frame) >= timestampSize {
		binary.LittleEndian.PutUint32(frame[len(frame)-timestampSize:], s.clock)
	}
}

func (s *SimTransport) push(frame []byte) error {
	select {
	case s.queue <- frame:
		return nil
	default:
		return fmt.Errorf("sim: inbound queue full")
	}
}

func (s *SimTransport) drainQueue() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

func (s *SimTransport) buildCapability(ext bool) []byte {
	size := 40
	if ext {
		size = 72
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.Capability.Feature))
	binary.LittleEndian.PutUint32(buf[4:8], s.Capability.ClockHz)
	putLimits(buf[8:40], s.Capability.Limits)
	if ext {
		putLimits(buf[40:72], s.Capability.DataLimits)
	}
	return buf
}

func putLimits(buf []byte, l TimingLimits) {
	binary.LittleEndian.PutUint32(buf[0:4], l.TSeg1Min)
	binary.LittleEndian.PutUint32(buf[4:8], l.TSeg1Max)
	binary.LittleEndian.PutUint32(buf[8:12], l.TSeg2Min)
	binary.LittleEndian.PutUint32(buf[12:16], l.TSeg2Max)
	binary.LittleEndian.PutUint32(buf[16:20], l.SJWMax)
	binary.LittleEndian.PutUint32(buf[20:24], l.BRPMin)
	binary.LittleEndian.PutUint32(buf[24:28], l.BRPMax)
	binary.LittleEndian.PutUint32(buf[28:32], l.BRPInc)
}
