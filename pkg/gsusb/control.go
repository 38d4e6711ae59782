package gsusb

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// openStates are the states in which the transport is still usable, which
// is every state but closed.
var openStates = []State{StateOpened, StateConfigured, StateRunning, StateStopped}

// controlOut runs one OUT control exchange, latching a disconnect and
// wrapping other transport failures. Callers hold s.mu.
func (s *Session) controlOut(op string, request uint8, value uint16, payload []byte) error {
	if err := s.tr.ControlOut(request, value, payload); err != nil {
		if errors.Is(err, ErrDisconnected) {
			s.markDisconnected()
			return fmt.Errorf("%s: %w", op, ErrDisconnected)
		}
		return wrapTransport(op, err)
	}
	return nil
}

// controlIn is the IN-direction counterpart of controlOut.
func (s *Session) controlIn(op string, request uint8, value uint16, length int) ([]byte, error) {
	resp, err := s.tr.ControlIn(request, value, length)
	if err != nil {
		if errors.Is(err, ErrDisconnected) {
			s.markDisconnected()
			return nil, fmt.Errorf("%s: %w", op, ErrDisconnected)
		}
		return nil, wrapTransport(op, err)
	}
	return resp, nil
}

// dataLimits returns the register limits governing the FD data phase,
// falling back to the arbitration limits on devices without the extended
// capability report.
func (s *Session) dataLimits() TimingLimits {
	if s.caps.HasDataLimits {
		return s.caps.DataLimits
	}
	return s.caps.Limits
}

// SetBitrate computes and programs the arbitration-phase bit timing for
// bitrate at the classic 87.5% sample point. Legal before the channel is
// started or after it is stopped, never while running.
func (s *Session) SetBitrate(bitrate uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("set bitrate", StateOpened, StateConfigured, StateStopped); err != nil {
		return err
	}
	bt, err := ComputeBitTiming(bitrate, s.caps.ClockHz, SamplePointClassic, s.caps.Limits)
	if err != nil {
		return err
	}
	if err := s.controlOut("set bitrate", ReqBitTiming, uint16(s.channel), encodeBitTiming(bt)); err != nil {
		return err
	}
	s.state = StateConfigured
	s.log.Info("bit timing configured",
		zap.Uint32("bitrate", bitrate),
		zap.Uint32("brp", bt.BRP),
		zap.Uint32("quanta", bt.Quanta()),
		zap.Uint32("sample_point", bt.SamplePoint()))
	return nil
}

// SetTiming programs raw arbitration-phase register values, validated
// against the device limits.
func (s *Session) SetTiming(bt BitTiming) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("set timing", StateOpened, StateConfigured, StateStopped); err != nil {
		return err
	}
	if err := bt.Validate(s.caps.Limits); err != nil {
		return err
	}
	if err := s.controlOut("set timing", ReqBitTiming, uint16(s.channel), encodeBitTiming(bt)); err != nil {
		return err
	}
	s.state = StateConfigured
	s.log.Info("bit timing configured",
		zap.Uint32("brp", bt.BRP),
		zap.Uint32("quanta", bt.Quanta()),
		zap.Uint32("sample_point", bt.SamplePoint()))
	return nil
}

// SetDataBitrate computes and programs the FD data-phase bit timing for
// bitrate at the 75% sample point. The device must support FD.
func (s *Session) SetDataBitrate(bitrate uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("set data bitrate", StateOpened, StateConfigured, StateStopped); err != nil {
		return err
	}
	if !s.caps.Feature.Has(FeatureFD) {
		return fmt.Errorf("%w: FD data phase", ErrUnsupportedFeature)
	}
	bt, err := ComputeBitTiming(bitrate, s.caps.ClockHz, SamplePointFD, s.dataLimits())
	if err != nil {
		return err
	}
	if err := s.controlOut("set data bitrate", ReqDataBitTiming, uint16(s.channel), encodeBitTiming(bt)); err != nil {
		return err
	}
	s.state = StateConfigured
	s.log.Info("data bit timing configured",
		zap.Uint32("bitrate", bitrate),
		zap.Uint32("brp", bt.BRP),
		zap.Uint32("quanta", bt.Quanta()),
		zap.Uint32("sample_point", bt.SamplePoint()))
	return nil
}

// SetDataTiming programs raw FD data-phase register values, validated
// against the data-phase limits.
func (s *Session) SetDataTiming(bt BitTiming) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("set data timing", StateOpened, StateConfigured, StateStopped); err != nil {
		return err
	}
	if !s.caps.Feature.Has(FeatureFD) {
		return fmt.Errorf("%w: FD data phase", ErrUnsupportedFeature)
	}
	if err := bt.Validate(s.dataLimits()); err != nil {
		return err
	}
	if err := s.controlOut("set data timing", ReqDataBitTiming, uint16(s.channel), encodeBitTiming(bt)); err != nil {
		return err
	}
	s.state = StateConfigured
	return nil
}

// Start arms the channel: a mode reset, the byte-order handshake, then the
// START command carrying mode. Mode flags the capability mask does not
// cover are rejected rather than silently dropped. Timing must have been
// configured; from StateStopped the previously programmed timing is
// reused.
func (s *Session) Start(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("start", StateConfigured, StateStopped); err != nil {
		return err
	}
	if missing := Feature(mode) &^ s.caps.Feature; missing != 0 {
		return fmt.Errorf("%w: mode flags %#x", ErrUnsupportedFeature, uint32(missing))
	}

	ch := uint16(s.channel)
	if err := s.controlOut("start", ReqMode, ch, encodeMode(canModeReset, 0)); err != nil {
		return err
	}
	// Byte-order handshake. candleLight-class firmware has no handler
	// for it, so failures are ignored.
	_ = s.tr.ControlOut(ReqHostFormat, 0, encodeHostFormat())
	if err := s.controlOut("start", ReqMode, ch, encodeMode(canModeStart, mode)); err != nil {
		return err
	}

	s.mode = mode
	s.codec = FrameCodec{
		FDMode:      mode&ModeFD != 0,
		HWTimestamp: mode&ModeHWTimestamp != 0,
	}
	s.rx = make(chan Frame, rxBufferDepth)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.dispatch(s.codec, s.rx, s.stop, s.done)
	s.state = StateRunning

	s.log.Info("channel started",
		zap.Uint8("channel", s.channel),
		zap.Uint32("mode", uint32(mode)),
		zap.Bool("fd", s.codec.FDMode),
		zap.Bool("hw_timestamp", s.codec.HWTimestamp))
	return nil
}

// Stop halts the channel with a mode reset and shuts down the dispatch
// loop. Programmed timing is retained, so Start may be called again
// without reconfiguring. Sends still waiting for a confirmation fail with
// ErrInvalidState; the reset flushed them from the controller.
func (s *Session) Stop() error {
	s.mu.Lock()
	if err := s.requireState("stop", StateRunning); err != nil {
		s.mu.Unlock()
		return err
	}
	err := s.controlOut("stop", ReqMode, uint16(s.channel), encodeMode(canModeReset, 0))
	stop, done := s.stop, s.done
	s.state = StateStopped
	s.mu.Unlock()

	close(stop)
	<-done
	s.echo.failAll(fmt.Errorf("%w: channel stopped", ErrInvalidState))
	s.log.Info("channel stopped")
	return err
}

// Close releases the session and the transport. A running channel gets a
// best-effort mode reset first. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	var stop, done chan struct{}
	if s.state == StateRunning {
		if !s.disconnected.Load() {
			_ = s.tr.ControlOut(ReqMode, uint16(s.channel), encodeMode(canModeReset, 0))
		}
		stop, done = s.stop, s.done
	}
	s.state = StateClosed
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	s.echo.failAll(fmt.Errorf("%w: session closed", ErrInvalidState))
	s.log.Debug("session closed")
	return s.tr.Close()
}

// GetState reads the controller bus state and error counters for channel.
// Legal in any state except closed.
func (s *Session) GetState(channel uint8) (DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("get state", openStates...); err != nil {
		return DeviceState{}, err
	}
	if !s.caps.Feature.Has(FeatureGetState) {
		return DeviceState{}, fmt.Errorf("%w: state reporting", ErrUnsupportedFeature)
	}
	resp, err := s.controlIn("get state", ReqGetState, uint16(channel), 12)
	if err != nil {
		return DeviceState{}, err
	}
	return decodeDeviceState(resp)
}

// SetIdentify switches the adapter's identify blink on or off.
func (s *Session) SetIdentify(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("identify", openStates...); err != nil {
		return err
	}
	if !s.caps.Feature.Has(FeatureIdentify) {
		return fmt.Errorf("%w: identify", ErrUnsupportedFeature)
	}
	return s.controlOut("identify", ReqIdentify, uint16(s.channel), encodeIdentify(on))
}

// QueryTimestamp reads the device's running microsecond counter, the time
// base of hardware frame timestamps.
func (s *Session) QueryTimestamp() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("query timestamp", openStates...); err != nil {
		return 0, err
	}
	if !s.caps.Feature.Has(FeatureHWTimestamp) {
		return 0, fmt.Errorf("%w: hardware timestamps", ErrUnsupportedFeature)
	}
	resp, err := s.controlIn("query timestamp", ReqTimestamp, 0, 4)
	if err != nil {
		return 0, err
	}
	return decodeTimestamp(resp)
}

// SetTermination switches the channel's bus termination resistor.
func (s *Session) SetTermination(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("set termination", openStates...); err != nil {
		return err
	}
	if !s.caps.Feature.Has(FeatureTermination) {
		return fmt.Errorf("%w: termination control", ErrUnsupportedFeature)
	}
	return s.controlOut("set termination", ReqSetTermination, uint16(s.channel), encodeTermination(on))
}

// GetTermination reports whether the channel's termination resistor is
// switched in.
func (s *Session) GetTermination() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState("get termination", openStates...); err != nil {
		return false, err
	}
	if !s.caps.Feature.Has(FeatureTermination) {
		return false, fmt.Errorf("%w: termination control", ErrUnsupportedFeature)
	}
	resp, err := s.controlIn("get termination", ReqGetTermination, uint16(s.channel), 4)
	if err != nil {
		return false, err
	}
	return decodeTermination(resp)
}
