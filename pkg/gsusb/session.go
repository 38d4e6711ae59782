package gsusb

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// readPollInterval bounds how long the dispatch loop blocks in a single
// bulk read, so stop and close requests are noticed promptly.
const readPollInterval = 100 * time.Millisecond

// rxBufferDepth is the receive queue length between the dispatch loop and
// Read. Bus traffic arriving while the queue is full is dropped and
// counted rather than stalling transmit confirmations.
const rxBufferDepth = 512

// Session drives one adapter channel: configuration and start/stop via
// control transfers, frame exchange via the bulk pipes. All methods are
// safe for concurrent use. At most one Send and one Read make progress at
// a time; they run independently of each other because they use opposite
// transfer directions.
type Session struct {
	tr  Transport
	log *zap.Logger

	channel uint8

	mu    sync.Mutex // serializes control exchanges and lifecycle changes
	state State
	mode  Mode
	codec FrameCodec
	rx    chan Frame
	stop  chan struct{}
	done  chan struct{}

	info DeviceInfo       // immutable after Open
	caps DeviceCapability // immutable after Open

	echo *echoTracker

	sendMu sync.Mutex
	readMu sync.Mutex

	disconnected atomic.Bool
	dropped      atomic.Uint64
}

// Option adjusts session construction.
type Option func(*Session)

// WithLogger routes session diagnostics to log. The default discards them.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithChannel binds the session to a channel other than 0 on multi-channel
// adapters.
func WithChannel(channel uint8) Option {
	return func(s *Session) { s.channel = channel }
}

// Open runs the initial exchanges on t and returns a session in
// StateOpened: the device configuration report, then the capability report
// that governs timing computation and feature checks. When the device
// announces the extended capability variant it is fetched instead, so FD
// timing honors the separate data-phase limits. On error the transport is
// untouched and remains owned by the caller.
func Open(t Transport, opts ...Option) (*Session, error) {
	s := &Session{
		tr:    t,
		log:   zap.NewNop(),
		echo:  newEchoTracker(),
		state: StateOpened,
	}
	for _, opt := range opts {
		opt(s)
	}

	resp, err := t.ControlIn(ReqDeviceConfig, 0, 12)
	if err != nil {
		return nil, wrapTransport("device config", err)
	}
	info, err := decodeDeviceInfo(resp)
	if err != nil {
		return nil, err
	}
	info.Serial = t.Serial()
	if s.channel >= info.ChannelCount {
		return nil, fmt.Errorf("%w: channel %d on a %d-channel adapter",
			ErrDeviceNotFound, s.channel, info.ChannelCount)
	}
	s.info = info

	resp, err = t.ControlIn(ReqBTConst, 0, 40)
	if err != nil {
		return nil, wrapTransport("capability", err)
	}
	caps, err := decodeCapability(resp)
	if err != nil {
		return nil, err
	}
	if caps.Feature.Has(FeatureBTConstExt) {
		resp, err = t.ControlIn(ReqBTConstExt, 0, 72)
		if err != nil {
			return nil, wrapTransport("extended capability", err)
		}
		if caps, err = decodeCapabilityExt(resp); err != nil {
			return nil, err
		}
	}
	s.caps = caps

	s.log.Debug("session opened",
		zap.Uint8("channel", s.channel),
		zap.String("serial", info.Serial),
		zap.Uint8("channels", info.ChannelCount),
		zap.Uint32("clock_hz", caps.ClockHz),
		zap.Uint32("features", uint32(caps.Feature)))
	return s, nil
}

// Info returns the device identification fetched at open.
func (s *Session) Info() DeviceInfo { return s.info }

// Capability returns the capability report fetched at open. It is
// immutable for the session lifetime and safe to read concurrently.
func (s *Session) Capability() DeviceCapability { return s.caps }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the flags the channel was last started with.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// DroppedFrames reports how many bus frames were discarded because the
// receive queue was full.
func (s *Session) DroppedFrames() uint64 { return s.dropped.Load() }

// requireState validates op against the lifecycle. Callers hold s.mu.
func (s *Session) requireState(op string, allowed ...State) error {
	if s.disconnected.Load() {
		return fmt.Errorf("%s: %w", op, ErrDisconnected)
	}
	if !s.state.in(allowed...) {
		return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s.state)
	}
	return nil
}

// markDisconnected latches the terminal disconnect condition and fails
// every send still waiting for a confirmation.
func (s *Session) markDisconnected() {
	if s.disconnected.CompareAndSwap(false, true) {
		s.log.Warn("device disconnected")
		s.echo.failAll(ErrDisconnected)
	}
}

// Send transmits frame and waits until the device confirms it went out on
// the bus, up to timeout measured from call entry. The frame's EchoID and
// Channel are assigned by the session. On timeout the pending confirmation
// is cancelled, a late one is discarded as stale, and the physical
// transmission may still happen.
func (s *Session) Send(frame Frame, timeout time.Duration) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	if err := s.requireState("send", StateRunning); err != nil {
		s.mu.Unlock()
		return err
	}
	codec := s.codec
	// Allocating under the state lock keeps the entry visible to a
	// concurrent Stop or Close when it fails pending sends.
	id, confirmed := s.echo.allocate()
	s.mu.Unlock()

	frame.EchoID = id
	frame.Channel = s.channel
	buf, err := codec.EncodeFrame(frame)
	if err != nil {
		s.echo.cancel(id)
		return err
	}
	if err := s.tr.BulkWrite(buf, timeout); err != nil {
		s.echo.cancel(id)
		switch {
		case errors.Is(err, ErrDisconnected):
			s.markDisconnected()
			return fmt.Errorf("send: %w", ErrDisconnected)
		case errors.Is(err, ErrWriteTimeout):
			return err
		default:
			return wrapTransport("send", err)
		}
	}

	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case err := <-confirmed:
		return err
	case <-timer.C:
		s.echo.cancel(id)
		return fmt.Errorf("%w: no transmit confirmation within %v", ErrWriteTimeout, timeout)
	}
}

// Read returns the next received bus frame, waiting up to timeout.
// Transmit confirmations are consumed internally and never surface here.
// A timeout is not an error condition worth escalating; poll again with a
// fresh one.
func (s *Session) Read(timeout time.Duration) (Frame, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	if err := s.requireState("read", StateRunning); err != nil {
		s.mu.Unlock()
		return Frame{}, err
	}
	rx := s.rx
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-rx:
		if !ok {
			if s.disconnected.Load() {
				return Frame{}, fmt.Errorf("read: %w", ErrDisconnected)
			}
			return Frame{}, fmt.Errorf("%w: channel stopped during read", ErrInvalidState)
		}
		return f, nil
	case <-timer.C:
		return Frame{}, fmt.Errorf("%w: no frame within %v", ErrReadTimeout, timeout)
	}
}

// dispatch owns the bulk-IN endpoint while the channel runs. Every inbound
// transfer is either the echo of a local transmission, resolved through the
// correlator, or bus traffic queued for Read. It exits when stopped or when
// the transport dies, closing rx so blocked readers fail fast.
func (s *Session) dispatch(codec FrameCodec, rx chan Frame, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, codec.MaxFrameSize())
	for {
		select {
		case <-stop:
			close(rx)
			return
		default:
		}

		n, err := s.tr.BulkRead(buf, readPollInterval)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			// Bulk failures other than a timeout mean the device fell
			// off the bus; the kernel reports removal as EIO or EPIPE
			// as often as ENODEV.
			if !errors.Is(err, ErrDisconnected) {
				s.log.Error("bulk read failed", zap.Error(err))
			}
			s.markDisconnected()
			close(rx)
			return
		}

		f, err := codec.DecodeFrame(buf[:n])
		if err != nil {
			s.log.Warn("undecodable wire frame",
				zap.Int("len", n), zap.Error(err))
			continue
		}

		if f.IsRx() {
			select {
			case rx <- f:
			default:
				s.dropped.Add(1)
			}
			continue
		}

		var outcome error
		if f.IsError() {
			outcome = fmt.Errorf("%w: device reported transmit error", ErrTransport)
		}
		if !s.echo.resolve(f.EchoID, outcome) {
			s.log.Debug("stale transmit confirmation", zap.Uint32("echo_id", f.EchoID))
		}
	}
}
