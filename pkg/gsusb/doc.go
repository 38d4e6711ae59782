// Package gsusb drives CAN and CAN FD adapters that speak the GS-USB
// protocol (candleLight, CANtact, CANable and compatible firmware).
//
// The package covers the whole protocol: vendor control transfers for
// configuration and queries, the bulk-endpoint frame stream with transmit
// echo correlation, and bit-timing computation from a requested bitrate.
//
// # Overview
//
// The package provides:
//   - Transport: the byte-level device interface (USB or simulated)
//   - Session: one adapter channel with its lifecycle and frame I/O
//   - Frame: a classic or FD CAN frame using the SocketCAN flag layout
//   - ComputeBitTiming: prescaler/segment search for a requested bitrate
//
// # Usage
//
// Basic usage follows this pattern:
//
//	// 1. Claim the first attached adapter
//	tr, err := gsusb.OpenAdapter()
//
//	// 2. Open a session on channel 0
//	s, err := gsusb.Open(tr)
//	defer s.Close()
//
//	// 3. Configure and start
//	err = s.SetBitrate(500000)
//	err = s.Start(gsusb.ModeNormal)
//
//	// 4. Exchange frames
//	err = s.Send(gsusb.NewFrame(0x123, []byte{1, 2, 3}), time.Second)
//	f, err := s.Read(time.Second)
//
// # Lifecycle
//
// A session moves through closed, opened, configured, running and stopped.
// Timing setters are legal after open, between reconfigurations and while
// stopped; Send and Read only while running; Close from anywhere. A
// surprise unplug latches the session: every subsequent call fails with
// ErrDisconnected.
//
// # Transmit echo
//
// The device echoes every transmitted frame back on the bulk IN endpoint
// once it went out on the wire. Send blocks until that echo arrives and
// treats it as the transmit confirmation. Inbound frames carrying the
// reserved echo ID 0xFFFFFFFF are bus traffic and are delivered through
// Read; error frames among them carry the ERR flag in the CAN ID.
//
// # Limitations
//
//   - A Session claims the whole USB interface; on multi-channel adapters
//     frames from every channel arrive on the same Read stream, told apart
//     by the Channel field
//   - The user-ID vendor requests have wire constants but no session
//     wrappers; no shipping firmware was found to implement them
package gsusb
