package gsusb

import "time"

// Bulk endpoint addresses shared by every known gs_usb firmware.
const (
	EndpointOUT = 0x02
	EndpointIN  = 0x81
)

// Vendor-interface control request types.
const (
	controlRequestOut = 0x41 // host to device
	controlRequestIn  = 0xC1 // device to host
)

// Default transfer deadlines.
const (
	DefaultControlTimeout = 1 * time.Second
	DefaultSendTimeout    = 1 * time.Second
)

// Transport is the device access the protocol engine runs on: a vendor
// control-transfer pair and one bulk pipe in each direction. USBTransport
// implements it over real hardware, SimTransport in memory for tests.
//
// BulkRead and BulkWrite must be usable concurrently with each other and
// with control transfers; the engine serializes calls within each group
// itself.
type Transport interface {
	// ControlOut issues a vendor OUT request. value is the wValue word,
	// which carries the channel index for channel-scoped requests.
	ControlOut(request uint8, value uint16, data []byte) error

	// ControlIn issues a vendor IN request and returns up to length
	// bytes of response payload.
	ControlIn(request uint8, value uint16, length int) ([]byte, error)

	// BulkWrite submits one encoded frame to the OUT endpoint.
	BulkWrite(data []byte, timeout time.Duration) error

	// BulkRead fills buf from the IN endpoint and returns the transfer
	// length. It returns ErrReadTimeout when the deadline passes without
	// traffic and ErrDisconnected when the device is gone.
	BulkRead(buf []byte, timeout time.Duration) (int, error)

	// Serial returns the USB serial string, empty when unavailable.
	Serial() string

	// Close releases the device handle.
	Close() error
}
