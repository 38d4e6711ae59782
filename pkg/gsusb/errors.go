package gsusb

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the protocol layer. Callers match them with
// errors.Is. Underlying transport failures are wrapped so the cause chain
// stays inspectable.
var (
	ErrDeviceNotFound     = errors.New("gsusb: device not found")
	ErrTransport          = errors.New("gsusb: transport error")
	ErrReadTimeout        = errors.New("gsusb: read timeout")
	ErrWriteTimeout       = errors.New("gsusb: write timeout")
	ErrUnsupportedBitrate = errors.New("gsusb: no bit timing solution for requested bitrate")
	ErrInvalidFrame       = errors.New("gsusb: invalid frame")
	ErrInvalidState       = errors.New("gsusb: invalid state")
	ErrUnsupportedFeature = errors.New("gsusb: feature not supported by device")
	ErrDisconnected       = errors.New("gsusb: device disconnected")
)

// IsTimeout reports whether err is a read or write deadline expiry rather
// than an I/O failure. Timeouts are expected during normal polling and are
// safe to retry with a fresh deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout) || errors.Is(err, ErrWriteTimeout)
}

// wrapTransport tags err as a transport failure while keeping the original
// cause matchable with errors.Is.
func wrapTransport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
