package gsusb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// AdapterInfo describes an attached adapter found during enumeration.
type AdapterInfo struct {
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
	Serial      string
	Description string
}

// USBTransport drives a physical adapter through libusb. It satisfies
// Transport; a *Session layered on top owns the protocol.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	intfNum uint16
	serial  string
}

func isKnownAdapter(desc *gousb.DeviceDesc) bool {
	for _, id := range knownAdapterIDs {
		if uint16(desc.Vendor) == id.VendorID && uint16(desc.Product) == id.ProductID {
			return true
		}
	}
	return false
}

func adapterDescription(vid, pid uint16) string {
	for _, id := range knownAdapterIDs {
		if vid == id.VendorID && pid == id.ProductID {
			return id.Description
		}
	}
	return ""
}

// Scan lists the attached GS-USB compatible adapters without claiming them.
func Scan() ([]AdapterInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(isKnownAdapter)

	found := make([]AdapterInfo, 0, len(devs))
	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		product, _ := dev.Product()

		info := AdapterInfo{
			VendorID:    uint16(dev.Desc.Vendor),
			ProductID:   uint16(dev.Desc.Product),
			Bus:         dev.Desc.Bus,
			Address:     dev.Desc.Address,
			Serial:      serial,
			Description: product,
		}
		if info.Description == "" {
			info.Description = adapterDescription(info.VendorID, info.ProductID)
		}
		found = append(found, info)
		dev.Close()
	}

	// OpenDevices reports the first open failure even when other adapters
	// opened fine; partial results win over the error.
	if err != nil && len(found) == 0 {
		return nil, fmt.Errorf("usb enumeration: %w", err)
	}
	return found, nil
}

// OpenAdapter claims the first attached adapter.
func OpenAdapter() (*USBTransport, error) {
	return openMatching(isKnownAdapter)
}

// OpenAdapterAt claims the adapter at a specific bus position, as reported
// by Scan.
func OpenAdapterAt(bus, address int) (*USBTransport, error) {
	return openMatching(func(desc *gousb.DeviceDesc) bool {
		return isKnownAdapter(desc) && desc.Bus == bus && desc.Address == address
	})
}

func openMatching(match func(*gousb.DeviceDesc) bool) (*USBTransport, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(match)
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("usb open: %w", err)
		}
		return nil, ErrDeviceNotFound
	}
	// Extra matches stay untouched for another open call.
	for _, dev := range devs[1:] {
		dev.Close()
	}
	dev := devs[0]

	// Linux binds these devices to the kernel gs_usb driver; detaching it
	// is what frees the interface. Platforms without the ioctl report not
	// supported, which is fine.
	_ = dev.SetAutoDetach(true)
	dev.ControlTimeout = DefaultControlTimeout

	t := &USBTransport{ctx: ctx, dev: dev}
	if err := t.claimInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	if serial, err := dev.SerialNumber(); err == nil {
		t.serial = serial
	}
	return t, nil
}

// claimInterface claims the vendor-specific interface on configuration 1.
func (t *USBTransport) claimInterface() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("usb config: %w", err)
	}

	// The protocol interface is the vendor-class one; interface 0 on every
	// known firmware, but search the descriptors rather than assume.
	num := -1
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) == 0 {
			continue
		}
		if intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = intf.Number
			break
		}
	}
	if num == -1 {
		num = 0
	}

	intf, err := cfg.Interface(num, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("usb claim interface %d: %w", num, err)
	}

	t.cfg, t.intf, t.intfNum = cfg, intf, uint16(num)
	if err := t.findEndpoints(); err != nil {
		intf.Close()
		cfg.Close()
		t.cfg, t.intf = nil, nil
		return err
	}
	return nil
}

// findEndpoints resolves the bulk IN/OUT pair from the interface descriptor.
func (t *USBTransport) findEndpoints() error {
	var outNum, inNum int
	for _, ep := range t.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outNum == 0 {
				outNum = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inNum == 0 {
				inNum = ep.Number
			}
		}
	}
	if outNum == 0 || inNum == 0 {
		return fmt.Errorf("%w: no bulk endpoint pair", ErrDeviceNotFound)
	}

	epOut, err := t.intf.OutEndpoint(outNum)
	if err != nil {
		return fmt.Errorf("usb out endpoint: %w", err)
	}
	epIn, err := t.intf.InEndpoint(inNum)
	if err != nil {
		return fmt.Errorf("usb in endpoint: %w", err)
	}
	t.epOut, t.epIn = epOut, epIn
	return nil
}

// ControlOut issues a vendor request carrying data to the device.
func (t *USBTransport) ControlOut(request uint8, value uint16, data []byte) error {
	_, err := t.dev.Control(controlRequestOut, request, value, t.intfNum, data)
	return mapControlError(err)
}

// ControlIn issues a vendor request reading up to length bytes back.
func (t *USBTransport) ControlIn(request uint8, value uint16, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := t.dev.Control(controlRequestIn, request, value, t.intfNum, buf)
	if err != nil {
		return nil, mapControlError(err)
	}
	return buf[:n], nil
}

// BulkWrite submits one frame on the bulk OUT endpoint.
func (t *USBTransport) BulkWrite(data []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := t.epOut.WriteContext(ctx, data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, gousb.TransferTimedOut), errors.Is(err, gousb.ErrorTimeout):
		return fmt.Errorf("%w: bulk out stalled for %v", ErrWriteTimeout, timeout)
	case isDeviceGone(err):
		return ErrDisconnected
	default:
		return err
	}
}

// BulkRead fills buf from the bulk IN endpoint, waiting up to timeout for
// the device to produce a transfer.
func (t *USBTransport) BulkRead(buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := t.epIn.ReadContext(ctx, buf)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, gousb.TransferTimedOut), errors.Is(err, gousb.ErrorTimeout):
		return 0, ErrReadTimeout
	case isDeviceGone(err):
		return 0, ErrDisconnected
	default:
		return 0, err
	}
}

// Serial returns the USB string-descriptor serial cached at open.
func (t *USBTransport) Serial() string { return t.serial }

// Close releases the interface and the libusb context.
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		_ = t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		_ = t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		_ = t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

func mapControlError(err error) error {
	if err == nil {
		return nil
	}
	if isDeviceGone(err) {
		return ErrDisconnected
	}
	return err
}

// isDeviceGone recognizes the shapes libusb gives a surprise removal:
// ENODEV once the kernel noticed, EPIPE or EIO while it has not yet.
func isDeviceGone(err error) bool {
	return errors.Is(err, gousb.ErrorNoDevice) ||
		errors.Is(err, gousb.ErrorPipe) ||
		errors.Is(err, gousb.ErrorIO) ||
		errors.Is(err, gousb.TransferNoDevice) ||
		errors.Is(err, gousb.TransferStall)
}
