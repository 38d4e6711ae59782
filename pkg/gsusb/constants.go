package gsusb

// Control-transfer request codes
const (
	ReqHostFormat     = 0
	ReqBitTiming      = 1
	ReqMode           = 2
	ReqBerr           = 3
	ReqBTConst        = 4
	ReqDeviceConfig   = 5
	ReqTimestamp      = 6
	ReqIdentify       = 7
	ReqGetUserID      = 8
	ReqSetUserID      = 9
	ReqDataBitTiming  = 10
	ReqBTConstExt     = 11
	ReqSetTermination = 12
	ReqGetTermination = 13
	ReqGetState       = 14
)

// Mode is the channel operating mode bitmask sent with ReqMode.
type Mode uint32

const (
	ModeNormal        Mode = 0
	ModeListenOnly    Mode = 1 << 0
	ModeLoopBack      Mode = 1 << 1
	ModeTripleSample  Mode = 1 << 2
	ModeOneShot       Mode = 1 << 3
	ModeHWTimestamp   Mode = 1 << 4
	ModePadPackets    Mode = 1 << 7
	ModeFD            Mode = 1 << 8
	ModeBerrReporting Mode = 1 << 12
)

// Mode command values carried in the ReqMode payload.
const (
	canModeReset uint32 = 0
	canModeStart uint32 = 1
)

// Feature is the capability bitmask reported by ReqBTConst.
type Feature uint32

const (
	FeatureListenOnly    Feature = 1 << 0
	FeatureLoopBack      Feature = 1 << 1
	FeatureTripleSample  Feature = 1 << 2
	FeatureOneShot       Feature = 1 << 3
	FeatureHWTimestamp   Feature = 1 << 4
	FeatureIdentify      Feature = 1 << 5
	FeatureUserID        Feature = 1 << 6
	FeaturePadPackets    Feature = 1 << 7
	FeatureFD            Feature = 1 << 8
	FeatureQuirkLPC546xx Feature = 1 << 9
	FeatureBTConstExt    Feature = 1 << 10
	FeatureTermination   Feature = 1 << 11
	FeatureBerrReporting Feature = 1 << 12
	FeatureGetState      Feature = 1 << 13
)

// Has reports whether all bits of want are present in the feature mask.
func (f Feature) Has(want Feature) bool {
	return f&want == want
}

// CAN identifier flag bits and masks (SocketCAN layout).
const (
	CANEFFFlag uint32 = 0x80000000 // extended frame format
	CANRTRFlag uint32 = 0x40000000 // remote transmission request
	CANERRFlag uint32 = 0x20000000 // error message frame

	CANSFFMask uint32 = 0x000007FF
	CANEFFMask uint32 = 0x1FFFFFFF
	CANERRMask uint32 = 0x1FFFFFFF
)

// Per-frame flag bits carried in the wire frame's flags byte.
const (
	FrameFlagOverflow uint8 = 1 << 0
	FrameFlagFD       uint8 = 1 << 1
	FrameFlagBRS      uint8 = 1 << 2
	FrameFlagESI      uint8 = 1 << 3
)

// RxEchoID marks inbound frames that are bus traffic rather than the echo
// of a local transmission.
const RxEchoID uint32 = 0xFFFFFFFF

// BusState is the CAN controller state reported by ReqGetState.
type BusState uint32

const (
	BusStateErrorActive BusState = iota
	BusStateErrorWarning
	BusStateErrorPassive
	BusStateBusOff
	BusStateStopped
	BusStateSleeping
)

var busStateNames = map[BusState]string{
	BusStateErrorActive:  "error-active",
	BusStateErrorWarning: "error-warning",
	BusStateErrorPassive: "error-passive",
	BusStateBusOff:       "bus-off",
	BusStateStopped:      "stopped",
	BusStateSleeping:     "sleeping",
}

// String returns a human-readable name for the bus state.
func (s BusState) String() string {
	if name, ok := busStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Identify command values carried in the ReqIdentify payload.
const (
	identifyOff uint32 = 0
	identifyOn  uint32 = 1
)

// hostFormatMagic is the byte-order handshake value sent with ReqHostFormat.
const hostFormatMagic uint32 = 0x0000BEEF

// fdDataLengths are the canonical CAN FD payload sizes, indexed by DLC.
var fdDataLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// Maximum payload sizes on the wire.
const (
	ClassicMaxData = 8
	FDMaxData      = 64
)

type knownAdapter struct {
	VendorID    uint16
	ProductID   uint16
	Description string
}

// knownAdapterIDs lists the vendor/product pairs enumerated as GS-USB
// compatible adapters.
var knownAdapterIDs = []knownAdapter{
	{VendorID: 0x1D50, ProductID: 0x606F, Description: "gs_usb (candleLight compatible)"},
	{VendorID: 0x1209, ProductID: 0x2323, Description: "candleLight FD"},
	{VendorID: 0x1CD2, ProductID: 0x606F, Description: "CES CANext FD"},
	{VendorID: 0x16D0, ProductID: 0x10B8, Description: "ABE CANdebugger FD"},
}
