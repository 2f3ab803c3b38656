package wire

// Kind is the abstract message kind shared by all codecs.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindResult
	KindConnect
	KindListen
	KindDeviceAdd
	KindDeviceRemove
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindResult:
		return "Result"
	case KindConnect:
		return "Connect"
	case KindListen:
		return "Listen"
	case KindDeviceAdd:
		return "DeviceAdd"
	case KindDeviceRemove:
		return "DeviceRemove"
	default:
		return "Unknown"
	}
}

// IsRequest reports whether the kind is sent by clients.
func (k Kind) IsRequest() bool {
	return k == KindConnect || k == KindListen
}

// IsResponse reports whether the kind is sent by the daemon.
func (k Kind) IsResponse() bool {
	return k == KindResult || k == KindDeviceAdd || k == KindDeviceRemove
}

// Numeric message types used in the packet header.
const (
	MessageResult       uint32 = 1
	MessageConnect      uint32 = 2
	MessageListen       uint32 = 3
	MessageDeviceAdd    uint32 = 4
	MessageDeviceRemove uint32 = 5
	MessagePlist        uint32 = 8
)

// messageKinds maps numeric header types to kinds.
var messageKinds = map[uint32]Kind{
	MessageResult:       KindResult,
	MessageConnect:      KindConnect,
	MessageListen:       KindListen,
	MessageDeviceAdd:    KindDeviceAdd,
	MessageDeviceRemove: KindDeviceRemove,
}

// messageTypes is the inverse of messageKinds.
var messageTypes = map[Kind]uint32{
	KindResult:       MessageResult,
	KindConnect:      MessageConnect,
	KindListen:       MessageListen,
	KindDeviceAdd:    MessageDeviceAdd,
	KindDeviceRemove: MessageDeviceRemove,
}

// MessageType returns the numeric header type of k in the binary protocol,
// or 0 if k has none.
func (k Kind) MessageType() uint32 {
	return messageTypes[k]
}

// Property list MessageType values.
const (
	PlistResult   = "Result"
	PlistConnect  = "Connect"
	PlistListen   = "Listen"
	PlistAttached = "Attached"
	PlistDetached = "Detached"
)

var plistKinds = map[string]Kind{
	PlistResult:   KindResult,
	PlistConnect:  KindConnect,
	PlistListen:   KindListen,
	PlistAttached: KindDeviceAdd,
	PlistDetached: KindDeviceRemove,
}

var plistNames = map[Kind]string{
	KindResult:       PlistResult,
	KindConnect:      PlistConnect,
	KindListen:       PlistListen,
	KindDeviceAdd:    PlistAttached,
	KindDeviceRemove: PlistDetached,
}
