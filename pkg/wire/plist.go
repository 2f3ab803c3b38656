package wire

import (
	"fmt"
	"math"

	"howett.net/plist"

	"github.com/usbmux-protocol/usbmux-go/pkg/version"
)

// DefaultProgName is the ProgName sent when none is configured.
const DefaultProgName = "usbmux-go"

// Property list dictionary keys.
const (
	keyMessageType   = "MessageType"
	keyClientVersion = "ClientVersionString"
	keyProgName      = "ProgName"
	keyDeviceID      = "DeviceID"
	keyPortNumber    = "PortNumber"
	keyNumber        = "Number"
	keyProperties    = "Properties"
)

// plistMessage is the union of every dictionary the protocol exchanges.
// Keys absent from a packet decode to zero values.
type plistMessage struct {
	MessageType   string          `plist:"MessageType"`
	ClientVersion string          `plist:"ClientVersionString"`
	ProgName      string          `plist:"ProgName"`
	Number        uint64          `plist:"Number"`
	DeviceID      uint64          `plist:"DeviceID"`
	PortNumber    uint64          `plist:"PortNumber"`
	Properties    plistProperties `plist:"Properties"`
}

type plistProperties struct {
	DeviceID       uint64 `plist:"DeviceID"`
	LocationID     uint64 `plist:"LocationID"`
	SerialNumber   string `plist:"SerialNumber"`
	ProductID      uint64 `plist:"ProductID"`
	ConnectionType string `plist:"ConnectionType"`
}

// PlistCodec implements protocol version 1.
type PlistCodec struct {
	progName      string
	clientVersion string
}

// NewPlistCodec returns a version 1 codec. Empty arguments select
// DefaultProgName and version.ClientString().
func NewPlistCodec(progName, clientVersion string) PlistCodec {
	if progName == "" {
		progName = DefaultProgName
	}
	if clientVersion == "" {
		clientVersion = version.ClientString()
	}
	return PlistCodec{progName: progName, clientVersion: clientVersion}
}

// Version returns 1.
func (PlistCodec) Version() uint32 { return VersionPlist }

// Name returns "plist".
func (PlistCodec) Name() string { return "plist" }

// ProgName returns the program name sent with every request.
func (c PlistCodec) ProgName() string { return c.progName }

// EncodeRequest encodes a Connect or Listen request.
func (c PlistCodec) EncodeRequest(req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	dict := map[string]any{
		keyMessageType:   plistNames[req.Kind],
		keyClientVersion: c.clientVersion,
		keyProgName:      c.progName,
	}
	if req.Kind == KindConnect {
		dict[keyDeviceID] = req.DeviceID
		dict[keyPortNumber] = swapPort(req.Port)
	}
	return c.frame(req.Tag, dict)
}

// DecodeResponse decodes a Result, Attached or Detached packet.
func (c PlistCodec) DecodeResponse(f Frame) (Response, error) {
	msg, err := c.parse(f)
	if err != nil {
		return Response{}, err
	}

	kind := plistKinds[msg.MessageType]
	resp := Response{Kind: kind, Tag: f.Header.Tag}

	switch kind {
	case KindResult:
		code, err := fit32(keyNumber, msg.Number)
		if err != nil {
			return Response{}, err
		}
		resp.Code = ResultCode(code)
	case KindDeviceAdd:
		if resp.DeviceID, err = fit32(keyDeviceID, msg.DeviceID); err != nil {
			return Response{}, err
		}
		if resp.ProductID, err = fit16("ProductID", msg.Properties.ProductID); err != nil {
			return Response{}, err
		}
		if resp.LocationID, err = fit32("LocationID", msg.Properties.LocationID); err != nil {
			return Response{}, err
		}
		resp.Serial = msg.Properties.SerialNumber
	case KindDeviceRemove:
		if resp.DeviceID, err = fit32(keyDeviceID, msg.DeviceID); err != nil {
			return Response{}, err
		}
	default:
		return Response{}, fmt.Errorf("%w: unexpected MessageType %q", ErrMalformed, msg.MessageType)
	}
	return resp, nil
}

// EncodeResponse encodes a Result, Attached or Detached packet.
func (c PlistCodec) EncodeResponse(resp Response) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	dict := map[string]any{
		keyMessageType: plistNames[resp.Kind],
	}
	switch resp.Kind {
	case KindResult:
		dict[keyNumber] = uint32(resp.Code)
	case KindDeviceAdd:
		dict[keyDeviceID] = resp.DeviceID
		dict[keyProperties] = map[string]any{
			"ConnectionType": "USB",
			keyDeviceID:      resp.DeviceID,
			"LocationID":     resp.LocationID,
			"ProductID":      resp.ProductID,
			"SerialNumber":   resp.Serial,
		}
	case KindDeviceRemove:
		dict[keyDeviceID] = resp.DeviceID
	}
	return c.frame(resp.Tag, dict)
}

// DecodeRequest decodes a Connect or Listen packet.
func (c PlistCodec) DecodeRequest(f Frame) (Request, error) {
	msg, err := c.parse(f)
	if err != nil {
		return Request{}, err
	}

	kind := plistKinds[msg.MessageType]
	req := Request{Kind: kind, Tag: f.Header.Tag}

	switch kind {
	case KindConnect:
		if req.DeviceID, err = fit32(keyDeviceID, msg.DeviceID); err != nil {
			return Request{}, err
		}
		port, err := fit16(keyPortNumber, msg.PortNumber)
		if err != nil {
			return Request{}, err
		}
		req.Port = swapPort(port)
	case KindListen:
	default:
		return Request{}, fmt.Errorf("%w: unexpected MessageType %q", ErrMalformed, msg.MessageType)
	}
	return req, nil
}

// ClientInfo identifies the program behind a request.
type ClientInfo struct {
	ProgName string
	Version  string
}

// ClientInfo returns the ProgName and ClientVersionString of a request.
func (c PlistCodec) ClientInfo(f Frame) (ClientInfo, error) {
	msg, err := c.parse(f)
	if err != nil {
		return ClientInfo{}, err
	}
	return ClientInfo{ProgName: msg.ProgName, Version: msg.ClientVersion}, nil
}

func fit32(key string, v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrMalformed, key, v)
	}
	return uint32(v), nil
}

func fit16(key string, v uint64) (uint16, error) {
	if v > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrMalformed, key, v)
	}
	return uint16(v), nil
}

// frame serializes dict as an XML plist with a trailing newline and wraps
// it in a packet header.
func (c PlistCodec) frame(tag uint32, dict map[string]any) ([]byte, error) {
	body, err := plist.Marshal(dict, plist.XMLFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plist: %w", err)
	}
	body = append(body, '\n')
	return EncodeFrame(VersionPlist, MessagePlist, tag, body), nil
}

// parse validates the header and decodes the dictionary.
func (c PlistCodec) parse(f Frame) (plistMessage, error) {
	var msg plistMessage
	if err := checkVersion(f, VersionPlist); err != nil {
		return msg, err
	}
	if f.Header.Type != MessagePlist {
		return msg, fmt.Errorf("%w: message type %d, want plist (%d)", ErrMalformed, f.Header.Type, MessagePlist)
	}
	if _, err := plist.Unmarshal(f.Payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.MessageType == "" {
		return msg, fmt.Errorf("%w: missing %s", ErrMalformed, keyMessageType)
	}
	return msg, nil
}

var _ Codec = PlistCodec{}
