package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary payload sizes.
const (
	SerialSize          = 256
	connectPayloadSize  = 8
	resultPayloadSize   = 4
	deviceAddSize       = 4 + 2 + SerialSize + 2 + 4
	deviceRemovePayload = 4
)

// BinaryCodec implements protocol version 0.
type BinaryCodec struct{}

// NewBinaryCodec returns a version 0 codec.
func NewBinaryCodec() BinaryCodec {
	return BinaryCodec{}
}

// Version returns 0.
func (BinaryCodec) Version() uint32 { return VersionBinary }

// Name returns "binary".
func (BinaryCodec) Name() string { return "binary" }

// EncodeRequest encodes a Connect or Listen request.
func (c BinaryCodec) EncodeRequest(req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var payload []byte
	if req.Kind == KindConnect {
		payload = make([]byte, connectPayloadSize)
		binary.LittleEndian.PutUint32(payload[0:4], req.DeviceID)
		binary.BigEndian.PutUint16(payload[4:6], req.Port)
		// payload[6:8] reserved
	}
	return EncodeFrame(VersionBinary, messageTypes[req.Kind], req.Tag, payload), nil
}

// DecodeResponse decodes a Result, DeviceAdd or DeviceRemove packet.
func (c BinaryCodec) DecodeResponse(f Frame) (Response, error) {
	if err := checkVersion(f, VersionBinary); err != nil {
		return Response{}, err
	}

	kind := messageKinds[f.Header.Type]
	resp := Response{Kind: kind, Tag: f.Header.Tag}
	p := f.Payload

	switch kind {
	case KindResult:
		if len(p) < resultPayloadSize {
			return Response{}, shortPayload(kind, len(p), resultPayloadSize)
		}
		resp.Code = ResultCode(binary.LittleEndian.Uint32(p[0:4]))

	case KindDeviceAdd:
		if len(p) < deviceAddSize {
			return Response{}, shortPayload(kind, len(p), deviceAddSize)
		}
		resp.DeviceID = binary.LittleEndian.Uint32(p[0:4])
		resp.ProductID = binary.LittleEndian.Uint16(p[4:6])
		resp.Serial = cString(p[6 : 6+SerialSize])
		// two padding bytes follow the serial
		resp.LocationID = binary.LittleEndian.Uint32(p[6+SerialSize+2 : deviceAddSize])

	case KindDeviceRemove:
		if len(p) < deviceRemovePayload {
			return Response{}, shortPayload(kind, len(p), deviceRemovePayload)
		}
		resp.DeviceID = binary.LittleEndian.Uint32(p[0:4])

	default:
		return Response{}, fmt.Errorf("%w: unexpected message type %d", ErrMalformed, f.Header.Type)
	}
	return resp, nil
}

// EncodeResponse encodes a Result, DeviceAdd or DeviceRemove packet.
func (c BinaryCodec) EncodeResponse(resp Response) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	var payload []byte
	switch resp.Kind {
	case KindResult:
		payload = binary.LittleEndian.AppendUint32(nil, uint32(resp.Code))
	case KindDeviceAdd:
		if len(resp.Serial) >= SerialSize {
			return nil, fmt.Errorf("%w: serial longer than %d bytes", ErrInvalidRequest, SerialSize-1)
		}
		payload = make([]byte, deviceAddSize)
		binary.LittleEndian.PutUint32(payload[0:4], resp.DeviceID)
		binary.LittleEndian.PutUint16(payload[4:6], resp.ProductID)
		copy(payload[6:6+SerialSize], resp.Serial)
		binary.LittleEndian.PutUint32(payload[6+SerialSize+2:], resp.LocationID)
	case KindDeviceRemove:
		payload = binary.LittleEndian.AppendUint32(nil, resp.DeviceID)
	}
	return EncodeFrame(VersionBinary, messageTypes[resp.Kind], resp.Tag, payload), nil
}

// DecodeRequest decodes a Connect or Listen packet.
func (c BinaryCodec) DecodeRequest(f Frame) (Request, error) {
	if err := checkVersion(f, VersionBinary); err != nil {
		return Request{}, err
	}

	kind := messageKinds[f.Header.Type]
	req := Request{Kind: kind, Tag: f.Header.Tag}

	switch kind {
	case KindConnect:
		if len(f.Payload) < connectPayloadSize {
			return Request{}, shortPayload(kind, len(f.Payload), connectPayloadSize)
		}
		req.DeviceID = binary.LittleEndian.Uint32(f.Payload[0:4])
		req.Port = binary.BigEndian.Uint16(f.Payload[4:6])
	case KindListen:
	default:
		return Request{}, fmt.Errorf("%w: unexpected request type %d", ErrMalformed, f.Header.Type)
	}
	return req, nil
}

func shortPayload(kind Kind, got, want int) error {
	return fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrMalformed, kind, got, want)
}

// cString returns the bytes of b up to the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

var _ Codec = BinaryCodec{}
