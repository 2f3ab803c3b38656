package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the packet header in bytes.
const HeaderSize = 16

// Protocol versions.
const (
	VersionBinary uint32 = 0
	VersionPlist  uint32 = 1
)

// Header is the fixed packet header.
type Header struct {
	Length  uint32 // header + payload
	Version uint32
	Type    uint32
	Tag     uint32
}

// Frame is one complete packet as read from the daemon socket.
type Frame struct {
	Header  Header
	Payload []byte
}

// PutHeader writes h into b, which must be at least HeaderSize bytes.
func PutHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Length)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.Type)
	binary.LittleEndian.PutUint32(b[12:16], h.Tag)
}

// DecodeHeader parses a packet header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes", ErrMalformed, len(b))
	}
	return Header{
		Length:  binary.LittleEndian.Uint32(b[0:4]),
		Version: binary.LittleEndian.Uint32(b[4:8]),
		Type:    binary.LittleEndian.Uint32(b[8:12]),
		Tag:     binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// DecodeFrame splits a complete packet into header and payload.
func DecodeFrame(b []byte) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if int(h.Length) != len(b) {
		return Frame{}, fmt.Errorf("%w: length field %d, packet is %d bytes", ErrMalformed, h.Length, len(b))
	}
	return Frame{Header: h, Payload: b[HeaderSize:]}, nil
}

// EncodeFrame builds a complete packet. The length field is computed.
func EncodeFrame(version, msgType, tag uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	PutHeader(buf, Header{
		Length:  uint32(len(buf)),
		Version: version,
		Type:    msgType,
		Tag:     tag,
	})
	copy(buf[HeaderSize:], payload)
	return buf
}
