// Package wire defines the usbmux packet formats.
//
// Every usbmux packet starts with the same 16-byte little-endian header:
//
//	┌──────────────┬──────────────┬──────────────┬──────────────┐
//	│ length (u32) │ version (u32)│ type (u32)   │ tag (u32)    │
//	└──────────────┴──────────────┴──────────────┴──────────────┘
//
// The length covers header and payload. Two payload encodings share this
// header:
//   - Version 0 (BinaryCodec): fixed C-style structs, one message type per
//     request or event.
//   - Version 1 (PlistCodec): an XML property list dictionary; the header
//     type is always MessagePlist and the dictionary's MessageType key
//     carries the real message kind.
//
// Callers work with the abstract Kind enumeration and the Request and
// Response structs; each Codec maps them to its own wire representation.
//
// # Port Byte Order
//
// The CONNECT port is sent in network byte order (byte-swapped relative to
// the rest of the little-endian packet) in both encodings. The device ID
// is not swapped. This asymmetry is part of the protocol.
package wire
