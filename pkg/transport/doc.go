// Package transport owns the byte stream to the usbmux daemon.
//
// A Transport wraps one net.Conn exclusively and provides:
//   - Send and Receive with guaranteed-complete semantics
//   - WaitReadable, a bounded readiness wait used by event pumps
//   - ReadPacket and WritePacket for the 16-byte usbmux framing
//
// # Endpoints
//
// The daemon listens on a unix domain socket (/var/run/usbmuxd) or, on
// Windows, on TCP 127.0.0.1:27015. USBMUXD_SOCKET_ADDRESS overrides the
// default, using the same syntax as libusbmuxd:
//
//	USBMUXD_SOCKET_ADDRESS=UNIX:/tmp/usbmuxd
//	USBMUXD_SOCKET_ADDRESS=192.168.1.20:27015
package transport
