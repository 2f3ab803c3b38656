// Package usbmux implements the client side of the usbmux protocol.
//
// A Conn is one session with the daemon. It starts idle and moves either to
// listening, where it receives device attach and detach events, or to
// connected, where the socket becomes a raw byte pipe to a port on a device:
//
//	idle --Listen--> listening
//	idle --Connect-> connected
//
// Any mode moves to closed on Close or when the socket breaks.
//
// A Client negotiates the wire protocol version once, keeps a listening Conn
// and its device roster, and opens a fresh Conn for every relay:
//
//	c, err := usbmux.New(ctx, usbmux.Options{})
//	if err != nil { ... }
//	defer c.Close()
//	for {
//		delta, err := c.Process(usbmux.NoTimeout)
//		...
//	}
//
// Conn and Client perform no internal locking. Callers serialize Process and
// Connect.
package usbmux
