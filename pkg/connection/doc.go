// Package connection keeps a listening usbmux session alive across daemon
// restarts.
//
// A Watcher dials a session, pumps its device events and, when the session
// is lost, reports every known device as detached and redials with
// exponential backoff:
//
//  1. Initial delay: 250 milliseconds
//  2. Each failed attempt doubles the delay: 500ms, 1s, 2s, ...
//  3. Maximum delay: 10 seconds
//  4. Reset to the initial delay once a session is up
//
// # Jitter
//
// Each delay gets a random extra of up to a quarter of the base delay:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A new session replays the daemon's roster as attach events, so callers
// see a consistent add/remove stream across reconnects.
package connection
