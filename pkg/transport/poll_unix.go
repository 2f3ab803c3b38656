//go:build unix

package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pollReadable waits for the descriptor behind sc to become readable.
// Waiting goes through the runtime poller so deadlines and Close interrupt
// it; poll(2) with a zero timeout classifies the descriptor state.
func pollReadable(conn net.Conn, sc syscall.Conn, timeout time.Duration) (bool, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return false, errNoPoll
	}

	var (
		ready bool
		perr  error
	)

	// A zero timeout must not touch the read deadline: an expired deadline
	// fails the wait before the descriptor is even checked.
	if timeout == 0 {
		if err := raw.Control(func(fd uintptr) {
			ready, perr = pollOnce(fd)
		}); err != nil {
			return false, err
		}
		return ready, perr
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	err = raw.Read(func(fd uintptr) bool {
		ready, perr = pollOnce(fd)
		return ready || perr != nil
	})
	if err != nil {
		return false, err
	}
	return ready, perr
}

// pollOnce checks fd without blocking.
func pollOnce(fd uintptr) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLPRI}}
	for {
		_, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		break
	}

	revents := fds[0].Revents
	switch {
	case revents&(unix.POLLPRI|unix.POLLERR|unix.POLLNVAL) != 0:
		return false, fmt.Errorf("%w: revents %#x", ErrExceptional, revents)
	case revents&unix.POLLIN != 0:
		return true, nil
	case revents&unix.POLLHUP != 0:
		return false, fmt.Errorf("%w: hangup", ErrExceptional)
	}
	return false, nil
}
