//go:build !unix

package transport

import (
	"net"
	"syscall"
	"time"
)

func pollReadable(net.Conn, syscall.Conn, time.Duration) (bool, error) {
	return false, errNoPoll
}
