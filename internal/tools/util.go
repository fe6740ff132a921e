package tools

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
)

const LoopbackIP = "127.0.0.1"

var (
	ErrNotRoot     = errors.New("this action requires root privileges (run with sudo)")
	ErrInvalidPort = errors.New("invalid port")
)

// ValidatePort checks that port is a usable TCP port number.
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w %d: must be between 1 and 65535", ErrInvalidPort, port)
	}
	return nil
}

// IsRoot reports whether the process runs with an effective uid of 0.
func IsRoot() bool {
	return unix.Geteuid() == 0
}

// RequireRoot returns ErrNotRoot unless the process runs as root.
func RequireRoot() error {
	if !IsRoot() {
		return ErrNotRoot
	}
	return nil
}

// IsPortAvailableOnIP checks if a specific port is available on a specific IP address.
func IsPortAvailableOnIP(ip string, port int) bool {
	if ValidatePort(port) != nil {
		return false
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}

	defer func() {
		if err := listener.Close(); err != nil {
			logger.Log.WithError(err).Debug("Failed to close test listener")
		}
	}()

	return true
}
