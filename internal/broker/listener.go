package broker

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultListenAddr is the IPv6 loopback address bound by default.
const DefaultListenAddr = "::1"

// DefaultListenPort is STOMP's IANA-registered port.
const DefaultListenPort = 61613

// DefaultBacklog is the listen(2) backlog depth.
const DefaultBacklog = 10

// Listener is a non-blocking IPv6-or-IPv4 TCP listener built directly from
// raw syscalls instead of net.Listener, for control over SO_REUSEADDR,
// non-blocking mode, and TCP_NODELAY on every accepted socket.
type Listener struct {
	fd int
}

// Listen creates and binds a non-blocking listening socket at host:port.
// An empty host binds DefaultListenAddr.
func Listen(host string, port int) (*Listener, error) {
	if host == "" {
		host = DefaultListenAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("broker: invalid listen address %q", host)
	}

	var fd int
	var err error
	if ip4 := ip.To4(); ip4 != nil && ip.To16() == nil {
		fd, err = bindIPv4(ip4, port)
	} else {
		fd, err = bindIPv6(ip.To16(), port)
	}
	if err != nil {
		return nil, err
	}

	if err := unix.Listen(fd, DefaultBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("broker: listen: %w", err)
	}

	return &Listener{fd: fd}, nil
}

func bindIPv4(ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("broker: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("broker: setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip)
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("broker: bind: %w", err)
	}
	return fd, nil
}

func bindIPv6(ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("broker: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("broker: setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet6{Port: port}
	copy(addr.Addr[:], ip)
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("broker: bind: %w", err)
	}
	return fd, nil
}

// FD returns the listening socket's file descriptor, for registration with
// the event loop's epoll instance.
func (l *Listener) FD() int { return l.fd }

// Close closes the listening socket.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// Accept accepts one pending connection in non-blocking mode. ok is false
// (with err nil) if no connection is currently pending (EAGAIN/EWOULDBLOCK).
func (l *Listener) Accept() (fd int, remoteAddr string, ok bool, err error) {
	connFD, sa, err := unix.Accept(l.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, "", false, nil
		}
		return -1, "", false, fmt.Errorf("broker: accept: %w", err)
	}
	if err := unix.SetNonblock(connFD, true); err != nil {
		unix.Close(connFD)
		return -1, "", false, fmt.Errorf("broker: set nonblocking: %w", err)
	}
	_ = unix.SetsockoptInt(connFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	return connFD, formatSockaddr(sa), true, nil
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}
