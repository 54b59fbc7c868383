package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultSCPIPort is the raw SCPI socket port of LAN instruments.
const DefaultSCPIPort = 5025

// Interface types of a resource address.
const (
	InterfaceTCPIP = "TCPIP"
	InterfaceSim   = "SIM"
)

// Address is a parsed instrument resource address.
type Address struct {
	// Raw is the address as given by the user.
	Raw string
	// Interface is InterfaceTCPIP or InterfaceSim.
	Interface string
	// Board is the interface board number, e.g. 0 for TCPIP0.
	Board int
	// Host is the instrument host name or IP, or the simulator name.
	Host string
	// Port is the TCP port. Zero for simulated instruments.
	Port int
}

// ParseAddress parses a VISA style resource address or a host:port shorthand.
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	if !strings.Contains(s, "::") {
		return parseHostPort(raw, s)
	}

	parts := strings.Split(s, "::")
	head := strings.ToUpper(parts[0])

	switch {
	case strings.HasPrefix(head, InterfaceTCPIP):
		board, err := parseBoard(head[len(InterfaceTCPIP):])
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
		}

		return parseTCPIP(raw, board, parts[1:])

	case strings.HasPrefix(head, InterfaceSim):
		board, err := parseBoard(head[len(InterfaceSim):])
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
		}

		rest := parts[1:]
		if n := len(rest); n > 0 && strings.EqualFold(rest[n-1], "INSTR") {
			rest = rest[:n-1]
		}
		if len(rest) != 1 || rest[0] == "" {
			return Address{}, fmt.Errorf("%w: %q: expected SIM[n]::name[::INSTR]", ErrInvalidAddress, raw)
		}

		return Address{Raw: raw, Interface: InterfaceSim, Board: board, Host: strings.ToLower(rest[0])}, nil

	default:
		return Address{}, fmt.Errorf("%w: %q: unsupported interface %q", ErrInvalidAddress, raw, parts[0])
	}
}

func parseHostPort(raw string, s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}

	port, err := parsePort(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}

	if host == "" {
		return Address{}, fmt.Errorf("%w: %q: empty host", ErrInvalidAddress, raw)
	}

	return Address{Raw: raw, Interface: InterfaceTCPIP, Host: strings.ToLower(host), Port: port}, nil
}

func parseTCPIP(raw string, board int, rest []string) (Address, error) {
	if len(rest) < 2 {
		return Address{}, fmt.Errorf("%w: %q: missing resource class", ErrInvalidAddress, raw)
	}

	host := rest[0]
	if host == "" {
		return Address{}, fmt.Errorf("%w: %q: empty host", ErrInvalidAddress, raw)
	}

	class := strings.ToUpper(rest[len(rest)-1])
	addr := Address{Raw: raw, Interface: InterfaceTCPIP, Board: board, Host: strings.ToLower(host)}

	switch {
	case class == "SOCKET" && len(rest) == 3:
		port, err := parsePort(rest[1])
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
		}
		addr.Port = port

	case class == "INSTR" && (len(rest) == 2 || len(rest) == 3):
		addr.Port = DefaultSCPIPort

	default:
		return Address{}, fmt.Errorf("%w: %q: expected ::SOCKET or ::INSTR resource", ErrInvalidAddress, raw)
	}

	return addr, nil
}

func parseBoard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	board, err := strconv.Atoi(s)
	if err != nil || board < 0 {
		return 0, fmt.Errorf("invalid board number %q", s)
	}

	return board, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d is out of range [1, 65535]", port)
	}

	return port, nil
}

// String returns the canonical form of the address, used as the registry key.
//
// INSTR and SOCKET spellings of the same LAN instrument share one canonical form since
// they reach the same physical connection.
func (a Address) String() string {
	switch a.Interface {
	case InterfaceSim:
		return fmt.Sprintf("%s%d::%s::INSTR", InterfaceSim, a.Board, a.Host)
	default:
		return fmt.Sprintf("%s%d::%s::%d::SOCKET", InterfaceTCPIP, a.Board, a.Host, a.Port)
	}
}

// HostPort returns "host:port" suitable for net.Dial.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
