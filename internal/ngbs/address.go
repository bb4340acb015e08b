package ngbs

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Address schemes.
const (
	SchemeModbusTCP = "modbus-tcp"
	SchemeService   = "service"

	modbusPrefix = SchemeModbusTCP + ":"
)

// Address is a parsed controller address.
type Address struct {
	Scheme string
	SysID  string // empty for modbus-tcp
	Host   string // host, optionally with port
}

// ModbusAddress returns the address of a Modbus-TCP controller at host.
func ModbusAddress(host string) string {
	return modbusPrefix + host
}

// ServiceAddress returns the service-protocol address of controller sysid at host.
func ServiceAddress(sysid, host string) string {
	return (&url.URL{Scheme: SchemeService, User: url.User(sysid), Host: host}).String()
}

// ParseAddress splits an address into its parts. Supported forms are
// "modbus-tcp:<host>[:port]" and "<scheme>://<sysid>@<host>[:port]".
func ParseAddress(address string) (Address, error) {
	if rest, ok := strings.CutPrefix(address, modbusPrefix); ok && !strings.HasPrefix(rest, "//") {
		if rest == "" {
			return Address{}, fmt.Errorf("%w: %q has no host", ErrInvalidAddress, address)
		}
		return Address{Scheme: SchemeModbusTCP, Host: rest}, nil
	}

	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrUnknownScheme, address)
	}
	a := Address{Scheme: u.Scheme, Host: u.Host}
	if u.User != nil {
		a.SysID = u.User.Username()
	}
	return a, nil
}

// String renders the address back into its canonical form.
func (a Address) String() string {
	if a.Scheme == SchemeModbusTCP {
		return ModbusAddress(a.Host)
	}
	u := &url.URL{Scheme: a.Scheme, Host: a.Host}
	if a.SysID != "" {
		u.User = url.User(a.SysID)
	}
	return u.String()
}

// ReplaceHost substitutes the host (and port, if given) of address while
// preserving scheme and system id. An empty host returns address unchanged.
func ReplaceHost(address, host string) (string, error) {
	a, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return address, nil
	}
	a.Host = host
	return a.String(), nil
}

// hostPort appends defaultPort when host carries none.
func hostPort(host string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(defaultPort))
}

// Dial builds a client for address without performing any I/O; the
// connection is opened on first use.
func Dial(address string, opts Options) (Client, error) {
	a, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	switch a.Scheme {
	case SchemeModbusTCP:
		return newModbusClient(hostPort(a.Host, opts.ModbusPort), opts), nil
	case SchemeService:
		if a.SysID == "" {
			return nil, NewError(CodeInvalidSysID, fmt.Errorf("%w: %q has no system id", ErrInvalidAddress, address))
		}
		return newServiceClient(hostPort(a.Host, opts.ServicePort), a.SysID, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, address)
	}
}
