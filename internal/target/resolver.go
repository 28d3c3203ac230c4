// internal/target/resolver.go
// Host and port-range parsing into probe targets

package target

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/aspnmy/mirapipe/internal/models"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// ErrInvalidSpec is wrapped by every host or port specification error
var ErrInvalidSpec = errors.New("invalid target specification")

var (
	hostnamePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}$`)
	dottedQuad      = regexp.MustCompile(`^([0-9]{1,3})\.([0-9]{1,3})\.([0-9]{1,3})\.([0-9]{1,3})$`)
	portSpecPattern = regexp.MustCompile(`^([0-9]{1,5})(?:-([0-9]{1,5}))?$`)
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

// ValidateHost checks host syntax only: "localhost", a dotted-quad IPv4
// address, an IPv6 literal or a DNS hostname. No resolution is performed.
func ValidateHost(host string) error {
	host = strings.TrimSpace(host)
	switch {
	case host == "":
		return invalid("empty host")
	case strings.EqualFold(host, "localhost"):
		return nil
	case dottedQuad.MatchString(host):
		for _, octet := range dottedQuad.FindStringSubmatch(host)[1:] {
			if v, _ := strconv.Atoi(octet); v > 255 {
				return invalid("host %q: octet %s out of range", host, octet)
			}
		}
		return nil
	case strings.Contains(host, ":"):
		addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
		if err != nil || !addr.Is6() {
			return invalid("host %q is not a valid IPv6 literal", host)
		}
		return nil
	case len(host) <= 253 && hostnamePattern.MatchString(host):
		return nil
	}
	return invalid("host %q is not a hostname or IP address", host)
}

// ParsePortSpec parses "<port>" or "<low>-<high>" into inclusive bounds
func ParsePortSpec(spec string) (low, high int, err error) {
	spec = strings.TrimSpace(spec)
	m := portSpecPattern.FindStringSubmatch(spec)
	if m == nil {
		return 0, 0, invalid("port spec %q: want <port> or <low>-<high>", spec)
	}

	low, _ = strconv.Atoi(m[1])
	high = low
	if m[2] != "" {
		high, _ = strconv.Atoi(m[2])
	}

	if low < MinPort || low > MaxPort || high < MinPort || high > MaxPort {
		return 0, 0, invalid("port spec %q: ports must be in %d..%d", spec, MinPort, MaxPort)
	}
	if low > high {
		return 0, 0, invalid("port spec %q: range start greater than end", spec)
	}
	return low, high, nil
}

// Count returns the number of targets spec expands to
func Count(spec string) (int, error) {
	low, high, err := ParsePortSpec(spec)
	if err != nil {
		return 0, err
	}
	return high - low + 1, nil
}

// Resolve expands host and spec into one target per port, ascending
func Resolve(host, spec string) ([]models.Target, error) {
	if err := ValidateHost(host); err != nil {
		return nil, err
	}
	low, high, err := ParsePortSpec(spec)
	if err != nil {
		return nil, err
	}

	host = strings.Trim(strings.TrimSpace(host), "[]")
	targets := make([]models.Target, 0, high-low+1)
	for port := low; port <= high; port++ {
		targets = append(targets, models.Target{Host: host, Port: port})
	}
	return targets, nil
}

// DefaultServerPort is used when a server address names no port
const DefaultServerPort = 5000

// ParseServerAddress accepts "host:port", "host", or an http(s) URL with an
// optional port, and returns the host and port to dial.
func ParseServerAddress(s string) (host string, port int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, invalid("empty server address")
	}

	if strings.Contains(s, "://") {
		u, perr := url.Parse(s)
		if perr != nil {
			return "", 0, invalid("server address %q: %v", s, perr)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", 0, invalid("server address %q: scheme must be http or https", s)
		}
		if u.Path != "" && u.Path != "/" {
			return "", 0, invalid("server address %q: unexpected path %q", s, u.Path)
		}
		host, port, err = u.Hostname(), DefaultServerPort, nil
		if p := u.Port(); p != "" {
			port, err = parsePort(p)
		}
	} else if h, p, serr := net.SplitHostPort(s); serr == nil {
		host = h
		port, err = parsePort(p)
	} else {
		host, port = strings.Trim(s, "[]"), DefaultServerPort
	}
	if err != nil {
		return "", 0, invalid("server address %q: %v", s, err)
	}

	if err := ValidateHost(host); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < MinPort || port > MaxPort {
		return 0, fmt.Errorf("port %q out of range %d..%d", s, MinPort, MaxPort)
	}
	return port, nil
}
