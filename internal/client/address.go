package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidAddress is returned for server addresses that cannot be dialed
var ErrInvalidAddress = errors.New("invalid server address")

// ParseServerAddr validates user input naming a server and returns a
// dialable address. Accepted forms are an IPv4 dotted quad, a hostname or
// IPv6 literal, any of those with :port, and ws:// or wss:// URLs.
// defaultPort is used when no port is given.
func ParseServerAddr(input string, defaultPort int) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if isWebSocketURL(input) {
		u, err := url.Parse(input)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, input)
		}
		return input, nil
	}

	host, port := input, strconv.Itoa(defaultPort)
	if h, p, err := net.SplitHostPort(input); err == nil {
		host, port = h, p
	} else if strings.Count(input, ":") > 1 {
		// bare IPv6 literal
		host = strings.Trim(input, "[]")
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("%w: bad port %q", ErrInvalidAddress, port)
	}

	if !validHost(host) {
		return "", fmt.Errorf("%w: %q is not an IP address or hostname, expected e.g. 192.168.4.32", ErrInvalidAddress, host)
	}

	return net.JoinHostPort(host, port), nil
}

// ValidIPv4 reports whether s is a dotted quad with every octet in 0-255
func ValidIPv4(s string) bool {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return false
	}
	for _, o := range octets {
		if o == "" || len(o) > 3 {
			return false
		}
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return true
	}

	// All-numeric labels must form a real IPv4 address
	if strings.Trim(host, "0123456789.") == "" {
		return ValidIPv4(host)
	}

	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}
