package device

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxHostnameLength = 253
	maxLabelLength    = 63
	maxTokenLength    = 512
	maxIDLength       = 128
)

// ValidateConnectionParams checks both the address and the token.
// Returns ErrInvalidConnectionParams naming the first failing field.
func ValidateConnectionParams(conn ConnectionParams) error {
	if err := ValidateAddress(conn.Address); err != nil {
		return err
	}
	return ValidateToken(conn.Token)
}

// ValidateAddress checks that addr is an IP address or RFC 1123 hostname,
// optionally followed by ":port" with port in 1-65535.
func ValidateAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return newError(ErrInvalidConnectionParams, "address", "address cannot be empty")
	}

	host := addr
	if strings.HasPrefix(addr, "[") || strings.Count(addr, ":") == 1 {
		h, port, err := net.SplitHostPort(addr)
		if err != nil {
			return newError(ErrInvalidConnectionParams, "address", "%v", err)
		}
		if err := validatePort(port); err != nil {
			return err
		}
		host = h
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.IsUnspecified() {
			return newError(ErrInvalidConnectionParams, "address", "unspecified address %s", ip)
		}
		if ip.Zone() != "" {
			return newError(ErrInvalidConnectionParams, "address", "zoned addresses are not supported")
		}
		return nil
	}

	return validateHostname(host)
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return newError(ErrInvalidConnectionParams, "address", "port %q out of range 1-65535", port)
	}
	return nil
}

// validateHostname applies RFC 1123 label rules. A name whose final label is
// all digits is rejected so malformed dotted quads are not taken for hosts.
func validateHostname(host string) error {
	host = strings.TrimSuffix(host, ".")
	if host == "" || len(host) > maxHostnameLength {
		return newError(ErrInvalidConnectionParams, "address", "invalid host %q", host)
	}

	labels := strings.Split(host, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > maxLabelLength {
			return newError(ErrInvalidConnectionParams, "address", "invalid host %q", host)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return newError(ErrInvalidConnectionParams, "address", "invalid host %q", host)
		}
		for _, r := range label {
			if !isHostRune(r) {
				return newError(ErrInvalidConnectionParams, "address", "invalid host %q", host)
			}
		}
	}

	if allDigits(labels[len(labels)-1]) {
		return newError(ErrInvalidConnectionParams, "address", "invalid IP address %q", host)
	}
	return nil
}

func isHostRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ValidateToken checks the device token is present and printable.
// The token value never appears in the returned error.
func ValidateToken(token string) error {
	if token == "" {
		return newError(ErrInvalidConnectionParams, "token", "token cannot be empty")
	}
	if len(token) > maxTokenLength {
		return newError(ErrInvalidConnectionParams, "token", "token exceeds %d characters", maxTokenLength)
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return newError(ErrInvalidConnectionParams, "token", "token contains whitespace or control characters")
		}
	}
	return nil
}

// ValidateID checks a caller-supplied device identifier.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return newError(ErrInvalidID, "id", "id cannot be empty")
	}
	if len(id) > maxIDLength {
		return newError(ErrInvalidID, "id", "id exceeds %d characters", maxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return newError(ErrInvalidID, "id", "id contains whitespace or control characters")
		}
	}
	return nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
