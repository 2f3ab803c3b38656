// Package version reports the library version sent to the usbmux daemon.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the library version.
const Current = "1.2"

// Product is the name reported in the client version string.
const Product = "usbmux-go"

// LibVersion represents a parsed "major.minor" version.
type LibVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (LibVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return LibVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return LibVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return LibVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return LibVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v LibVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ClientString returns the ClientVersionString sent in property list
// requests, e.g. "usbmux-go-1.2".
func ClientString() string {
	return Product + "-" + Current
}

// ParseClientString extracts the version from a ClientVersionString
// produced by ClientString.
func ParseClientString(s string) (LibVersion, error) {
	if !strings.HasPrefix(s, Product+"-") {
		return LibVersion{}, fmt.Errorf("not a %s client version: %q", Product, s)
	}
	return Parse(s[len(Product)+1:])
}
