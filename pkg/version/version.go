// Package version parses and compares "major.minor" protocol versions.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this library. Servers
// advertise it in the discovery TXT record; clients may use it to skip
// incompatible peers before dialing.
const Current = "1.0"

// ProtocolVersion is a parsed protocol version. The major component
// moves on breaking changes, the minor when commands are added.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse reads a version string such as "1.0".
func Parse(s string) (ProtocolVersion, error) {
	majorPart, minorPart, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minorPart, ".") {
		return ProtocolVersion{}, fmt.Errorf("version %q is not major.minor", s)
	}

	major, err := strconv.ParseUint(majorPart, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("version %q: bad major component", s)
	}
	minor, err := strconv.ParseUint(minorPart, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String renders the version back as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether both sides speak the same major version.
// Minor revisions only add commands, so mixed minors can talk.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}
