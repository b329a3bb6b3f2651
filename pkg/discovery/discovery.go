package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/enbility/zeroconf/v3"
)

// mDNS constants.
const (
	// ServiceType is the DNS-SD service type for comlink servers.
	ServiceType = "_comlink._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	// TXTKeyVersion carries the protocol version ("major.minor").
	TXTKeyVersion = "v"

	// TXTKeyFingerprint carries the server key fingerprint
	// (16 hex chars, as produced by keys.Fingerprint).
	TXTKeyFingerprint = "fp"
)

// FingerprintLength is the length of a key fingerprint in TXT records.
const FingerprintLength = 16

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrNotFound            = errors.New("service not found")
)

// Service represents a comlink server found via mDNS.
type Service struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname (e.g. "gateway-01.local.").
	Host string

	// Port is the service port.
	Port int

	// Addresses contains resolved IP addresses.
	Addresses []string

	// Version is the protocol version (from TXT "v").
	Version string

	// Fingerprint is the server key fingerprint (from TXT "fp").
	Fingerprint string
}

// Addr returns "address:port" for the first resolved address, or the
// hostname when resolution produced none.
func (s *Service) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "."), s.Port)
}

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for an advertised server.
func EncodeTXT(protocolVersion, fingerprint string) TXTRecordMap {
	return TXTRecordMap{
		TXTKeyVersion:     protocolVersion,
		TXTKeyFingerprint: fingerprint,
	}
}

// DecodeTXT parses the TXT records of a discovered service. Both keys
// are required; the fingerprint must be 16 hex chars.
func DecodeTXT(txt TXTRecordMap) (protocolVersion, fingerprint string, err error) {
	protocolVersion, ok := txt[TXTKeyVersion]
	if !ok || protocolVersion == "" {
		return "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}

	fingerprint, ok = txt[TXTKeyFingerprint]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyFingerprint)
	}
	if len(fingerprint) != FingerprintLength || !isHexString(fingerprint) {
		return "", "", fmt.Errorf("%w: fingerprint %q", ErrInvalidTXTRecord, fingerprint)
	}

	return protocolVersion, fingerprint, nil
}

// TXTToStrings converts a TXTRecordMap to "key=value" strings, the
// format mDNS libraries use.
func TXTToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXT parses "key=value" strings into a TXTRecordMap.
func StringsToTXT(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag).
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks whether a name fits one DNS label.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %d chars exceeds %d", ErrInvalidInstanceName, len(name), MaxInstanceNameLen)
	}
	return nil
}

func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// entryToService converts a zeroconf entry, returning nil when the TXT
// records do not describe a comlink server.
func entryToService(entry *zeroconf.ServiceEntry) *Service {
	protocolVersion, fingerprint, err := DecodeTXT(StringsToTXT(entry.Text))
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &Service{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         entry.Port,
		Addresses:    addrs,
		Version:      protocolVersion,
		Fingerprint:  fingerprint,
	}
}

// mergeAddresses adds new addresses to the existing list, skipping
// duplicates.
func mergeAddresses(existing, found []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range found {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses carried by a removal entry.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
