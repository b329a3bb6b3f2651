package service

import (
	"errors"
	"fmt"

	"github.com/comlink-protocol/comlink-go/pkg/version"
)

// ErrIncompatibleVersion is returned when a discovered server's
// advertised protocol version is not compatible with this client.
var ErrIncompatibleVersion = errors.New("incompatible protocol version")

// checkVersionCompatibility checks a discovered server's advertised
// protocol version against ours. An empty string is treated as
// compatible, so a hand-built Service without a version skips the
// check.
func checkVersionCompatibility(advertised string) error {
	if advertised == "" {
		return nil
	}

	theirs, err := version.Parse(advertised)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q: %v", ErrIncompatibleVersion, advertised, err)
	}

	ours, _ := version.Parse(version.Current)
	if !ours.Compatible(theirs) {
		return fmt.Errorf("%w: server=%s, client=%s", ErrIncompatibleVersion, theirs, ours)
	}

	return nil
}
