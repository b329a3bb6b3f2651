package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/comlink-protocol/comlink-go/pkg/version"
)

// AdvertiserConfig configures mDNS advertisement.
type AdvertiserConfig struct {
	// Interface restricts advertisement to a named network interface.
	// Empty means all multicast-capable interfaces.
	Interface string

	// TTL is the mDNS record time-to-live. Zero uses the library
	// default.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: 120 * time.Second,
	}
}

// Advertiser announces a comlink server via mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise registers the service under the given instance name. A
// prior registration by this advertiser is replaced.
func (a *Advertiser) Advertise(instance string, port int, fingerprint string) error {
	if err := ValidateInstanceName(instance); err != nil {
		return err
	}

	txt := TXTToStrings(EncodeTXT(version.Current, fingerprint))

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, a.interfaces(), opts...)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	a.mu.Lock()
	if a.server != nil {
		a.server.Shutdown()
	}
	a.server = server
	a.mu.Unlock()

	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces resolves the configured interface name, or nil for all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
