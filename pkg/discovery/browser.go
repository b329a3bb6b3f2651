package discovery

import (
	"context"
	"net"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures mDNS browsing.
type BrowserConfig struct {
	// Interface restricts browsing to a named network interface.
	// Empty means all multicast-capable interfaces.
	Interface string
}

// Browse searches for comlink servers until ctx is cancelled. Entries
// arriving from multiple interfaces are aggregated by instance name,
// so each server is emitted once; the channel closes when browsing
// stops.
func Browse(ctx context.Context, config BrowserConfig) (<-chan *Service, error) {
	out := make(chan *Service)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	opts := browserOptions(config)

	go func() {
		defer close(out)

		// Track services by instance name, aggregating addresses.
		services := make(map[string]*Service)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToService(entry)
				if svc == nil {
					continue
				}

				existing, found := services[svc.InstanceName]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				} else {
					services[svc.InstanceName] = svc
					select {
					case out <- svc:
					case <-ctx.Done():
						return
					}
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// Find resolves a single server by instance name. It returns
// ErrNotFound when browsing ends without a match and ctx.Err() when
// the context expires first.
func Find(ctx context.Context, config BrowserConfig, instance string) (*Service, error) {
	results, err := Browse(ctx, config)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if svc.InstanceName == instance {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// browserOptions returns zeroconf client options based on config.
func browserOptions(config BrowserConfig) []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if config.Interface != "" {
		iface, err := net.InterfaceByName(config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}
