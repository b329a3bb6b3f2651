// Package discovery implements optional mDNS/DNS-SD discovery of
// comlink servers.
//
// # Service Type
//
// Servers advertise a single service type, _comlink._tcp in the local
// domain. The instance name is chosen by the operator and must fit one
// DNS label.
//
// # TXT Records
//
// Two TXT keys describe an advertised server:
//   - v:  protocol version ("major.minor")
//   - fp: server public key fingerprint (16 hex chars)
//
// The fingerprint lets a client that has pinned a server key pick the
// right instance before dialing; the version lets it skip incompatible
// peers. Neither value is secret, both are already visible to anyone
// who can complete the clear-text key exchange.
//
// # Usage
//
// An Advertiser registers the running server; Browse and Find resolve
// servers on the local network. Discovery is additive: servers work
// without it and clients can always dial an address directly.
package discovery
