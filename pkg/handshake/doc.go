// Package handshake implements the comlink public key exchange and the
// cipher gateways built on it.
//
// # Overview
//
// Every connection starts in the clear. As soon as it is established,
// each side announces its RSA public key with the reserved public_key
// command; the transport sends that one frame unencrypted and routes
// the inbound copy to the gateway instead of the application. Once the
// peer key is stored, all further traffic is encrypted.
//
// # Key Exchange Flow
//
//  1. Server accepts, announces its long-lived public key
//  2. Client connects, generates a fresh key pair, announces it
//  3. Each side stores the peer key on arrival
//  4. Application traffic flows, RSA-OAEP encrypted per frame
//
// Neither side waits for the other's announcement; the two clear-text
// frames cross on the wire and every later frame is ciphertext.
//
// # Gateways
//
// ServerGateway carries one long-lived key pair and a peer key per
// connection ID. ClientGateway generates a throwaway key pair for each
// dial and keeps a single server key. Both plug into the transport as
// a Hooks value; merge the gateway hooks ahead of application hooks so
// the gateway observes connections first.
//
// # Stream Cipher Upgrade
//
// RSA-OAEP caps a frame at the modulus size minus padding. When both
// sides enable SessionCipher, the client sends a random 32-byte secret
// under the reserved session_key command as its final RSA frame; both
// sides then derive directional ChaCha20-Poly1305 keys via HKDF-SHA256
// and switch the connection to the stream cipher, lifting the cap.
//
// # Cryptographic Parameters
//
//   - Key exchange: RSA public keys, PEM encoded (PKIX)
//   - Frame cipher: RSA-OAEP with SHA-256
//   - Session KDF: HKDF-SHA256, labels "client" / "server"
//   - Session AEAD: ChaCha20-Poly1305, counter nonces
package handshake
