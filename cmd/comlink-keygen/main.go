// Command comlink-keygen generates an RSA key pair for comlink-server.
//
// The pair is written as PEM files: PKIX for the public key, PKCS#1
// for the private key. The private key file is created with 0600
// permissions.
//
// Usage:
//
//	comlink-keygen [flags]
//
// Flags:
//
//	-bits int    RSA key size (default 2048)
//	-pub string  Public key output path (default "comlink.pub")
//	-key string  Private key output path (default "comlink.key")
//	-force       Overwrite existing key files
//
// Examples:
//
//	# Generate a 2048-bit pair
//	comlink-keygen -pub server.pub -key server.key
//
//	# Generate a 4096-bit pair
//	comlink-keygen -bits 4096 -pub server.pub -key server.key
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/comlink-protocol/comlink-go/pkg/keys"
)

var (
	bits    = flag.Int("bits", keys.DefaultKeyBits, "RSA key size")
	pubPath = flag.String("pub", "comlink.pub", "Public key output path")
	keyPath = flag.String("key", "comlink.key", "Private key output path")
	force   = flag.Bool("force", false, "Overwrite existing key files")
)

func main() {
	flag.Parse()

	log.SetFlags(0)

	if *bits < 1024 {
		log.Fatalf("Key size must be at least 1024 bits, got %d", *bits)
	}
	if *bits < 2048 {
		log.Printf("Warning: the session cipher upgrade needs a 2048-bit server key or larger")
	}

	// Refuse to clobber existing keys unless forced.
	if !*force {
		for _, path := range []string{*pubPath, *keyPath} {
			if _, err := os.Stat(path); err == nil {
				log.Fatalf("%s already exists (use -force to overwrite)", path)
			}
		}
	}

	log.Printf("Generating %d-bit RSA key pair...", *bits)
	kp, err := keys.GenerateKeyPair(*bits)
	if err != nil {
		log.Fatalf("Failed to generate key pair: %v", err)
	}

	if err := keys.SaveKeyPair(kp, *pubPath, *keyPath); err != nil {
		log.Fatalf("Failed to save key pair: %v", err)
	}

	fmt.Printf("Public key:  %s\n", *pubPath)
	fmt.Printf("Private key: %s\n", *keyPath)
	fmt.Printf("Fingerprint: %s\n", keys.Fingerprint(kp.PublicKey))
}
