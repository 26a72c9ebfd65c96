package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	"agenthub.dev/dispatch/internal/signing"
)

// Generates an Ed25519 keypair for job signing. The private key stays on
// the control plane, the public key is distributed to workers.
func main() {
	privPath := flag.String("private", "signing_key.pem", "output path for the private key")
	pubPath := flag.String("public", "signing_key.pub.pem", "output path for the public key")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen error: %v\n", err)
		os.Exit(2)
	}

	privPEM, err := signing.EncodePrivateKeyPEM(priv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding private key: %v\n", err)
		os.Exit(2)
	}
	pubPEM, err := signing.EncodePublicKeyPEM(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding public key: %v\n", err)
		os.Exit(2)
	}

	if err := os.WriteFile(*privPath, privPEM, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "writing %s: %v\n", *privPath, err)
		os.Exit(2)
	}
	if err := os.WriteFile(*pubPath, pubPEM, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "writing %s: %v\n", *pubPath, err)
		os.Exit(2)
	}

	fmt.Printf("private key written to %s\n", *privPath)
	fmt.Printf("public key written to %s\n", *pubPath)
}
