package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"agenthub.dev/dispatch/internal/model"
)

const signaturePrefix = "base64:"

var (
	ErrMissingSignature = errors.New("job missing signature field")
	ErrSignatureFormat  = errors.New("invalid signature format")
	ErrVerifyFailed     = errors.New("job signature verification failed")
)

// Signer signs job payloads with the control plane's Ed25519 private key.
// The private key never leaves the control plane.
type Signer struct {
	priv ed25519.PrivateKey
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv}
}

// Sign produces a detached signature over the canonical encoding of every
// job field except Signature. The result uses the "base64:" wire format.
func (s *Signer) Sign(job model.Job) (string, error) {
	msg, err := canonicalPayload(job)
	if err != nil {
		return "", fmt.Errorf("canonicalizing job payload: %w", err)
	}
	sig := ed25519.Sign(s.priv, msg)
	return signaturePrefix + base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a job's signature against the given public key. It
// recomputes the canonical payload over the identical field set; a job
// mutated anywhere after signing fails here.
func Verify(job model.Job, pub ed25519.PublicKey) error {
	if job.Signature == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(job.Signature, signaturePrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrSignatureFormat, signaturePrefix)
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(job.Signature, signaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureFormat, err)
	}

	msg, err := canonicalPayload(job)
	if err != nil {
		return fmt.Errorf("canonicalizing job payload: %w", err)
	}

	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("%w (job_id=%s)", ErrVerifyFailed, job.JobID)
	}
	return nil
}

// canonicalPayload renders the job as compact JSON with sorted keys and the
// signature field removed. Signer and verifier must agree on this encoding
// byte for byte or verification is meaningless.
func canonicalPayload(job model.Job) ([]byte, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	// Round-trip through a map so keys come out sorted. UseNumber keeps
	// numeric fields byte-identical instead of drifting through float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	delete(fields, "signature")

	return json.Marshal(fields)
}

// LoadPrivateKey reads a PEM-encoded (PKCS#8) Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not Ed25519")
	}
	return priv, nil
}

// LoadPublicKey reads a PEM-encoded (PKIX) Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not Ed25519")
	}
	return pub, nil
}

// ParsePublicKeyPEM parses a public key held in memory (e.g. loaded from a
// worker config file).
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not Ed25519")
	}
	return pub, nil
}

// EncodePrivateKeyPEM and EncodePublicKeyPEM serialize keys for cmd/keygen.
func EncodePrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func EncodePublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return block, nil
}
