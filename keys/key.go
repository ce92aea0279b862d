// Package keys manages the RSA key material used to sign and verify tokens.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AlgorithmRS256 is the only signing algorithm issued and accepted
const AlgorithmRS256 = "RS256"

// DefaultKeySize is the RSA modulus size of generated keys
const DefaultKeySize = 2048

// minKeySize rejects keys too weak for RS256
const minKeySize = 2048

var (
	// ErrNoActiveKey is returned when no key can sign
	ErrNoActiveKey = errors.New("no active signing key")

	// ErrKeyNotFound is returned when no validation key matches a key id
	ErrKeyNotFound = errors.New("signing key not found")
)

// Key is an RSA key pair identified by its RFC 7638 thumbprint.
type Key struct {
	ID        string
	Algorithm string

	// PrivateKey is nil for verification-only keys
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey

	CreatedAt time.Time

	// RetiredAt is zero while the key may sign
	RetiredAt time.Time
}

// NewKey wraps an RSA private key.
func NewKey(priv *rsa.PrivateKey, createdAt time.Time) (*Key, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	if priv.N.BitLen() < minKeySize {
		return nil, fmt.Errorf("RSA key size %d is below the minimum of %d bits", priv.N.BitLen(), minKeySize)
	}
	return &Key{
		ID:         Thumbprint(&priv.PublicKey),
		Algorithm:  AlgorithmRS256,
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
		CreatedAt:  createdAt,
	}, nil
}

// NewVerificationKey wraps an RSA public key that can only verify.
func NewVerificationKey(pub *rsa.PublicKey, createdAt time.Time) (*Key, error) {
	if pub == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	return &Key{
		ID:        Thumbprint(pub),
		Algorithm: AlgorithmRS256,
		PublicKey: pub,
		CreatedAt: createdAt,
	}, nil
}

// GenerateKey creates a new RSA key of the given size in bits.
func GenerateKey(bits int, now time.Time) (*Key, error) {
	if bits == 0 {
		bits = DefaultKeySize
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return NewKey(priv, now)
}

// CanSign reports whether the key holds a private key and has not been retired.
func (k *Key) CanSign() bool {
	return k.PrivateKey != nil && k.RetiredAt.IsZero()
}

// Thumbprint computes the RFC 7638 JWK thumbprint of an RSA public key.
func Thumbprint(pub *rsa.PublicKey) string {
	// Member order is lexicographic as required for the canonical form.
	canonical, _ := json.Marshal(struct {
		E   string `json:"e"`
		Kty string `json:"kty"`
		N   string `json:"n"`
	}{
		E:   encodeInt(big.NewInt(int64(pub.E))),
		Kty: "RSA",
		N:   encodeInt(pub.N),
	})
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func encodeInt(i *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(i.Bytes())
}

// JSONWebKey is the public JWK form of a key.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is a JWK set document.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JWK returns the public JWK of the key.
func (k *Key) JWK() JSONWebKey {
	return JSONWebKey{
		Kty: "RSA",
		Use: "sig",
		Kid: k.ID,
		Alg: k.Algorithm,
		N:   encodeInt(k.PublicKey.N),
		E:   encodeInt(big.NewInt(int64(k.PublicKey.E))),
	}
}

// EncodePrivateKeyPEM encodes priv as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes pub as a PKIX PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKeyPEM(data []byte, createdAt time.Time) (*Key, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKey(priv, createdAt)
}

// ParsePublicKeyPEM parses a PKIX RSA public key or certificate.
func ParsePublicKeyPEM(data []byte, createdAt time.Time) (*Key, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return NewVerificationKey(pub, createdAt)
}
