package proofbundle

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ssh"
)

// KeyKind names the signature scheme bound to a registered actor key.
type KeyKind string

const (
	KeyEd25519   KeyKind = "ed25519"
	KeyECDSAP256 KeyKind = "ecdsa-p256"
)

// ErrUnsupportedKey is returned for keys that are neither Ed25519 nor P-256.
var ErrUnsupportedKey = errors.New("unsupported public key")

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// ParsePublicKey accepts a PKIX PEM block or an OpenSSH authorized-key line
// and returns the key with its kind.
func ParsePublicKey(text string) (crypto.PublicKey, KeyKind, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", fmt.Errorf("%w: empty key", ErrUnsupportedKey)
	}

	if strings.HasPrefix(text, "-----BEGIN") {
		if pub, err := jwt.ParseEdPublicKeyFromPEM([]byte(text)); err == nil {
			return pub, KeyEd25519, nil
		}
		pub, err := jwt.ParseECPublicKeyFromPEM([]byte(text))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedKey, err.Error())
		}
		return classify(pub)
	}

	sshKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(text))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedKey, err.Error())
	}
	cpk, ok := sshKey.(ssh.CryptoPublicKey)
	if !ok {
		return nil, "", fmt.Errorf("%w: ssh key type %s", ErrUnsupportedKey, sshKey.Type())
	}
	return classify(cpk.CryptoPublicKey())
}

func classify(pub crypto.PublicKey) (crypto.PublicKey, KeyKind, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return k, KeyEd25519, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, "", fmt.Errorf("%w: only the P-256 curve is accepted", ErrUnsupportedKey)
		}
		return k, KeyECDSAP256, nil
	default:
		return nil, "", fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

func signingMethod(kind KeyKind) (jwt.SigningMethod, error) {
	switch kind {
	case KeyEd25519:
		return jwt.SigningMethodEdDSA, nil
	case KeyECDSAP256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedKey, kind)
	}
}

// Verify checks sig over the exact message bytes with the given key.
// ECDSA signatures are the 64-byte r||s form.
func Verify(kind KeyKind, pub crypto.PublicKey, message, sig []byte) error {
	m, err := signingMethod(kind)
	if err != nil {
		return err
	}
	if err := m.Verify(string(message), sig, pub); err != nil {
		return fmt.Errorf("%w: %s", ErrBadSignature, err.Error())
	}
	return nil
}

// Sign signs message with priv. Used by actor-side tooling and tests.
func Sign(kind KeyKind, priv crypto.PrivateKey, message []byte) ([]byte, error) {
	m, err := signingMethod(kind)
	if err != nil {
		return nil, err
	}
	sig, err := m.Sign(string(message), priv)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	return sig, nil
}

// Seal encodes msg and signs it, producing a wire bundle.
func Seal(msg Message, kind KeyKind, priv crypto.PrivateKey) (Bundle, error) {
	raw, err := Encode(msg)
	if err != nil {
		return Bundle{}, err
	}
	sig, err := Sign(kind, priv, raw)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Message: EncodeBytes(raw), Signature: EncodeBytes(sig)}, nil
}

// GenerateKey creates a fresh key pair of the given kind and returns the
// private key with PKIX PEM of the public key.
func GenerateKey(kind KeyKind) (crypto.PrivateKey, string, error) {
	var priv crypto.PrivateKey
	var pub crypto.PublicKey
	switch kind {
	case KeyEd25519:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, "", fmt.Errorf("generate ed25519 key: %w", err)
		}
		priv, pub = k, p
	case KeyECDSAP256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, "", fmt.Errorf("generate p256 key: %w", err)
		}
		priv, pub = k, &k.PublicKey
	default:
		return nil, "", fmt.Errorf("%w: kind %q", ErrUnsupportedKey, kind)
	}
	pubPEM, err := PublicKeyPEM(pub)
	if err != nil {
		return nil, "", err
	}
	return priv, pubPEM, nil
}

// PublicKeyPEM renders pub as a PKIX "PUBLIC KEY" PEM block.
func PublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// PrivateKeyPEM renders priv as a PKCS#8 "PRIVATE KEY" PEM block.
func PrivateKeyPEM(priv crypto.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ParsePrivateKey loads a PEM private key and reports its kind.
func ParsePrivateKey(pemText []byte) (crypto.PrivateKey, KeyKind, error) {
	if k, err := jwt.ParseEdPrivateKeyFromPEM(pemText); err == nil {
		return k, KeyEd25519, nil
	}
	k, err := jwt.ParseECPrivateKeyFromPEM(pemText)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedKey, err.Error())
	}
	if k.Curve != elliptic.P256() {
		return nil, "", fmt.Errorf("%w: only the P-256 curve is accepted", ErrUnsupportedKey)
	}
	return k, KeyECDSAP256, nil
}
