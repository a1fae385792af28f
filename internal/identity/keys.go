package identity

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// MinKeyBits is the smallest RSA modulus accepted at registration.
const MinKeyBits = 2048

// ValidateKey checks that pemData holds an RSA public key of at least
// MinKeyBits and returns the modulus size. Malformed input yields a wrapped
// ErrInvalidKey with a human-readable reason, never a panic.
func ValidateKey(pemData string) (int, error) {
	pub, err := parsePublicKey(pemData)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	bits := pub.N.BitLen()
	if bits < MinKeyBits {
		return 0, fmt.Errorf("%w: key is %d bits, need at least %d", ErrInvalidKey, bits, MinKeyBits)
	}
	return bits, nil
}

// Fingerprint returns the hex SHA-256 digest of the normalized PEM blob.
// Normalization collapses cosmetic re-encodings (surrounding whitespace,
// CRLF line endings, trailing blanks) so the same key always maps to the
// same fingerprint, which is what makes fingerprint uniqueness an effective
// duplicate-key guard.
func Fingerprint(pemData string) string {
	sum := sha256.Sum256([]byte(normalizePEM(pemData)))
	return hex.EncodeToString(sum[:])
}

func normalizePEM(pemData string) string {
	pemData = strings.ReplaceAll(pemData, "\r\n", "\n")
	lines := strings.Split(pemData, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
