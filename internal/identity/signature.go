package identity

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature reports whether sigB64 is a valid RSA PKCS#1 v1.5 SHA-256
// signature over message by the holder of the given PEM public key. Malformed
// keys or signatures are a plain false: callers treat "bad signature" and
// "unparseable signature" as the same authentication failure.
func VerifySignature(pemData, message, sigB64 string) bool {
	pub, err := parsePublicKey(pemData)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}
