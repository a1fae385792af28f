package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope is the hybrid-encrypted response wrapper understood by SDK
// clients. The payload is AES-256-GCM encrypted under a fresh per-call key;
// only the small AES key is wrapped with RSA-OAEP, so RSA never touches the
// payload itself. GCM gives the payload both confidentiality and tamper
// detection.
type Envelope struct {
	Encrypted     bool   `json:"encrypted"`
	EncryptedData string `json:"encryptedData"`
	EncryptedKey  string `json:"encryptedKey"`
	IV            string `json:"iv"`
	AuthTag       string `json:"authTag"`
}

// EncryptPayload seals the JSON serialization of payload for the holder of
// the given PEM public key. Every failure is a wrapped ErrEncryption;
// callers fall back to a plaintext response since encryption is an optional
// enhancement, not a correctness requirement.
func EncryptPayload(payload any, pemData string) (*Envelope, error) {
	pub, err := parsePublicKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrEncryption, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// Seal appends the tag; clients expect ciphertext and tag separately.
	tagAt := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagAt], sealed[tagAt:]

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap key: %v", ErrEncryption, err)
	}

	return &Envelope{
		Encrypted:     true,
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedKey:  base64.StdEncoding.EncodeToString(wrappedKey),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		AuthTag:       base64.StdEncoding.EncodeToString(tag),
	}, nil
}
