package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

// openEnvelope performs the client-side half of the hybrid scheme: unwrap the
// AES key with the private key, then open ciphertext||tag with GCM.
func openEnvelope(t *testing.T, env *Envelope, priv *rsa.PrivateKey) []byte {
	t.Helper()
	wrapped, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		t.Fatalf("decode encryptedKey: %v", err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		t.Fatalf("unwrap key: %v", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		t.Fatalf("decode encryptedData: %v", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		t.Fatalf("decode iv: %v", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		t.Fatalf("decode authTag: %v", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return plaintext
}

func TestEncryptPayloadRoundTrip(t *testing.T) {
	priv, pemData := testKeyPair(t)

	payload := map[string]any{
		"success":       true,
		"session_token": "abc.def.ghi",
		"entity_id":     "lobster_1",
	}
	env, err := EncryptPayload(payload, pemData)
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}
	if !env.Encrypted {
		t.Fatalf("envelope not flagged encrypted")
	}
	if len(mustB64(t, env.IV)) != 12 {
		t.Fatalf("expected 96-bit GCM nonce")
	}
	if len(mustB64(t, env.AuthTag)) != 16 {
		t.Fatalf("expected 16-byte auth tag")
	}

	var decoded map[string]any
	if err := json.Unmarshal(openEnvelope(t, env, priv), &decoded); err != nil {
		t.Fatalf("unmarshal plaintext: %v", err)
	}
	if decoded["entity_id"] != "lobster_1" || decoded["session_token"] != "abc.def.ghi" {
		t.Fatalf("payload mangled: %v", decoded)
	}
}

func TestEncryptPayloadFreshKeyPerCall(t *testing.T) {
	_, pemData := testKeyPair(t)
	a, err := EncryptPayload(map[string]string{"v": "1"}, pemData)
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}
	b, err := EncryptPayload(map[string]string{"v": "1"}, pemData)
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}
	if a.EncryptedKey == b.EncryptedKey || a.IV == b.IV {
		t.Fatalf("expected fresh key and nonce per call")
	}
}

func TestEncryptPayloadBadKey(t *testing.T) {
	if _, err := EncryptPayload(map[string]string{"v": "1"}, "not a key"); !errors.Is(err, ErrEncryption) {
		t.Fatalf("expected ErrEncryption, got %v", err)
	}
}

func mustB64(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	return raw
}
