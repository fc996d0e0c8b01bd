package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
)

const (
	// SecretKeyEnv overrides the machine-derived encryption key.
	SecretKeyEnv = "CANVASFLOW_SECRET_KEY"

	encryptedPrefix = "enc:v1:"
)

// codec encrypts keys at rest with AES-GCM. The key is derived from
// SecretKeyEnv when set, otherwise from the user, host and store scope.
type codec struct {
	aead cipher.AEAD
}

func newCodec(scope string) (*codec, error) {
	block, err := aes.NewCipher(deriveKey(scope))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &codec{aead: aead}, nil
}

func deriveKey(scope string) []byte {
	if env := strings.TrimSpace(os.Getenv(SecretKeyEnv)); env != "" {
		if decoded, err := base64.StdEncoding.DecodeString(env); err == nil && len(decoded) > 0 {
			sum := sha256.Sum256(decoded)
			return sum[:]
		}
		sum := sha256.Sum256([]byte(env))
		return sum[:]
	}

	username := "unknown"
	if current, err := user.Current(); err == nil && current != nil {
		username = current.Username
	}
	hostname, _ := os.Hostname()
	sum := sha256.Sum256([]byte(fmt.Sprintf("canvasflow:credentials:%s:%s:%s", username, hostname, strings.TrimSpace(scope))))
	return sum[:]
}

func (c *codec) encrypt(value string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	payload := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

func (c *codec) decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return "", errors.New("credentials: value is not encrypted")
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("credentials: decoding secret: %w", err)
	}
	n := c.aead.NonceSize()
	if len(payload) < n {
		return "", errors.New("credentials: encrypted payload is too short")
	}
	plain, err := c.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypting secret: %w", err)
	}
	return string(plain), nil
}
