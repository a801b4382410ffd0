package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"outreachly/config"
)

// Encrypt seals a credential with AES-CFB under the configured encryption
// key and returns it base64-encoded. Empty input stays empty so optional
// credential columns round-trip without turning into ciphertext.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher([]byte(config.AppConfig.EncryptionKey))
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	sealed := make([]byte, aes.BlockSize+len(plaintext))
	iv := sealed[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCFBEncrypter(block, iv).XORKeyStream(sealed[aes.BlockSize:], []byte(plaintext))
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Sender SMTP and IMAP passwords are stored only
// in this sealed form and decrypted at the moment of dialing.
func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	block, err := aes.NewCipher([]byte(config.AppConfig.EncryptionKey))
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode credential: %w", err)
	}
	if len(sealed) < aes.BlockSize {
		return "", fmt.Errorf("credential too short to carry an IV")
	}

	iv, body := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(plain, body)
	return string(plain), nil
}
