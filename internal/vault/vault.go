// Package vault шифрует и расшифровывает учётные данные, хранящиеся в настройках.
//
// Формат конверта: hex(iv):hex(ciphertext), шифр AES-256-CBC с дополнением PKCS#7.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
)

var (
	// ErrNoKey возвращается, если ключ шифрования не задан.
	ErrNoKey = errors.New("encryption key is not configured")
	// ErrInvalidEnvelope возвращается, если значение не является корректным конвертом iv:ciphertext.
	ErrInvalidEnvelope = errors.New("invalid encrypted envelope")
)

var envelopePattern = regexp.MustCompile(`^[0-9a-fA-F]+:[0-9a-fA-F]+$`)

// Vault хранит ключ шифрования.
type Vault struct {
	key []byte
}

// New создаёт хранилище. Ключ AES-256 выводится как SHA-256 от секрета.
func New(secret string) *Vault {
	if secret == "" {
		return &Vault{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Vault{key: sum[:]}
}

// IsEncrypted сообщает, имеет ли значение форму конверта hex:hex.
func IsEncrypted(text string) bool {
	return envelopePattern.MatchString(text)
}

// Encrypt шифрует открытый текст и возвращает конверт.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if len(v.key) == 0 {
		return "", ErrNoKey
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt расшифровывает конверт, созданный Encrypt.
func (v *Vault) Decrypt(envelope string) (string, error) {
	if len(v.key) == 0 {
		return "", ErrNoKey
	}
	if !IsEncrypted(envelope) {
		return "", ErrInvalidEnvelope
	}

	sep := bytes.IndexByte([]byte(envelope), ':')
	iv, err := hex.DecodeString(envelope[:sep])
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidEnvelope
	}
	ciphertext, err := hex.DecodeString(envelope[sep+1:])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrInvalidEnvelope
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Reveal возвращает открытое значение: конверт расшифровывается, остальное возвращается как есть.
func (v *Vault) Reveal(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return v.Decrypt(value)
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidEnvelope
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrInvalidEnvelope
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidEnvelope
		}
	}
	return data[:len(data)-n], nil
}
