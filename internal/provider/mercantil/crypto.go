package mercantil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// keySize is fixed by the bank contract: AES-128.
const keySize = 16

// normalizeKey truncates or zero-pads the shared secret to exactly 16
// bytes. This rule is part of the provider contract and must be preserved
// for compatibility with the bank's decryption side.
func normalizeKey(secret string) []byte {
	key := make([]byte, keySize)
	copy(key, secret)
	return key
}

// encryptField encrypts a sensitive payload field (customer id, phone,
// OTP) the way the bank expects: AES-128-CBC with a zero IV, PKCS#7
// padding, base64 output.
func encryptField(secret, plaintext string) (string, error) {
	block, err := aes.NewCipher(normalizeKey(secret))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), block.BlockSize())

	iv := make([]byte, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}
