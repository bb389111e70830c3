// Package escrowvault is the custody layer behind
// chainplugin.Plugin.GenerateEscrowAccount: each escrow account gets
// its own fresh BIP39 mnemonic, encrypted at rest with Argon2id +
// AES-256-GCM under the operator-supplied vault passphrase, and
// addressed by an opaque keyRef that survives process restarts. It is
// built the way internal/wallet/crypto.go encrypts a mnemonic,
// generalized from one passphrase-protected wallet seed file to many
// small per-escrow seed files, one per chainplugin.Escrow.KeyRef.
package escrowvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	argon2SaltLen     = 32
)

// encryptedSeed is the on-disk representation of one escrow's seed.
type encryptedSeed struct {
	Version    int    `json:"version"`
	Ciphertext []byte `json:"ciphertext"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
}

func encryptMnemonic(mnemonic, passphrase string) (*encryptedSeed, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("escrowvault: failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	defer secureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("escrowvault: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("escrowvault: failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("escrowvault: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(mnemonic), nil)
	return &encryptedSeed{Version: 1, Ciphertext: ciphertext, Salt: salt, Nonce: nonce}, nil
}

// decryptMnemonic returns the raw mnemonic bytes rather than a string
// so the caller can secureClear the actual decrypted buffer; a Go
// string's backing array can't be scrubbed in place, so converting to
// one any earlier than strictly necessary would leave an unscrubbable
// copy of the mnemonic behind.
func decryptMnemonic(enc *encryptedSeed, passphrase string) ([]byte, error) {
	key := argon2.IDKey([]byte(passphrase), enc.Salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	defer secureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("escrowvault: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("escrowvault: failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("escrowvault: failed to decrypt (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

func saveEncryptedSeed(path string, enc *encryptedSeed) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("escrowvault: failed to create key directory: %w", err)
	}
	data, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("escrowvault: failed to marshal encrypted seed: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("escrowvault: failed to write key file: %w", err)
	}
	return nil
}

func loadEncryptedSeed(path string) (*encryptedSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("escrowvault: failed to read key file: %w", err)
	}
	var enc encryptedSeed
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("escrowvault: failed to unmarshal key file: %w", err)
	}
	return &enc, nil
}

func secureClear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
