package escrowvault

import (
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
)

// Vault generates, encrypts, and reveals the signing keys behind
// escrow accounts. One Vault instance is shared across every chain
// plugin in a process; keyRef namespaces its encrypted seed files by
// chain so two plugins can never collide on the same file.
type Vault struct {
	dir        string
	passphrase string
}

// New builds a Vault rooted at dir (typically <dataDir>/escrow-keys),
// encrypting every seed under passphrase. The caller is responsible
// for keeping passphrase out of version control (it comes from config
// or an environment variable, never a literal in code).
func New(dir, passphrase string) *Vault {
	return &Vault{dir: dir, passphrase: passphrase}
}

// GenerateEscrow creates a brand-new 24-word BIP39 mnemonic for one
// escrow account, encrypts it at rest, and returns a keyRef that
// survives process restarts (spec §4.1's
// generateEscrowAccount contract).
func (v *Vault) GenerateEscrow(chainID string) (keyRef string, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", apierr.Invariant(err, "failed to generate escrow entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", apierr.Invariant(err, "failed to generate escrow mnemonic")
	}

	enc, err := encryptMnemonic(mnemonic, v.passphrase)
	if err != nil {
		return "", apierr.Invariant(err, "failed to encrypt escrow seed")
	}

	keyRef = chainID + "/" + uuid.NewString()
	if err := saveEncryptedSeed(v.pathFor(keyRef), enc); err != nil {
		return "", apierr.Invariant(err, "failed to persist escrow seed")
	}
	return keyRef, nil
}

// PrivateKey reveals the secp256k1 signing key behind keyRef. Every
// call re-derives it from the encrypted seed on disk rather than
// caching it; the decrypted mnemonic buffer and derived seed bytes are
// zeroed as soon as the key is derived from them (secureClear), except
// for the one string copy bip39.NewSeed requires, which Go's string
// immutability puts out of reach.
func (v *Vault) PrivateKey(keyRef string) (*btcec.PrivateKey, error) {
	enc, err := loadEncryptedSeed(v.pathFor(keyRef))
	if err != nil {
		return nil, apierr.Invariant(err, "failed to load escrow seed for %q", keyRef)
	}
	mnemonicBytes, err := decryptMnemonic(enc, v.passphrase)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to decrypt escrow seed for %q", keyRef)
	}
	defer secureClear(mnemonicBytes)

	// bip39.NewSeed only takes a string, so this copy is unavoidable;
	// it is the one mnemonic copy this function cannot scrub, since Go
	// strings are immutable and secureClear(mnemonicBytes) above only
	// reaches the decrypted buffer it was made from.
	seed := bip39.NewSeed(string(mnemonicBytes), "")
	defer secureClear(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to derive escrow master key for %q", keyRef)
	}

	// Each escrow's mnemonic is single-purpose (freshly generated per
	// chainplugin.Plugin.GenerateEscrowAccount call), so the master
	// key itself is the escrow's signing key -- there is no multi-
	// account tree to walk, unlike a user-facing HD wallet.
	privKey, err := master.ECPrivKey()
	if err != nil {
		return nil, apierr.Invariant(err, "failed to derive escrow private key for %q", keyRef)
	}
	return privKey, nil
}

func (v *Vault) pathFor(keyRef string) string {
	return filepath.Join(v.dir, fmt.Sprintf("%x.json", []byte(keyRef)))
}
