package simplugin

import (
	"context"
	"crypto/sha512"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/escrowvault"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// SolanaLike is a reference Plugin for chains that key by an ed25519
// point rather than secp256k1 and address by base58(pubkey) with no
// checksum. The escrow's 32-byte secp256k1 scalar doubles as the
// ed25519 seed; one escrowvault mnemonic backs both curve families,
// clamped and scalar-multiplied by filippo.io/edwards25519 rather
// than secp256k1's own group law.
type SolanaLike struct {
	chainID    string
	nativeCode string
	vault      *escrowvault.Vault
	ledger     *ledger
}

// NewSolanaLike builds a solana-like plugin for chainID, whose
// native/gas asset is nativeCode (e.g. "SOL@SOLANA").
func NewSolanaLike(chainID, nativeCode string, vault *escrowvault.Vault) *SolanaLike {
	return &SolanaLike{chainID: chainID, nativeCode: nativeCode, vault: vault, ledger: newLedger()}
}

// CreditExternalDeposit simulates a counterparty funding address with
// amount of assetCode.
func (p *SolanaLike) CreditExternalDeposit(address, assetCode string, amount money.Amount, txID string, blockTimeMS, firstSeenMS int64) {
	p.ledger.creditExternalDeposit(address, assetCode, amount, txID, blockTimeMS, firstSeenMS)
}

func (p *SolanaLike) ChainID() string { return p.chainID }

func (p *SolanaLike) ValidateAddress(ctx context.Context, addr string) (bool, error) {
	decoded := base58.Decode(addr)
	return len(decoded) == 32, nil
}

func (p *SolanaLike) GenerateEscrowAccount(ctx context.Context, assetCode string) (chainplugin.Escrow, error) {
	keyRef, err := p.vault.GenerateEscrow(p.chainID)
	if err != nil {
		return chainplugin.Escrow{}, err
	}
	priv, err := p.vault.PrivateKey(keyRef)
	if err != nil {
		return chainplugin.Escrow{}, err
	}

	pubKey, err := scalarBasePoint(priv.Serialize())
	if err != nil {
		return chainplugin.Escrow{}, fmt.Errorf("simplugin: failed to derive solana-like keypair: %w", err)
	}

	escrow := chainplugin.Escrow{Address: base58.Encode(pubKey), KeyRef: keyRef}
	p.ledger.registerAddress(escrow.Address)
	return escrow, nil
}

func (p *SolanaLike) QuoteNativeForUSD(ctx context.Context, usdAmount money.Amount) (chainplugin.QuoteResult, error) {
	const pricePerUnit = "150" // USD per native unit; static, see quoteAtFixedPrice
	return chainplugin.QuoteResult{
		NativeAmount: quoteAtFixedPrice(usdAmount, pricePerUnit, 9),
		QuotePrice:   pricePerUnit,
		QuoteAsOfMS:  time.Now().UnixMilli(),
	}, nil
}

func (p *SolanaLike) ScanDeposits(ctx context.Context, address string, sinceCursor string) (chainplugin.ScanResult, error) {
	return p.ledger.scanDeposits(address, sinceCursor)
}

func (p *SolanaLike) Submit(ctx context.Context, clientNonce string, from chainplugin.Escrow, to string, asset string, amount money.Amount) (string, error) {
	return p.ledger.submit(clientNonce, from.Address, to, asset, amount)
}

func (p *SolanaLike) ResolveByNonce(ctx context.Context, clientNonce string) (string, error) {
	return p.ledger.resolveByNonce(clientNonce)
}

func (p *SolanaLike) GetTxStatus(ctx context.Context, txid string) (chainplugin.TxStatus, error) {
	return confirmedStatus(), nil
}

func (p *SolanaLike) GetBalance(ctx context.Context, address string, assetCode string) (money.Amount, error) {
	return p.ledger.balance(address, assetCode), nil
}

// scalarBasePoint derives an ed25519 public key from a 32-byte seed
// the way crypto/ed25519 does internally: SHA-512 the seed, clamp the
// low half as a scalar, multiply by the curve's base point.
func scalarBasePoint(seed []byte) ([]byte, error) {
	h := sha512.Sum512(seed)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, err
	}
	point := new(edwards25519.Point).ScalarBaseMult(s)
	return point.Bytes(), nil
}
