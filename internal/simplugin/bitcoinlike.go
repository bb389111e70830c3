package simplugin

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/escrowvault"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// BitcoinLike is a reference Plugin for UTXO chains that address by
// P2WPKH, derived the way internal/wallet/address.go's deriveP2WPKH
// does: hash160 of the compressed pubkey, witness v0 program.
// Settlement is an in-memory ledger, not a real UTXO set.
type BitcoinLike struct {
	chainID    string
	params     *chaincfg.Params
	nativeCode string
	vault      *escrowvault.Vault
	ledger     *ledger
}

// NewBitcoinLike builds a bitcoin-like plugin for chainID, whose
// native/gas asset is nativeCode (e.g. "BTC@BITCOIN"). params selects
// the address version bytes; pass &chaincfg.MainNetParams for a
// bitcoin-shaped chain, or a chain-specific one if the broker ever
// configures a testnet/regtest deployment.
func NewBitcoinLike(chainID, nativeCode string, params *chaincfg.Params, vault *escrowvault.Vault) *BitcoinLike {
	return &BitcoinLike{
		chainID:    chainID,
		params:     params,
		nativeCode: nativeCode,
		vault:      vault,
		ledger:     newLedger(),
	}
}

// CreditExternalDeposit simulates a counterparty funding address with
// amount of assetCode; it is how tests and the demo command put money
// into the ledger from outside the broker.
func (p *BitcoinLike) CreditExternalDeposit(address, assetCode string, amount money.Amount, txID string, blockTimeMS, firstSeenMS int64) {
	p.ledger.creditExternalDeposit(address, assetCode, amount, txID, blockTimeMS, firstSeenMS)
}

func (p *BitcoinLike) ChainID() string { return p.chainID }

func (p *BitcoinLike) ValidateAddress(ctx context.Context, addr string) (bool, error) {
	_, err := btcutil.DecodeAddress(addr, p.params)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (p *BitcoinLike) GenerateEscrowAccount(ctx context.Context, assetCode string) (chainplugin.Escrow, error) {
	keyRef, err := p.vault.GenerateEscrow(p.chainID)
	if err != nil {
		return chainplugin.Escrow{}, fmt.Errorf("simplugin: %w", err)
	}
	priv, err := p.vault.PrivateKey(keyRef)
	if err != nil {
		return chainplugin.Escrow{}, fmt.Errorf("simplugin: %w", err)
	}

	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, p.params)
	if err != nil {
		return chainplugin.Escrow{}, fmt.Errorf("simplugin: failed to derive P2WPKH address: %w", err)
	}

	escrow := chainplugin.Escrow{Address: addr.EncodeAddress(), KeyRef: keyRef}
	p.ledger.registerAddress(escrow.Address)
	return escrow, nil
}

func (p *BitcoinLike) QuoteNativeForUSD(ctx context.Context, usdAmount money.Amount) (chainplugin.QuoteResult, error) {
	const pricePerUnit = "20000" // USD per native unit; static, see quoteAtFixedPrice
	return chainplugin.QuoteResult{
		NativeAmount: quoteAtFixedPrice(usdAmount, pricePerUnit, 8),
		QuotePrice:   pricePerUnit,
		QuoteAsOfMS:  time.Now().UnixMilli(),
	}, nil
}

func (p *BitcoinLike) ScanDeposits(ctx context.Context, address string, sinceCursor string) (chainplugin.ScanResult, error) {
	return p.ledger.scanDeposits(address, sinceCursor)
}

func (p *BitcoinLike) Submit(ctx context.Context, clientNonce string, from chainplugin.Escrow, to string, asset string, amount money.Amount) (string, error) {
	return p.ledger.submit(clientNonce, from.Address, to, asset, amount)
}

func (p *BitcoinLike) ResolveByNonce(ctx context.Context, clientNonce string) (string, error) {
	return p.ledger.resolveByNonce(clientNonce)
}

func (p *BitcoinLike) GetTxStatus(ctx context.Context, txid string) (chainplugin.TxStatus, error) {
	return confirmedStatus(), nil
}

func (p *BitcoinLike) GetBalance(ctx context.Context, address string, assetCode string) (money.Amount, error) {
	return p.ledger.balance(address, assetCode), nil
}
