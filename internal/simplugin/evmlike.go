package simplugin

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/escrowvault"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// EVMLike is a reference Plugin for account-based chains that address
// by the last 20 bytes of Keccak256(uncompressed pubkey), the way
// internal/wallet/evm.go's PublicKeyToEVMAddress does, built on
// go-ethereum's own crypto package rather than reimplementing it.
type EVMLike struct {
	chainID    string
	nativeCode string
	vault      *escrowvault.Vault
	ledger     *ledger
}

// NewEVMLike builds an EVM-like plugin for chainID, whose native/gas
// asset is nativeCode (e.g. "ETH@ETH" or "MATIC@POLYGON").
func NewEVMLike(chainID, nativeCode string, vault *escrowvault.Vault) *EVMLike {
	return &EVMLike{chainID: chainID, nativeCode: nativeCode, vault: vault, ledger: newLedger()}
}

// CreditExternalDeposit simulates a counterparty funding address with
// amount of assetCode.
func (p *EVMLike) CreditExternalDeposit(address, assetCode string, amount money.Amount, txID string, blockTimeMS, firstSeenMS int64) {
	p.ledger.creditExternalDeposit(address, assetCode, amount, txID, blockTimeMS, firstSeenMS)
}

func (p *EVMLike) ChainID() string { return p.chainID }

func (p *EVMLike) ValidateAddress(ctx context.Context, addr string) (bool, error) {
	return common.IsHexAddress(addr), nil
}

func (p *EVMLike) GenerateEscrowAccount(ctx context.Context, assetCode string) (chainplugin.Escrow, error) {
	keyRef, err := p.vault.GenerateEscrow(p.chainID)
	if err != nil {
		return chainplugin.Escrow{}, err
	}
	priv, err := p.vault.PrivateKey(keyRef)
	if err != nil {
		return chainplugin.Escrow{}, err
	}

	address := crypto.PubkeyToAddress(priv.ToECDSA().PublicKey).Hex()
	escrow := chainplugin.Escrow{Address: address, KeyRef: keyRef}
	p.ledger.registerAddress(escrow.Address)
	return escrow, nil
}

func (p *EVMLike) QuoteNativeForUSD(ctx context.Context, usdAmount money.Amount) (chainplugin.QuoteResult, error) {
	const pricePerUnit = "3000" // USD per native unit; static, see quoteAtFixedPrice
	return chainplugin.QuoteResult{
		NativeAmount: quoteAtFixedPrice(usdAmount, pricePerUnit, 18),
		QuotePrice:   pricePerUnit,
		QuoteAsOfMS:  time.Now().UnixMilli(),
	}, nil
}

func (p *EVMLike) ScanDeposits(ctx context.Context, address string, sinceCursor string) (chainplugin.ScanResult, error) {
	return p.ledger.scanDeposits(address, sinceCursor)
}

func (p *EVMLike) Submit(ctx context.Context, clientNonce string, from chainplugin.Escrow, to string, asset string, amount money.Amount) (string, error) {
	return p.ledger.submit(clientNonce, from.Address, to, asset, amount)
}

func (p *EVMLike) ResolveByNonce(ctx context.Context, clientNonce string) (string, error) {
	return p.ledger.resolveByNonce(clientNonce)
}

func (p *EVMLike) GetTxStatus(ctx context.Context, txid string) (chainplugin.TxStatus, error) {
	return confirmedStatus(), nil
}

func (p *EVMLike) GetBalance(ctx context.Context, address string, assetCode string) (money.Amount, error) {
	return p.ledger.balance(address, assetCode), nil
}
