// Package assetreg is a read-only catalog of chains and assets,
// generalized from internal/chain/chain.go's per-chain Params registry
// and internal/chain/tokens.go's per-chain token table into a single
// flat lookup keyed by the fully-qualified asset code the rest of the
// broker uses on the wire: "SYMBOL@chainId".
package assetreg

import (
	"fmt"
	"strings"
)

// Asset describes one registered asset on one chain.
type Asset struct {
	ChainID  string
	Symbol   string
	Decimals uint8
	// Native marks the chain's gas/native asset (e.g. ETH on chainId
	// "ETH", MATIC on "POLYGON"). Exactly one asset per chain should
	// be native; it is the asset FIXED_USD_NATIVE commissions settle
	// in.
	Native bool
}

// Code returns the fully-qualified "SYMBOL@chainId" form.
func (a Asset) Code() string {
	return Code(a.Symbol, a.ChainID)
}

// Code joins a symbol and chain ID into the wire-format asset code.
func Code(symbol, chainID string) string {
	return fmt.Sprintf("%s@%s", symbol, chainID)
}

// ParseCode splits a fully-qualified asset code into symbol and chain
// ID. Returns an error if the code has no "@" separator.
func ParseCode(code string) (symbol, chainID string, err error) {
	i := strings.LastIndex(code, "@")
	if i < 0 {
		return "", "", fmt.Errorf("assetreg: %q is not a fully-qualified asset code (want SYMBOL@chainId)", code)
	}
	return code[:i], code[i+1:], nil
}

// Registry is an in-memory catalog of assets, built once at startup
// from the asset list passed to NewRegistry (cmd/otcbrokerd passes a
// built-in list) and never mutated afterward — callers only ever read it.
type Registry struct {
	byCode      map[string]Asset
	nativeByChn map[string]Asset
}

// NewRegistry builds a Registry from a flat asset list. Returns an
// error if two assets share a code, or if a chain declares more than
// one native asset.
func NewRegistry(assets []Asset) (*Registry, error) {
	r := &Registry{
		byCode:      make(map[string]Asset, len(assets)),
		nativeByChn: make(map[string]Asset),
	}
	for _, a := range assets {
		code := a.Code()
		if _, dup := r.byCode[code]; dup {
			return nil, fmt.Errorf("assetreg: duplicate asset code %q", code)
		}
		r.byCode[code] = a
		if a.Native {
			if existing, has := r.nativeByChn[a.ChainID]; has {
				return nil, fmt.Errorf("assetreg: chain %q has two native assets (%s, %s)", a.ChainID, existing.Symbol, a.Symbol)
			}
			r.nativeByChn[a.ChainID] = a
		}
	}
	return r, nil
}

// Lookup returns the Asset for a fully-qualified code.
func (r *Registry) Lookup(code string) (Asset, bool) {
	a, ok := r.byCode[code]
	return a, ok
}

// NativeAsset returns the native (gas) asset for a chain, used when
// resolving FIXED_USD_NATIVE commissions and OPERATOR_ADDRESS payouts.
func (r *Registry) NativeAsset(chainID string) (Asset, bool) {
	a, ok := r.nativeByChn[chainID]
	return a, ok
}

// IsSupported reports whether code names a registered asset.
func (r *Registry) IsSupported(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// Decimals returns the precision for a fully-qualified asset code,
// defaulting to 8 (the common chain precision in this registry) if the
// asset is unknown; callers that need strict validation should check
// IsSupported first.
func (r *Registry) Decimals(code string) uint8 {
	if a, ok := r.byCode[code]; ok {
		return a.Decimals
	}
	return 8
}

// List returns all registered assets, in no particular order.
func (r *Registry) List() []Asset {
	out := make([]Asset, 0, len(r.byCode))
	for _, a := range r.byCode {
		out = append(out, a)
	}
	return out
}
