package simplugin

import (
	"math/big"

	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// quoteAtFixedPrice converts a USD amount into a native-asset amount
// at nativeDecimals precision, using a static usdPerNative price. Real
// adapters would ask a price feed instead; these reference plugins
// only need something deterministic for tests and the demo command.
func quoteAtFixedPrice(usd money.Amount, usdPerNative string, nativeDecimals uint8) money.Amount {
	usdWhole := new(big.Float).Quo(
		new(big.Float).SetInt(usd.Units()),
		new(big.Float).SetInt(pow10(usd.Decimals())),
	)

	price, _, err := big.ParseFloat(usdPerNative, 10, 200, big.ToNearestEven)
	if err != nil {
		price = big.NewFloat(1)
	}

	nativeWhole := new(big.Float).Quo(usdWhole, price)
	nativeUnitsFloat := new(big.Float).Mul(nativeWhole, new(big.Float).SetInt(pow10(nativeDecimals)))
	nativeUnits, _ := nativeUnitsFloat.Int(nil)
	return money.FromUnits(nativeUnits, nativeDecimals)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
