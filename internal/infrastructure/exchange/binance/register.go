package binance

import (
	"tradeguard/internal/application/port"
	"tradeguard/internal/infrastructure/pricefeed"
)

// init() registers the mark price feed so the container can look it up by
// exchange name.
func init() {
	pricefeed.Register(Name, func(wsURL string) port.PriceFeed {
		return NewMarkPriceFeed(wsURL)
	})
}
