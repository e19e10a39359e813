package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a spot/margin client. Empty credentials give a client
// limited to public market data.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
