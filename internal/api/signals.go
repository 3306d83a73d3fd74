package api

import (
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}

// RandomSignals builds a demo feed for the dashboard ticker. The values are
// not advice and are never sent anywhere.
func RandomSignals(rng *rand.Rand, symbols []string, n int) []Signal {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	now := time.Now().UTC().Truncate(time.Second)
	signals := make([]Signal, 0, max(n, 0))
	for i := 0; i < n; i++ {
		side := Buy
		if rng.IntN(2) == 1 {
			side = Sell
		}
		signals = append(signals, Signal{
			Symbol:     symbols[rng.IntN(len(symbols))],
			Side:       side,
			Price:      decimal.NewFromFloat(1 + rng.Float64()*99999).Round(2),
			Confidence: float64(50+rng.IntN(50)) / 100,
			At:         now.Add(-time.Duration(i) * time.Minute),
		})
	}
	return signals
}
