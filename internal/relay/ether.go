package relay

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatEther renders a wei amount in ether with full precision and at
// least one fractional digit, e.g. "0.0" or "1.5".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}

	s := decimal.NewFromBigInt(wei, -18).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}

// etherFloat is used for gauges only.
func etherFloat(wei *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(wei, -18).Float64()

	return f
}
