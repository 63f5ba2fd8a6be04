// Package gasprice explains why a transaction may still be unmined by comparing its gas price
// with the price the network currently suggests.
package gasprice

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Ratio thresholds, in percent of the network gas price.
const (
	criticalRatio    = 50
	recommendedRatio = 80
)

// Verdict is a point in time assessment of a transaction's gas price.
type Verdict struct {
	Adequate       bool
	Issue          string
	Recommendation string
	Summary        string
	// RatioPercent is txGasPrice*100/networkGasPrice, zero when either price is unknown.
	RatioPercent uint64
}

// Analyze classifies txGasPrice against networkGasPrice. Nil prices are treated as zero.
// Prices larger than 256 bits saturate.
func Analyze(txGasPrice, networkGasPrice *big.Int) Verdict {
	tx := toUint256(txGasPrice)
	network := toUint256(networkGasPrice)

	if tx.IsZero() {
		return Verdict{
			Adequate:       false,
			Issue:          "Zero gas price",
			Recommendation: "Set an explicit gas price (or max fee per gas) before resubmitting the transaction",
			Summary:        "Transaction was submitted with a zero gas price and will not be picked up by block producers",
		}
	}

	if network.IsZero() {
		return Verdict{
			Adequate: true,
			Summary: fmt.Sprintf("Network gas price unavailable, cannot compare the transaction gas price of %s gwei",
				formatGwei(tx)),
		}
	}

	ratio, overflow := new(uint256.Int).MulOverflow(tx, uint256.NewInt(100))
	if overflow {
		ratio.SetAllOne()
	}
	ratio.Div(ratio, network)

	pct := ratio.Uint64()
	if !ratio.IsUint64() {
		pct = ^uint64(0)
	}

	prices := fmt.Sprintf("transaction %s gwei vs network %s gwei (%d%%)", formatGwei(tx), formatGwei(network), pct)

	switch {
	case pct < criticalRatio:
		return Verdict{
			Adequate:       false,
			Issue:          "Gas price too low",
			Recommendation: fmt.Sprintf("Resubmit with a gas price of at least %s gwei", formatGwei(network)),
			Summary:        "Gas price too low: " + prices,
			RatioPercent:   pct,
		}
	case pct < recommendedRatio:
		return Verdict{
			Adequate:       false,
			Issue:          "Gas price below recommended threshold",
			Recommendation: fmt.Sprintf("Increase the gas price to at least %d%% of the network price", recommendedRatio),
			Summary:        "Gas price below recommended threshold: " + prices,
			RatioPercent:   pct,
		}
	}

	return Verdict{
		Adequate:     true,
		Summary:      "Gas price is adequate: " + prices,
		RatioPercent: pct,
	}
}

// String renders the verdict as a single human readable paragraph.
func (v Verdict) String() string {
	if v.Recommendation == "" {
		return v.Summary
	}

	return fmt.Sprintf("%s. Recommendation: %s.", v.Summary, v.Recommendation)
}

func toUint256(v *big.Int) *uint256.Int {
	if v == nil || v.Sign() <= 0 {
		return new(uint256.Int)
	}

	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}

	return out
}

// formatGwei renders wei as gwei with up to 9 decimals, trimming trailing zeros.
func formatGwei(wei *uint256.Int) string {
	f := new(big.Float).SetInt(wei.ToBig())
	f.Quo(f, big.NewFloat(params.GWei))

	return f.Text('f', -1)
}
