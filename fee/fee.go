// Package fee converts a destination chain fee rate into a deduction denominated in the
// settled asset.
package fee

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"gorelaybridge/types"
)

// fee estimation APIs under-quote, never deduct less than twice the quote
var MinSafetyMultiplier = decimal.NewFromInt(2)

var (
	ErrMultiplierTooLow = errors.New("fee safety multiplier below minimum")
	ErrNoGasEstimate    = errors.New("fee gas estimate must be positive")
	ErrNilFeeRate       = errors.New("nil fee rate")
)

type Params struct {
	// GasEstimate is the gas (or fee unit) cost of one settlement transaction.
	GasEstimate uint64
	// SafetyMultiplier is applied on top of the quoted rate.
	SafetyMultiplier decimal.Decimal
	// FeeDecimals is the precision of the asset the fee rate is quoted in (18 for ETH wei).
	FeeDecimals int32
}

type Calculator struct {
	params Params
}

func NewCalculator(p Params) (*Calculator, error) {
	if p.GasEstimate == 0 {
		return nil, ErrNoGasEstimate
	}
	if p.SafetyMultiplier.LessThan(MinSafetyMultiplier) {
		return nil, fmt.Errorf("%w: %s < %s", ErrMultiplierTooLow, p.SafetyMultiplier, MinSafetyMultiplier)
	}
	return &Calculator{params: p}, nil
}

// Quote is the result of one fee computation.
type Quote struct {
	Fee *big.Int
	Net *big.Int
}

// Positive reports whether the transfer still carries value after the fee.
func (q Quote) Positive() bool {
	return q.Net.Sign() > 0
}

// Fee computes feeRate * gasEstimate * multiplier and converts it into the destination
// asset's smallest unit using its decimals and price ratio. Rounds half away from zero.
func (c *Calculator) Fee(feeRate *big.Int, asset types.SupportedAsset) (*big.Int, error) {
	if feeRate == nil {
		return nil, ErrNilFeeRate
	}

	gas := decimal.NewFromBigInt(new(big.Int).SetUint64(c.params.GasEstimate), 0)
	native := decimal.NewFromBigInt(feeRate, 0).Mul(gas).Mul(c.params.SafetyMultiplier)

	price := asset.PriceRatio
	if price.IsZero() {
		price = decimal.NewFromInt(1)
	}

	converted := native.Mul(price).Shift(asset.Decimals - c.params.FeeDecimals).Round(0)
	return converted.BigInt(), nil
}

// Quote returns the fee and the net amount for amount. The net amount may be zero or
// negative; callers refund in that case.
func (c *Calculator) Quote(amount, feeRate *big.Int, asset types.SupportedAsset) (Quote, error) {
	fee, err := c.Fee(feeRate, asset)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Fee: fee,
		Net: new(big.Int).Sub(amount, fee),
	}, nil
}
