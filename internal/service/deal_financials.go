package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/straye-as/sales-pipeline-api/internal/config"
)

// ZeroValuePolicy decides how a deal whose TCV works out to zero is stored
type ZeroValuePolicy string

const (
	// ZeroValueSentinel stores a value of MinDealValue. Reporting divides by
	// value, so the column never holds zero.
	ZeroValueSentinel ZeroValuePolicy = "sentinel"
	// ZeroValueReject refuses the write with ErrInvalidInput
	ZeroValueReject ZeroValuePolicy = "reject"
)

// MinDealValue is the value stored for zero-TCV deals under ZeroValueSentinel
const MinDealValue = 1.0

// DealRules holds the configurable parts of deal normalisation
type DealRules struct {
	ZeroValuePolicy       ZeroValuePolicy
	DefaultContractLength int
}

// DefaultDealRules returns the rules used when nothing is configured
func DefaultDealRules() DealRules {
	return DealRules{ZeroValuePolicy: ZeroValueSentinel, DefaultContractLength: 12}
}

// DealRulesFromConfig converts configuration, falling back to defaults for
// unknown or missing values
func DealRulesFromConfig(cfg *config.DealsConfig) DealRules {
	rules := DefaultDealRules()
	if cfg == nil {
		return rules
	}
	if ZeroValuePolicy(cfg.ZeroValuePolicy) == ZeroValueReject {
		rules.ZeroValuePolicy = ZeroValueReject
	}
	if cfg.DefaultContractLength >= 1 {
		rules.DefaultContractLength = cfg.DefaultContractLength
	}
	return rules
}

// FinancialInput is the raw monetary input of a deal write
type FinancialInput struct {
	MRC            float64
	NRC            float64
	ContractLength *int
	// TCV is used as given when positive; otherwise it is computed
	TCV *float64
}

// Financials are the normalised monetary fields of a deal
type Financials struct {
	MRC            float64
	NRC            float64
	ContractLength int
	TCV            float64
	Value          float64
	// Sentinel is set when Value was forced to MinDealValue
	Sentinel bool
}

// ComputeFinancials clamps MRC and NRC to >= 0 and contract length to >= 1,
// derives TCV = MRC * length + NRC unless a positive TCV was supplied, and
// sets Value to TCV or, when TCV is zero, applies the zero-value policy.
func ComputeFinancials(in FinancialInput, rules DealRules) (Financials, error) {
	mrc := decimal.NewFromFloat(nonNegative(in.MRC))
	nrc := decimal.NewFromFloat(nonNegative(in.NRC))

	length := rules.DefaultContractLength
	if in.ContractLength != nil {
		length = *in.ContractLength
	}
	if length < 1 {
		length = 1
	}

	tcv := mrc.Mul(decimal.NewFromInt(int64(length))).Add(nrc)
	if in.TCV != nil && finite(*in.TCV) && *in.TCV > 0 {
		tcv = decimal.NewFromFloat(*in.TCV)
	}
	tcv = tcv.Round(2)

	out := Financials{
		MRC:            mrc.Round(2).InexactFloat64(),
		NRC:            nrc.Round(2).InexactFloat64(),
		ContractLength: length,
		TCV:            tcv.InexactFloat64(),
	}

	if tcv.IsPositive() {
		out.Value = out.TCV
		return out, nil
	}
	if rules.ZeroValuePolicy == ZeroValueReject {
		return Financials{}, fmt.Errorf("%w: deal value must be greater than zero", ErrInvalidInput)
	}
	out.Value = MinDealValue
	out.Sentinel = true
	return out, nil
}

// repairValue returns a storable value for a row whose value is missing or
// not positive
func repairValue(value, tcv float64) (float64, bool) {
	if finite(value) && value > 0 {
		return value, false
	}
	if finite(tcv) && tcv > 0 {
		return tcv, true
	}
	return MinDealValue, true
}

func nonNegative(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
