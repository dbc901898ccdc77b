package model

import (
	"strings"

	"github.com/shopspring/decimal"

	"premium-subscription-gateway/internal/domain"
)

// Billing frequencies understood by the processor.
const (
	FrequencyMonthly    = 3
	FrequencyQuarterly  = 4
	FrequencyBiannually = 5
	FrequencyAnnual     = 6
)

// Plan is a purchasable recurring plan. MinAmount is the lowest charged
// amount that still activates the subscription.
type Plan struct {
	Code      string
	Name      string
	Amount    decimal.Decimal
	MinAmount decimal.Decimal
	Frequency int
	Cycles    int // 0 = until cancelled
}

func (p *Plan) IsZero() bool { return p == nil || p.Code == "" }

// NewPlan validates and constructs a plan. A zero minAmount defaults to amount.
func NewPlan(code, name string, amount, minAmount decimal.Decimal, frequency, cycles int) (*Plan, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(name) == "" || !amount.IsPositive() || cycles < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if frequency < FrequencyMonthly || frequency > FrequencyAnnual {
		return nil, domain.ErrInvalidArgument
	}
	if minAmount.IsZero() {
		minAmount = amount
	}
	if minAmount.IsNegative() || minAmount.GreaterThan(amount) {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		Code:      code,
		Name:      name,
		Amount:    amount,
		MinAmount: minAmount,
		Frequency: frequency,
		Cycles:    cycles,
	}, nil
}

// Covers reports whether a charged amount satisfies the plan minimum.
func (p *Plan) Covers(charged decimal.Decimal) bool {
	return charged.GreaterThanOrEqual(p.MinAmount)
}
