package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantityStep is the lot and price step used when sizing.
const QuantityStep = 0.01

// Commission holds exchange fee rates as fractions.
type Commission struct {
	Maker float64 `yaml:"maker" json:"maker"`
	Taker float64 `yaml:"taker" json:"taker"`
}

// DefaultCommission is the spot default of 0.1%.
var DefaultCommission = Commission{Maker: 0.001, Taker: 0.001}

// Exodus is the sizing outcome for a bet.
type Exodus struct {
	Risk              float64 `json:"risk"`
	Reward            float64 `json:"reward"`
	MoneyOnTakeProfit float64 `json:"moneyOnTakeProfit"`
	MoneyOnStopLoss   float64 `json:"moneyOnStopLoss"`
	StopLoss          float64 `json:"stopLoss"`
	TakeProfit        float64 `json:"takeProfit"`
}

const (
	buyRiskRewardRatio  = 0.25
	sellRiskRewardRatio = 0.5
)

// FloorToStep floors v to a multiple of step. Non-finite values and
// non-positive steps are returned unchanged.
func FloorToStep(v, step float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) || step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Floor().Mul(s).InexactFloat64()
}

// defaultDistance is 1% of price scaled by distanceFactor.
func defaultDistance(price, distanceFactor float64) float64 {
	return price * 0.01 * distanceFactor
}

// BuyExodus sizes a long position of money at price. The maker fee is taken
// from the bought quantity and again from the exit proceeds. A nil stopLoss
// sits defaultDistance below price; a nil takeProfit targets a reward of
// risk/0.25. ok is false when money buys less than one QuantityStep at price.
func BuyExodus(price float64, stopLoss, takeProfit *float64, money, distanceFactor float64, c Commission) (ex Exodus, ok bool) {
	if price <= 0 || money <= 0 {
		return Exodus{}, false
	}
	bought := FloorToStep(money/price, QuantityStep)
	if bought <= 0 {
		return Exodus{}, false
	}
	actual := bought - bought*c.Maker
	feeFactor := 1 - c.Maker

	sl := price - defaultDistance(price, distanceFactor)
	if stopLoss != nil {
		sl = *stopLoss
	} else {
		sl = FloorToStep(sl, QuantityStep)
	}

	var tp float64
	if takeProfit != nil {
		tp = *takeProfit
	} else {
		risk := money/(actual*sl*feeFactor) - 1
		target := risk / buyRiskRewardRatio
		tp = FloorToStep((target+1)*money/(actual*feeFactor), QuantityStep)
	}

	onTP := actual * tp * feeFactor
	onSL := actual * sl * feeFactor
	if onSL <= 0 {
		return Exodus{}, false
	}
	return Exodus{
		Risk:              money/onSL - 1,
		Reward:            onTP/money - 1,
		MoneyOnTakeProfit: onTP,
		MoneyOnStopLoss:   onSL,
		StopLoss:          sl,
		TakeProfit:        tp,
	}, true
}

// SellExodus sizes a short position of money at price with commission on
// the opening and closing legs. A nil stopLoss sits defaultDistance above
// price; a nil takeProfit targets a reward of risk/0.5. ok is false when
// money sells less than one QuantityStep at price.
func SellExodus(price float64, stopLoss, takeProfit *float64, money, distanceFactor float64, c Commission) (ex Exodus, ok bool) {
	if price <= 0 || money <= 0 {
		return Exodus{}, false
	}
	sold := FloorToStep(money/price, QuantityStep)
	if sold <= 0 {
		return Exodus{}, false
	}
	openFee := sold * price * c.Maker

	sl := price + defaultDistance(price, distanceFactor)
	if stopLoss != nil {
		sl = *stopLoss
	} else {
		sl = FloorToStep(sl, QuantityStep)
	}
	onSL := money + (price-sl)*sold - openFee - sold*sl*c.Maker
	if onSL <= 0 {
		return Exodus{}, false
	}
	risk := money/onSL - 1

	var tp float64
	if takeProfit != nil {
		tp = *takeProfit
	} else {
		target := risk / sellRiskRewardRatio
		tp = FloorToStep(price-target*money/sold, QuantityStep)
	}
	onTP := money + (price-tp)*sold - openFee - sold*tp*c.Maker
	return Exodus{
		Risk:              risk,
		Reward:            onTP/money - 1,
		MoneyOnTakeProfit: onTP,
		MoneyOnStopLoss:   onSL,
		StopLoss:          sl,
		TakeProfit:        tp,
	}, true
}
