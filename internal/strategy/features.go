package strategy

import (
	"math"

	"orderflow-core/internal/analytics"
	"orderflow-core/internal/ledger"
	"orderflow-core/internal/profile"
)

// ratio returns a/b, or 0 when the result is not finite.
func ratio(a, b float64) float64 {
	r := a / b
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Features builds the feature row attached to a bet and sent to the scorer.
func Features(in Input, ex ledger.Exodus, live profile.Snapshot, d *analytics.Driver) map[string]float64 {
	price := in.Tick.Price
	tp, sl := ex.TakeProfit, ex.StopLoss
	st := d.State()
	ind := st.Indicators

	f := map[string]float64{
		"priceToTp":  ratio(price, tp),
		"priceToSl":  ratio(price, sl),
		"stopLoss":   ratio(sl, price),
		"takeProfit": ratio(tp, price),

		"cvdToPriceDiffRatio":  st.CVDToPriceDiffRatio,
		"priceToLocalHigh":     ratio(price, st.LocalHigh),
		"priceToLocalLow":      ratio(price, st.LocalLow),
		"priceToSma125c":       ratio(price, ind["sma125c"]),
		"priceToSma400c":       ratio(price, ind["sma400c"]),
		"tpToSma125c":          ratio(tp, ind["sma125c"]),
		"slToSma125c":          ratio(sl, ind["sma125c"]),
		"tpToSma400c":          ratio(tp, ind["sma400c"]),
		"slToSma400c":          ratio(sl, ind["sma400c"]),
		"atr14":                ratio(tp-sl, ind["atr14"]),
		"rsi14":                ind["rsi14"],
		"volatilityStdDev":     st.VolatilityStdDev,
		"isBullishDivergence":  boolFloat(st.BullishDivergence),
		"latestVolumeDeltaSum": st.LatestVolumeDeltaSum,

		"cvd3ToCpd3":     ratio(ind["cvd3"], ind["cpd3"]),
		"cvd5ToCvd3":     ratio(ind["cvd5"], ind["cvd3"]),
		"cvd5ToCpd5":     ratio(ind["cvd5"], ind["cpd5"]),
		"cvd10ToCvd5":    ratio(ind["cvd10"], ind["cvd5"]),
		"cvd10ToCpd10":   ratio(ind["cvd10"], ind["cpd10"]),
		"cvd20ToCvd10":   ratio(ind["cvd20"], ind["cvd10"]),
		"cvd20ToCpd20":   ratio(ind["cvd20"], ind["cpd20"]),
		"cvd100ToCvd20":  ratio(ind["cvd100"], ind["cvd20"]),
		"cvd100ToCpd100": ratio(ind["cvd100"], ind["cpd100"]),
	}

	if live.TotalVolume > 0 {
		levels := map[string]float64{
			"Vah":  live.VAH,
			"Val":  live.VAL,
			"Vpoc": live.VPOC,
			"Min":  live.Min,
			"Max":  live.Max,
		}
		for name, lvl := range levels {
			f["priceTo"+name] = ratio(price, lvl)
			f["tpTo"+name] = ratio(tp, lvl)
			f["slTo"+name] = ratio(sl, lvl)
		}
		f["profileNormality"] = live.Normality
	}

	if prev := in.Previous; prev != nil {
		f["pcPriceDeltaToVolumeDelta"] = ratio(prev.PriceDelta, prev.VolumeDelta)
		f["pcOpenToClose"] = ratio(prev.Open, prev.Close)
		f["pcHighToLow"] = ratio(prev.High, prev.Low)
		f["buyVolumeShare"] = ratio(prev.AskVolume, prev.Volume)
		f["sellVolumeShare"] = ratio(prev.BidVolume, prev.Volume)
		f["volumeDeltaShare"] = ratio(prev.VolumeDelta, prev.Volume)
		f["pcDivergence"] = boolFloat(prev.DeltaDivergence)
		f["avgTickCountToPcTicks"] = ratio(float64(prev.TickCount), st.AvgTickCount)
		f["sma125vToVolumeDelta"] = ratio(ind["sma125v"], prev.VolumeDelta)
	}
	if cur := in.Current; cur != nil {
		if top := cur.Top(); top != nil {
			f["clusterEvaluation"] = top.AnomalyScore
			f["clusterAskBidRatio"] = ratio(nonZero(top.AskVolume), nonZero(top.BidVolume))
		}
	}
	return f
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
