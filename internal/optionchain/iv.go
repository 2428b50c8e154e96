package optionchain

import (
    "math"
    "sort"
)

// Kind selects call or put pricing.
type Kind int

const (
    Call Kind = iota
    Put
)

const (
    minVol = 0.001
    maxVol = 5.0

    ivTolerance  = 0.0001
    ivIterations = 100
)

func normCDF(x float64) float64 { return 0.5 * (1 + math.Erf(x/math.Sqrt2)) }

func normPDF(x float64) float64 { return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi) }

func intrinsic(kind Kind, spot, strike float64) float64 {
    if kind == Call {
        return math.Max(spot-strike, 0)
    }
    return math.Max(strike-spot, 0)
}

// Price is the Black-Scholes price; t in years, rate and vol as decimals.
func Price(kind Kind, spot, strike, t, rate, vol float64) float64 {
    if t <= 0 || vol <= 0 {
        return intrinsic(kind, spot, strike)
    }
    sqrtT := math.Sqrt(t)
    d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)
    d2 := d1 - vol*sqrtT
    disc := strike * math.Exp(-rate*t)
    var p float64
    if kind == Call {
        p = spot*normCDF(d1) - disc*normCDF(d2)
    } else {
        p = disc*normCDF(-d2) - spot*normCDF(-d1)
    }
    return math.Max(p, 0)
}

// Vega is dPrice/dVol, identical for calls and puts.
func Vega(spot, strike, t, rate, vol float64) float64 {
    if t <= 0 || vol <= 0 {
        return 0
    }
    sqrtT := math.Sqrt(t)
    d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)
    return spot * normPDF(d1) * sqrtT
}

// ImpliedVol inverts Price with Newton-Raphson from a 20% seed, falling
// back to bisection over [0.1%, 500%]. ok is false when price is outside
// the attainable range.
func ImpliedVol(kind Kind, spot, strike, t, rate, price float64) (float64, bool) {
    if t <= 0 || spot <= 0 || strike <= 0 || price <= 0 {
        return 0, false
    }
    vol := 0.20
    for i := 0; i < ivIterations; i++ {
        vega := Vega(spot, strike, t, rate, vol)
        if vega == 0 {
            break
        }
        next := vol - (Price(kind, spot, strike, t, rate, vol)-price)/vega
        next = math.Max(minVol, math.Min(maxVol, next))
        if math.Abs(next-vol) < ivTolerance {
            if math.Abs(Price(kind, spot, strike, t, rate, next)-price) < 0.01 {
                return next, true
            }
            break
        }
        vol = next
    }
    return bisect(kind, spot, strike, t, rate, price)
}

func bisect(kind Kind, spot, strike, t, rate, price float64) (float64, bool) {
    lo, hi := minVol, maxVol
    if price < Price(kind, spot, strike, t, rate, lo) || price > Price(kind, spot, strike, t, rate, hi) {
        return 0, false
    }
    for i := 0; i < ivIterations; i++ {
        mid := (lo + hi) / 2
        p := Price(kind, spot, strike, t, rate, mid)
        if math.Abs(p-price) < ivTolerance {
            return mid, true
        }
        if p < price {
            lo = mid
        } else {
            hi = mid
        }
    }
    return (lo + hi) / 2, true
}

type ivSample struct {
    dist float64
    iv   float64
}

// ATMImpliedVol estimates the chain's implied volatility in percent
// (2 decimals). Each call and put LTP is inverted; solutions outside
// [5%, 200%] are discarded. Of the ten strikes closest to spot, those within
// 5% of spot are averaged; if none are, the single closest is used.
func ATMImpliedVol(entries []Entry, spot, t, rate float64) (float64, bool) {
    if spot <= 0 || t <= 0 {
        return 0, false
    }
    var samples []ivSample
    add := func(kind Kind, strike float64, ltp *float64) {
        if ltp == nil || *ltp <= 0 {
            return
        }
        iv, ok := ImpliedVol(kind, spot, strike, t, rate, *ltp)
        if !ok || iv < 0.05 || iv > 2.0 {
            return
        }
        samples = append(samples, ivSample{dist: math.Abs(strike - spot), iv: iv})
    }
    for _, e := range entries {
        add(Call, e.Strike, e.Call.LTP)
        add(Put, e.Strike, e.Put.LTP)
    }
    if len(samples) == 0 {
        return 0, false
    }
    sort.SliceStable(samples, func(i, j int) bool { return samples[i].dist < samples[j].dist })

    var sum float64
    var n int
    for i, s := range samples {
        if i >= 10 {
            break
        }
        if s.dist/spot < 0.05 {
            sum += s.iv
            n++
        }
    }
    iv := samples[0].iv
    if n > 0 {
        iv = sum / float64(n)
    }
    return round2(iv * 100), true
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
