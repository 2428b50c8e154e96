package market

// Signal is the dashboard's directional label for one symbol.
type Signal string

const (
    Bullish        Signal = "Bullish"
    Bearish        Signal = "Bearish"
    HighVolatility Signal = "High Volatility"
    Neutral        Signal = "Neutral"
)

// Classify labels a quote from its change percent and IV percentile.
// IV percentile >= 80 wins over direction; unknown inputs are Neutral.
func Classify(changePct, ivPercentile *float64) Signal {
    if ivPercentile == nil {
        return Neutral
    }
    ivp := *ivPercentile
    if ivp >= 80 {
        return HighVolatility
    }
    if changePct == nil || ivp >= 50 {
        return Neutral
    }
    switch {
    case *changePct > 0:
        return Bullish
    case *changePct < 0:
        return Bearish
    }
    return Neutral
}
