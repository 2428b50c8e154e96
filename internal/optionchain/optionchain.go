package optionchain

import (
    "sort"
    "strings"
)

// Leg is one side (call or put) of a strike. Nil fields were absent or
// non-numeric in the provider row.
type Leg struct {
    OI     *float64 `json:"oi"`
    LTP    *float64 `json:"ltp"`
    Bid    *float64 `json:"bid"`
    BidQty *float64 `json:"bid_qty"`
    Ask    *float64 `json:"ask"`
    AskQty *float64 `json:"ask_qty"`
    Volume *float64 `json:"volume"`
}

// Entry is one strike of an option chain.
type Entry struct {
    Symbol string  `json:"symbol"`
    Expiry string  `json:"expiry"`
    Strike float64 `json:"strike"`
    Call   Leg     `json:"call"`
    Put    Leg     `json:"put"`
}

// Provider row layout. OI and volume arrive multiplied by the lot size.
const (
    colSymbol     = 0
    colExpiry     = 1
    colCallOI     = 3
    colCallLTP    = 4
    colCallBid    = 5
    colCallBidQty = 6
    colCallAsk    = 7
    colCallAskQty = 8
    colCallVolume = 9
    colCallAltVol = 10
    colStrike     = 11
    colPutBid     = 12
    colPutBidQty  = 13
    colPutAsk     = 14
    colPutAskQty  = 15
    colPutOI      = 16
    colPutLTP     = 18
    colPutVolume  = 19

    rowWidth = 21
)

var lotSizes = map[string]int{
    "NIFTY":     50,
    "BANKNIFTY": 15,
}

// LotSize returns the contract lot size used to normalize OI and volume.
func LotSize(symbol string) int {
    if n, ok := lotSizes[strings.ToUpper(symbol)]; ok {
        return n
    }
    return 500
}

// ParseRecord converts one positional provider row. ok is false for short
// rows and rows without a numeric strike.
func ParseRecord(row []any, symbol, expiry string) (Entry, bool) {
    if len(row) < rowWidth {
        return Entry{}, false
    }
    strike := num(row[colStrike])
    if strike == nil {
        return Entry{}, false
    }
    if expiry == "" {
        if s, ok := row[colExpiry].(string); ok {
            expiry = s
        }
    }
    if symbol == "" {
        if s, ok := row[colSymbol].(string); ok {
            symbol = s
        }
    }
    lot := float64(LotSize(symbol))
    callVol := num(row[colCallVolume])
    if callVol == nil {
        callVol = num(row[colCallAltVol])
    }
    return Entry{
        Symbol: symbol,
        Expiry: expiry,
        Strike: *strike,
        Call: Leg{
            OI:     perLot(num(row[colCallOI]), lot),
            LTP:    num(row[colCallLTP]),
            Bid:    num(row[colCallBid]),
            BidQty: num(row[colCallBidQty]),
            Ask:    num(row[colCallAsk]),
            AskQty: num(row[colCallAskQty]),
            Volume: perLot(callVol, lot),
        },
        Put: Leg{
            OI:     perLot(num(row[colPutOI]), lot),
            LTP:    num(row[colPutLTP]),
            Bid:    num(row[colPutBid]),
            BidQty: num(row[colPutBidQty]),
            Ask:    num(row[colPutAsk]),
            AskQty: num(row[colPutAskQty]),
            Volume: perLot(num(row[colPutVolume]), lot),
        },
    }, true
}

// Parse converts all usable rows and returns them sorted by strike.
func Parse(records [][]any, symbol, expiry string) []Entry {
    out := make([]Entry, 0, len(records))
    for _, r := range records {
        if e, ok := ParseRecord(r, symbol, expiry); ok {
            out = append(out, e)
        }
    }
    sort.SliceStable(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
    return out
}

func num(v any) *float64 {
    switch x := v.(type) {
    case float64:
        return &x
    case int:
        f := float64(x)
        return &f
    case int64:
        f := float64(x)
        return &f
    }
    return nil
}

func perLot(v *float64, lot float64) *float64 {
    if v == nil || *v == 0 || lot <= 0 {
        return nil
    }
    x := *v / lot
    return &x
}
