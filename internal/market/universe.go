package market

import "strings"

// Universe is the fixed, ordered symbol list of the dashboard.
type Universe struct {
    symbols []string
    indices map[string]bool
}

// NewUniverse copies symbols; indices are quoted with the index series.
func NewUniverse(symbols, indices []string) Universe {
    u := Universe{indices: make(map[string]bool, len(indices))}
    for _, s := range symbols {
        s = strings.ToUpper(strings.TrimSpace(s))
        if s != "" {
            u.symbols = append(u.symbols, s)
        }
    }
    for _, s := range indices {
        u.indices[strings.ToUpper(strings.TrimSpace(s))] = true
    }
    return u
}

func (u Universe) Len() int { return len(u.symbols) }

// Symbols returns the symbols in dashboard order.
func (u Universe) Symbols() []string { return append([]string(nil), u.symbols...) }

// Series is the provider series: XX for indices, EQ otherwise.
func (u Universe) Series(symbol string) string {
    if u.indices[strings.ToUpper(symbol)] {
        return "XX"
    }
    return "EQ"
}
