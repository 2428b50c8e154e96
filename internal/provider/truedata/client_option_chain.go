package truedata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/balisaikiran/pothos-backend/internal/provider"
)

// OptionChain fetches the option chain for symbol at expiry (DD-MM-YYYY).
func (c *Client) OptionChain(ctx context.Context, token, symbol, expiry string) (provider.OptionChain, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("expiry", expiry)
	query.Set("response", "json")

	url := fmt.Sprintf("%s/getoptionchain?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return provider.OptionChain{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.newHeader(token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.OptionChain{}, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return provider.OptionChain{}, &provider.StatusError{Op: "optionchain " + symbol, StatusCode: res.StatusCode, Body: readSnippet(res.Body)}
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return provider.OptionChain{}, fmt.Errorf("decoding option chain for %s: %w: %w", symbol, provider.ErrMalformed, err)
	}

	chain := provider.OptionChain{
		Symbol:       symbol,
		Expiry:       expiry,
		IV:           firstNumber(body, "IV", "impliedVolatility", "iv"),
		IVPercentile: firstNumber(body, "IVP", "ivPercentile", "iv_percentile"),
	}

	// {
	//   "Records": [
	//     ["NIFTY", "26-11-2026", "...", 1250000, 112.5, ...],
	//     ...
	//   ]
	// }
	raw, _ := body["Records"].([]any)
	for _, r := range raw {
		row, ok := r.([]any)
		if !ok {
			continue
		}
		chain.Records = append(chain.Records, row)
	}
	return chain, nil
}

// firstNumber returns the first of keys holding a number or numeric string.
func firstNumber(body map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := body[k].(type) {
		case float64:
			return &v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}
