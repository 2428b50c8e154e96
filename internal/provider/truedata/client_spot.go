package truedata

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/balisaikiran/pothos-backend/internal/provider"
)

// Spot fetches the last traded price for one instrument. The analytics API
// answers in CSV: a header row followed by a single value row. LTP is
// required; previous close and volume are picked up when present.
func (c *Client) Spot(ctx context.Context, token, symbol, series string) (provider.Spot, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("series", series)
	query.Set("response", "csv")

	url := fmt.Sprintf("%s/getLTPSpot?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return provider.Spot{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.newHeader(token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Spot{}, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return provider.Spot{}, &provider.StatusError{Op: "spot " + symbol, StatusCode: res.StatusCode, Body: readSnippet(res.Body)}
	}

	r := csv.NewReader(res.Body)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return provider.Spot{}, fmt.Errorf("decoding spot csv for %s: %w: %w", symbol, provider.ErrMalformed, err)
	}
	return parseSpot(symbol, rows)
}

func parseSpot(symbol string, rows [][]string) (provider.Spot, error) {
	if len(rows) < 2 || len(rows[1]) == 0 {
		return provider.Spot{}, fmt.Errorf("spot %s: %w", symbol, provider.ErrNoData)
	}
	header, values := rows[0], rows[1]
	col := func(names ...string) (string, bool) {
		for i, h := range header {
			h = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", ""))
			for _, n := range names {
				if h == n && i < len(values) {
					v := strings.TrimSpace(values[i])
					return v, v != ""
				}
			}
		}
		return "", false
	}

	raw, ok := col("ltp", "lastprice")
	if !ok {
		// single column payloads carry the value without a recognizable header
		raw = strings.TrimSpace(values[0])
	}
	if raw == "" {
		return provider.Spot{}, fmt.Errorf("spot %s: %w", symbol, provider.ErrNoData)
	}
	ltp, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return provider.Spot{}, fmt.Errorf("spot %s ltp %q: %w", symbol, raw, provider.ErrMalformed)
	}

	out := provider.Spot{Symbol: symbol, LTP: ltp}
	if v, ok := col("prevclose", "prev_close", "previousclose", "close"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out.PrevClose = &f
		}
	}
	if v, ok := col("volume", "vol", "ttq"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			vol := int64(n)
			out.Volume = &vol
		}
	}
	return out, nil
}
