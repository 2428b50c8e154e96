package truedata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/balisaikiran/pothos-backend/internal/provider"
)

// Authenticate performs a password-grant token exchange. Credentials are
// form-encoded and otherwise passed through untouched.
func (c *Client) Authenticate(ctx context.Context, username, password string) (provider.Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return provider.Token{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.newHeader("")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Token{}, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return provider.Token{}, &provider.StatusError{
			Op:         "authenticate",
			StatusCode: res.StatusCode,
			Body:       authErrorMessage(readSnippet(res.Body)),
		}
	}

	var token provider.Token
	if err := json.NewDecoder(res.Body).Decode(&token); err != nil {
		return provider.Token{}, fmt.Errorf("decoding token response: %w: %w", provider.ErrMalformed, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return provider.Token{}, fmt.Errorf("token response without access_token: %w", provider.ErrMalformed)
	}
	return token, nil
}

// authErrorMessage pulls the human readable reason out of an OAuth style
// error body, falling back to the raw text.
func authErrorMessage(body string) string {
	var e struct {
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
		Message          string `json:"message"`
	}
	if json.Unmarshal([]byte(body), &e) == nil {
		for _, s := range []string{e.ErrorDescription, e.Error, e.Message} {
			if s != "" {
				return s
			}
		}
	}
	if len(body) > 200 {
		return body[:200]
	}
	return body
}
