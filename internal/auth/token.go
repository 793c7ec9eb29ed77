package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PentesterFlow/apiforge/internal/errors"
)

// clientCredentials performs the OAuth 2.0 client credentials grant.
func (p *Provider) clientCredentials(ctx context.Context) error {
	cfg := p.creds.OAuth
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", cfg.ClientID)
	data.Set("client_secret", cfg.ClientSecret)
	if len(cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return errors.InvalidInput(cfg.TokenURL, "bad token url: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	if httpErr := errors.CategorizeHTTPStatus(resp.StatusCode, cfg.TokenURL); httpErr != nil {
		return fmt.Errorf("token request: %w", httpErr)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return errors.NewParseError(cfg.TokenURL, "decode token", err)
	}
	if tokenResp.AccessToken == "" {
		return errors.NewParseError(cfg.TokenURL, "decode token", fmt.Errorf("response has no access_token"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = tokenResp.AccessToken
	// Token types are case-insensitive; servers commonly send "bearer".
	if tokenResp.TokenType != "" && !strings.EqualFold(tokenResp.TokenType, "bearer") {
		p.tokenType = tokenResp.TokenType
	}
	p.expiry = time.Time{}
	if tokenResp.ExpiresIn > 0 {
		p.expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it.
func TokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid JWT format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, err
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}
