package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

// HTTPTokenSource obtains tokens from the API's auth endpoint. With client
// credentials it POSTs a client_credentials grant, otherwise it issues a GET.
type HTTPTokenSource struct {
	http         *resty.Client
	authURL      string
	clientID     string
	clientSecret string
	defaultTTL   time.Duration
	now          func() time.Time
}

type HTTPTokenSourceOptions struct {
	AuthURL      string
	ClientID     string
	ClientSecret string
	UserAgent    string
	Referer      string
	Timeout      time.Duration
	// DefaultTTL applies when neither the response nor the token carries an expiry.
	DefaultTTL time.Duration
}

func NewHTTPTokenSource(opts HTTPTokenSourceOptions) *HTTPTokenSource {
	client := resty.New()
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Referer != "" {
		client.SetHeader("referer", opts.Referer)
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	return &HTTPTokenSource{
		http:         client,
		authURL:      opts.AuthURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		defaultTTL:   ttl,
		now:          time.Now,
	}
}

func (s *HTTPTokenSource) Fetch(ctx context.Context) (Token, error) {
	req := s.http.R().SetContext(ctx).SetHeader("accept", "application/json")

	var (
		res *resty.Response
		err error
	)
	if s.clientID != "" {
		res, err = req.SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
		}).Post(s.authURL)
	} else {
		res, err = req.Get(s.authURL)
	}
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	if !res.IsSuccess() {
		return Token{}, fmt.Errorf("token endpoint returned status %d", res.StatusCode())
	}

	return parseTokenResponse(res.Body(), s.now(), s.defaultTTL)
}

// parseTokenResponse accepts the field spellings seen across API versions.
func parseTokenResponse(body []byte, now time.Time, defaultTTL time.Duration) (Token, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, fmt.Errorf("token payload parse: %w", err)
	}

	value := ""
	for _, key := range []string{"token", "accessToken", "access_token"} {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			value = strings.TrimSpace(s)
			break
		}
	}
	value = strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	if value == "" {
		return Token{}, fmt.Errorf("token payload has no token field")
	}

	tok := Token{Value: value, IssuedAt: now}
	for _, key := range []string{"expiresIn", "expires_in"} {
		if secs, ok := seconds(payload[key]); ok && secs > 0 {
			tok.ExpiresAt = now.Add(time.Duration(secs) * time.Second)
			return tok, nil
		}
	}
	if exp, ok := JWTExpiry(value); ok {
		tok.ExpiresAt = exp
		return tok, nil
	}
	tok.ExpiresAt = now.Add(defaultTTL)
	return tok, nil
}

func seconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// JWTExpiry reads the exp claim of a JWT without verifying it.
func JWTExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil || claims.Exp <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(claims.Exp), 0), true
}
