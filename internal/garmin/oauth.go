// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
oauth.go - OAuth token acquisition and refresh

The platform issues tokens in two stages. The login handshake produces a
service ticket, which is traded for a long-lived OAuth1 signing credential
at the preauthorized endpoint. The OAuth1 credential then signs POSTs to
the exchange endpoint, each of which mints a short-lived OAuth2 bearer
token pair. Refresh is a re-exchange with the stored OAuth1 credential, so
the OAuth1 state is kept alongside the session.

Request signing is HMAC-SHA1 per RFC 5849 using the platform's published
mobile consumer credentials.
*/
package garmin

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is what the remote OAuth1 endpoint requires
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Mobile app consumer credentials, published by the platform's own
// connect-mobile OAuth client. These are not user secrets.
const (
	oauthConsumerKey    = "fc3e99d2-118c-44b8-8ae3-03370dde24c0"
	oauthConsumerSecret = "E08WAR897WEy2knn7aFBrvegVAf0AFdWBBF"
)

const exchangePath = "/oauth-service/oauth/exchange/user/2.0"

// OAuth1Token is the long-lived signing credential from the preauthorized
// endpoint.
type OAuth1Token struct {
	Token       string
	TokenSecret string
	MFAToken    string
}

// OAuth2Token is the short-lived bearer token pair minted by the exchange
// endpoint. ExpiresAt fields are computed locally from the relative
// lifetimes in the response.
type OAuth2Token struct {
	Scope                 string `json:"scope"`
	JTI                   string `json:"jti"`
	TokenType             string `json:"token_type"`
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`

	IssuedAt              time.Time `json:"-"`
	ExpiresAt             time.Time `json:"-"`
	RefreshTokenExpiresAt time.Time `json:"-"`
}

// FetchOAuth1Token trades a login service ticket for the OAuth1 signing
// credential.
func (c *AuthClient) FetchOAuth1Token(ctx context.Context, ticket string) (*OAuth1Token, error) {
	loginURL := c.ssoBaseURL + "/sso/embed"
	reqURL := fmt.Sprintf(
		"%s/oauth-service/oauth/preauthorized?ticket=%s&login-url=%s&accepts-mfa-tokens=true",
		c.apiBaseURL, url.QueryEscape(ticket), url.QueryEscape(loginURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create preauthorized request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", signOAuth1(http.MethodGet, reqURL, "", ""))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: preauthorized request: %s", ErrNetworkError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading preauthorized response: %s", ErrNetworkError, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: preauthorized returned HTTP %d: %s", ErrProtocolError, resp.StatusCode, body)
	}

	// Response is form-encoded: oauth_token=...&oauth_token_secret=...
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing preauthorized response: %s", ErrProtocolError, err.Error())
	}

	token := &OAuth1Token{
		Token:       values.Get("oauth_token"),
		TokenSecret: values.Get("oauth_token_secret"),
		MFAToken:    values.Get("mfa_token"),
	}
	if token.Token == "" || token.TokenSecret == "" {
		return nil, fmt.Errorf("%w: preauthorized response missing oauth_token", ErrProtocolError)
	}

	return token, nil
}

// ExchangeOAuth2Token mints a fresh OAuth2 bearer pair by signing the
// exchange request with the OAuth1 credential. This is both the initial
// issuance and the refresh path; a 401/403 here means the signing
// credential itself is no longer accepted.
func (c *AuthClient) ExchangeOAuth2Token(ctx context.Context, o1 *OAuth1Token) (*OAuth2Token, error) {
	reqURL := c.apiBaseURL + exchangePath

	form := url.Values{}
	if o1.MFAToken != "" {
		form.Set("mfa_token", o1.MFAToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", signOAuth1WithParams(http.MethodPost, reqURL, o1.Token, o1.TokenSecret, form))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange request: %s", ErrNetworkError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: exchange returned HTTP %d", ErrReauthRequired, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, classifyExchangeStatus(resp.StatusCode, body)
	}

	now := time.Now()
	token := &OAuth2Token{}
	if err := json.NewDecoder(resp.Body).Decode(token); err != nil {
		return nil, fmt.Errorf("%w: decoding exchange response: %s", ErrProtocolError, err.Error())
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: exchange response missing access_token", ErrProtocolError)
	}

	token.IssuedAt = now
	token.ExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	if token.RefreshTokenExpiresIn > 0 {
		token.RefreshTokenExpiresAt = now.Add(time.Duration(token.RefreshTokenExpiresIn) * time.Second)
	}

	return token, nil
}

// classifyExchangeStatus maps non-auth exchange failures. 5xx stays
// transient so a refresh retry can succeed.
func classifyExchangeStatus(status int, body []byte) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: exchange returned HTTP %d: %s", ErrRemoteUnavailable, status, body)
	}
	return fmt.Errorf("%w: exchange returned HTTP %d: %s", ErrProtocolError, status, body)
}

// signOAuth1 builds an OAuth1 Authorization header for a request without
// body parameters.
func signOAuth1(method, rawURL, token, tokenSecret string) string {
	return signOAuth1WithParams(method, rawURL, token, tokenSecret, nil)
}

// signOAuth1WithParams builds an OAuth1 HMAC-SHA1 Authorization header per
// RFC 5849. Query and form parameters participate in the signature base
// string alongside the oauth_* protocol parameters.
func signOAuth1WithParams(method, rawURL, token, tokenSecret string, form url.Values) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     oauthConsumerKey,
		"oauth_nonce":            newNonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if token != "" {
		oauthParams["oauth_token"] = token
	}

	// Collect all parameters for the signature base string.
	params := url.Values{}
	for k, vs := range parsed.Query() {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	for k, vs := range form {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	for k, v := range oauthParams {
		params.Set(k, v)
	}

	baseURL := parsed.Scheme + "://" + parsed.Host + parsed.Path
	base := strings.ToUpper(method) + "&" + rfc3986Escape(baseURL) + "&" + rfc3986Escape(normalizeParams(params))

	signingKey := rfc3986Escape(oauthConsumerSecret) + "&" + rfc3986Escape(tokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(rfc3986Escape(k))
		sb.WriteString(`="`)
		sb.WriteString(rfc3986Escape(oauthParams[k]))
		sb.WriteString(`"`)
	}
	return sb.String()
}

// normalizeParams sorts and percent-encodes parameters into the canonical
// form the signature base string requires.
func normalizeParams(params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, pair{rfc3986Escape(k), rfc3986Escape(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// rfc3986Escape percent-encodes per RFC 3986, which url.QueryEscape does
// not match exactly (space and tilde handling differ).
func rfc3986Escape(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		switch {
		case (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9'),
			b == '-', b == '.', b == '_', b == '~':
			sb.WriteByte(b)
		default:
			sb.WriteString(fmt.Sprintf("%%%02X", b))
		}
	}
	return sb.String()
}

func newNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
