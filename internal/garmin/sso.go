// FitnessJournal - Garmin Connect Training Sync and Publishing
// Copyright 2026 CPlusPlus17
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/CPlusPlus17/FitnessJournal

/*
sso.go - Login handshake against the single sign-on host

The handshake is a browser-shaped flow:

 1. GET /sso/embed to establish the cookie context.
 2. GET /sso/signin and scrape the _csrf hidden input.
 3. POST the credentials. The response page's <title> decides the outcome:
    "Success" carries a service ticket, a title mentioning MFA pauses the
    flow for an interactive code, anything else is a rejection.
 4. (MFA only) POST the operator's code to the verifyMFA endpoint with a
    CSRF token scraped from the challenge page.

The resulting ticket feeds the OAuth stage in oauth.go. A single
AuthClient carries the cookie jar, so a paused handshake must be resumed
on the same instance.
*/
package garmin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const userAgent = "com.garmin.android.apps.connectmobile"

var (
	csrfRe   = regexp.MustCompile(`name="_csrf"\s+value="([^"]+)"`)
	titleRe  = regexp.MustCompile(`<title>([^<]*)</title>`)
	ticketRe = regexp.MustCompile(`embed\?ticket=([^"]+)"`)
)

// AuthClient performs the login handshake and OAuth token acquisition.
// It owns a cookie jar for the handshake; API traffic goes through Client.
type AuthClient struct {
	ssoBaseURL string
	apiBaseURL string
	client     *http.Client
}

// NewAuthClient creates a handshake client for the given hosts.
func NewAuthClient(ssoBaseURL, apiBaseURL string, timeout time.Duration) (*AuthClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &AuthClient{
		ssoBaseURL: strings.TrimRight(ssoBaseURL, "/"),
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}, nil
}

// MFAChallenge is the paused state of a handshake waiting for an
// interactive code. It is only valid on the AuthClient that produced it.
type MFAChallenge struct {
	csrf string
}

// LoginResult is the outcome of the credential POST. Exactly one of
// Ticket or Challenge is set.
type LoginResult struct {
	Ticket    string
	Challenge *MFAChallenge
}

func (c *AuthClient) embedParams() url.Values {
	v := url.Values{}
	v.Set("id", "gauth-widget")
	v.Set("embedWidget", "true")
	v.Set("gauthHost", c.ssoBaseURL+"/sso")
	return v
}

func (c *AuthClient) signinParams() url.Values {
	embed := c.ssoBaseURL + "/sso/embed"
	v := c.embedParams()
	v.Set("gauthHost", embed)
	v.Set("service", embed)
	v.Set("source", embed)
	v.Set("redirectAfterAccountLoginUrl", embed)
	v.Set("redirectAfterAccountCreationUrl", embed)
	return v
}

// Login runs the credential phase of the handshake. On success the result
// carries a service ticket for FetchOAuth1Token; if the account requires
// MFA the result carries a resumable challenge instead.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	// Establish cookies.
	if _, err := c.get(ctx, c.ssoBaseURL+"/sso/embed?"+c.embedParams().Encode()); err != nil {
		return nil, err
	}

	signinURL := c.ssoBaseURL + "/sso/signin?" + c.signinParams().Encode()

	page, err := c.get(ctx, signinURL)
	if err != nil {
		return nil, err
	}
	csrf := scrapeCSRF(page)
	if csrf == "" {
		return nil, fmt.Errorf("%w: signin page missing csrf token", ErrProtocolError)
	}

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	form.Set("embed", "true")
	form.Set("_csrf", csrf)

	page, status, err := c.postForm(ctx, signinURL, form, signinURL)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized || status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: signin returned HTTP %d", ErrAuthRejected, status)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: signin returned HTTP %d", ErrProtocolError, status)
	}

	title := scrapeTitle(page)
	switch {
	case strings.Contains(title, "MFA"):
		challengeCSRF := scrapeCSRF(page)
		if challengeCSRF == "" {
			return nil, fmt.Errorf("%w: mfa page missing csrf token", ErrProtocolError)
		}
		return &LoginResult{Challenge: &MFAChallenge{csrf: challengeCSRF}}, nil

	case title == "Success":
		ticket := scrapeTicket(page)
		if ticket == "" {
			return nil, fmt.Errorf("%w: success page missing service ticket", ErrProtocolError)
		}
		return &LoginResult{Ticket: ticket}, nil

	case strings.Contains(title, "Sign In"):
		// The signin page re-rendered: credentials refused.
		return nil, fmt.Errorf("%w: signin page re-rendered", ErrAuthRejected)

	default:
		return nil, fmt.Errorf("%w: unexpected signin page title %q", ErrProtocolError, title)
	}
}

// ResolveMFA resumes a paused handshake with the operator's code and
// returns the service ticket.
func (c *AuthClient) ResolveMFA(ctx context.Context, challenge *MFAChallenge, code string) (string, error) {
	if challenge == nil || challenge.csrf == "" {
		return "", fmt.Errorf("%w: no pending mfa challenge", ErrProtocolError)
	}

	verifyURL := c.ssoBaseURL + "/sso/verifyMFA/loginEnterMfaCode?" + c.signinParams().Encode()

	form := url.Values{}
	form.Set("mfa-code", strings.TrimSpace(code))
	form.Set("embed", "true")
	form.Set("_csrf", challenge.csrf)
	form.Set("fromPage", "setupEnterMfaCode")

	referer := c.ssoBaseURL + "/sso/signin?" + c.signinParams().Encode()
	page, status, err := c.postForm(ctx, verifyURL, form, referer)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: mfa verification returned HTTP %d", ErrAuthRejected, status)
	}

	title := scrapeTitle(page)
	if title != "Success" {
		return "", fmt.Errorf("%w: mfa verification page title %q", ErrAuthRejected, title)
	}

	ticket := scrapeTicket(page)
	if ticket == "" {
		return "", fmt.Errorf("%w: mfa success page missing service ticket", ErrProtocolError)
	}
	return ticket, nil
}

// get fetches a handshake page and returns its body.
func (c *AuthClient) get(ctx context.Context, reqURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNetworkError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: GET %s returned HTTP %d", ErrProtocolError, reqURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNetworkError, err.Error())
	}
	return string(body), nil
}

// postForm submits a handshake form and returns the response page and
// status. Non-2xx statuses are returned to the caller for classification
// rather than treated as errors here.
func (c *AuthClient) postForm(ctx context.Context, reqURL string, form url.Values, referer string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", referer)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrNetworkError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrNetworkError, err.Error())
	}
	return string(body), resp.StatusCode, nil
}

func scrapeCSRF(page string) string {
	if m := csrfRe.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

func scrapeTitle(page string) string {
	if m := titleRe.FindStringSubmatch(page); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func scrapeTicket(page string) string {
	if m := ticketRe.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}
