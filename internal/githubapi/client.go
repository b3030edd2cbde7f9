// Package githubapi wraps the three GitHub endpoints ghswitch depends on:
// device-code issuance, token polling, and user lookup.
package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/easygit/ghswitch/internal/config"
)

// Server-reported polling reasons, per the device authorization grant.
const (
	ReasonPending  = "authorization_pending"
	ReasonSlowDown = "slow_down"
	ReasonExpired  = "expired_token"
	ReasonDenied   = "access_denied"
)

// Client calls GitHub. Endpoints come from config so tests can point at an
// httptest server.
type Client struct {
	clientID      string
	scopes        []string
	deviceCodeURL string
	tokenURL      string
	apiBaseURL    string
	httpClient    *http.Client
}

// NewClient builds a Client from auth configuration.
func NewClient(cfg config.AuthConfig) *Client {
	return &Client{
		clientID:      cfg.ClientID,
		scopes:        cfg.Scopes,
		deviceCodeURL: cfg.DeviceCodeURL,
		tokenURL:      cfg.TokenURL,
		apiBaseURL:    cfg.APIBaseURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// DeviceCode is the response from the device code endpoint.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// PollResult is one token-poll response. Exactly one of AccessToken or
// Reason is set on a well-formed response; Interval accompanies slow_down.
type PollResult struct {
	AccessToken string `json:"access_token"`
	Reason      string `json:"error"`
	Interval    int    `json:"interval"`
}

// UserInfo is the identity a token resolves to.
type UserInfo struct {
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// RequestDeviceCode initiates a device authorization attempt.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("scope", strings.Join(c.scopes, " "))

	resp, err := c.postForm(ctx, c.deviceCodeURL, data)
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("device code request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result DeviceCode
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding device code response: %w", err)
	}
	if result.DeviceCode == "" || result.UserCode == "" {
		return nil, fmt.Errorf("device code response missing codes")
	}
	return &result, nil
}

// PollToken performs a single token poll. Classification of the result is
// the caller's job; this only distinguishes transport-level failure from a
// well-formed response.
func (c *Client) PollToken(ctx context.Context, deviceCode string) (*PollResult, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("device_code", deviceCode)
	data.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")

	resp, err := c.postForm(ctx, c.tokenURL, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result PollResult
	if jsonErr := json.Unmarshal(body, &result); jsonErr != nil || (result.AccessToken == "" && result.Reason == "") {
		// GitHub reports poll outcomes in the body with a 200; anything
		// else is an upstream failure.
		return nil, fmt.Errorf("token poll failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &result, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.httpClient.Do(req)
}

// UserInfo resolves a bearer token to the GitHub account it belongs to.
func (c *Client) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gh := gogithub.NewClient(oauth2.NewClient(ctx, ts))

	if c.apiBaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(c.apiBaseURL, c.apiBaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring API base URL: %w", err)
		}
	}

	user, _, err := gh.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.GetLogin() == "" {
		return nil, fmt.Errorf("user response missing login")
	}

	return &UserInfo{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}
