// Package oauth implements the Google sign-in authorization-code flow.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var (
	// ErrNotConfigured means no client id/secret were provided.
	ErrNotConfigured = errors.New("google oauth not configured")
	// ErrUnverifiedEmail rejects Google accounts whose email is not verified.
	ErrUnverifiedEmail = errors.New("google account email not verified")
)

// Profile is the subset of the OpenID userinfo document used for sign-in.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider exchanges authorization codes for verified Google profiles.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider returns ErrNotConfigured when clientID or clientSecret is empty.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) (*GoogleProvider, error) {
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, ErrNotConfigured
	}
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  strings.TrimSpace(redirectURL),
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: defaultUserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// AuthCodeURL builds the consent-screen redirect for state.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and fetches the caller's profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (Profile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Profile{}, errors.New("authorization code required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Profile{}, fmt.Errorf("fetch userinfo: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if profile.Subject == "" || profile.Email == "" {
		return Profile{}, errors.New("userinfo missing subject or email")
	}
	if !profile.EmailVerified {
		return Profile{}, ErrUnverifiedEmail
	}
	return profile, nil
}
