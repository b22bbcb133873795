package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubUserAPI = "https://api.github.com/user"

// GitHubUser is the part of GitHub's /user response we keep.
type GitHubUser struct {
	ID        int64  `json:"id"` // stable, unlike Login
	Login     string `json:"login"`
	Email     string `json:"email"` // empty when hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

// GitHubProvider runs the Authorization Code flow against GitHub. The code
// for token exchange happens server to server with the client secret, so the
// GitHub access token never reaches the browser.
//
// THE FLOW:
//
//	1. GET /auth/github/login     → redirect to AuthURL(state)
//	2. user approves on github.com → GitHub redirects to the callback with code
//	3. GET /auth/github/callback  → Exchange(code) → GitHubUser
//	4. the auth service upserts the user and issues our own JWT
//
// The GitHub token is used once, for the /user call in step 3, and then
// dropped. Sessions are ours from step 4 on.
type GitHubProvider struct {
	config  *oauth2.Config
	userAPI string
}

// ProviderOption customizes a GitHubProvider.
type ProviderOption func(*GitHubProvider)

// WithEndpoints points the provider at another OAuth server and user API,
// e.g. an httptest server or GitHub Enterprise.
func WithEndpoints(endpoint oauth2.Endpoint, userAPI string) ProviderOption {
	return func(p *GitHubProvider) {
		p.config.Endpoint = endpoint
		p.userAPI = userAPI
	}
}

// NewGitHubProvider requests read:user and user:email. callbackURL must match
// the OAuth App's "Authorization callback URL" exactly.
func NewGitHubProvider(clientID, clientSecret, callbackURL string, opts ...ProviderOption) *GitHubProvider {
	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userAPI: githubUserAPI,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthURL is where the login handler redirects to. state is echoed back on
// the callback and checked against the oauth_state cookie (CSRF).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the user's GitHub profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// the client adds "Authorization: Bearer <access token>"
	client := p.config.Client(ctx, oauthToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userAPI, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building GitHub /user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	var ghUser GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}
	return &ghUser, nil
}
