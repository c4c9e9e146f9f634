package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// googleUser is the slice of the userinfo response we care about.
type googleUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleProvider runs the Google authorization-code flow and turns the
// result into a FederatedProfile for the auth service.
type GoogleProvider struct {
	config *oauth2.Config
}

// NewGoogleProvider builds the provider; callbackURL must match the
// redirect URI registered in the Google console exactly.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthURL returns the consent-screen URL for the given CSRF state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the user's profile. The token
// exchange happens server-to-server with the client secret; the access
// token never reaches the browser.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*FederatedProfile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := p.config.Client(ctx, token)
	resp, err := client.Get(googleUserinfoURL)
	if err != nil {
		return nil, fmt.Errorf("auth: fetching Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var gu googleUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}
	if gu.ID == "" {
		return nil, fmt.Errorf("auth: Google returned an empty subject")
	}

	return &FederatedProfile{
		Provider:    "google",
		Subject:     gu.ID,
		Email:       gu.Email,
		DisplayName: gu.Name,
		AvatarURL:   gu.Picture,
	}, nil
}
