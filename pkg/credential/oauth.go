package credential

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthExchanger refreshes tokens against an OAuth2 token endpoint using the
// refresh_token grant.
type OAuthExchanger struct {
	config *oauth2.Config
	client *http.Client
}

// NewOAuthExchanger creates an exchanger for config. client may be nil.
func NewOAuthExchanger(config *oauth2.Config, client *http.Client) *OAuthExchanger {
	return &OAuthExchanger{config: config, client: client}
}

func (e *OAuthExchanger) withClient(ctx context.Context) context.Context {
	if e.client != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	return ctx
}

// Refresh implements Exchanger.
func (e *OAuthExchanger) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	src := e.config.TokenSource(e.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, err
	}
	return fromOAuth(tok), nil
}

// AuthCodeURL returns the authorization URL carrying state.
func (e *OAuthExchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token.
func (e *OAuthExchanger) Exchange(ctx context.Context, code string) (Token, error) {
	tok, err := e.config.Exchange(e.withClient(ctx), code)
	if err != nil {
		return Token{}, fmt.Errorf("authorization code exchange failed: %w", err)
	}
	return fromOAuth(tok), nil
}

func fromOAuth(tok *oauth2.Token) Token {
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}
