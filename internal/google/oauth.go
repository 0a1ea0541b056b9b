package google

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/calendai/calendai/internal/config"
	"github.com/calendai/calendai/internal/handshake"
)

// CalendarScope is the only Google scope this application requests.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

// OAuthConfig builds the OAuth2 configuration used for the authorization
// redirect and the code exchange.
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.Google.RedirectURL,
		Scopes:       []string{CalendarScope},
	}
}

// BundleFromToken converts an exchanged OAuth2 token into the credential
// bundle owned by the handshake store. The bundle carries the client
// credentials and token endpoint so the bundle alone suffices to refresh.
func BundleFromToken(conf *oauth2.Config, token *oauth2.Token) handshake.CredentialBundle {
	return handshake.CredentialBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenURI:     conf.Endpoint.TokenURL,
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		Scopes:       conf.Scopes,
	}
}

// ServiceForBundle builds a Calendar API service acting as the user the
// bundle belongs to. The token source refreshes the access token through
// the provider when it expires; this application never refreshes tokens
// itself.
func ServiceForBundle(ctx context.Context, bundle *handshake.CredentialBundle, extra ...option.ClientOption) (*calendar.Service, error) {
	conf := &oauth2.Config{
		ClientID:     bundle.ClientID,
		ClientSecret: bundle.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  google.Endpoint.AuthURL,
			TokenURL: bundle.TokenURI,
		},
		Scopes: bundle.Scopes,
	}

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  bundle.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: bundle.RefreshToken,
	})

	client := oauth2.NewClient(ctx, tokenSource)

	// Force HTTP/1.1 by disabling HTTP/2
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			ForceAttemptHTTP2: false,
		}
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, extra...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}
