package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/server"
	"github.com/avriley/syncopate/internal/shared"
)

// authorizer is the interactive OAuth surface of an adapter.
type authorizer interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) error
}

// authCommand handles service authorization.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize service access",
		Commands: []*cli.Command{
			{
				Name:  "spotify",
				Usage: "Authorize Spotify via the OAuth2 browser flow",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
				},
				Action: r.AuthSpotify,
			},
			{
				Name:   "status",
				Usage:  "Show stored authorization state per service",
				Action: r.AuthStatus,
			},
		},
	}
}

// AuthSpotify runs the authorization-code flow: start the localhost callback
// server, open the consent page, trade the code for a token. The token lands
// in the database through the adapter's token store.
func (r *Runner) AuthSpotify(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	adapter, err := r.adapters.Get(models.ServiceSpotify)
	if err != nil {
		return err
	}
	auth, ok := adapter.(authorizer)
	if !ok {
		return fmt.Errorf("%w: %s has no interactive authorization", shared.ErrCapability, adapter.Name())
	}

	addr, err := callbackAddr(r.config.Credentials.Spotify.RedirectURI)
	if err != nil {
		return err
	}

	state := shared.GenerateID()
	handler := server.NewOAuthHandler(state)
	srv := server.NewCallbackServer(addr, handler)
	srv.Start()
	defer srv.Shutdown(context.WithoutCancel(ctx))

	authURL := auth.AuthURL(state)
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warn("could not open browser", "err", err)
	}
	if err := r.writePlain("Authorize in your browser, or visit:\n  %s\n", authURL); err != nil {
		return err
	}

	code, err := srv.WaitForCode(ctx, cmd.Duration("timeout"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	if err := auth.Exchange(ctx, code); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	r.logger.Info("spotify authorized")
	return r.writePlain("Spotify authorized.\n")
}

// AuthStatus reports the stored authorization state for each service.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	token, err := r.store.Tokens.Get(ctx, models.ServiceSpotify)
	switch {
	case err == nil:
		line := "spotify: authorized"
		if !token.Expiry.IsZero() {
			line += fmt.Sprintf(" (access token expires %s)", token.Expiry.UTC().Format(time.RFC3339))
		}
		if err := r.writePlain("%s\n", line); err != nil {
			return err
		}
	case errors.Is(err, shared.ErrNotFound):
		if err := r.writePlain("spotify: not authorized (run `auth spotify`)\n"); err != nil {
			return err
		}
	default:
		return err
	}

	lastfm := r.config.Credentials.Lastfm
	switch {
	case lastfm.APIKey == "":
		return r.writePlain("lastfm: not configured\n")
	case lastfm.SessionKey == "":
		return r.writePlain("lastfm: read-only (no session key; loving tracks disabled)\n")
	default:
		return r.writePlain("lastfm: authorized as %s\n", lastfm.Username)
	}
}

// callbackAddr derives the listen address from the registered redirect URI so
// the callback server binds exactly where the service will redirect.
func callbackAddr(redirectURI string) (string, error) {
	if redirectURI == "" {
		return "localhost:8080", nil
	}
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: redirect URI %q", shared.ErrInvalidConfig, redirectURI)
	}
	return parsed.Host, nil
}
