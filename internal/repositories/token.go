package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/avriley/syncopate/internal/shared"
)

// TokenRepository persists one OAuth token per service, so authorization
// survives process restarts and refreshed tokens replace stale ones.
type TokenRepository struct {
	dbtx DBTX
}

// Get loads the stored token for a service, or [shared.ErrNotFound].
func (r *TokenRepository) Get(ctx context.Context, service string) (*oauth2.Token, error) {
	var (
		accessToken  string
		refreshToken sql.NullString
		tokenType    sql.NullString
		expiry       sql.NullTime
	)

	err := r.dbtx.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, expiry
		FROM oauth_tokens WHERE service = ? AND deleted_at IS NULL
	`, service).Scan(&accessToken, &refreshToken, &tokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token for %s", shared.ErrNotFound, service)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.String,
		TokenType:    tokenType.String,
	}
	if expiry.Valid {
		token.Expiry = expiry.Time.UTC()
	}
	return token, nil
}

// Save upserts the token for a service.
func (r *TokenRepository) Save(ctx context.Context, service string, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("empty token for %s", service)
	}

	now := time.Now().UTC()
	_, err := r.dbtx.ExecContext(ctx, `
		INSERT INTO oauth_tokens (service, access_token, refresh_token, token_type, expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, service, token.AccessToken, token.RefreshToken, token.TokenType,
		nullTimeValue(token.Expiry), now, now)
	if err != nil {
		return fmt.Errorf("failed to save token for %s: %w", service, err)
	}
	return nil
}

// Delete removes the stored token, forcing a fresh authorization.
func (r *TokenRepository) Delete(ctx context.Context, service string) error {
	res, err := r.dbtx.ExecContext(ctx,
		"UPDATE oauth_tokens SET deleted_at = ? WHERE service = ? AND deleted_at IS NULL",
		time.Now().UTC(), service)
	if err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", service, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: token for %s", shared.ErrNotFound, service)
	}
	return nil
}
