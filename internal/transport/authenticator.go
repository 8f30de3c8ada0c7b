package transport

import (
	"context"
	"errors"
	"time"

	"voiceconnect/internal/auth"
	"voiceconnect/internal/storage"
	"voiceconnect/internal/wire"
)

var ErrAuthenticationFailed = errors.New("transport: authentication failed")

// Authenticator resolves the identity behind an authenticate frame. The
// transport trusts nothing else from the client about who is talking.
type Authenticator interface {
	Authenticate(ctx context.Context, req wire.AuthenticateRequest) (string, error)
}

// UserResolver is the slice of the store the token authenticator needs.
type UserResolver interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
}

// TokenAuthenticator verifies a JWT access token and checks the claimed
// user exists. A storage outage fails closed here: an identity we cannot
// confirm is not attached.
type TokenAuthenticator struct {
	Tokens *auth.Manager
	Users  UserResolver
}

func (a TokenAuthenticator) Authenticate(ctx context.Context, req wire.AuthenticateRequest) (string, error) {
	if req.Token == "" {
		return "", ErrAuthenticationFailed
	}
	claims, err := a.Tokens.Verify(req.Token, auth.TokenTypeAccess, time.Now())
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	if a.Users != nil {
		if _, err := a.Users.GetUser(ctx, claims.UserID); err != nil {
			return "", ErrAuthenticationFailed
		}
	}
	return claims.UserID, nil
}
