package service

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"notehub/internal/domain"
)

// Authenticator resolves a bearer credential to an identity. It never
// fails: an invalid or missing credential falls back to a guest
// identity, and whether that guest may enter a page is decided later by
// the access check.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) domain.Identity
}

// AuthService authenticates against the user store's API tokens.
type AuthService struct {
	users domain.UserStore
}

func NewAuthService(users domain.UserStore) *AuthService {
	return &AuthService{users: users}
}

func (s *AuthService) Authenticate(_ context.Context, token string) domain.Identity {
	if token != "" {
		if u, err := s.users.GetUserByToken(token); err == nil {
			return domain.AuthenticatedIdentity(u)
		}
	}
	return NewGuestIdentity()
}

// NewGuestIdentity mints a throwaway guest identity with a readable
// display name.
func NewGuestIdentity() domain.Identity {
	return domain.GuestIdentity(
		"guest-"+uuid.New().String(),
		fmt.Sprintf("Guest %d", rand.Intn(1000)),
	)
}
