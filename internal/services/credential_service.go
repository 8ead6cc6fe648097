package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"emcp-client/internal/credentials"
	"emcp-client/internal/dto"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AuthClient marketplace login endpoint
type AuthClient interface {
	Login(ctx context.Context, email, password string) (*dto.TokenResponse, error)
	BaseURL() string
}

// Session what is known about the stored login
type Session struct {
	Email     string     `json:"email"`
	BaseURL   string     `json:"api_base_url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CredentialService keeps the marketplace session in a credentials.Store
type CredentialService struct {
	store  credentials.Store
	client AuthClient
	now    func() time.Time
}

func NewCredentialService(store credentials.Store, client AuthClient) *CredentialService {
	return &CredentialService{store: store, client: client, now: time.Now}
}

// Login authenticates against the marketplace and stores the token, email and API base URL
func (s *CredentialService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	tokenResp, err := s.client.Login(ctx, email, password)
	if err != nil {
		logrus.WithError(err).WithField("email", email).Warn("❌ [Credentials] Login failed")
		return nil, err
	}

	// the token goes last so it is never stored without the base URL it belongs to
	values := []struct{ key, value string }{
		{credentials.KeyAPIBaseURL, s.client.BaseURL()},
		{credentials.KeyUserEmail, email},
		{credentials.KeyAccessToken, tokenResp.AccessToken},
	}
	for _, v := range values {
		if err := s.store.Set(ctx, v.key, v.value); err != nil {
			// a half-written session could pair an older token with the new base URL
			if cerr := s.clear(ctx); cerr != nil {
				logrus.WithError(cerr).Warn("⚠️ [Credentials] Failed to clear partial session")
			}
			return nil, fmt.Errorf("failed to store %s: %w", v.key, err)
		}
	}

	logrus.WithField("email", email).Info("✅ [Credentials] Logged in")
	return s.session(ctx, tokenResp.AccessToken)
}

// Logout removes every stored session key
func (s *CredentialService) Logout(ctx context.Context) error {
	if err := s.clear(ctx); err != nil {
		return err
	}
	logrus.Info("👋 [Credentials] Logged out")
	return nil
}

// clear deletes the token first, then the keys describing it
func (s *CredentialService) clear(ctx context.Context) error {
	for _, key := range []string{credentials.KeyAccessToken, credentials.KeyUserEmail, credentials.KeyAPIBaseURL} {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, credentials.ErrNotFound) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Token returns the stored bearer token. Missing tokens, tokens issued by a different
// marketplace and JWTs whose exp has passed all yield ErrMissingCredential; expired tokens are removed.
func (s *CredentialService) Token(ctx context.Context) (string, error) {
	token, err := s.store.Get(ctx, credentials.KeyAccessToken)
	if errors.Is(err, credentials.ErrNotFound) || (err == nil && strings.TrimSpace(token) == "") {
		return "", ErrMissingCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential store: %w", err)
	}

	if baseURL, err := s.store.Get(ctx, credentials.KeyAPIBaseURL); err == nil && baseURL != "" && baseURL != s.client.BaseURL() {
		logrus.WithFields(logrus.Fields{
			"stored":     baseURL,
			"configured": s.client.BaseURL(),
		}).Warn("⚠️ [Credentials] Stored session belongs to another marketplace")
		return "", ErrMissingCredential
	}

	if exp := tokenExpiry(token); exp != nil && !s.now().Before(*exp) {
		logrus.WithField("expired_at", exp.Format(time.RFC3339)).Info("⌛ [Credentials] Session expired")
		if err := s.store.Delete(ctx, credentials.KeyAccessToken); err != nil && !errors.Is(err, credentials.ErrNotFound) {
			logrus.WithError(err).Warn("⚠️ [Credentials] Failed to remove expired token")
		}
		return "", ErrMissingCredential
	}
	return token, nil
}

// WhoAmI describes the stored session
func (s *CredentialService) WhoAmI(ctx context.Context) (*Session, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	return s.session(ctx, token)
}

func (s *CredentialService) session(ctx context.Context, token string) (*Session, error) {
	sess := &Session{ExpiresAt: tokenExpiry(token)}

	var err error
	if sess.Email, err = s.store.Get(ctx, credentials.KeyUserEmail); err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return nil, err
	}
	if sess.BaseURL, err = s.store.Get(ctx, credentials.KeyAPIBaseURL); err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return nil, err
	}
	if sess.Email == "" {
		if claims := tokenClaims(token); claims != nil {
			sess.Email = claims.Email
			if sess.Email == "" {
				sess.Email = claims.Subject
			}
		}
	}
	return sess, nil
}

// tokenClaims reads claims without verifying the signature; nil for opaque tokens
func tokenClaims(token string) *dto.MarketplaceClaims {
	claims := &dto.MarketplaceClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func tokenExpiry(token string) *time.Time {
	claims := tokenClaims(token)
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time
	return &exp
}
