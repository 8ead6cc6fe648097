package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"emcp-client/internal/credentials"
	"emcp-client/internal/dto"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthClient struct {
	baseURL string
	token   string
	err     error
}

func (f *fakeAuthClient) Login(_ context.Context, email, _ string) (*dto.TokenResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.TokenResponse{AccessToken: f.token, TokenType: "bearer"}, nil
}

func (f *fakeAuthClient) BaseURL() string { return f.baseURL }

func signedToken(t *testing.T, email string, exp time.Time) string {
	t.Helper()
	claims := dto.MarketplaceClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return token
}

func TestCredentialService_LoginStoresSession(t *testing.T) {
	store := credentials.NewMemoryStore()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, "dev@example.com", exp)
	svc := NewCredentialService(store, &fakeAuthClient{baseURL: "http://localhost:8000/api", token: token})

	sess, err := svc.Login(context.Background(), " dev@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", sess.Email)
	assert.Equal(t, "http://localhost:8000/api", sess.BaseURL)
	require.NotNil(t, sess.ExpiresAt)
	assert.True(t, exp.Equal(*sess.ExpiresAt))

	stored, err := store.Get(context.Background(), credentials.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	got, err := svc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestCredentialService_LoginFailureStoresNothing(t *testing.T) {
	store := credentials.NewMemoryStore()
	svc := NewCredentialService(store, &fakeAuthClient{err: errors.New("Incorrect email or password")})

	_, err := svc.Login(context.Background(), "dev@example.com", "wrong")
	assert.EqualError(t, err, "Incorrect email or password")

	_, err = store.Get(context.Background(), credentials.KeyAccessToken)
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	_, err = svc.Login(context.Background(), "", "x")
	assert.Error(t, err)
}

// recordingStore wraps a MemoryStore, recording Set order and failing Set on failKey
type recordingStore struct {
	*credentials.MemoryStore
	failKey string
	sets    []string
}

func (s *recordingStore) Set(ctx context.Context, key, value string) error {
	s.sets = append(s.sets, key)
	if key == s.failKey {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestCredentialService_LoginWriteOrder(t *testing.T) {
	store := &recordingStore{MemoryStore: credentials.NewMemoryStore()}
	svc := NewCredentialService(store, &fakeAuthClient{baseURL: "http://localhost:8000/api", token: "tok_new"})

	_, err := svc.Login(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{credentials.KeyAPIBaseURL, credentials.KeyUserEmail, credentials.KeyAccessToken}, store.sets)
}

func TestCredentialService_LoginPartialWriteClearsSession(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{MemoryStore: credentials.NewMemoryStore(), failKey: credentials.KeyUserEmail}
	require.NoError(t, store.MemoryStore.Set(ctx, credentials.KeyAccessToken, "tok_old"))
	require.NoError(t, store.MemoryStore.Set(ctx, credentials.KeyAPIBaseURL, "https://other.example.com/api"))

	svc := NewCredentialService(store, &fakeAuthClient{baseURL: "http://localhost:8000/api", token: "tok_new"})
	_, err := svc.Login(ctx, "dev@example.com", "secret")
	assert.ErrorContains(t, err, "failed to store userEmail")

	for _, key := range []string{credentials.KeyAccessToken, credentials.KeyUserEmail, credentials.KeyAPIBaseURL} {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, credentials.ErrNotFound, key)
	}
	_, err = svc.Token(ctx)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCredentialService_TokenMissing(t *testing.T) {
	svc := NewCredentialService(credentials.NewMemoryStore(), &fakeAuthClient{})

	_, err := svc.Token(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, "Please log in first!", err.Error())
}

func TestCredentialService_ExpiredTokenIsRemoved(t *testing.T) {
	store := credentials.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credentials.KeyAccessToken, signedToken(t, "dev@example.com", time.Now().Add(-time.Minute))))

	svc := NewCredentialService(store, &fakeAuthClient{})
	_, err := svc.Token(ctx)
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = store.Get(ctx, credentials.KeyAccessToken)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestCredentialService_OpaqueTokenPassesThrough(t *testing.T) {
	store := credentials.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credentials.KeyAccessToken, "tok_abc"))
	require.NoError(t, store.Set(ctx, credentials.KeyUserEmail, "dev@example.com"))

	svc := NewCredentialService(store, &fakeAuthClient{})
	token, err := svc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok_abc", token)

	sess, err := svc.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", sess.Email)
	assert.Nil(t, sess.ExpiresAt)
}

func TestCredentialService_ForeignMarketplace(t *testing.T) {
	store := credentials.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credentials.KeyAccessToken, "tok_abc"))
	require.NoError(t, store.Set(ctx, credentials.KeyAPIBaseURL, "https://other.example.com/api"))

	svc := NewCredentialService(store, &fakeAuthClient{baseURL: "http://localhost:8000/api"})
	_, err := svc.Token(ctx)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCredentialService_Logout(t *testing.T) {
	store := credentials.NewMemoryStore()
	svc := NewCredentialService(store, &fakeAuthClient{baseURL: "http://x/api", token: "tok_abc"})
	ctx := context.Background()

	_, err := svc.Login(ctx, "dev@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx))
	require.NoError(t, svc.Logout(ctx))

	_, err = svc.WhoAmI(ctx)
	assert.ErrorIs(t, err, ErrMissingCredential)
	for _, key := range []string{credentials.KeyAccessToken, credentials.KeyUserEmail, credentials.KeyAPIBaseURL} {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, credentials.ErrNotFound, key)
	}
}
