package server

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/database"
)

// fakeAPIKeys is an in-memory APIKeyRepository keyed by hash.
type fakeAPIKeys struct {
	keys map[string]*database.APIKey
}

func newFakeAPIKeys() *fakeAPIKeys {
	return &fakeAPIKeys{keys: map[string]*database.APIKey{}}
}

func (f *fakeAPIKeys) Create(_ context.Context, k *database.APIKey) error {
	k.ID = uuid.New()
	stored := *k
	f.keys[string(k.KeyHash)] = &stored
	return nil
}

func (f *fakeAPIKeys) GetByHash(_ context.Context, hash []byte) (*database.APIKey, error) {
	k, ok := f.keys[string(hash)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return k, nil
}

func (f *fakeAPIKeys) Delete(_ context.Context, id uuid.UUID) error {
	for h, k := range f.keys {
		if k.ID == id {
			delete(f.keys, h)
			return nil
		}
	}
	return database.ErrNotFound
}

func TestJWTValidator_RoundTrip(t *testing.T) {
	v := NewJWTValidator("test-secret-key-that-is-long-enough")

	claims := &UserClaims{
		UserID:    "user-123",
		Email:     "dev@example.com",
		IssuedAt:  time.Now().Truncate(time.Second),
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
		Issuer:    "keyfold",
	}

	token, err := v.GenerateToken(claims)
	require.NoError(t, err)

	parsed, err := v.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, "user-123", parsed.UserID)
	assert.Equal(t, "dev@example.com", parsed.Email)
	assert.Equal(t, "keyfold", parsed.Issuer)
}

func TestJWTValidator_RejectsExpiredToken(t *testing.T) {
	v := NewJWTValidator("test-secret-key-that-is-long-enough")

	token, err := v.GenerateToken(&UserClaims{
		UserID:    "user-123",
		IssuedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestJWTValidator_RejectsWrongSecret(t *testing.T) {
	signer := NewJWTValidator("secret-one-that-is-long-enough-xx")
	verifier := NewJWTValidator("secret-two-that-is-long-enough-xx")

	token, err := signer.GenerateToken(&UserClaims{
		UserID:    "user-123",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestJWTValidator_RejectsGarbage(t *testing.T) {
	v := NewJWTValidator("test-secret-key-that-is-long-enough")

	_, err := v.Validate("not-a-jwt")
	assert.Error(t, err)

	_, err = v.Validate("a.b.c")
	assert.Error(t, err)
}

func TestAuthenticator_JWTActor(t *testing.T) {
	v := NewJWTValidator("test-secret-key-that-is-long-enough")
	auth := NewAuthenticator(v, newFakeAPIKeys(), zerolog.Nop())

	token, err := v.GenerateToken(&UserClaims{
		UserID:    "user-42",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	actor, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", actor.ID)
	assert.False(t, actor.IsScoped())
}

func TestAuthenticator_APIKeyActor(t *testing.T) {
	keys := newFakeAPIKeys()
	projectID := uuid.New()

	token := "kf_abcdef0123456789"
	require.NoError(t, keys.Create(context.Background(), &database.APIKey{
		ProjectID: projectID,
		Name:      "ci",
		KeyHash:   HashAPIKey(token),
		Role:      database.RoleMember,
	}))

	auth := NewAuthenticator(NewJWTValidator("test-secret-key-that-is-long-enough"), keys, zerolog.Nop())

	actor, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, actor.IsScoped())
	assert.Equal(t, projectID, actor.ScopedProject)
	assert.Equal(t, database.RoleMember, actor.ScopedRole)
}

func TestAuthenticator_UnknownAPIKey(t *testing.T) {
	auth := NewAuthenticator(NewJWTValidator("test-secret-key-that-is-long-enough"), newFakeAPIKeys(), zerolog.Nop())

	_, err := auth.Authenticate(context.Background(), "kf_does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown api key")
}

func TestHashAPIKey(t *testing.T) {
	want := sha256.Sum256([]byte("kf_token"))
	assert.Equal(t, want[:], HashAPIKey("kf_token"))
	assert.NotEqual(t, HashAPIKey("kf_token"), HashAPIKey("kf_other"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/secret-imports", "/api/v1/secret-imports"},
		{"/api/v1/secret-imports/0d4aa866-7a05-4b5f-9f33-9a6b2b5e8f11", "/api/v1/secret-imports/:id"},
		{"/api/v1/projects/0d4aa866-7a05-4b5f-9f33-9a6b2b5e8f11/environments", "/api/v1/projects/:id/environments"},
		{"/api/v1/things/12345", "/api/v1/things/:id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}
