package calendar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "token.json")

	token := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       time.Date(2025, time.September, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, SaveToken(path, token))

	t.Run("round trip", func(t *testing.T) {
		loaded, err := LoadToken(path)
		require.NoError(t, err)
		assert.Equal(t, token.AccessToken, loaded.AccessToken)
		assert.Equal(t, token.RefreshToken, loaded.RefreshToken)
		assert.True(t, token.Expiry.Equal(loaded.Expiry))
	})

	t.Run("file mode is private", func(t *testing.T) {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("overwrite replaces the token", func(t *testing.T) {
		token2 := &oauth2.Token{AccessToken: "access-789", TokenType: "Bearer"}
		require.NoError(t, SaveToken(path, token2))

		loaded, err := LoadToken(path)
		require.NoError(t, err)
		assert.Equal(t, "access-789", loaded.AccessToken)
	})
}

func TestLoadTokenMissing(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestLoadTokenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadToken(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthorized)
}

func TestOAuthConfigFromFile(t *testing.T) {
	clientSecret := `{
  "installed": {
    "client_id": "client-id.apps.googleusercontent.com",
    "client_secret": "secret",
    "auth_uri": "https://accounts.google.com/o/oauth2/auth",
    "token_uri": "https://oauth2.googleapis.com/token",
    "redirect_uris": ["http://localhost"]
  }
}`
	path := filepath.Join(t.TempDir(), "client_secret.json")
	require.NoError(t, os.WriteFile(path, []byte(clientSecret), 0o600))

	t.Run("redirect override applied", func(t *testing.T) {
		cfg, err := OAuthConfigFromFile(path, "http://localhost:8000/auth/google/callback")
		require.NoError(t, err)
		assert.Equal(t, "client-id.apps.googleusercontent.com", cfg.ClientID)
		assert.Equal(t, "http://localhost:8000/auth/google/callback", cfg.RedirectURL)
		require.Len(t, cfg.Scopes, 1)
		assert.Contains(t, cfg.Scopes[0], "calendar.events")
	})

	t.Run("file redirect kept when no override", func(t *testing.T) {
		cfg, err := OAuthConfigFromFile(path, "")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost", cfg.RedirectURL)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := OAuthConfigFromFile(filepath.Join(t.TempDir(), "nope.json"), "")
		require.Error(t, err)
	})
}

// staticTokenSource hands out a fixed sequence of tokens.
type staticTokenSource struct {
	tokens []*oauth2.Token
	i      int
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[s.i]
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestPersistingTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	stored := &oauth2.Token{AccessToken: "old", RefreshToken: "refresh", TokenType: "Bearer"}
	require.NoError(t, SaveToken(path, stored))

	refreshed := &oauth2.Token{AccessToken: "new", RefreshToken: "refresh", TokenType: "Bearer"}
	src := &persistingTokenSource{
		path: path,
		src:  &staticTokenSource{tokens: []*oauth2.Token{stored, refreshed}},
		last: stored.AccessToken,
	}

	// First call hands back the stored token; nothing rewritten.
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "old", tok.AccessToken)

	// Second call sees a refreshed access token and persists it.
	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)

	loaded, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.AccessToken)
}

func TestNewPersistingTokenSourceNotAuthorized(t *testing.T) {
	cfg := &oauth2.Config{}
	_, err := NewPersistingTokenSource(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}
