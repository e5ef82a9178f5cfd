package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"

	"timetablecal/internal/logger"
)

// OAuthConfigFromFile builds the OAuth client config from a downloaded
// client-secret JSON file, scoped to calendar event writes only.
func OAuthConfigFromFile(path, redirectURL string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapWriteError("OAuthConfigFromFile", err, "reading client secret file")
	}
	cfg, err := google.ConfigFromJSON(data, calendarapi.CalendarEventsScope)
	if err != nil {
		return nil, WrapWriteError("OAuthConfigFromFile", err, "parsing client secret file")
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg, nil
}

// LoadToken reads a previously saved OAuth token. Returns ErrNotAuthorized
// when no token has been stored yet.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, WrapWriteError("LoadToken", ErrNotAuthorized, path)
		}
		return nil, WrapWriteError("LoadToken", err, path)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, WrapWriteError("LoadToken", err, "token file is not valid JSON")
	}
	return &token, nil
}

// SaveToken persists the token with 0600 permissions, written atomically via
// a temp file in the same directory.
func SaveToken(path string, token *oauth2.Token) error {
	const op = "SaveToken"

	data, err := json.Marshal(token)
	if err != nil {
		return WrapWriteError(op, err, "")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return WrapWriteError(op, err, "")
	}

	tmp, err := os.CreateTemp(dir, ".timetablecal-token-*.tmp")
	if err != nil {
		return WrapWriteError(op, err, "")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return WrapWriteError(op, err, "")
	}
	if err := tmp.Close(); err != nil {
		return WrapWriteError(op, err, "")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return WrapWriteError(op, err, "")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return WrapWriteError(op, err, "")
	}
	return nil
}

// persistingTokenSource rewrites the token file whenever the underlying
// source hands out a refreshed access token, so refreshes survive restarts.
type persistingTokenSource struct {
	path string
	src  oauth2.TokenSource

	mu   sync.Mutex
	last string
}

// NewPersistingTokenSource loads the stored token and wraps an
// auto-refreshing token source that writes refreshed tokens back to disk.
func NewPersistingTokenSource(ctx context.Context, cfg *oauth2.Config, path string) (oauth2.TokenSource, error) {
	token, err := LoadToken(path)
	if err != nil {
		return nil, err
	}
	return &persistingTokenSource{
		path: path,
		src:  cfg.TokenSource(ctx, token),
		last: token.AccessToken,
	}, nil
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		log := logger.WithComponent("calendar-auth")
		if err := SaveToken(p.path, token); err != nil {
			log.Warn().
				Err(err).
				Msg("Failed to persist refreshed token")
		} else {
			p.last = token.AccessToken
			log.Info().
				Time("expiry", token.Expiry).
				Msg("Persisted refreshed OAuth token")
		}
	}
	return token, nil
}
