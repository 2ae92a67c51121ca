// Package auth restores or performs the brokerage login in the attached
// browser tab and persists the resulting session.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
)

// SessionState is what survives a restart.
type SessionState struct {
	Authenticated bool                `json:"authenticated"`
	Cookies       []cdpcontrol.Cookie `json:"cookies"`
	LastActivity  time.Time           `json:"last_activity"`
	UserAgent     string              `json:"user_agent,omitempty"`
	CSRFToken     string              `json:"csrf_token,omitempty"`
}

// Touch records activity at now.
func (s *SessionState) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// Fresh reports whether the state is authenticated and was active within
// timeout of now.
func (s SessionState) Fresh(now time.Time, timeout time.Duration) bool {
	if !s.Authenticated || s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) < timeout
}

// LoadSession reads the session file. A missing file yields a zero state and
// fresh=false without error.
func LoadSession(path string, timeout time.Duration, now time.Time) (SessionState, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SessionState{}, false, nil
		}
		return SessionState{}, false, fmt.Errorf("auth: read session: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return SessionState{}, false, fmt.Errorf("auth: decode session: %w", err)
	}
	return st, st.Fresh(now, timeout), nil
}

// SaveSession writes the state atomically with owner-only permissions; the
// file holds live cookies.
func SaveSession(path string, st SessionState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("auth: session dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode session: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("auth: session temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: session chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: session write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: session close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("auth: session rename: %w", err)
	}
	return nil
}

// IsAuthenticatedURL reports whether url looks like a signed-in page: it
// must not be a login page and must contain one of patterns.
func IsAuthenticatedURL(url string, patterns []string) bool {
	lower := strings.ToLower(url)
	if lower == "" || strings.Contains(lower, "login") {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
