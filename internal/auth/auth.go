// Package auth resolves HTTP requests to account IDs. The engine has no
// login flow of its own — authentication is an external collaborator — so
// this package only maps bearer tokens to accounts, falling back to an
// anonymous guest mode where persistence is skipped entirely.
package auth

import (
	"net/http"
	"strings"
)

// Authenticator maps a request to an account. ok is false for anonymous
// requests; callers then run the session in guest mode.
type Authenticator interface {
	Authenticate(r *http.Request) (accountID string, ok bool)
}

// StaticTokens authenticates against a fixed token → account table, read
// from the Authorization bearer header or the X-API-Key header.
type StaticTokens map[string]string

func (t StaticTokens) Authenticate(r *http.Request) (string, bool) {
	token := r.Header.Get("X-API-Key")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		return "", false
	}
	accountID, ok := t[token]
	return accountID, ok
}

// Anonymous treats every request as a guest.
type Anonymous struct{}

func (Anonymous) Authenticate(*http.Request) (string, bool) { return "", false }
