// Package auth implements Basic authentication against the single operator
// credential from the environment. The configured password is either
// plaintext or an argon2id PHC string.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/config"
)

type Authenticator struct {
	username string
	password string
	logger   zerolog.Logger
}

func New(cfg config.AuthConfig, logger zerolog.Logger) *Authenticator {
	if cfg.Username == "" {
		logger.Warn().Msg("AUTH_USERNAME not set, authentication disabled")
	}
	return &Authenticator{
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}
}

// Enabled reports whether a credential is configured at all.
func (a *Authenticator) Enabled() bool { return a.username != "" }

// Authorize checks the request's Basic credentials. Always true when
// authentication is disabled.
func (a *Authenticator) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return a.verify(user, pass)
}

func (a *Authenticator) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1

	var passOK bool
	if strings.HasPrefix(a.password, "$argon2id$") {
		passOK = verifyArgon2id(a.password, password)
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	}
	return userOK && passOK
}

// Middleware rejects unauthenticated requests with 401. Routes that are
// public by policy are mounted outside of it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r) {
			a.logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Basic realm="calbridge", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
