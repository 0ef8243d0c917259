package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/fenggwsx/StayChat/internal/auth"
	"github.com/fenggwsx/StayChat/internal/config"
)

var errUnauthorized = errors.New("relay: invalid token")

// identify resolves the caller of an upgrade request. Requests without a
// token connect anonymously; a token that does not verify is rejected.
func identify(jwtCfg config.JWTConfig, r *http.Request) (string, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return "", nil
	}
	claims, err := auth.ParseToken(jwtCfg, token)
	if err != nil {
		return "", errUnauthorized
	}
	return claims.UserID, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
