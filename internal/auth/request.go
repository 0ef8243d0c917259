package auth

import (
	"net/http"
	"strings"
)

// TokenFromRequest pulls a token from the Authorization header, falling back
// to the "token" query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
