package security

import (
	"net/http"
	"strings"
)

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// BearerOrCookieToken extracts the raw access token from the Authorization
// header, falling back to the access_token cookie.
func BearerOrCookieToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return GetCookie(r, "access_token")
}
