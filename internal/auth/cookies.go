package auth

import (
	"errors"
	"net/http"
)

const sessionCookieName = "session"

// SetSessionCookie places the signed session handle in an HttpOnly cookie.
// No Max-Age: the session row, not the cookie, is the source of truth for
// lifetime, and rows only die on logout or password reset.
func SetSessionCookie(w http.ResponseWriter, handle string, isProduction bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    handle,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, isProduction bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetSessionFromCookie extracts the session handle from the request.
func GetSessionFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", errors.New("session cookie not found")
	}
	return cookie.Value, nil
}
