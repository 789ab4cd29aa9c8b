package auth

import "net/http"

// SessionCookieName holds the session token for browser clients. API
// clients send the same token as a bearer header instead.
const SessionCookieName = "titlescout_session"

// sessionCookie builds the cookie with the hardening flags shared by
// set and clear. maxAge mirrors the 7-day session lifetime in the user
// service; a negative value deletes the cookie.
func sessionCookie(token string, maxAge int, isSecure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func SetSessionCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, sessionCookie(token, 7*24*60*60, isSecure))
}

func ClearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, sessionCookie("", -1, isSecure))
}
