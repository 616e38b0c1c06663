package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretHeader carries the pre-shared admin key
const SecretHeader = "X-River-Secret"

// AuthMiddleware requires the pre-shared key in SecretHeader or as a bearer
// token. An empty secret disables the check.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := presentedSecret(r)
			switch {
			case !ok:
				writeErrorResponse(w, http.StatusUnauthorized, "missing or malformed credentials")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedSecret(r *http.Request) (string, bool) {
	if s := r.Header.Get(SecretHeader); s != "" {
		return s, true
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, found && token != ""
}
