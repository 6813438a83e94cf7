package api

import (
	"net/http"

	"github.com/xraph/market/account"
)

// callerFromHeader places the X-Account identity on the request context.
// A missing or blank header leaves the request anonymous.
func callerFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, err := account.Parse(r.Header.Get(AccountHeader)); err == nil {
			r = r.WithContext(account.WithCaller(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

// caller returns the request identity, or the zero account when anonymous.
func caller(r *http.Request) account.Account {
	a, _ := account.CallerFrom(r.Context())
	return a
}
