// Package account defines caller identities.
//
// An Account is whatever the host platform uses to name a caller: a wallet
// address, a user id. The market only compares accounts for equality, so
// identities are normalized to trimmed lower case on the way in.
package account

import (
	"context"
	"errors"
	"strings"
)

// ErrEmpty is returned when an identity is blank.
var ErrEmpty = errors.New("account: empty identity")

// Account is a normalized caller identity.
type Account string

// Parse normalizes s into an Account.
func Parse(s string) (Account, error) {
	a := Account(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return "", ErrEmpty
	}
	return a, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded accounts.
func MustParse(s string) Account {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the identity as stored.
func (a Account) String() string { return string(a) }

// IsZero reports whether a is the empty identity.
func (a Account) IsZero() bool { return a == "" }

type callerKey struct{}

// WithCaller returns a context carrying the calling account.
func WithCaller(ctx context.Context, a Account) context.Context {
	return context.WithValue(ctx, callerKey{}, a)
}

// CallerFrom extracts the calling account placed by WithCaller.
func CallerFrom(ctx context.Context) (Account, bool) {
	a, ok := ctx.Value(callerKey{}).(Account)
	return a, ok && !a.IsZero()
}
