package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPlatform is returned for a platform with no provider.
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrNoToken is reported when a matched redirect carries no access token.
	ErrNoToken = errors.New("redirect has no access token")

	// ErrSuperseded is reported when a redirect belongs to a session that a
	// later Begin replaced. Such redirects are ignored.
	ErrSuperseded = errors.New("session superseded")

	// ErrNotConnected is returned by Credentials when nothing is stored.
	ErrNotConnected = errors.New("not connected")
)

// RedirectError carries the error a provider reported on the redirect, such
// as access_denied. It wraps ErrNoToken.
type RedirectError struct {
	Code        string
	Description string
}

func (e *RedirectError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func (e *RedirectError) Unwrap() error { return ErrNoToken }

// IdentityError reports a failed identity lookup after the token was stored.
type IdentityError struct {
	Platform string
	Err      error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("fetching %s identity: %v", e.Platform, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }
