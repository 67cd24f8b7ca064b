package oauth

import "github.com/benaskins/streamctl/internal/platform"

// Outcome is how an authorization attempt ended: Resolved, Abandoned or
// Errored.
type Outcome interface {
	outcome()
}

// Resolved carries the captured token and the account it belongs to.
type Resolved struct {
	Token    string
	Identity platform.Identity
}

// Abandoned means the user closed the surface before a token was captured.
type Abandoned struct{}

// Errored carries why resolution failed.
type Errored struct {
	Reason error
}

func (Resolved) outcome()  {}
func (Abandoned) outcome() {}
func (Errored) outcome()   {}
