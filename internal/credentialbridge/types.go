// Package credentialbridge implements Operator Registration and the
// Gemini OAuth credential rotation step of the Request Lifecycle Engine
// (spec §4.11, §4.10 step 1): self-registering this worker's operator
// identity with the credential bridge, and iterating a list of OAuth
// credentials to find one with remaining quota before every agent
// dispatch.
package credentialbridge

import (
	"context"
	"time"
)

// Credential is one Gemini OAuth credential under rotation.
type Credential struct {
	ID           string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the credential's access token needs a refresh
// before use.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// Introspector reports a credential's remaining quota.
type Introspector interface {
	Quota(ctx context.Context, cred Credential) (remaining int, err error)
}

// TokenWriter persists a credential's tokens to the agent subprocess's
// expected directory.
type TokenWriter interface {
	Write(ctx context.Context, cred Credential) error
}
