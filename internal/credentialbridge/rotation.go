package credentialbridge

import (
	"context"
	"math/rand"
	"time"

	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// backoffBase, backoffMax, and backoffJitter describe the exhausted-quota
// retry schedule (spec §4.10 step 1): base 60s, max 10m, ±20% jitter,
// doubling each attempt — the same InitialBackoff/MaxBackoff/Jitter shape
// as the teacher's RetryConfig, just with wider bounds.
const (
	backoffBase   = 60 * time.Second
	backoffMax    = 10 * time.Minute
	backoffJitter = 0.2
)

// Rotator selects a Gemini OAuth credential with remaining quota,
// refreshing expired tokens first and backing off when every credential
// is exhausted.
type Rotator struct {
	refresher Refresher
	quota     Introspector
	writer    TokenWriter
	log       *logging.Logger
}

// NewRotator constructs a Rotator.
func NewRotator(refresher Refresher, quota Introspector, writer TokenWriter, log *logging.Logger) *Rotator {
	return &Rotator{refresher: refresher, quota: quota, writer: writer, log: log}
}

// Acquire iterates credentials in order, refreshing any with an expired
// access token, and writes the tokens of the first one with remaining
// quota. If every credential is exhausted it backs off (base 60s, max
// 10m, ±20% jitter, doubling each round) and retries the whole list,
// blocking until one succeeds or ctx is done.
func (r *Rotator) Acquire(ctx context.Context, credentials []Credential) (Credential, error) {
	backoff := backoffBase

	for {
		cred, ok, err := r.tryOnce(ctx, credentials)
		if err != nil {
			return Credential{}, err
		}
		if ok {
			return cred, nil
		}

		if r.log != nil {
			r.log.WithField("backoff", backoff.String()).Warn("all gemini credentials exhausted, backing off")
		}

		jitter := time.Duration(float64(backoff) * backoffJitter * (rand.Float64()*2 - 1))
		select {
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		case <-time.After(backoff + jitter):
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// tryOnce walks the credential list once, returning the first credential
// with remaining quota. ok is false (with a nil error) when every
// credential was checked and none had quota.
func (r *Rotator) tryOnce(ctx context.Context, credentials []Credential) (Credential, bool, error) {
	now := time.Now()
	for _, cred := range credentials {
		if cred.Expired(now) {
			refreshed, err := r.refresher.Refresh(ctx, cred)
			if err != nil {
				if r.log != nil {
					r.log.WithError(err).WithField("credential", cred.ID).Warn("credential refresh failed")
				}
				continue
			}
			cred = refreshed
		}

		remaining, err := r.quota.Quota(ctx, cred)
		if err != nil {
			if r.log != nil {
				r.log.WithError(err).WithField("credential", cred.ID).Warn("quota introspection failed")
			}
			continue
		}
		if remaining <= 0 {
			continue
		}

		if err := r.writer.Write(ctx, cred); err != nil {
			return Credential{}, false, svcerrors.Internal("write credential tokens", err)
		}
		return cred, true, nil
	}
	return Credential{}, false, nil
}
