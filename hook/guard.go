package hook

import (
	"time"

	"github.com/pkg/errors"
)

// CheckExpiry must be called right before every dispatch attempt, the token
// may have expired while earlier attempts were backing off.
func CheckExpiry(job Job, now time.Time) error {
	if !now.Before(job.Auth.ExpiresAt) {
		return errors.Wrapf(ErrTokenExpired, "expired at %s", job.Auth.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
