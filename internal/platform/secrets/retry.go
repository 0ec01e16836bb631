package secrets

import (
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
)

// accessAttempts bounds Secret Manager calls per resolve, first try included.
const accessAttempts = 3

func accessCallOptions() []gax.CallOption {
	return []gax.CallOption{gax.WithRetry(func() gax.Retryer {
		return &limitedRetryer{
			next: gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        time.Second,
				Multiplier: 2,
			}),
			left: accessAttempts - 1,
		}
	})}
}

// limitedRetryer stops a gax retryer after a fixed number of retries.
type limitedRetryer struct {
	next gax.Retryer
	left int
}

func (r *limitedRetryer) Retry(err error) (time.Duration, bool) {
	delay, ok := r.next.Retry(err)
	if !ok || r.left <= 0 {
		return 0, false
	}
	r.left--
	return delay, true
}
