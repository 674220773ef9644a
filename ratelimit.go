package reqflow

import "golang.org/x/time/rate"

// newRateLimiter builds the token-bucket limiter applied between admission
// and dispatch. A non-positive rate disables the limit; a non-positive burst
// is raised to 1 so a configured limiter can always dispatch.
func newRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
