// Package ratelimit implements proactive pacing for provider calls:
// token buckets for requests-per-minute, tokens-per-minute, and
// tokens-per-day, each with a safety margin so the loop backs off before
// the provider's own limiter would reject the call.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limits configures the three independent budgets a Limiter paces
// against. Zero in any field means that budget is unconstrained.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
	TokensPerDay      int
	// SafetyMargin shaves this fraction off every configured limit before
	// building the underlying token buckets (e.g. 0.1 paces to 90% of
	// the provider's stated limit).
	SafetyMargin float64
}

// Limiter proactively paces requests against a set of independent
// budgets. Callers call Wait before issuing a provider call, and Record
// after the call completes with its actual token consumption (since that
// is not known until the response arrives).
type Limiter struct {
	requests *rate.Limiter
	tokensPM *rate.Limiter
	tokensPD *rate.Limiter
}

// New builds a Limiter from limits. A zero-valued budget yields no
// limiter for that dimension (always permits immediately).
func New(limits Limits) *Limiter {
	margin := 1.0
	if limits.SafetyMargin > 0 && limits.SafetyMargin < 1 {
		margin = 1.0 - limits.SafetyMargin
	}

	l := &Limiter{}
	if limits.RequestsPerMinute > 0 {
		rps := float64(limits.RequestsPerMinute) * margin / 60.0
		burst := limits.RequestsPerMinute
		l.requests = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if limits.TokensPerMinute > 0 {
		tps := float64(limits.TokensPerMinute) * margin / 60.0
		l.tokensPM = rate.NewLimiter(rate.Limit(tps), limits.TokensPerMinute)
	}
	if limits.TokensPerDay > 0 {
		tpd := float64(limits.TokensPerDay) * margin / 86400.0
		l.tokensPD = rate.NewLimiter(rate.Limit(tpd), limits.TokensPerDay)
	}
	return l
}

// Wait blocks until a request slot is available under the requests-per-
// minute budget, or ctx is canceled. estimatedTokens reserves that many
// tokens against the per-minute and per-day token budgets up front, since
// actual usage is unknown until the response arrives; call Record after
// the call to true up the reservation.
func (l *Limiter) Wait(ctx context.Context, estimatedTokens int) error {
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if estimatedTokens <= 0 {
		return nil
	}
	if l.tokensPM != nil {
		if err := l.tokensPM.WaitN(ctx, clampToBurst(estimatedTokens, l.tokensPM)); err != nil {
			return err
		}
	}
	if l.tokensPD != nil {
		if err := l.tokensPD.WaitN(ctx, clampToBurst(estimatedTokens, l.tokensPD)); err != nil {
			return err
		}
	}
	return nil
}

// Record reconciles an estimate against actual token usage once a call
// completes. If actual exceeds estimated, the excess is deducted from the
// per-minute/day buckets as a non-blocking best-effort charge (it may
// briefly over-draw a bucket; the next Wait call corrects for it).
func (l *Limiter) Record(estimatedTokens, actualTokens int) {
	extra := actualTokens - estimatedTokens
	if extra <= 0 {
		return
	}
	if l.tokensPM != nil {
		l.tokensPM.ReserveN(time.Now(), clampToBurst(extra, l.tokensPM))
	}
	if l.tokensPD != nil {
		l.tokensPD.ReserveN(time.Now(), clampToBurst(extra, l.tokensPD))
	}
}

// clampToBurst caps n to the limiter's burst size since WaitN/ReserveN
// reject N greater than burst.
func clampToBurst(n int, l *rate.Limiter) int {
	if b := l.Burst(); n > b {
		return b
	}
	return n
}
