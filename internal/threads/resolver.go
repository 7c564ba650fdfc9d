// Package threads drives the Threads web UI through a real browser: domain
// resolution, login and identity verification, composing and publishing
// multi-paragraph posts.
package threads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/coupuas/threadauto/internal/logging"
)

// Navigator is the slice of browser behaviour the resolver needs. *Session
// implements it; tests supply fakes.
type Navigator interface {
	Navigate(url string, timeout time.Duration) (status int, err error)
}

const backoffStep = 400 * time.Millisecond

// NavigationError reports that every candidate frontend was exhausted. It
// keeps the per-candidate failures and unwraps to the last one.
type NavigationError struct {
	Attempts []error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("no reachable threads frontend after %d candidates: %v", len(e.Attempts), e.Attempts[len(e.Attempts)-1])
}

func (e *NavigationError) Unwrap() error {
	return e.Attempts[len(e.Attempts)-1]
}

// Resolver finds a reachable Threads frontend among an ordered list of
// candidate base URLs. The preferred URL is tried first, then each fallback
// in order; a candidate gets retriesPerDomain extra attempts with a linearly
// growing pause before the next candidate is considered.
type Resolver struct {
	candidates       []string
	retriesPerDomain int
	timeout          time.Duration
	log              logging.Logger
}

func NewResolver(preferred string, fallbacks []string, retriesPerDomain int, timeout time.Duration, log logging.Logger) *Resolver {
	return &Resolver{
		candidates:       candidateList(preferred, fallbacks),
		retriesPerDomain: retriesPerDomain,
		timeout:          timeout,
		log:              log,
	}
}

// candidateList builds the ordered probe list: preferred first, then
// fallbacks, duplicates removed, empty entries dropped.
func candidateList(preferred string, fallbacks []string) []string {
	out := make([]string, 0, len(fallbacks)+1)
	seen := make(map[string]struct{})
	for _, c := range append([]string{preferred}, fallbacks...) {
		c = strings.TrimRight(strings.TrimSpace(c), "/")
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// linearBackoff pauses backoffStep after the first failure, twice that after
// the second, and so on.
func linearBackoff() retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * backoffStep, false
	})
}

// Resolve returns the first candidate base URL the navigator can reach with
// a non-server-error status. All candidates exhausted is a hard error
// wrapping the last per-candidate failure.
func (r *Resolver) Resolve(ctx context.Context, nav Navigator) (string, error) {
	if len(r.candidates) == 0 {
		return "", fmt.Errorf("no candidate urls configured")
	}

	attempts := make([]error, 0, len(r.candidates))
	for _, base := range r.candidates {
		err := retry.Do(ctx, retry.WithMaxRetries(uint64(r.retriesPerDomain), linearBackoff()), func(ctx context.Context) error {
			status, err := nav.Navigate(base, r.timeout)
			if err != nil {
				return retry.RetryableError(err)
			}
			if status >= 500 {
				return retry.RetryableError(fmt.Errorf("server error %d", status))
			}
			return nil
		})
		if err == nil {
			r.log.Info(ctx, "threads frontend resolved", "base", base)
			return base, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.log.Warn(ctx, "candidate unreachable", "base", base, "error", err)
		attempts = append(attempts, fmt.Errorf("candidate %s: %w", base, err))
	}
	return "", &NavigationError{Attempts: attempts}
}
