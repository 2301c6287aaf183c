package backend

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo describes a detected provider rate limit.
type RateLimitInfo struct {
	DetectedAt time.Time
	ResetAt    time.Time
	RawMessage string
}

// Wait returns how long until the limit resets, never negative.
func (r *RateLimitInfo) Wait(now time.Time) time.Duration {
	if r.ResetAt.Before(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

var (
	// Claude AI usage limit reached|<unix seconds>
	unixResetPattern = regexp.MustCompile(`usage limit reached\|(\d+)`)
	// retry in 30 seconds / retry after 30s / Retry-After: 30
	retryAfterPattern = regexp.MustCompile(`(?i)retry(?:[- ]after:?| in| after)\s*(\d+)\s*(?:seconds?|s)?\b`)
	// resets 2pm (Europe/Dublin) / limit will reset at 2pm (America/New_York)
	clockResetPattern  = regexp.MustCompile(`(?i)reset(?:s| at)\s+(\d{1,2})(am|pm)\s*\(([^)]+)\)`)
	rateLimitIndicator = regexp.MustCompile(`(?i)(out of.*usage|rate.?limit|usage.?limit|\b429\b|too.?many.?requests)`)
)

// DefaultRateLimitBackoff is used when a limit is detected without a reset time.
const DefaultRateLimitBackoff = 60 * time.Second

// ParseRateLimit recognises rate-limit messages from the supported backends.
// It returns nil when msg is not about a rate limit.
func ParseRateLimit(msg string, now time.Time) *RateLimitInfo {
	if msg == "" || !rateLimitIndicator.MatchString(msg) {
		return nil
	}
	info := &RateLimitInfo{DetectedAt: now, RawMessage: msg}

	if m := unixResetPattern.FindStringSubmatch(msg); m != nil {
		if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.ResetAt = time.Unix(ts, 0)
			return info
		}
	}
	if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			info.ResetAt = now.Add(time.Duration(secs) * time.Second)
			return info
		}
	}
	if m := clockResetPattern.FindStringSubmatch(msg); m != nil {
		hour, _ := strconv.Atoi(m[1])
		meridiem := strings.ToLower(m[2])
		switch {
		case meridiem == "pm" && hour != 12:
			hour += 12
		case meridiem == "am" && hour == 12:
			hour = 0
		}
		loc, err := time.LoadLocation(m[3])
		if err != nil {
			loc = time.UTC
		}
		local := now.In(loc)
		reset := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
		if reset.Before(local) {
			reset = reset.Add(24 * time.Hour)
		}
		info.ResetAt = reset
		return info
	}

	info.ResetAt = now.Add(DefaultRateLimitBackoff)
	return info
}

// WaitLogger receives rate-limit notices.
type WaitLogger interface {
	LogWarn(message string)
}

// RateLimited retries a backend call once after a detected rate limit, as
// long as the reset is within MaxWait.
type RateLimited struct {
	Backend      Backend
	MaxWait      time.Duration
	SafetyBuffer time.Duration
	Logger       WaitLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRateLimitRetry wraps b. A zero maxWait disables waiting.
func WithRateLimitRetry(b Backend, maxWait time.Duration, logger WaitLogger) *RateLimited {
	return &RateLimited{
		Backend:      b,
		MaxWait:      maxWait,
		SafetyBuffer: 5 * time.Second,
		Logger:       logger,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Complete forwards to the wrapped backend.
func (r *RateLimited) Complete(ctx context.Context, req Request) (string, error) {
	out, err := r.Backend.Complete(ctx, req)
	if err == nil || r.MaxWait <= 0 || ctx.Err() != nil {
		return out, err
	}
	info := ParseRateLimit(err.Error(), r.now())
	if info == nil {
		return out, err
	}
	wait := info.Wait(r.now()) + r.SafetyBuffer
	if wait > r.MaxWait {
		return "", fmt.Errorf("rate limited until %s, beyond the %s wait limit: %w",
			info.ResetAt.Format(time.Kitchen), r.MaxWait, err)
	}
	if r.Logger != nil {
		r.Logger.LogWarn(fmt.Sprintf("backend rate limited, retrying in %s", wait.Round(time.Second)))
	}
	if serr := r.sleep(ctx, wait); serr != nil {
		return "", serr
	}
	return r.Backend.Complete(ctx, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
