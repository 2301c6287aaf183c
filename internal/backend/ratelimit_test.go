package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		msg     string
		wantNil bool
		want    time.Time
	}{
		{name: "not a limit", msg: "syntax error near line 3", wantNil: true},
		{name: "empty", msg: "", wantNil: true},
		{name: "unix reset", msg: "Claude AI usage limit reached|1748775600", want: time.Unix(1748775600, 0)},
		{name: "retry in seconds", msg: "rate limit exceeded, retry in 30 seconds", want: now.Add(30 * time.Second)},
		{name: "retry-after header", msg: "429 Too Many Requests\nRetry-After: 120", want: now.Add(120 * time.Second)},
		{name: "clock reset", msg: "You've hit your usage limit, resets 2pm (UTC)", want: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)},
		{name: "clock reset tomorrow", msg: "usage limit: resets 9am (UTC)", want: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		{name: "no reset time", msg: "too many requests", want: now.Add(DefaultRateLimitBackoff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseRateLimit(tt.msg, now)
			if tt.wantNil {
				assert.Nil(t, info)
				return
			}
			require.NotNil(t, info)
			assert.True(t, tt.want.Equal(info.ResetAt), "want %s, got %s", tt.want, info.ResetAt)
			assert.Equal(t, tt.msg, info.RawMessage)
		})
	}
}

func TestRateLimitInfoWaitNeverNegative(t *testing.T) {
	now := time.Now()
	info := &RateLimitInfo{ResetAt: now.Add(-time.Minute)}
	assert.Equal(t, time.Duration(0), info.Wait(now))
}

type recordingWarn struct{ messages []string }

func (r *recordingWarn) LogWarn(message string) { r.messages = append(r.messages, message) }

func newTestRateLimited(b Backend, maxWait time.Duration, logger WaitLogger, slept *[]time.Duration) *RateLimited {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := WithRateLimitRetry(b, maxWait, logger)
	r.now = func() time.Time { return now }
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return r
}

func TestRateLimitedRetriesOnce(t *testing.T) {
	calls := 0
	b := BackendFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("rate limit exceeded, retry in 30 seconds")
		}
		return "ok", nil
	})
	var slept []time.Duration
	warn := &recordingWarn{}
	r := newTestRateLimited(b, 5*time.Minute, warn, &slept)

	out, err := r.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{35 * time.Second}, slept)
	assert.Len(t, warn.messages, 1)
}

func TestRateLimitedGivesUpBeyondMaxWait(t *testing.T) {
	calls := 0
	b := BackendFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		return "", errors.New("rate limit exceeded, retry in 3600 seconds")
	})
	var slept []time.Duration
	r := newTestRateLimited(b, 5*time.Minute, nil, &slept)

	_, err := r.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait limit")
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRateLimitedPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("exit status 2")
	calls := 0
	b := BackendFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		return "", boom
	})
	var slept []time.Duration

	_, err := newTestRateLimited(b, time.Minute, nil, &slept).Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	// waiting disabled
	calls = 0
	b2 := BackendFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		return "", errors.New("429 too many requests")
	})
	_, err = newTestRateLimited(b2, 0, nil, &slept).Complete(context.Background(), Request{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
