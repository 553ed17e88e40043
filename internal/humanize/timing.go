package humanize

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Common errors for the humanize package.
var (
	// ErrElementNotVisible is returned when an element cannot be found or has no visible bounds.
	ErrElementNotVisible = errors.New("element not visible or has no bounds")
)

// gaussianFloor is the minimum any Gaussian-sampled delay can shrink to.
const gaussianFloor = 100 * time.Millisecond

// elementTiming maps an element kind to the mean and standard deviation (in
// seconds) of the pause a human takes before acting on it.
var elementTiming = map[string][2]float64{
	"link":   {0.2, 0.1},
	"button": {0.5, 0.2},
	"input":  {0.8, 0.3},
	"select": {0.6, 0.2},
	"menu":   {0.4, 0.15},
	"media":  {0.3, 0.1},
}

var defaultElementTiming = [2]float64{0.5, 0.2}

// ElementDelay returns a Gaussian-distributed pause appropriate for acting
// on the given element kind. Unknown kinds use the default timing.
func ElementDelay(kind string) time.Duration {
	params, ok := elementTiming[strings.ToLower(kind)]
	if !ok {
		params = defaultElementTiming
	}
	return GaussianDuration(params[0], params[1])
}

// GaussianDuration samples a duration from N(mean, stddev) seconds, floored
// so it never collapses to an instant robot-like action.
func GaussianDuration(mean, stddev float64) time.Duration {
	d := time.Duration((mean + rand.NormFloat64()*stddev) * float64(time.Second))
	if d < gaussianFloor {
		return gaussianFloor
	}
	return d
}

// ReadingDelay models how long a human spends reading content of the given
// word count: about 50 words per 2 seconds, Gaussian-jittered at 20%, never
// below half a second.
func ReadingDelay(wordCount int) time.Duration {
	base := float64(wordCount) / 50 * 2
	if base < 1.0 {
		base = 1.0
	}
	seconds := base + rand.NormFloat64()*base*0.2
	if seconds < 0.5 {
		seconds = 0.5
	}
	return time.Duration(seconds * float64(time.Second))
}

// TypingDelay returns a random delay between keystrokes, simulating natural
// typing speed variation.
func TypingDelay() time.Duration {
	return RandomDuration(50, 150)
}

// RandomDuration returns a random duration between min and max milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// RandomPollInterval returns a random poll interval between 0.8s and 1.5s,
// used instead of fixed-cadence polling loops.
func RandomPollInterval() time.Duration {
	return RandomDuration(800, 1500)
}

// sleepWithContext sleeps for the specified duration or until context is canceled.
// Returns true if the sleep completed normally, false if interrupted.
// Uses time.NewTimer instead of time.After to prevent timer leak.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepWithContext is the exported version of sleepWithContext.
// Sleeps for the specified duration or until context is canceled.
// Returns true if the sleep completed normally, false if interrupted.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	return sleepWithContext(ctx, d)
}

// SleepWithJitter sleeps for the given duration plus/minus a random jitter.
// jitterPercent is the maximum jitter as a percentage (0.0 to 1.0).
// For example, SleepWithJitter(ctx, 1*time.Second, 0.2) sleeps for 0.8s-1.2s.
func SleepWithJitter(ctx context.Context, base time.Duration, jitterPercent float64) bool {
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	if jitterPercent > 1 {
		jitterPercent = 1
	}

	jitterRange := float64(base) * jitterPercent
	jitter := (rand.Float64()*2 - 1) * jitterRange

	duration := time.Duration(float64(base) + jitter)
	if duration < 0 {
		duration = 0
	}

	return sleepWithContext(ctx, duration)
}

// RandomWait waits for a random duration between min and max milliseconds.
func RandomWait(ctx context.Context, minMs, maxMs int) bool {
	return sleepWithContext(ctx, RandomDuration(minMs, maxMs))
}

// ElementSleep waits the element-kind appropriate Gaussian pause.
func ElementSleep(ctx context.Context, kind string) bool {
	return sleepWithContext(ctx, ElementDelay(kind))
}

// ReadingSleep waits the reading-time pause for the given word count.
func ReadingSleep(ctx context.Context, wordCount int) bool {
	return sleepWithContext(ctx, ReadingDelay(wordCount))
}
