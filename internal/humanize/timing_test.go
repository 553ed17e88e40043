package humanize

import (
	"context"
	"testing"
	"time"
)

func TestRandomDuration(t *testing.T) {
	tests := []struct {
		name         string
		minMs, maxMs int
		lo, hi       time.Duration
	}{
		{"typical range", 100, 500, 100 * time.Millisecond, 500 * time.Millisecond},
		{"degenerate range", 200, 200, 200 * time.Millisecond, 200 * time.Millisecond},
		{"zero min", 0, 100, 0, 100 * time.Millisecond},
		{"inverted range collapses to min", 500, 100, 500 * time.Millisecond, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				if got := RandomDuration(tt.minMs, tt.maxMs); got < tt.lo || got > tt.hi {
					t.Fatalf("RandomDuration(%d, %d) = %v, outside [%v, %v]",
						tt.minMs, tt.maxMs, got, tt.lo, tt.hi)
				}
			}
		})
	}
}

func TestRandomPollInterval(t *testing.T) {
	for i := 0; i < 100; i++ {
		if got := RandomPollInterval(); got < 800*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("RandomPollInterval() = %v, outside [800ms, 1.5s]", got)
		}
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Run("runs to completion", func(t *testing.T) {
		start := time.Now()
		if !SleepWithContext(context.Background(), 50*time.Millisecond) {
			t.Error("completed sleep should report true")
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 100*time.Millisecond {
			t.Errorf("slept %v, wanted about 50ms", elapsed)
		}
	})

	t.Run("cancel cuts the sleep short", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		if SleepWithContext(ctx, 500*time.Millisecond) {
			t.Error("cancelled sleep should report false")
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("took %v to notice cancellation", elapsed)
		}
	})

	t.Run("dead context returns immediately", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		if SleepWithContext(ctx, 500*time.Millisecond) {
			t.Error("sleep on a dead context should report false")
		}
		if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
			t.Errorf("took %v, wanted an immediate return", elapsed)
		}
	})
}

func TestSleepWithJitter(t *testing.T) {
	// 100ms base with 20% jitter lands in [80ms, 120ms]; pad the upper
	// bound for scheduler slack.
	for i := 0; i < 50; i++ {
		start := time.Now()
		if !SleepWithJitter(context.Background(), 100*time.Millisecond, 0.2) {
			t.Fatal("completed sleep should report true")
		}
		if elapsed := time.Since(start); elapsed < 70*time.Millisecond || elapsed > 170*time.Millisecond {
			t.Fatalf("slept %v, outside jittered range", elapsed)
		}
	}
}

func TestRandomWait(t *testing.T) {
	for i := 0; i < 20; i++ {
		start := time.Now()
		if !RandomWait(context.Background(), 50, 100) {
			t.Fatal("completed wait should report true")
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 150*time.Millisecond {
			t.Fatalf("RandomWait(50, 100) took %v", elapsed)
		}
	}
}

func TestGaussianDurationFloor(t *testing.T) {
	// A tiny mean with a huge spread should repeatedly sample below the
	// floor and get clamped.
	for i := 0; i < 200; i++ {
		if got := GaussianDuration(0.01, 0.5); got < gaussianFloor {
			t.Fatalf("GaussianDuration = %v, below floor %v", got, gaussianFloor)
		}
	}
}

func TestElementDelayDistribution(t *testing.T) {
	tests := []struct {
		kind string
		mean float64
	}{
		{"link", 0.2},
		{"button", 0.5},
		{"input", 0.8},
		{"select", 0.6},
		{"menu", 0.4},
		{"media", 0.3},
		{"carousel", 0.5}, // unknown kind falls back to the default
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			const samples = 2000
			var sum time.Duration
			for i := 0; i < samples; i++ {
				sum += ElementDelay(tt.kind)
			}
			avg := (sum / samples).Seconds()
			// The 100ms clamp skews small means upward slightly, so allow a
			// generous band around the configured mean.
			if avg < tt.mean*0.7 || avg > tt.mean*1.5 {
				t.Errorf("mean delay for %q = %.3fs, expected near %.1fs", tt.kind, avg, tt.mean)
			}
		})
	}
}

func TestReadingDelay(t *testing.T) {
	// 500 words read at ~50 words per 2s gives a 20s mean; with 20%
	// sigma every sample stays well above the short-content floor.
	for i := 0; i < 100; i++ {
		got := ReadingDelay(500)
		if got < 2*time.Second || got > 80*time.Second {
			t.Errorf("ReadingDelay(500) = %v, implausible", got)
		}
	}

	// Tiny content still produces a noticeable pause.
	for i := 0; i < 100; i++ {
		if got := ReadingDelay(3); got < 500*time.Millisecond {
			t.Errorf("ReadingDelay(3) = %v, below floor", got)
		}
	}
}

func TestTypingDelayRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := TypingDelay()
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Errorf("TypingDelay() = %v, out of range", got)
		}
	}
}
