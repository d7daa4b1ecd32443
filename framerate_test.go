package bucketvision_test

import (
	"testing"
	"time"

	bucketvision "github.com/RocketRedNeck/BucketVision"
)

func TestFrameRate(t *testing.T) {
	if _, err := bucketvision.NewFrameRate(0); err == nil {
		t.Fatalf("missing error for frame rate with size 0")
	}

	r, err := bucketvision.NewFrameRate(3)
	if err != nil {
		t.Fatalf("making frame rate: %v", err)
	}
	if fps := r.FPS(); fps != 0 {
		t.Fatalf("unexpected rate %v before any tick", fps)
	}

	t0 := time.Unix(1000, 0)
	if fps := r.Tick(t0); fps != 0 {
		t.Fatalf("unexpected rate %v after a single tick", fps)
	}
	if fps := r.Tick(t0.Add(100 * time.Millisecond)); fps != 10 {
		t.Fatalf("unexpected rate %v, expected 10", fps)
	}
	r.Tick(t0.Add(200 * time.Millisecond))
	r.Tick(t0.Add(300 * time.Millisecond))
	if fps := r.FPS(); fps != 10 {
		t.Fatalf("unexpected rate %v after filling window, expected 10", fps)
	}

	// Three intervals of 50ms push out the 100ms intervals.
	r.Tick(t0.Add(350 * time.Millisecond))
	r.Tick(t0.Add(400 * time.Millisecond))
	if fps := r.Tick(t0.Add(450 * time.Millisecond)); fps != 20 {
		t.Fatalf("unexpected rate %v after window moved, expected 20", fps)
	}

	// Going back in time is counted but not averaged.
	if fps := r.Tick(t0); fps != 20 {
		t.Fatalf("unexpected rate %v after tick in the past", fps)
	}
	if n := r.Count(); n != 8 {
		t.Fatalf("unexpected count %d, expected 8", n)
	}
}

func TestFrameRateZeroValue(t *testing.T) {
	var r bucketvision.FrameRate
	t0 := time.Unix(1000, 0)
	r.Tick(t0)
	if fps := r.Tick(t0.Add(time.Second / 4)); fps != 4 {
		t.Fatalf("unexpected rate %v, expected 4", fps)
	}
}
