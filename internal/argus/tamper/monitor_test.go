package tamper_test

import (
	"image"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/tamper"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var t0 = time.Date(2026, 4, 2, 20, 0, 0, 0, time.UTC)

func frameAt(sec int, fill func(x, y int) uint8) types.Frame {
	img := image.NewGray(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Pix[y*img.Stride+x] = fill(x, y)
		}
	}
	return types.Frame{Seq: uint64(sec), CaptureTime: t0.Add(time.Duration(sec) * time.Second), Image: img}
}

func flat(v uint8) func(x, y int) uint8 { return func(int, int) uint8 { return v } }

// split is dark on the left and bright on the right; flipped swaps them.
func split(flipped bool) func(x, y int) uint8 {
	return func(x, _ int) uint8 {
		left := x < 80
		if left != flipped {
			return 50
		}
		return 200
	}
}

func warmUp(t *testing.T, m *tamper.Monitor, n int, fill func(x, y int) uint8) int {
	t.Helper()
	for i := 0; i < n; i++ {
		if r := m.Check(frameAt(i, fill)); r.Status != types.TamperNormal {
			t.Fatalf("warm-up check %d: expected NORMAL, got %s", i, r.Status)
		}
	}
	return n
}

func TestCheck_CoveredAfterBaselineAndBaselineFrozen(t *testing.T) {
	m := tamper.New(tamper.Config{})
	sec := warmUp(t, m, 10, flat(130))

	if st := m.State(); !st.BaselineReady || st.BaselineBrightness != 130 {
		t.Fatalf("expected ready baseline 130, got %+v", st)
	}

	r := m.Check(frameAt(sec, flat(10)))
	if r.Status != types.TamperCovered || !r.Changed {
		t.Fatalf("expected transition to COVERED, got %+v", r)
	}
	if r.Event == nil || r.Event.From != types.TamperNormal || r.Event.To != types.TamperCovered {
		t.Fatalf("unexpected event %+v", r.Event)
	}
	if !r.Event.PreviousSince.Equal(t0) || !r.Event.At.Equal(t0.Add(10*time.Second)) {
		t.Errorf("unexpected event timestamps %+v", r.Event)
	}

	// Staying covered must not pull the baseline down.
	for i := 1; i <= 5; i++ {
		m.Check(frameAt(sec+i, flat(10)))
	}
	if st := m.State(); st.BaselineBrightness != 130 || st.Status != types.TamperCovered {
		t.Errorf("expected frozen baseline 130 while COVERED, got %+v", st)
	}

	r = m.Check(frameAt(sec+6, flat(130)))
	if r.Status != types.TamperNormal || !r.Changed || r.Event.From != types.TamperCovered {
		t.Errorf("expected recovery to NORMAL, got %+v", r)
	}
}

func TestCheck_DarkSceneWithDarkBaselineIsNotCovered(t *testing.T) {
	m := tamper.New(tamper.Config{})
	sec := warmUp(t, m, 10, flat(25))

	// Below the absolute threshold but nowhere near a 70% drop.
	if r := m.Check(frameAt(sec, flat(15))); r.Status != types.TamperNormal {
		t.Errorf("expected NORMAL for a naturally dark scene, got %s", r.Status)
	}
}

func TestCheck_AbsoluteOnlyBeforeBaseline(t *testing.T) {
	m := tamper.New(tamper.Config{})
	if r := m.Check(frameAt(0, flat(5))); r.Status != types.TamperCovered {
		t.Errorf("expected COVERED on first dark check, got %s", r.Status)
	}
}

func TestCheck_MovedWhenViewChanges(t *testing.T) {
	m := tamper.New(tamper.Config{})
	sec := warmUp(t, m, 3, split(false))

	r := m.Check(frameAt(sec, split(true)))
	if r.Status != types.TamperMoved || !r.Changed {
		t.Fatalf("expected MOVED, got %+v", r)
	}
	if r.Difference < 0.99 {
		t.Errorf("expected ~100%% changed pixels, got %v", r.Difference)
	}

	// Pointing back at the original view recovers.
	if r := m.Check(frameAt(sec+1, split(false))); r.Status != types.TamperNormal {
		t.Errorf("expected NORMAL after camera returns, got %s", r.Status)
	}
	if st := m.Stats(); st.Moved != 1 || st.Covered != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestCheck_RateLimited(t *testing.T) {
	m := tamper.New(tamper.Config{CheckInterval: time.Second})
	m.Check(frameAt(0, flat(130)))

	f := frameAt(0, flat(0))
	f.CaptureTime = t0.Add(500 * time.Millisecond)
	if r := m.Check(f); r.Checked || r.Status != types.TamperNormal {
		t.Errorf("check inside interval must be skipped, got %+v", r)
	}
	if st := m.Stats(); st.Checks != 1 {
		t.Errorf("expected 1 check, got %d", st.Checks)
	}
}

func TestReset_ClearsStateAndBaseline(t *testing.T) {
	m := tamper.New(tamper.Config{})
	sec := warmUp(t, m, 3, split(false))
	m.Check(frameAt(sec, split(true)))

	m.Reset()
	if st := m.State(); st.Status != types.TamperNormal || st.BaselineReady {
		t.Fatalf("expected clean NORMAL state after Reset, got %+v", st)
	}
	// New view becomes the reference.
	if r := m.Check(frameAt(sec+1, split(true))); r.Status != types.TamperNormal {
		t.Errorf("expected NORMAL after Reset, got %s", r.Status)
	}
}
