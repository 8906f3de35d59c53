package gaze

import (
	"math"
	"testing"
)

func TestViewportResolve(t *testing.T) {
	vp := Viewport{Width: 1920, Height: 1080}

	x, y := vp.Resolve(0.1, 0.9)
	if x != 192 || y != 972 {
		t.Errorf("Resolve(0.1, 0.9) = (%v, %v), want (192, 972)", x, y)
	}
	if !vp.Known() {
		t.Error("viewport with positive size should be known")
	}
	if (Viewport{}).Known() {
		t.Error("zero viewport should not be known")
	}
}

func TestMirrorX(t *testing.T) {
	vp := Viewport{Width: 1000, Height: 500}
	if got := vp.MirrorX(250); got != 750 {
		t.Errorf("MirrorX(250) = %v, want 750", got)
	}
}

func TestDistance(t *testing.T) {
	if got := Distance(0, 0, 3, 4); got != 5 {
		t.Errorf("Distance = %v, want 5", got)
	}
}

func TestFinite(t *testing.T) {
	if !Finite(1, 2, -3) {
		t.Error("regular numbers should be finite")
	}
	if Finite(1, math.NaN()) {
		t.Error("NaN should not be finite")
	}
	if Finite(math.Inf(-1)) {
		t.Error("-Inf should not be finite")
	}
}
