package camera

import "testing"

func TestOrientationHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rotation  int
		sensor    int
		front     bool
		want      int
		wantStill int
	}{
		{rotation: 0, sensor: 0, front: false, want: 0, wantStill: 0},
		{rotation: 90, sensor: 0, front: true, want: 270, wantStill: 90},
		{rotation: 90, sensor: 90, front: false, want: 180, wantStill: 0},
		{rotation: 270, sensor: 90, front: false, want: 0, wantStill: 180},
		{rotation: 180, sensor: 270, front: true, want: 90, wantStill: 90},
		{rotation: 270, sensor: 270, front: true, want: 0, wantStill: 180},
	}
	for _, tc := range tests {
		if got := OrientationHint(tc.rotation, tc.sensor, tc.front); got != tc.want {
			t.Errorf("OrientationHint(%d, %d, %v) = %d, want %d",
				tc.rotation, tc.sensor, tc.front, got, tc.want)
		}
		if got := StillOrientationHint(tc.rotation, tc.sensor, tc.front); got != tc.wantStill {
			t.Errorf("StillOrientationHint(%d, %d, %v) = %d, want %d",
				tc.rotation, tc.sensor, tc.front, got, tc.wantStill)
		}
	}
}

func TestOrientationHintRange(t *testing.T) {
	t.Parallel()

	for _, rotation := range []int{0, 90, 180, 270} {
		for _, sensor := range []int{0, 90, 180, 270} {
			for _, front := range []bool{false, true} {
				for _, f := range []func(int, int, bool) int{OrientationHint, StillOrientationHint} {
					got := f(rotation, sensor, front)
					if got < 0 || got >= 360 || got%90 != 0 {
						t.Fatalf("hint(%d, %d, %v) = %d out of range",
							rotation, sensor, front, got)
					}
				}
			}
		}
	}
}

func TestValidRotation(t *testing.T) {
	t.Parallel()

	for _, deg := range []int{0, 90, 180, 270} {
		if !ValidRotation(deg) {
			t.Fatalf("%d should be valid", deg)
		}
	}
	for _, deg := range []int{-90, 45, 360, 1} {
		if ValidRotation(deg) {
			t.Fatalf("%d should be invalid", deg)
		}
	}
}
