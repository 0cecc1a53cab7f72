package camera

// ValidRotation reports whether deg is one of the four display rotations.
func ValidRotation(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

func normalizeDegrees(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

func displayTerm(rotation int, front bool) int {
	if front {
		return -rotation
	}
	return rotation
}

// OrientationHint is the rotation attached to encoded video so that players
// render it upright. The result is in [0, 360).
func OrientationHint(rotation, sensorOrientation int, front bool) int {
	return normalizeDegrees(displayTerm(rotation, front) + sensorOrientation)
}

// StillOrientationHint is the JPEG orientation attached to still captures.
// It subtracts the display term where OrientationHint adds it.
func StillOrientationHint(rotation, sensorOrientation int, front bool) int {
	return normalizeDegrees(-displayTerm(rotation, front) + sensorOrientation)
}
