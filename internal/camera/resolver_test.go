package camera

import (
	"testing"

	"owlcam/internal/assert"
	"owlcam/internal/hardware"
)

func sizes(dims ...int) []hardware.Size {
	var res []hardware.Size
	for i := 0; i+1 < len(dims); i += 2 {
		res = append(res, hardware.Size{Width: dims[i], Height: dims[i+1]})
	}
	return res
}

func resolverService(jpeg, texture []hardware.Size) *hardware.MockService {
	return hardware.NewMockService(hardware.MockCamera{
		ID: "cam",
		Characteristics: hardware.Characteristics{
			LensFacing:        hardware.LensFacingFront,
			SensorOrientation: 270,
			JPEGSizes:         jpeg,
			TextureSizes:      texture,
		},
	})
}

func TestResolveMediumFourThirds(t *testing.T) {
	t.Parallel()

	all := sizes(320, 240, 640, 480, 1280, 960, 1920, 1440)
	svc := resolverService(all, all)
	desc, sc, err := Resolve(svc, "cam", PresetMedium)
	assert.NilErr(t, err)

	assert.DeepEqual(t, desc, DeviceDescriptor{
		ID:                "cam",
		LensFacing:        hardware.LensFacingFront,
		SensorOrientation: 270,
	})
	assert.BoolIs(t, desc.Front(), true)
	assert.DeepEqual(t, sc, StreamConfig{
		CaptureSize: hardware.Size{Width: 1920, Height: 1440},
		PreviewSize: hardware.Size{Width: 1280, Height: 960},
		VideoSize:   hardware.Size{Width: 1280, Height: 960},
	})
}

func TestResolveVideoHeightCap(t *testing.T) {
	t.Parallel()

	svc := resolverService(
		sizes(3840, 2160),
		sizes(3840, 2160, 1280, 720, 2560, 1440, 1920, 1080, 1600, 900, 640, 360),
	)
	_, sc, err := Resolve(svc, "cam", PresetHigh)
	assert.NilErr(t, err)
	// 1280x720 is not above the 1024x768 floor; 2560x1440 is too tall to encode.
	assert.DeepEqual(t, sc.PreviewSize, hardware.Size{Width: 1600, Height: 900})
	assert.DeepEqual(t, sc.VideoSize, hardware.Size{Width: 1920, Height: 1080})
}

func TestResolveVideoFallsBackToPreview(t *testing.T) {
	t.Parallel()

	// Every candidate is taller than the encoder allows.
	svc := resolverService(sizes(4000, 3000), sizes(2000, 1500, 1600, 1200))
	_, sc, err := Resolve(svc, "cam", PresetHigh)
	assert.NilErr(t, err)
	assert.DeepEqual(t, sc.PreviewSize, hardware.Size{Width: 1600, Height: 1200})
	assert.DeepEqual(t, sc.VideoSize, sc.PreviewSize)
}

func TestResolveNoCandidateUsesFirstSize(t *testing.T) {
	t.Parallel()

	svc := resolverService(sizes(1600, 1200), sizes(500, 500, 1920, 1080, 320, 240))
	_, sc, err := Resolve(svc, "cam", PresetLow)
	assert.NilErr(t, err)
	assert.DeepEqual(t, sc.PreviewSize, hardware.Size{Width: 500, Height: 500})
	assert.DeepEqual(t, sc.VideoSize, hardware.Size{Width: 500, Height: 500})
}

func TestResolveFloorIsExclusive(t *testing.T) {
	t.Parallel()

	// 640x480 equals the medium floor and does not qualify.
	svc := resolverService(sizes(640, 480), sizes(640, 480, 800, 600))
	_, sc, err := Resolve(svc, "cam", PresetMedium)
	assert.NilErr(t, err)
	assert.DeepEqual(t, sc.PreviewSize, hardware.Size{Width: 800, Height: 600})
}

func TestResolveLargestCaptureFirstWins(t *testing.T) {
	t.Parallel()

	got := largestSize(sizes(1200, 900, 900, 1200, 640, 480))
	assert.DeepEqual(t, got, hardware.Size{Width: 1200, Height: 900})
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	svc := hardware.NewMockService()
	_, _, err := Resolve(svc, "0", Preset("ultra"))
	assert.ErrorIs(t, err, ErrInvalidPreset)

	_, _, err = Resolve(svc, "42", PresetLow)
	assert.ErrorIs(t, err, ErrDeviceAccess)

	empty := resolverService(nil, sizes(640, 480))
	_, _, err = Resolve(empty, "cam", PresetLow)
	assert.ErrorIs(t, err, ErrDeviceAccess)
}

func TestParsePreset(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"low", "medium", "high"} {
		p, err := ParsePreset(s)
		assert.NilErr(t, err)
		assert.DeepEqual(t, string(p), s)
	}
	_, err := ParsePreset("max")
	assert.ErrorIs(t, err, ErrInvalidPreset)
}
