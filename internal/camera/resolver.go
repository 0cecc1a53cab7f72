package camera

import (
	"fmt"
	"sort"

	"owlcam/internal/hardware"
)

// Preset is a named quality tier constraining the minimum preview size.
type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

// maxVideoHeight is the tallest frame the encoder accepts.
const maxVideoHeight = 1080

// ParsePreset validates a preset name.
func ParsePreset(s string) (Preset, error) {
	p := Preset(s)
	if _, err := p.MinPreviewSize(); err != nil {
		return "", err
	}
	return p, nil
}

// MinPreviewSize is the floor the preview size must exceed.
func (p Preset) MinPreviewSize() (hardware.Size, error) {
	switch p {
	case PresetHigh:
		return hardware.Size{Width: 1024, Height: 768}, nil
	case PresetMedium:
		return hardware.Size{Width: 640, Height: 480}, nil
	case PresetLow:
		return hardware.Size{Width: 320, Height: 240}, nil
	default:
		return hardware.Size{}, fmt.Errorf("%w: %q", ErrInvalidPreset, string(p))
	}
}

// DeviceDescriptor holds the static properties of an opened camera.
type DeviceDescriptor struct {
	ID                string              `json:"id"`
	LensFacing        hardware.LensFacing `json:"-"`
	SensorOrientation int                 `json:"sensor_orientation"`
}

func (d DeviceDescriptor) Front() bool {
	return d.LensFacing == hardware.LensFacingFront
}

// StreamConfig is the set of output sizes negotiated for one open camera.
type StreamConfig struct {
	CaptureSize hardware.Size `json:"capture_size"`
	PreviewSize hardware.Size `json:"preview_size"`
	VideoSize   hardware.Size `json:"video_size"`
}

// Resolve queries the characteristics of camera id and computes its stream
// configuration for preset.
func Resolve(svc hardware.CameraService, id string, preset Preset) (DeviceDescriptor, StreamConfig, error) {
	floor, err := preset.MinPreviewSize()
	if err != nil {
		return DeviceDescriptor{}, StreamConfig{}, err
	}

	chars, err := svc.Characteristics(id)
	if err != nil {
		return DeviceDescriptor{}, StreamConfig{}, fmt.Errorf("%w: %v", ErrDeviceAccess, err)
	}
	if len(chars.JPEGSizes) == 0 {
		return DeviceDescriptor{}, StreamConfig{}, fmt.Errorf("%w: camera %s has no still capture sizes",
			ErrDeviceAccess, id)
	}
	if len(chars.TextureSizes) == 0 {
		return DeviceDescriptor{}, StreamConfig{}, fmt.Errorf("%w: camera %s has no preview sizes",
			ErrDeviceAccess, id)
	}

	desc := DeviceDescriptor{
		ID:                id,
		LensFacing:        chars.LensFacing,
		SensorOrientation: chars.SensorOrientation,
	}

	// For still image captures, we use the largest available size.
	capture := largestSize(chars.JPEGSizes)
	preview, video := previewAndVideoSizes(chars.TextureSizes, capture, floor)
	return desc, StreamConfig{
		CaptureSize: capture,
		PreviewSize: preview,
		VideoSize:   video,
	}, nil
}

// largestSize returns the size with the biggest area. The first one wins on
// ties.
func largestSize(sizes []hardware.Size) hardware.Size {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() > best.Area() {
			best = s
		}
	}
	return best
}

func aspectRatio(s hardware.Size) float32 {
	return float32(s.Width) / float32(s.Height)
}

// previewAndVideoSizes picks the preview and video sizes among the texture
// sizes that share the capture aspect ratio and are strictly larger than
// floor in both dimensions. Preview gets the smallest such size, video the
// largest one no taller than maxVideoHeight. Without candidates both fall back
// to the first enumerated texture size.
func previewAndVideoSizes(sizes []hardware.Size, capture, floor hardware.Size) (preview, video hardware.Size) {
	ratio := aspectRatio(capture)
	var goodEnough []hardware.Size
	for _, s := range sizes {
		if s.Height == 0 {
			continue
		}
		if aspectRatio(s) == ratio && floor.Width < s.Width && floor.Height < s.Height {
			goodEnough = append(goodEnough, s)
		}
	}
	if len(goodEnough) == 0 {
		return sizes[0], sizes[0]
	}

	sort.SliceStable(goodEnough, func(i, j int) bool {
		return goodEnough[i].Area() < goodEnough[j].Area()
	})

	preview = goodEnough[0]
	video = preview
	for i := len(goodEnough) - 1; i >= 0; i-- {
		if goodEnough[i].Height <= maxVideoHeight {
			video = goodEnough[i]
			break
		}
	}
	return preview, video
}
