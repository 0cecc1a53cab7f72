package hardware

import "fmt"

// CameraService is the native camera stack: device enumeration, static
// characteristics, and the factories for the outputs a capture session can
// target.
//
// Callbacks passed to the service (and to the devices and sessions it hands
// out) are invoked on backend goroutines and never synchronously from inside
// the call that registered them.
type CameraService interface {
	// Discovery
	CameraIDs() ([]string, error)
	Characteristics(id string) (*Characteristics, error)

	// OpenCamera requests the device. The result arrives through cb: Opened on
	// success, Error or Disconnected otherwise.
	OpenCamera(id string, cb DeviceCallbacks) error

	// Output targets
	NewImageReader(size Size, maxImages int) (ImageReader, error)
	NewMediaRecorder() MediaRecorder
	NewPreviewSurface() PreviewSurface
}

// Device is an open camera handle.
type Device interface {
	ID() string

	// CreateCaptureSession binds the device to the given outputs. The
	// session is delivered through cb once the stack has configured it.
	CreateCaptureSession(targets []Surface, cb SessionCallbacks) error

	// Close is idempotent. The Closed callback fires once the stack has
	// torn the handle down.
	Close()
}

// CaptureSession is a configured binding between a device and its outputs.
type CaptureSession interface {
	SetRepeatingRequest(req CaptureRequest) error
	Capture(req CaptureRequest, cb CaptureCallbacks) error
	Close()
}

type DeviceCallbacks struct {
	Opened       func(d Device)
	Closed       func(d Device)
	Disconnected func(d Device)
	Error        func(d Device, code DeviceError)
}

type SessionCallbacks struct {
	Configured      func(s CaptureSession)
	ConfigureFailed func(s CaptureSession)
}

type CaptureCallbacks struct {
	Failed func(reason FailureReason)
}

// --- Outputs ---

type SurfaceKind int

const (
	SurfacePreview SurfaceKind = iota
	SurfaceStill
	SurfaceEncoder
)

// Surface is anything a capture request can target.
type Surface interface {
	Kind() SurfaceKind
}

// PreviewSurface is the live-display texture. It is created by the host
// windowing layer and released by its owner only.
type PreviewSurface interface {
	Surface
	ID() int64
	SetDefaultBufferSize(size Size)
	Release()
}

// ImageReader receives encoded still images.
type ImageReader interface {
	Surface
	// SetOnImageAvailable registers the listener for delivered images. The
	// buffer is the encoded image as produced by the stack.
	SetOnImageAvailable(fn func(img []byte))
	Close()
}

// MediaRecorder is the video/audio encoder sink.
type MediaRecorder interface {
	Prepare(params RecorderParameters) error
	// Surface is valid after a successful Prepare.
	Surface() Surface
	Start() error
	Stop() error
	Reset()
	Release()
}

// --- Host collaborators ---

// PermissionGate reports whether the process may use the camera and the
// microphone. Request asks the host for the missing permissions and calls
// done once the host has answered.
type PermissionGate interface {
	CameraGranted() bool
	MicrophoneGranted() bool
	Request(done func())
}

// Display reports the current display rotation in degrees.
type Display interface {
	Rotation() int
}

// --- Values ---

type LensFacing int

const (
	LensFacingBack LensFacing = iota
	LensFacingFront
	LensFacingExternal
)

func (f LensFacing) String() string {
	switch f {
	case LensFacingFront:
		return "front"
	case LensFacingBack:
		return "back"
	case LensFacingExternal:
		return "external"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Area() int {
	return s.Width * s.Height
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Characteristics are the static properties of a camera.
type Characteristics struct {
	LensFacing        LensFacing
	SensorOrientation int

	// JPEGSizes are the output sizes supported for still capture.
	JPEGSizes []Size
	// TextureSizes are the output sizes supported for preview textures, in
	// the order the stack enumerates them.
	TextureSizes []Size
}

type Template int

const (
	TemplatePreview Template = iota
	TemplateStillCapture
	TemplateRecord
)

type CaptureRequest struct {
	Template        Template
	Targets         []Surface
	JPEGOrientation int
	AutoControl     bool
}

type FailureReason int

const (
	FailureError FailureReason = iota
	FailureFlushed
	FailureUnknown
)

type DeviceError int

const (
	ErrorCameraInUse DeviceError = iota + 1
	ErrorMaxCamerasInUse
	ErrorCameraDisabled
	ErrorCameraDevice
	ErrorCameraService
)

// RecorderParameters configures the encoder sink.
type RecorderParameters struct {
	OutputFile      string `json:"output_file"`
	OutputFormat    string `json:"output_format"`
	VideoEncoder    string `json:"video_encoder"`
	AudioEncoder    string `json:"audio_encoder"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	FPS             uint8  `json:"fps"`
	Bitrate         uint32 `json:"bitrate"`
	AudioSampleRate uint32 `json:"audio_sample_rate"`
	AudioChannels   uint8  `json:"audio_channels"`
	OrientationHint int    `json:"orientation_hint"`
}

// FolderInfo describes one media folder below the browser root.
type FolderInfo struct {
	Name       string `json:"name"`
	NumOfItems uint32 `json:"num_items"`
}

// MediaFileInfo describes one picture or recording on disk.
type MediaFileInfo struct {
	ID       uint16 `json:"id"`
	FileName string `json:"filename"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	SizeKB   uint32 `json:"size_kb"`
}
