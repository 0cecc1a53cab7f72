package camera

import (
	"errors"

	"owlcam/internal/hardware"
)

var (
	ErrPermission        = errors.New("permission not granted")
	ErrPermissionPending = errors.New("camera permission request ongoing")
	ErrInvalidPreset     = errors.New("unknown resolution preset")
	ErrInvalidRotation   = errors.New("invalid rotation")
	ErrDeviceAccess      = errors.New("camera access failed")
	ErrConfiguration     = errors.New("camera configuration failed")
	ErrVideoRecording    = errors.New("video recording failed")
	ErrIO                = errors.New("I/O error")
	ErrCameraClosed      = errors.New("camera is closed")
	ErrDisposed          = errors.New("camera was disposed")
	ErrUnknownHandle     = errors.New("unknown camera handle")
)

// CaptureFailureReason classifies a failed still capture.
type CaptureFailureReason int

const (
	CaptureFailedFramework CaptureFailureReason = iota
	CaptureFailedAborted
	CaptureFailedUnknown
)

func (r CaptureFailureReason) String() string {
	switch r {
	case CaptureFailedFramework:
		return "An error happened in the framework"
	case CaptureFailedAborted:
		return "The capture has failed due to an abortCaptures() call"
	default:
		return "Unknown reason"
	}
}

func captureFailureReason(r hardware.FailureReason) CaptureFailureReason {
	switch r {
	case hardware.FailureError:
		return CaptureFailedFramework
	case hardware.FailureFlushed:
		return CaptureFailedAborted
	default:
		return CaptureFailedUnknown
	}
}

// CaptureFailureError is returned when the camera stack reports a failed
// still capture.
type CaptureFailureError struct {
	Reason CaptureFailureReason
}

func (e *CaptureFailureError) Error() string {
	return e.Reason.String()
}

// deviceErrorDescription is the event description of an asynchronous device
// error.
func deviceErrorDescription(code hardware.DeviceError) string {
	switch code {
	case hardware.ErrorCameraInUse:
		return "The camera device is in use already."
	case hardware.ErrorMaxCamerasInUse:
		return "Max cameras in use"
	case hardware.ErrorCameraDisabled:
		return "The camera device could not be opened due to a device policy."
	case hardware.ErrorCameraDevice:
		return "The camera device has encountered a fatal error"
	case hardware.ErrorCameraService:
		return "The camera service has encountered a fatal error."
	default:
		return "Unknown camera error"
	}
}

const disconnectedDescription = "The camera was disconnected"
