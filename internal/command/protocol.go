// Package command is the request/response boundary in front of the camera
// manager. Requests and responses are JSON documents shared by every
// transport.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"owlcam/internal/camera"
)

const (
	MethodInit                = "init"
	MethodAvailableCameras    = "availableCameras"
	MethodOpen                = "open"
	MethodTakePicture         = "takePicture"
	MethodStartVideoRecording = "startVideoRecording"
	MethodStopVideoRecording  = "stopVideoRecording"
	MethodClose               = "close"
	MethodDispose             = "dispose"
	MethodSubscribe           = "subscribe"
	MethodUnsubscribe         = "unsubscribe"
	MethodListMedia           = "listMedia"
)

// Error codes carried by failed responses.
const (
	CodeCameraPermission = "cameraPermission"
	CodeInvalidPreset    = "invalidPreset"
	CodeCameraAccess     = "cameraAccess"
	CodeConfigureFailed  = "configureFailed"
	CodeCaptureFailure   = "captureFailure"
	CodeVideoRecording   = "videoRecordingFailed"
	CodeIO               = "IOError"
	CodeCameraClosed     = "cameraClosed"
	CodeInvalidArgument  = "invalidArgument"
	CodeNotImplemented   = "notImplemented"
	CodeInternal         = "internal"
)

var (
	errInvalidParams = errors.New("invalid parameters")
	errUnknownMethod = errors.New("method not implemented")
)

type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Decode parses a request. Requests without an id get a random one.
func Decode(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: missing method", errInvalidParams)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}

// Code maps err to the error code reported to clients.
func Code(err error) string {
	var cfe *camera.CaptureFailureError
	switch {
	case errors.As(err, &cfe):
		return CodeCaptureFailure
	case errors.Is(err, camera.ErrPermission), errors.Is(err, camera.ErrPermissionPending):
		return CodeCameraPermission
	case errors.Is(err, camera.ErrInvalidPreset):
		return CodeInvalidPreset
	case errors.Is(err, camera.ErrDeviceAccess):
		return CodeCameraAccess
	case errors.Is(err, camera.ErrConfiguration):
		return CodeConfigureFailed
	case errors.Is(err, camera.ErrVideoRecording):
		return CodeVideoRecording
	case errors.Is(err, camera.ErrIO):
		return CodeIO
	case errors.Is(err, camera.ErrCameraClosed), errors.Is(err, camera.ErrDisposed):
		return CodeCameraClosed
	case errors.Is(err, camera.ErrInvalidRotation), errors.Is(err, camera.ErrUnknownHandle),
		errors.Is(err, errInvalidParams):
		return CodeInvalidArgument
	case errors.Is(err, errUnknownMethod):
		return CodeNotImplemented
	default:
		return CodeInternal
	}
}

// ErrorResponse builds the failed response of request id.
func ErrorResponse(id string, err error) Response {
	return Response{ID: id, Error: &Error{Code: Code(err), Message: err.Error()}}
}
