package camera

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"owlcam/internal/assert"
	"owlcam/internal/hardware"
)

func newTestManager(t *testing.T, perms *hardware.MockPermissions) (*Manager, *hardware.MockService) {
	t.Helper()
	svc := hardware.NewMockService()
	t.Cleanup(svc.Close)
	m := NewManager(ManagerConfig{
		Service:     svc,
		Permissions: perms,
		Display:     hardware.FixedDisplay(0),
	})
	t.Cleanup(m.Dispose)
	return m, svc
}

func TestManagerAvailableCameras(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, hardware.NewMockPermissions(true, true))

	cams, err := m.AvailableCameras()
	assert.NilErr(t, err)
	assert.DeepEqual(t, cams, []CameraInfo{
		{Name: "0", LensFacing: "back"},
		{Name: "1", LensFacing: "front"},
	})
}

func TestManagerOpenAndForward(t *testing.T) {
	t.Parallel()
	m, svc := newTestManager(t, hardware.NewMockPermissions(true, true))
	dir := t.TempDir()

	res, err := assert.Done(t, m.Open("1", "low").Wait)
	assert.NilErr(t, err)
	assert.DeepEqual(t, res.PreviewSize, hardware.Size{Width: 640, Height: 480})

	events := make(chan Event, 4)
	assert.NilErr(t, m.Subscribe(res.HandleID, chanSink(events)))
	assert.ErrorIs(t, m.Subscribe(res.HandleID+1, chanSink(events)), ErrUnknownHandle)

	_, err = assert.Done(t, m.TakePicture(filepath.Join(dir, "a.jpg"), 0).Wait)
	assert.NilErr(t, err)
	_, err = assert.Done(t, m.StartVideoRecording(filepath.Join(dir, "a.mp4"), 0).Wait)
	assert.NilErr(t, err)
	msg, err := assert.Done(t, m.StopVideoRecording().Wait)
	assert.NilErr(t, err)
	assert.DeepEqual(t, msg, msgStopped)

	// Opening another camera disposes the first one.
	_, err = assert.Done(t, m.Open("0", "medium").Wait)
	assert.NilErr(t, err)
	assert.DeepEqual(t, svc.PeakOpenDevices(), 1)
	assert.ErrorIs(t, m.Unsubscribe(res.HandleID), ErrUnknownHandle)
}

func TestManagerWithoutCamera(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, hardware.NewMockPermissions(true, true))

	_, err := m.TakePicture("x.jpg", 0).Result()
	assert.ErrorIs(t, err, ErrCameraClosed)
	_, err = m.StartVideoRecording("x.mp4", 0).Result()
	assert.ErrorIs(t, err, ErrCameraClosed)
	msg, err := m.StopVideoRecording().Result()
	assert.NilErr(t, err)
	assert.DeepEqual(t, msg, msgNothingToStop)
	assert.ErrorIs(t, m.Subscribe(1, chanSink(make(chan Event))), ErrUnknownHandle)

	_, err = m.Open("0", "ultra").Result()
	assert.ErrorIs(t, err, ErrInvalidPreset)

	assert.DoesNotBlock(t, m.Close)
	assert.DoesNotBlock(t, m.Init)
	assert.DoesNotBlock(t, m.Suspend)
}

func TestManagerPermissionContinuation(t *testing.T) {
	t.Parallel()
	perms := hardware.NewMockPermissions(false, false)
	m, _ := newTestManager(t, perms)

	first := m.Open("0", "medium")
	_, err := assert.Done(t, m.Open("0", "medium").Wait)
	assert.ErrorIs(t, err, ErrPermissionPending)

	select {
	case <-first.Done():
		t.Fatal("open resolved before permissions were answered")
	case <-time.After(20 * time.Millisecond):
	}

	perms.Answer(true, true)
	_, err = assert.Done(t, first.Wait)
	assert.NilErr(t, err)
}

func TestManagerConcurrentOpenSingleRequest(t *testing.T) {
	t.Parallel()
	perms := hardware.NewMockPermissions(false, false)
	m, _ := newTestManager(t, perms)

	const callers = 8
	start := make(chan struct{})
	ops := make(chan *Op[OpenResult], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ops <- m.Open("0", "medium")
		}()
	}
	close(start)
	wg.Wait()
	close(ops)

	assert.DeepEqual(t, perms.Pending(), 1)
	var waiting []*Op[OpenResult]
	for op := range ops {
		select {
		case <-op.Done():
			_, err := op.Result()
			if !errors.Is(err, ErrPermissionPending) {
				t.Fatalf("unexpected error %v", err)
			}
		default:
			waiting = append(waiting, op)
		}
	}
	assert.DeepEqual(t, len(waiting), 1)

	perms.Answer(true, true)
	_, err := assert.Done(t, waiting[0].Wait)
	assert.NilErr(t, err)
}

func TestManagerPermissionDenied(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		camera    bool
		mic       bool
		wantInErr string
	}{
		{name: "camera", camera: false, mic: true, wantInErr: "camera permission not granted"},
		{name: "audio", camera: true, mic: false, wantInErr: "audio permission not granted"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			perms := hardware.NewMockPermissions(false, false)
			m, svc := newTestManager(t, perms)

			op := m.Open("0", "high")
			perms.Answer(tc.camera, tc.mic)
			_, err := assert.Done(t, op.Wait)
			assert.ErrorIs(t, err, ErrPermission)
			assert.DeepEqual(t, err.Error(), "permission not granted: "+tc.wantInErr)
			assert.DeepEqual(t, svc.PeakOpenDevices(), 0)
		})
	}
}

func TestManagerSuspendResume(t *testing.T) {
	t.Parallel()
	m, svc := newTestManager(t, hardware.NewMockPermissions(true, true))

	_, err := m.Resume().Result()
	assert.ErrorIs(t, err, ErrCameraClosed)

	_, err = assert.Done(t, m.Open("0", "medium").Wait)
	assert.NilErr(t, err)

	m.Suspend()
	assert.DeepEqual(t, m.current().State(), StateClosed)
	assert.DeepEqual(t, svc.OpenDevices(), 0)

	_, err = assert.Done(t, m.Resume().Wait)
	assert.NilErr(t, err)
	assert.DeepEqual(t, m.current().State(), StatePreviewActive)
	assert.DeepEqual(t, svc.OpenDevices(), 1)
}
