package camera

import (
	"fmt"
	"log/slog"
	"sync"

	"owlcam/internal/hardware"
)

// CameraInfo is one entry of the camera list.
type CameraInfo struct {
	Name       string `json:"name"`
	LensFacing string `json:"lensFacing"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Service     hardware.CameraService
	Permissions hardware.PermissionGate

	// Optional
	Display  hardware.Display
	Observer MediaObserver
	Stats    *Stats
	Log      *slog.Logger
}

// Manager is the command layer in front of the cameras. It holds at most
// one open Camera at a time and gates opening on the host permissions.
type Manager struct {
	cfg   ManagerConfig
	log   *slog.Logger
	stats *Stats

	mu                sync.Mutex
	cam               *Camera
	permissionPending bool
}

func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewStats()
	}
	return &Manager{cfg: cfg, log: log, stats: stats}
}

// Stats returns the metrics shared by every camera of the manager.
func (m *Manager) Stats() *Stats {
	return m.stats
}

func (m *Manager) current() *Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cam
}

// Init closes the current camera, if any.
func (m *Manager) Init() {
	if cam := m.current(); cam != nil {
		cam.Close()
	}
}

// AvailableCameras lists every device known to the backend.
func (m *Manager) AvailableCameras() ([]CameraInfo, error) {
	ids, err := m.cfg.Service.CameraIDs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceAccess, err)
	}
	cams := make([]CameraInfo, 0, len(ids))
	for _, id := range ids {
		chars, err := m.cfg.Service.Characteristics(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceAccess, err)
		}
		cams = append(cams, CameraInfo{Name: id, LensFacing: chars.LensFacing.String()})
	}
	return cams, nil
}

// Open disposes the current camera and opens camera name with preset once
// the camera and microphone permissions are granted.
func (m *Manager) Open(name, preset string) *Op[OpenResult] {
	// At most one permission request is in flight; it is claimed under mu.
	m.mu.Lock()
	prev := m.cam
	m.cam = nil
	p, err := ParsePreset(preset)
	pending := m.permissionPending
	gate := m.cfg.Permissions
	granted := gate == nil || (gate.CameraGranted() && gate.MicrophoneGranted())
	request := !pending && err == nil && !granted
	if request {
		m.permissionPending = true
	}
	m.mu.Unlock()

	if prev != nil {
		prev.Dispose()
	}
	if pending {
		return failedOp[OpenResult](fmt.Errorf("%w: Camera permission request ongoing", ErrPermissionPending))
	}
	if err != nil {
		return failedOp[OpenResult](err)
	}

	op := newOp[OpenResult]()
	if !request {
		m.openGranted(name, p, op)
		return op
	}

	m.log.Info("[CAM] Requesting permissions", "camera", name)
	gate.Request(func() {
		m.mu.Lock()
		m.permissionPending = false
		m.mu.Unlock()
		m.openGranted(name, p, op)
	})
	return op
}

func (m *Manager) openGranted(name string, preset Preset, op *Op[OpenResult]) {
	if gate := m.cfg.Permissions; gate != nil {
		if !gate.CameraGranted() {
			op.fail(fmt.Errorf("%w: camera permission not granted", ErrPermission))
			return
		}
		if !gate.MicrophoneGranted() {
			op.fail(fmt.Errorf("%w: audio permission not granted", ErrPermission))
			return
		}
	}

	cam, err := New(CameraConfig{
		ID:       name,
		Preset:   preset,
		Service:  m.cfg.Service,
		Preview:  m.cfg.Service.NewPreviewSurface(),
		Display:  m.cfg.Display,
		Observer: m.cfg.Observer,
		Stats:    m.stats,
		Log:      m.log,
	})
	if err != nil {
		op.fail(err)
		return
	}

	m.mu.Lock()
	prev := m.cam
	m.cam = cam
	m.mu.Unlock()
	if prev != nil {
		prev.Dispose()
	}

	res := cam.Open()
	go func() {
		v, err := res.Result()
		op.resolve(v, err)
	}()
}

func (m *Manager) TakePicture(path string, rotation int) *Op[struct{}] {
	cam := m.current()
	if cam == nil {
		return failedOp[struct{}](ErrCameraClosed)
	}
	return cam.TakePicture(rotation, path)
}

func (m *Manager) StartVideoRecording(path string, rotation int) *Op[struct{}] {
	cam := m.current()
	if cam == nil {
		return failedOp[struct{}](ErrCameraClosed)
	}
	return cam.StartVideoRecording(rotation, path)
}

func (m *Manager) StopVideoRecording() *Op[string] {
	cam := m.current()
	if cam == nil {
		op := newOp[string]()
		op.succeed(msgNothingToStop)
		return op
	}
	return cam.StopVideoRecording()
}

// Close closes the current camera. It can be reopened by Resume.
func (m *Manager) Close() {
	if cam := m.current(); cam != nil {
		cam.Close()
	}
}

// Dispose disposes the current camera and forgets it.
func (m *Manager) Dispose() {
	m.mu.Lock()
	cam := m.cam
	m.cam = nil
	m.mu.Unlock()
	if cam != nil {
		cam.Dispose()
	}
}

// Subscribe attaches sink to the events of the camera with handleID.
func (m *Manager) Subscribe(handleID int64, sink EventSink) error {
	cam := m.current()
	if cam == nil || cam.HandleID() != handleID {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handleID)
	}
	cam.Subscribe(sink)
	return nil
}

func (m *Manager) Unsubscribe(handleID int64) error {
	cam := m.current()
	if cam == nil || cam.HandleID() != handleID {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handleID)
	}
	cam.Unsubscribe()
	return nil
}

// Suspend closes the camera while the host is in the background.
func (m *Manager) Suspend() {
	if cam := m.current(); cam != nil {
		m.log.Info("[CAM] Suspending camera", "camera", cam.ID())
		cam.Close()
	}
}

// Resume reopens the camera closed by Suspend. Nothing happens while a
// permission request is in flight.
func (m *Manager) Resume() *Op[OpenResult] {
	m.mu.Lock()
	cam := m.cam
	pending := m.permissionPending
	m.mu.Unlock()

	if pending {
		return failedOp[OpenResult](fmt.Errorf("%w: Camera permission request ongoing", ErrPermissionPending))
	}
	if cam == nil {
		return failedOp[OpenResult](ErrCameraClosed)
	}

	op := cam.Open()
	go func() {
		if _, err := op.Result(); err != nil {
			m.log.Error("[CAM] Failed to resume camera", "camera", cam.ID(), "err", err)
			return
		}
		m.log.Info("[CAM] Camera resumed", "camera", cam.ID())
	}()
	return op
}
