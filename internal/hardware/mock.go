package hardware

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MockCamera describes one simulated camera.
type MockCamera struct {
	ID              string
	Characteristics Characteristics
}

// DefaultMockCameras returns a back and a front camera with phone-like
// stream configurations.
func DefaultMockCameras() []MockCamera {
	return []MockCamera{
		{
			ID: "0",
			Characteristics: Characteristics{
				LensFacing:        LensFacingBack,
				SensorOrientation: 90,
				JPEGSizes: []Size{
					{4032, 3024}, {3264, 2448}, {2048, 1536},
					{1920, 1080}, {1280, 960}, {640, 480},
				},
				TextureSizes: []Size{
					{1920, 1080}, {2048, 1536}, {1440, 1080}, {1280, 960},
					{1280, 720}, {960, 720}, {640, 480}, {352, 288}, {320, 240},
				},
			},
		},
		{
			ID: "1",
			Characteristics: Characteristics{
				LensFacing:        LensFacingFront,
				SensorOrientation: 270,
				JPEGSizes: []Size{
					{2592, 1944}, {1920, 1080}, {1280, 960}, {640, 480},
				},
				TextureSizes: []Size{
					{1920, 1080}, {1280, 960}, {1280, 720}, {640, 480}, {320, 240},
				},
			},
		},
	}
}

// MockService simulates the camera stack for local development and tests.
// Every callback is delivered on its own goroutine, like the callback threads
// of a real stack.
type MockService struct {
	mu      sync.Mutex
	order   []string
	cameras map[string]MockCamera

	// Live device handles
	devices  map[*mockDevice]struct{}
	peakOpen int

	nextSurfaceID int64

	// Failure injection
	failConfigure   int
	captureFailures []FailureReason
	prepareErr      error
	captureDelay    time.Duration

	stillOnce sync.Once
	still     []byte
}

// NewMockService creates a simulated stack exposing cams, or the default
// cameras when none are given.
func NewMockService(cams ...MockCamera) *MockService {
	if len(cams) == 0 {
		cams = DefaultMockCameras()
	}
	svc := &MockService{
		cameras: make(map[string]MockCamera, len(cams)),
		devices: make(map[*mockDevice]struct{}),
	}
	for _, c := range cams {
		svc.order = append(svc.order, c.ID)
		svc.cameras[c.ID] = c
	}
	slog.Info("[MOCK] Camera stack initialized", "cameras", len(cams))
	return svc
}

// Close tears down every live device.
func (m *MockService) Close() {
	m.mu.Lock()
	devs := make([]*mockDevice, 0, len(m.devices))
	for d := range m.devices {
		devs = append(devs, d)
	}
	m.mu.Unlock()

	for _, d := range devs {
		d.Close()
	}
	slog.Info("[MOCK] Camera stack shutdown")
}

// --- Discovery ---

func (m *MockService) CameraIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *MockService) Characteristics(id string) (*Characteristics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cam, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("unknown camera %q", id)
	}

	// Return a copy to avoid races with the caller
	c := cam.Characteristics
	c.JPEGSizes = append([]Size(nil), c.JPEGSizes...)
	c.TextureSizes = append([]Size(nil), c.TextureSizes...)
	return &c, nil
}

func (m *MockService) OpenCamera(id string, cb DeviceCallbacks) error {
	m.mu.Lock()
	if _, ok := m.cameras[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown camera %q", id)
	}
	d := &mockDevice{svc: m, id: id, cb: cb}
	m.devices[d] = struct{}{}
	if len(m.devices) > m.peakOpen {
		m.peakOpen = len(m.devices)
	}
	m.mu.Unlock()

	slog.Debug("[MOCK] Camera opened", "id", id)
	if cb.Opened != nil {
		go cb.Opened(d)
	}
	return nil
}

// --- Outputs ---

func (m *MockService) NewImageReader(size Size, maxImages int) (ImageReader, error) {
	if size.Width <= 0 || size.Height <= 0 || maxImages <= 0 {
		return nil, fmt.Errorf("invalid image reader config %s x%d", size, maxImages)
	}
	return &mockImageReader{size: size}, nil
}

func (m *MockService) NewMediaRecorder() MediaRecorder {
	return &mockRecorder{svc: m}
}

func (m *MockService) NewPreviewSurface() PreviewSurface {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSurfaceID++
	return &MockPreviewSurface{id: m.nextSurfaceID}
}

// --- Failure injection and inspection ---

// FailNextConfigure makes the next capture session configuration fail.
func (m *MockService) FailNextConfigure() {
	m.mu.Lock()
	m.failConfigure++
	m.mu.Unlock()
}

// FailNextCapture makes the next still capture fail with reason.
func (m *MockService) FailNextCapture(reason FailureReason) {
	m.mu.Lock()
	m.captureFailures = append(m.captureFailures, reason)
	m.mu.Unlock()
}

// SetCaptureDelay delays the delivery of still images and capture failures.
func (m *MockService) SetCaptureDelay(d time.Duration) {
	m.mu.Lock()
	m.captureDelay = d
	m.mu.Unlock()
}

// FailRecorderPrepare makes every recorder Prepare call return err. A nil
// err restores normal behavior.
func (m *MockService) FailRecorderPrepare(err error) {
	m.mu.Lock()
	m.prepareErr = err
	m.mu.Unlock()
}

// Disconnect simulates the device being unplugged. Returns false if there is
// no live handle for id.
func (m *MockService) Disconnect(id string) bool {
	d := m.liveDevice(id)
	if d == nil {
		return false
	}
	slog.Info("[MOCK] Camera disconnected", "id", id)
	if d.cb.Disconnected != nil {
		go d.cb.Disconnected(d)
	}
	return true
}

// InjectError simulates an asynchronous device error.
func (m *MockService) InjectError(id string, code DeviceError) bool {
	d := m.liveDevice(id)
	if d == nil {
		return false
	}
	slog.Info("[MOCK] Camera error", "id", id, "code", int(code))
	if d.cb.Error != nil {
		go d.cb.Error(d, code)
	}
	return true
}

// OpenDevices returns the number of live device handles.
func (m *MockService) OpenDevices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// PeakOpenDevices returns the highest number of simultaneously live device
// handles seen so far.
func (m *MockService) PeakOpenDevices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakOpen
}

func (m *MockService) liveDevice(id string) *mockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := range m.devices {
		if d.id == id {
			return d
		}
	}
	return nil
}

func (m *MockService) release(d *mockDevice) {
	m.mu.Lock()
	delete(m.devices, d)
	m.mu.Unlock()
}

func (m *MockService) takeConfigureFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConfigure == 0 {
		return false
	}
	m.failConfigure--
	return true
}

func (m *MockService) takeCaptureFailure() (FailureReason, bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captureFailures) == 0 {
		return 0, false, m.captureDelay
	}
	r := m.captureFailures[0]
	m.captureFailures = m.captureFailures[1:]
	return r, true, m.captureDelay
}

// stillImage returns the JPEG test pattern delivered for every capture.
func (m *MockService) stillImage() []byte {
	m.stillOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		for y := 0; y < 48; y++ {
			for x := 0; x < 64; x++ {
				img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 128, 255})
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			slog.Error("[MOCK] Failed to encode test pattern", "err", err)
			return
		}
		m.still = buf.Bytes()
	})
	return m.still
}

// --- Device ---

type mockDevice struct {
	svc *MockService
	id  string
	cb  DeviceCallbacks

	mu     sync.Mutex
	closed bool
}

func (d *mockDevice) ID() string { return d.id }

func (d *mockDevice) CreateCaptureSession(targets []Surface, cb SessionCallbacks) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("camera device %s is closed", d.id)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no output targets")
	}
	for _, t := range targets {
		if t == nil {
			return fmt.Errorf("nil output target")
		}
	}

	s := &mockSession{dev: d, targets: append([]Surface(nil), targets...)}
	fail := d.svc.takeConfigureFailure()
	go func() {
		if fail {
			if cb.ConfigureFailed != nil {
				cb.ConfigureFailed(s)
			}
			return
		}
		if cb.Configured != nil {
			cb.Configured(s)
		}
	}()
	return nil
}

func (d *mockDevice) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.svc.release(d)
	slog.Debug("[MOCK] Camera closed", "id", d.id)
	if d.cb.Closed != nil {
		go d.cb.Closed(d)
	}
}

func (d *mockDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// --- Session ---

type mockSession struct {
	dev     *mockDevice
	targets []Surface

	mu        sync.Mutex
	closed    bool
	repeating *CaptureRequest

	// lastCapture is closed once the latest submitted capture completed.
	// Results are delivered in submission order.
	lastCapture chan struct{}
}

func (s *mockSession) checkRequest(req CaptureRequest) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.dev.isClosed() {
		return fmt.Errorf("capture session is closed")
	}
	if len(req.Targets) == 0 {
		return fmt.Errorf("request has no targets")
	}
	for _, t := range req.Targets {
		found := false
		for _, st := range s.targets {
			if st == t {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("request target is not part of the session")
		}
	}
	return nil
}

func (s *mockSession) SetRepeatingRequest(req CaptureRequest) error {
	if err := s.checkRequest(req); err != nil {
		return err
	}
	s.mu.Lock()
	s.repeating = &req
	s.mu.Unlock()
	return nil
}

func (s *mockSession) Capture(req CaptureRequest, cb CaptureCallbacks) error {
	if err := s.checkRequest(req); err != nil {
		return err
	}

	reason, fail, delay := s.dev.svc.takeCaptureFailure()
	still := s.dev.svc.stillImage()

	s.mu.Lock()
	prev := s.lastCapture
	done := make(chan struct{})
	s.lastCapture = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if fail {
			if cb.Failed != nil {
				cb.Failed(reason)
			}
			return
		}
		for _, t := range req.Targets {
			if r, ok := t.(*mockImageReader); ok {
				r.deliver(still)
			}
		}
	}()
	return nil
}

func (s *mockSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.repeating = nil
	s.mu.Unlock()
}

// --- Outputs ---

// MockPreviewSurface is the simulated live-display texture.
type MockPreviewSurface struct {
	id int64

	mu       sync.Mutex
	size     Size
	released bool
}

func (p *MockPreviewSurface) Kind() SurfaceKind { return SurfacePreview }
func (p *MockPreviewSurface) ID() int64         { return p.id }

func (p *MockPreviewSurface) SetDefaultBufferSize(size Size) {
	p.mu.Lock()
	p.size = size
	p.mu.Unlock()
}

func (p *MockPreviewSurface) Release() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

// Released reports whether the owner released the surface.
func (p *MockPreviewSurface) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// BufferSize returns the last default buffer size set on the surface.
func (p *MockPreviewSurface) BufferSize() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

type mockImageReader struct {
	size Size

	mu     sync.Mutex
	fn     func([]byte)
	closed bool
}

func (r *mockImageReader) Kind() SurfaceKind { return SurfaceStill }

func (r *mockImageReader) SetOnImageAvailable(fn func(img []byte)) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

func (r *mockImageReader) Close() {
	r.mu.Lock()
	r.closed = true
	r.fn = nil
	r.mu.Unlock()
}

func (r *mockImageReader) deliver(img []byte) {
	r.mu.Lock()
	fn := r.fn
	closed := r.closed
	r.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(append([]byte(nil), img...))
}

type mockEncoderSurface struct {
	recorder *mockRecorder
}

func (*mockEncoderSurface) Kind() SurfaceKind { return SurfaceEncoder }

type mockRecorder struct {
	svc *MockService

	mu        sync.Mutex
	params    RecorderParameters
	surface   *mockEncoderSurface
	prepared  bool
	recording bool
	released  bool
	started   time.Time
}

func (r *mockRecorder) Prepare(params RecorderParameters) error {
	r.svc.mu.Lock()
	prepareErr := r.svc.prepareErr
	r.svc.mu.Unlock()
	if prepareErr != nil {
		return prepareErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return fmt.Errorf("recorder released")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", params.Width, params.Height)
	}
	if _, err := os.Stat(filepath.Dir(params.OutputFile)); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}

	r.params = params
	r.surface = &mockEncoderSurface{recorder: r}
	r.prepared = true
	slog.Info("[MOCK] Recorder Configured",
		"size", fmt.Sprintf("%dx%d", params.Width, params.Height),
		"fps", params.FPS,
		"bitrate", params.Bitrate,
		"orientation", params.OrientationHint)
	return nil
}

func (r *mockRecorder) Surface() Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface == nil {
		return nil
	}
	return r.surface
}

func (r *mockRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.prepared {
		return fmt.Errorf("recorder not prepared")
	}
	if r.recording {
		return fmt.Errorf("already recording")
	}

	r.recording = true
	r.started = time.Now()
	slog.Info("[MOCK] Recording STARTED", "file", r.params.OutputFile)
	return nil
}

func (r *mockRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return fmt.Errorf("not recording")
	}

	p := r.params
	header := fmt.Sprintf("mock-%s %dx%d@%d %s/%s %dms\n", p.OutputFormat,
		p.Width, p.Height, p.FPS, p.VideoEncoder, p.AudioEncoder,
		time.Since(r.started).Milliseconds())
	if err := os.WriteFile(p.OutputFile, []byte(header), 0644); err != nil {
		return err
	}

	r.recording = false
	r.prepared = false
	slog.Info("[MOCK] Recording STOPPED", "file", p.OutputFile)
	return nil
}

func (r *mockRecorder) Reset() {
	r.mu.Lock()
	r.recording = false
	r.prepared = false
	r.surface = nil
	r.params = RecorderParameters{}
	r.mu.Unlock()
}

func (r *mockRecorder) Release() {
	r.Reset()
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

// --- Host collaborators ---

// MockPermissions is a PermissionGate with scripted answers. Requests stay
// pending until Answer is called.
type MockPermissions struct {
	mu         sync.Mutex
	camera     bool
	microphone bool
	pending    []func()
}

func NewMockPermissions(camera, microphone bool) *MockPermissions {
	return &MockPermissions{camera: camera, microphone: microphone}
}

func (p *MockPermissions) CameraGranted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.camera
}

func (p *MockPermissions) MicrophoneGranted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.microphone
}

func (p *MockPermissions) Request(done func()) {
	p.mu.Lock()
	p.pending = append(p.pending, done)
	p.mu.Unlock()
	slog.Info("[MOCK] Permission request pending")
}

// Pending returns the number of requests waiting for an answer.
func (p *MockPermissions) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Answer records the user's answer and resumes every pending request.
func (p *MockPermissions) Answer(camera, microphone bool) {
	p.mu.Lock()
	p.camera = camera
	p.microphone = microphone
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, done := range pending {
		go done()
	}
}

// FixedDisplay is a Display that never rotates.
type FixedDisplay int

func (d FixedDisplay) Rotation() int { return int(d) }
