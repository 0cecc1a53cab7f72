package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"owlcam/internal/hardware"
)

// State is the lifecycle state of a Camera.
type State int

const (
	StateClosed State = iota
	StateOpening
	StatePreviewActive
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StatePreviewActive:
		return "preview"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	msgNothingToStop = "The video was not recording, nothing to stop."
	msgStopped       = "stopVideoRecording called successfully."
)

// Fixed encoder parameters.
const (
	videoBitrate    = 1024 * 1000
	videoFPS        = 27
	audioSampleRate = 16000
	audioChannels   = 1
)

// OpenResult is the outcome of a successful Open.
type OpenResult struct {
	HandleID        int64         `json:"textureId"`
	PreviewSize     hardware.Size `json:"previewSize"`
	DisplayRotation int           `json:"displayRotation"`
}

type MediaKind string

const (
	MediaPicture MediaKind = "picture"
	MediaVideo   MediaKind = "video"
)

// MediaInfo describes a picture or recording that reached its destination.
type MediaInfo struct {
	Path        string
	Kind        MediaKind
	CameraID    string
	Size        hardware.Size
	Orientation int
	CreatedAt   time.Time
}

// MediaObserver is told about every saved picture and finished recording.
type MediaObserver interface {
	MediaSaved(info MediaInfo)
}

// CameraConfig configures a Camera.
type CameraConfig struct {
	// ID is the backend identifier of the device.
	ID     string
	Preset Preset

	Service hardware.CameraService
	// Preview is owned by the host and released only by Dispose.
	Preview hardware.PreviewSurface

	// Optional
	Display  hardware.Display
	Observer MediaObserver
	Stats    *Stats
	Log      *slog.Logger
}

type pendingStill struct {
	id   uint64
	dest string
	hint int
	op   *Op[struct{}]
}

// Camera drives one imaging device through its preview, still capture and
// recording sessions.
//
// Every field below the loop marker is owned by the loop goroutine. Public
// methods and backend callbacks post closures to it.
type Camera struct {
	cfg      CameraConfig
	log      *slog.Logger
	stats    *Stats
	notifier Notifier

	msgs     chan func()
	quit     chan struct{}
	loopDone chan struct{}

	mu      sync.RWMutex
	stopped bool

	// loop
	state    State
	disposed bool
	desc     DeviceDescriptor
	streams  StreamConfig
	device   hardware.Device
	session  hardware.CaptureSession
	reader   hardware.ImageReader
	recorder hardware.MediaRecorder

	// gen identifies the current device handle, sessGen the current
	// capture session. Callbacks carrying older values are stale.
	gen     uint64
	sessGen uint64

	pendingOpen   *Op[OpenResult]
	pendingRecord *Op[struct{}]
	recordPath    string
	recordHint    int
	stills        []*pendingStill
	nextStill     uint64
}

// New creates a closed camera and starts its loop.
func New(cfg CameraConfig) (*Camera, error) {
	if cfg.Service == nil {
		return nil, errors.New("camera service is required")
	}
	if cfg.Preview == nil {
		return nil, errors.New("preview surface is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewStats()
	}
	c := &Camera{
		cfg:      cfg,
		log:      log.With("camera", cfg.ID),
		stats:    stats,
		msgs:     make(chan func(), 16),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (c *Camera) run() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.msgs:
			fn()
		case <-c.quit:
			// Drain what was posted before the loop was stopped.
			for {
				select {
				case fn := <-c.msgs:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post queues fn on the loop. It returns false once the loop is stopped.
// Must not be called from the loop goroutine.
func (c *Camera) post(fn func()) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	c.msgs <- fn
	return true
}

// call runs fn on the loop and waits for it.
func (c *Camera) call(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// HandleID is the identifier of the preview surface.
func (c *Camera) HandleID() int64 {
	return c.cfg.Preview.ID()
}

// ID is the backend identifier of the device.
func (c *Camera) ID() string {
	return c.cfg.ID
}

func (c *Camera) State() State {
	s := StateClosed
	c.call(func() { s = c.state })
	return s
}

// Config returns the stream configuration resolved by the last Open.
func (c *Camera) Config() StreamConfig {
	var sc StreamConfig
	c.call(func() { sc = c.streams })
	return sc
}

func (c *Camera) Descriptor() DeviceDescriptor {
	var d DeviceDescriptor
	c.call(func() { d = c.desc })
	return d
}

func (c *Camera) Subscribe(sink EventSink) {
	c.notifier.Subscribe(sink)
}

func (c *Camera) Unsubscribe() {
	c.notifier.Unsubscribe()
}

func (c *Camera) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("[CAM] State changed", "from", c.state, "to", s)
	c.state = s
}

// --- Open ---

// Open closes any previous handle, resolves the stream configuration and
// opens the device. It resolves once the preview session is running.
func (c *Camera) Open() *Op[OpenResult] {
	op := newOp[OpenResult]()
	if !c.post(func() { c.open(op) }) {
		op.fail(ErrDisposed)
	}
	return op
}

func (c *Camera) open(op *Op[OpenResult]) {
	if c.disposed {
		op.fail(ErrDisposed)
		return
	}
	c.closeHandles()

	desc, streams, err := Resolve(c.cfg.Service, c.cfg.ID, c.cfg.Preset)
	if err != nil {
		c.stats.openFailures.Inc()
		op.fail(err)
		return
	}
	c.desc, c.streams = desc, streams

	reader, err := c.cfg.Service.NewImageReader(streams.CaptureSize, 2)
	if err != nil {
		c.stats.openFailures.Inc()
		op.fail(fmt.Errorf("%w: %v", ErrDeviceAccess, err))
		return
	}
	gen := c.gen
	reader.SetOnImageAvailable(func(img []byte) {
		c.post(func() { c.imageAvailable(gen, img) })
	})
	c.reader = reader

	c.setState(StateOpening)
	c.pendingOpen = op
	c.log.Info("[CAM] Opening camera",
		"facing", desc.LensFacing,
		"capture", streams.CaptureSize,
		"preview", streams.PreviewSize,
		"video", streams.VideoSize)

	if err := c.cfg.Service.OpenCamera(c.cfg.ID, c.deviceCallbacks(gen)); err != nil {
		c.pendingOpen = nil
		c.closeHandles()
		c.stats.openFailures.Inc()
		op.fail(fmt.Errorf("%w: %v", ErrDeviceAccess, err))
	}
}

func (c *Camera) deviceCallbacks(gen uint64) hardware.DeviceCallbacks {
	lost := func(d hardware.Device, desc string) {
		if !c.post(func() { c.deviceLost(gen, d, desc) }) {
			d.Close()
		}
	}
	return hardware.DeviceCallbacks{
		Opened: func(d hardware.Device) {
			if !c.post(func() { c.deviceOpened(gen, d) }) {
				d.Close()
			}
		},
		Closed: func(d hardware.Device) {
			c.post(func() { c.deviceClosed(gen, d) })
		},
		Disconnected: func(d hardware.Device) {
			lost(d, disconnectedDescription)
		},
		Error: func(d hardware.Device, code hardware.DeviceError) {
			lost(d, deviceErrorDescription(code))
		},
	}
}

func (c *Camera) deviceOpened(gen uint64, d hardware.Device) {
	if gen != c.gen || c.state != StateOpening || c.disposed {
		d.Close()
		return
	}
	c.device = d
	c.stats.openDevices.Inc()
	c.startPreview()
}

// deviceClosed handles the backend closing the current device on its own.
// Handles closed by closeHandles are already stale when this runs.
func (c *Camera) deviceClosed(gen uint64, d hardware.Device) {
	if gen != c.gen || c.device != d {
		return
	}
	c.log.Info("[CAM] Device closed by the backend")
	c.device = nil
	c.stats.openDevices.Dec()
	c.closeHandles()
	c.notifier.emit(Event{Type: EventClosing})
}

func (c *Camera) deviceLost(gen uint64, d hardware.Device, desc string) {
	d.Close()
	if gen != c.gen {
		return
	}
	c.log.Warn("[CAM] Device lost", "reason", desc)
	c.stats.deviceErrors.WithLabelValues(desc).Inc()
	if c.device != nil {
		c.device = nil
		c.stats.openDevices.Dec()
	}
	c.closeHandles()
	c.notifier.emit(Event{Type: EventError, Description: desc})
	c.notifier.emit(Event{Type: EventClosing})
}

// --- Preview ---

// startPreview replaces the current session with a preview session
// targeting the preview surface and the still reader.
func (c *Camera) startPreview() {
	c.closeSession()
	c.cfg.Preview.SetDefaultBufferSize(c.streams.PreviewSize)

	c.sessGen++
	sg := c.sessGen
	targets := []hardware.Surface{c.cfg.Preview, c.reader}
	err := c.device.CreateCaptureSession(targets, hardware.SessionCallbacks{
		Configured: func(s hardware.CaptureSession) {
			if !c.post(func() { c.previewConfigured(sg, s) }) {
				s.Close()
			}
		},
		ConfigureFailed: func(s hardware.CaptureSession) {
			c.post(func() { c.previewFailed(sg, errors.New("configure failed")) })
		},
	})
	if err != nil {
		c.previewFailed(sg, err)
	}
}

func (c *Camera) previewConfigured(sg uint64, s hardware.CaptureSession) {
	if sg != c.sessGen || c.device == nil {
		s.Close()
		return
	}
	c.session = s
	err := s.SetRepeatingRequest(hardware.CaptureRequest{
		Template:    hardware.TemplatePreview,
		Targets:     []hardware.Surface{c.cfg.Preview},
		AutoControl: true,
	})
	if err != nil {
		c.previewFailed(sg, err)
		return
	}
	if c.state != StateRecording {
		c.setState(StatePreviewActive)
	}

	if op := c.pendingOpen; op != nil {
		c.pendingOpen = nil
		res := OpenResult{
			HandleID:    c.cfg.Preview.ID(),
			PreviewSize: c.streams.PreviewSize,
		}
		if c.cfg.Display != nil {
			res.DisplayRotation = c.cfg.Display.Rotation()
		}
		c.stats.opens.Inc()
		c.log.Info("[CAM] Preview started", "handle", res.HandleID)
		op.succeed(res)
	}
}

func (c *Camera) previewFailed(sg uint64, err error) {
	if sg != c.sessGen {
		return
	}
	c.closeSession()
	c.log.Error("[CAM] Failed to configure the camera for preview", "err", err)
	if op := c.pendingOpen; op != nil {
		c.pendingOpen = nil
		c.closeHandles()
		c.stats.openFailures.Inc()
		op.fail(fmt.Errorf("%w: Failed to configure the camera for preview.", ErrConfiguration))
		return
	}
	c.notifier.emit(Event{Type: EventError, Description: "Failed to configure the camera for preview."})
}

func (c *Camera) closeSession() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

// --- Still capture ---

// TakePicture captures one still image and writes it verbatim to dest.
// rotation is the current display rotation in degrees.
func (c *Camera) TakePicture(rotation int, dest string) *Op[struct{}] {
	op := newOp[struct{}]()
	if !ValidRotation(rotation) {
		op.fail(fmt.Errorf("%w: %d", ErrInvalidRotation, rotation))
		return op
	}
	if !c.post(func() { c.takePicture(op, rotation, dest) }) {
		op.fail(ErrDisposed)
	}
	return op
}

func (c *Camera) takePicture(op *Op[struct{}], rotation int, dest string) {
	if c.disposed {
		op.fail(ErrDisposed)
		return
	}
	if c.device == nil || c.session == nil ||
		(c.state != StatePreviewActive && c.state != StateRecording) {
		op.fail(fmt.Errorf("%w: no active capture session", ErrCameraClosed))
		return
	}
	if _, err := os.Stat(dest); err == nil {
		op.fail(fmt.Errorf("%w: File at path '%s' already exists. Cannot overwrite.", ErrIO, dest))
		return
	}

	hint := StillOrientationHint(rotation, c.desc.SensorOrientation, c.desc.Front())
	c.nextStill++
	ps := &pendingStill{id: c.nextStill, dest: dest, hint: hint, op: op}
	c.stills = append(c.stills, ps)

	gen := c.gen
	err := c.session.Capture(hardware.CaptureRequest{
		Template:        hardware.TemplateStillCapture,
		Targets:         []hardware.Surface{c.reader},
		JPEGOrientation: hint,
	}, hardware.CaptureCallbacks{
		Failed: func(reason hardware.FailureReason) {
			c.post(func() { c.captureFailed(gen, ps.id, reason) })
		},
	})
	if err != nil {
		c.takeStill(ps.id)
		c.stats.pictureFailures.WithLabelValues("access").Inc()
		op.fail(fmt.Errorf("%w: %v", ErrDeviceAccess, err))
	}
}

// takeStill removes the pending still with id from the queue.
func (c *Camera) takeStill(id uint64) *pendingStill {
	for i, ps := range c.stills {
		if ps.id == id {
			c.stills = append(c.stills[:i], c.stills[i+1:]...)
			return ps
		}
	}
	return nil
}

func (c *Camera) captureFailed(gen, id uint64, reason hardware.FailureReason) {
	if gen != c.gen {
		return
	}
	ps := c.takeStill(id)
	if ps == nil {
		return
	}
	err := &CaptureFailureError{Reason: captureFailureReason(reason)}
	c.log.Warn("[CAM] Capture failed", "path", ps.dest, "reason", err)
	c.stats.pictureFailures.WithLabelValues("capture").Inc()
	ps.op.fail(err)
}

func (c *Camera) imageAvailable(gen uint64, img []byte) {
	if gen != c.gen || len(c.stills) == 0 {
		c.log.Debug("[CAM] Dropping unexpected image", "bytes", len(img))
		return
	}
	ps := c.stills[0]
	c.stills = c.stills[1:]

	info := MediaInfo{
		Path:        ps.dest,
		Kind:        MediaPicture,
		CameraID:    c.cfg.ID,
		Size:        c.streams.CaptureSize,
		Orientation: ps.hint,
	}
	go func() {
		if err := os.WriteFile(ps.dest, img, 0o644); err != nil {
			c.log.Error("[CAM] Failed saving image", "path", ps.dest, "err", err)
			c.stats.pictureFailures.WithLabelValues("io").Inc()
			ps.op.fail(fmt.Errorf("%w: Failed saving image", ErrIO))
			return
		}
		c.stats.pictures.Inc()
		c.log.Info("[CAM] Picture saved", "path", ps.dest, "bytes", len(img))
		info.CreatedAt = time.Now()
		c.observe(info)
		ps.op.succeed(struct{}{})
	}()
}

func (c *Camera) observe(info MediaInfo) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.MediaSaved(info)
	}
}

// --- Recording ---

// StartVideoRecording reconfigures the session with the encoder attached and
// starts recording to dest.
func (c *Camera) StartVideoRecording(rotation int, dest string) *Op[struct{}] {
	op := newOp[struct{}]()
	if !ValidRotation(rotation) {
		op.fail(fmt.Errorf("%w: %d", ErrInvalidRotation, rotation))
		return op
	}
	if !c.post(func() { c.startRecording(op, rotation, dest) }) {
		op.fail(ErrDisposed)
	}
	return op
}

func (c *Camera) startRecording(op *Op[struct{}], rotation int, dest string) {
	if c.disposed {
		op.fail(ErrDisposed)
		return
	}
	if c.device == nil {
		op.fail(fmt.Errorf("%w: camera was closed during configuration", ErrConfiguration))
		return
	}
	if c.state == StateOpening {
		op.fail(fmt.Errorf("%w: camera is still opening", ErrConfiguration))
		return
	}
	if c.state == StateRecording || c.pendingRecord != nil {
		op.fail(fmt.Errorf("%w: already recording", ErrVideoRecording))
		return
	}
	if _, err := os.Stat(dest); err == nil {
		op.fail(fmt.Errorf("%w: File at path '%s' already exists.", ErrIO, dest))
		return
	}

	c.closeSession()
	hint := OrientationHint(rotation, c.desc.SensorOrientation, c.desc.Front())
	if err := c.prepareRecorder(dest, hint); err != nil {
		c.log.Error("[CAM] Failed to prepare recorder", "path", dest, "err", err)
		c.stats.recordFailures.Inc()
		op.fail(fmt.Errorf("%w: %v", ErrIO, err))
		c.startPreview()
		return
	}

	c.pendingRecord = op
	c.recordPath = dest
	c.recordHint = hint

	c.sessGen++
	sg := c.sessGen
	targets := []hardware.Surface{c.cfg.Preview, c.recorder.Surface(), c.reader}
	err := c.device.CreateCaptureSession(targets, hardware.SessionCallbacks{
		Configured: func(s hardware.CaptureSession) {
			if !c.post(func() { c.recordConfigured(sg, s) }) {
				s.Close()
			}
		},
		ConfigureFailed: func(s hardware.CaptureSession) {
			c.post(func() { c.recordConfigureFailed(sg) })
		},
	})
	if err != nil {
		c.recordConfigureFailed(sg)
	}
}

func (c *Camera) prepareRecorder(dest string, hint int) error {
	if c.recorder != nil {
		c.recorder.Release()
	}
	c.recorder = c.cfg.Service.NewMediaRecorder()
	return c.recorder.Prepare(hardware.RecorderParameters{
		OutputFile:      dest,
		OutputFormat:    "mpeg4",
		VideoEncoder:    "h264",
		AudioEncoder:    "aac",
		Width:           c.streams.VideoSize.Width,
		Height:          c.streams.VideoSize.Height,
		FPS:             videoFPS,
		Bitrate:         videoBitrate,
		AudioSampleRate: audioSampleRate,
		AudioChannels:   audioChannels,
		OrientationHint: hint,
	})
}

func (c *Camera) recordConfigured(sg uint64, s hardware.CaptureSession) {
	if sg != c.sessGen || c.device == nil {
		s.Close()
		return
	}
	op := c.pendingRecord
	c.pendingRecord = nil
	c.session = s

	err := s.SetRepeatingRequest(hardware.CaptureRequest{
		Template:    hardware.TemplateRecord,
		Targets:     []hardware.Surface{c.cfg.Preview, c.recorder.Surface()},
		AutoControl: true,
	})
	if err != nil {
		c.abortRecording(op, fmt.Errorf("%w: %v", ErrConfiguration, err))
		return
	}
	if err := c.recorder.Start(); err != nil {
		c.abortRecording(op, fmt.Errorf("%w: %v", ErrVideoRecording, err))
		return
	}
	c.setState(StateRecording)
	c.stats.recording.Set(1)
	c.log.Info("[CAM] Recording started", "path", c.recordPath, "size", c.streams.VideoSize)
	if op != nil {
		op.succeed(struct{}{})
	}
}

func (c *Camera) recordConfigureFailed(sg uint64) {
	if sg != c.sessGen {
		return
	}
	op := c.pendingRecord
	c.pendingRecord = nil
	c.abortRecording(op, fmt.Errorf("%w: Failed to configure camera session", ErrConfiguration))
}

// abortRecording returns to a plain preview session after a failed start.
func (c *Camera) abortRecording(op *Op[struct{}], err error) {
	c.log.Error("[CAM] Recording start failed", "err", err)
	c.stats.recordFailures.Inc()
	if c.recorder != nil {
		c.recorder.Reset()
	}
	c.startPreview()
	if op != nil {
		op.fail(err)
	}
}

// StopVideoRecording stops the current recording and restores the preview
// session. Stopping while not recording succeeds without doing anything.
func (c *Camera) StopVideoRecording() *Op[string] {
	op := newOp[string]()
	if !c.post(func() { c.stopRecording(op) }) {
		op.fail(ErrDisposed)
	}
	return op
}

func (c *Camera) stopRecording(op *Op[string]) {
	if c.disposed {
		op.fail(ErrDisposed)
		return
	}
	if c.state != StateRecording {
		op.succeed(msgNothingToStop)
		return
	}

	c.setState(StatePreviewActive)
	c.stats.recording.Set(0)
	err := c.recorder.Stop()
	c.recorder.Reset()
	c.startPreview()
	if err != nil {
		c.log.Error("[CAM] Failed to stop recording", "path", c.recordPath, "err", err)
		c.stats.recordFailures.Inc()
		op.fail(fmt.Errorf("%w: %v", ErrVideoRecording, err))
		return
	}

	c.stats.recordings.Inc()
	c.log.Info("[CAM] Recording stopped", "path", c.recordPath)
	info := MediaInfo{
		Path:        c.recordPath,
		Kind:        MediaVideo,
		CameraID:    c.cfg.ID,
		Size:        c.streams.VideoSize,
		Orientation: c.recordHint,
		CreatedAt:   time.Now(),
	}
	go func() {
		c.observe(info)
		op.succeed(msgStopped)
	}()
}

// --- Teardown ---

// Close releases the session, the device and the outputs. Pending
// operations fail. Close is idempotent and a no-op after Dispose.
func (c *Camera) Close() {
	c.call(func() {
		if c.state != StateClosed {
			c.log.Info("[CAM] Closing camera")
		}
		if c.closeHandles() {
			c.notifier.emit(Event{Type: EventClosing})
		}
	})
}

// closeHandles tears everything down and reports whether a live device was
// closed. The backend's Closed callback for that device is stale once this
// returns.
func (c *Camera) closeHandles() bool {
	c.closeSession()
	closed := c.device != nil
	if closed {
		c.device.Close()
		c.device = nil
		c.stats.openDevices.Dec()
	}
	if c.reader != nil {
		c.reader.Close()
		c.reader = nil
	}
	if c.recorder != nil {
		c.recorder.Reset()
		c.recorder.Release()
		c.recorder = nil
	}
	if c.state == StateRecording {
		c.stats.recording.Set(0)
	}

	if op := c.pendingOpen; op != nil {
		c.pendingOpen = nil
		c.stats.openFailures.Inc()
		op.fail(ErrCameraClosed)
	}
	if op := c.pendingRecord; op != nil {
		c.pendingRecord = nil
		op.fail(fmt.Errorf("%w: camera was closed during configuration", ErrConfiguration))
	}
	for _, ps := range c.stills {
		ps.op.fail(&CaptureFailureError{Reason: CaptureFailedAborted})
	}
	c.stills = nil

	c.setState(StateClosed)
	c.gen++
	c.sessGen++
	return closed
}

// Dispose closes the camera, releases the preview surface and stops the
// loop. Every later operation fails with ErrDisposed.
func (c *Camera) Dispose() {
	ok := c.call(func() {
		if c.disposed {
			return
		}
		c.closeHandles()
		c.disposed = true
		c.cfg.Preview.Release()
		c.notifier.Unsubscribe()
		c.log.Info("[CAM] Camera disposed")
	})
	if !ok {
		return
	}

	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.quit)
	}
	c.mu.Unlock()
	<-c.loopDone
}
