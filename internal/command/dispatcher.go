package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"owlcam/internal/camera"
	"owlcam/internal/catalog"
	"owlcam/internal/hardware"
)

// MediaIndex looks up the capture metadata of a media file.
type MediaIndex interface {
	Get(ctx context.Context, path string) (catalog.Item, error)
}

// Config configures a Dispatcher.
type Config struct {
	Manager *camera.Manager
	Browser *hardware.FileBrowser

	// MediaRoot anchors relative destination paths.
	MediaRoot string

	// Optional
	Catalog MediaIndex
	Log     *slog.Logger
}

// Dispatcher executes requests against the camera manager.
type Dispatcher struct {
	cfg Config
	log *slog.Logger
}

func NewDispatcher(cfg Config) *Dispatcher {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{cfg: cfg, log: log}
}

type openParams struct {
	CameraName       string `json:"cameraName"`
	ResolutionPreset string `json:"resolutionPreset"`
}

type pictureParams struct {
	Path     string `json:"path"`
	Rotation int    `json:"rotation"`
}

type recordParams struct {
	FilePath string `json:"filePath"`
	Rotation int    `json:"rotation"`
}

type handleParams struct {
	HandleID int64 `json:"handleId"`
}

type listParams struct {
	Folder string `json:"folder"`
}

// OpenReply is the result of the open method.
type OpenReply struct {
	HandleID        int64 `json:"handleId"`
	PreviewWidth    int   `json:"previewWidth"`
	PreviewHeight   int   `json:"previewHeight"`
	DisplayRotation int   `json:"displayRotation"`
}

// MediaEntry is a listed media file with its catalogued metadata, when
// known.
type MediaEntry struct {
	hardware.MediaFileInfo
	CameraID    string     `json:"cameraId,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// MediaListing is the result of the listMedia method. An empty folder lists
// the folders below the media root and the files stored directly in it.
type MediaListing struct {
	Folders []hardware.FolderInfo `json:"folders,omitempty"`
	Files   []MediaEntry          `json:"files,omitempty"`
}

// Handle executes req and passes its response to reply. Methods backed by an
// asynchronous camera operation reply from another goroutine once the
// operation resolves. events is the sink attached by the subscribe method.
func (d *Dispatcher) Handle(req Request, events camera.EventSink, reply func(Response)) {
	d.log.Debug("[CMD] Request", "id", req.ID, "method", req.Method)

	fail := func(err error) {
		d.log.Warn("[CMD] Request failed", "id", req.ID, "method", req.Method, "err", err)
		reply(ErrorResponse(req.ID, err))
	}
	ok := func(result any) {
		reply(Response{ID: req.ID, Result: result})
	}

	m := d.cfg.Manager
	switch req.Method {
	case MethodInit:
		m.Init()
		ok(nil)

	case MethodAvailableCameras:
		cams, err := m.AvailableCameras()
		if err != nil {
			fail(err)
			return
		}
		ok(cams)

	case MethodOpen:
		var p openParams
		if err := decodeParams(req.Params, &p); err != nil {
			fail(err)
			return
		}
		if p.CameraName == "" {
			fail(fmt.Errorf("%w: cameraName is required", errInvalidParams))
			return
		}
		awaitOp(m.Open(p.CameraName, p.ResolutionPreset), fail, func(res camera.OpenResult) {
			ok(OpenReply{
				HandleID:        res.HandleID,
				PreviewWidth:    res.PreviewSize.Width,
				PreviewHeight:   res.PreviewSize.Height,
				DisplayRotation: res.DisplayRotation,
			})
		})

	case MethodTakePicture:
		var p pictureParams
		if err := decodeParams(req.Params, &p); err != nil {
			fail(err)
			return
		}
		dest, err := d.destination(p.Path)
		if err != nil {
			fail(err)
			return
		}
		awaitOp(m.TakePicture(dest, p.Rotation), fail, func(struct{}) { ok(nil) })

	case MethodStartVideoRecording:
		var p recordParams
		if err := decodeParams(req.Params, &p); err != nil {
			fail(err)
			return
		}
		dest, err := d.destination(p.FilePath)
		if err != nil {
			fail(err)
			return
		}
		awaitOp(m.StartVideoRecording(dest, p.Rotation), fail, func(struct{}) { ok(nil) })

	case MethodStopVideoRecording:
		awaitOp(m.StopVideoRecording(), fail, func(msg string) { ok(msg) })

	case MethodClose:
		m.Close()
		ok(nil)

	case MethodDispose:
		m.Dispose()
		ok(nil)

	case MethodSubscribe, MethodUnsubscribe:
		var p handleParams
		if err := decodeParams(req.Params, &p); err != nil {
			fail(err)
			return
		}
		var err error
		if req.Method == MethodSubscribe {
			if events == nil {
				fail(fmt.Errorf("%w: transport does not carry events", errInvalidParams))
				return
			}
			err = m.Subscribe(p.HandleID, events)
		} else {
			err = m.Unsubscribe(p.HandleID)
		}
		if err != nil {
			fail(err)
			return
		}
		ok(nil)

	case MethodListMedia:
		var p listParams
		if err := decodeParams(req.Params, &p); err != nil {
			fail(err)
			return
		}
		listing, err := d.listMedia(p.Folder)
		if err != nil {
			fail(err)
			return
		}
		ok(listing)

	default:
		fail(fmt.Errorf("%w: %q", errUnknownMethod, req.Method))
	}
}

func awaitOp[T any](op *camera.Op[T], fail func(error), ok func(T)) {
	go func() {
		v, err := op.Result()
		if err != nil {
			fail(err)
			return
		}
		ok(v)
	}()
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

// destination resolves a client supplied path below the media root.
// Absolute paths are accepted only when they point inside the root. The
// parent directory is created when missing.
func (d *Dispatcher) destination(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is required", errInvalidParams)
	}
	rel := path
	if filepath.IsAbs(path) {
		var err error
		rel, err = filepath.Rel(d.cfg.MediaRoot, path)
		if err != nil {
			return "", fmt.Errorf("%w: path %q is outside the media root", errInvalidParams, path)
		}
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: path %q is outside the media root", errInvalidParams, path)
	}
	path = filepath.Join(d.cfg.MediaRoot, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("%w: %v", camera.ErrIO, err)
	}
	return path, nil
}

func (d *Dispatcher) listMedia(folder string) (MediaListing, error) {
	if d.cfg.Browser == nil {
		return MediaListing{}, fmt.Errorf("%w: media browsing is disabled", errUnknownMethod)
	}
	var listing MediaListing
	if folder == "" {
		folders, err := d.cfg.Browser.Folders()
		if err != nil {
			return MediaListing{}, err
		}
		listing.Folders = folders
	}

	files, err := d.cfg.Browser.Files(folder)
	if err != nil {
		return MediaListing{}, fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries := make([]MediaEntry, 0, len(files))
	for _, f := range files {
		e := MediaEntry{MediaFileInfo: f}
		if d.cfg.Catalog != nil {
			if item, err := d.cfg.Catalog.Get(ctx, f.Path); err == nil {
				e.CameraID = item.CameraID
				e.Width = item.Width
				e.Height = item.Height
				e.Orientation = item.Orientation
				created := item.CreatedAt
				e.CreatedAt = &created
			}
		}
		entries = append(entries, e)
	}
	listing.Files = entries
	return listing, nil
}
