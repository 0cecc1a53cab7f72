package ble

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"owlcam/internal/assert"
	"owlcam/internal/camera"
	"owlcam/internal/command"
	"owlcam/internal/hardware"
)

type fakeOutput struct {
	writes chan []byte
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{writes: make(chan []byte, 32)}
}

func (o *fakeOutput) Write(p []byte) (int, error) {
	o.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func newTestServer(t *testing.T) (*Server, *fakeOutput, *fakeOutput, *fakeOutput) {
	t.Helper()
	root := t.TempDir()
	svc := hardware.NewMockService()
	t.Cleanup(svc.Close)
	m := camera.NewManager(camera.ManagerConfig{
		Service:     svc,
		Permissions: hardware.NewMockPermissions(true, true),
	})
	t.Cleanup(m.Dispose)
	browser := &hardware.FileBrowser{RootPath: root}

	res, ev, br := newFakeOutput(), newFakeOutput(), newFakeOutput()
	s := &Server{
		Name: "owlcam-test",
		Dispatcher: command.NewDispatcher(command.Config{
			Manager:   m,
			Browser:   browser,
			MediaRoot: root,
		}),
		Browser:    browser,
		resultOut:  res,
		eventOut:   ev,
		browserOut: br,
	}
	return s, res, ev, br
}

func decodeResponse(t *testing.T, data []byte) map[string]json.RawMessage {
	t.Helper()
	var res map[string]json.RawMessage
	assert.NilErr(t, json.Unmarshal(data, &res))
	return res
}

func TestServerCommandRoundTrip(t *testing.T) {
	t.Parallel()
	s, results, events, _ := newTestServer(t)

	s.handleCommandData([]byte(`{"id":"1","method":"open","params":{"cameraName":"0","resolutionPreset":"low"}}`))
	res := decodeResponse(t, assert.ChanWritten(t, results.writes))
	assert.DeepEqual(t, string(res["id"]), `"1"`)
	var open command.OpenReply
	assert.NilErr(t, json.Unmarshal(res["result"], &open))
	assert.DeepEqual(t, open.PreviewWidth, 640)

	sub, err := json.Marshal(map[string]any{
		"id":     "2",
		"method": "subscribe",
		"params": map[string]int64{"handleId": open.HandleID},
	})
	assert.NilErr(t, err)
	s.handleCommandData(sub)
	res = decodeResponse(t, assert.ChanWritten(t, results.writes))
	if _, ok := res["error"]; ok {
		t.Fatalf("subscribe failed: %s", res["error"])
	}

	s.handleCommandData([]byte(`{"id":"3","method":"close"}`))
	decodeResponse(t, assert.ChanWritten(t, results.writes))
	assert.DeepEqual(t, string(assert.ChanWritten(t, events.writes)), `{"eventType":"cameraClosing"}`)
}

func TestServerInvalidCommand(t *testing.T) {
	t.Parallel()
	s, results, _, _ := newTestServer(t)

	s.handleCommandData([]byte(`{{`))
	res := decodeResponse(t, assert.ChanWritten(t, results.writes))
	var e command.Error
	assert.NilErr(t, json.Unmarshal(res["error"], &e))
	assert.DeepEqual(t, e.Code, command.CodeInvalidArgument)
}

func TestServerBrowserStream(t *testing.T) {
	t.Parallel()
	s, _, _, browser := newTestServer(t)

	dir := filepath.Join(s.Browser.RootPath, "day1")
	assert.NilErr(t, os.MkdirAll(dir, 0o755))
	assert.NilErr(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))
	assert.NilErr(t, os.WriteFile(filepath.Join(dir, "b.mp4"), []byte("x"), 0o644))

	s.streamBrowser(BrowserRequest{Type: "folders"})
	var folder hardware.FolderInfo
	assert.NilErr(t, json.Unmarshal(assert.ChanWritten(t, browser.writes), &folder))
	assert.DeepEqual(t, folder, hardware.FolderInfo{Name: "day1", NumOfItems: 2})
	assert.DeepEqual(t, string(assert.ChanWritten(t, browser.writes)), "{}")

	s.streamBrowser(BrowserRequest{Type: "files", Folder: "day1"})
	var names []string
	for i := 0; i < 2; i++ {
		var f hardware.MediaFileInfo
		assert.NilErr(t, json.Unmarshal(assert.ChanWritten(t, browser.writes), &f))
		names = append(names, f.FileName)
	}
	assert.DeepEqual(t, names, []string{"a.jpg", "b.mp4"})
	assert.DeepEqual(t, string(assert.ChanWritten(t, browser.writes)), "{}")

	s.streamBrowser(BrowserRequest{Type: "tags"})
	assert.DeepEqual(t, string(assert.ChanWritten(t, browser.writes)), `{"error": "unknown_type"}`)
	assert.DeepEqual(t, string(assert.ChanWritten(t, browser.writes)), "{}")
}
