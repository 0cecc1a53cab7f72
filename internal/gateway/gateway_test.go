package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"owlcam/internal/assert"
	"owlcam/internal/camera"
	"owlcam/internal/command"
	"owlcam/internal/hardware"
)

type testGateway struct {
	*Server
	http *httptest.Server
	svc  *hardware.MockService
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	svc := hardware.NewMockService()
	t.Cleanup(svc.Close)
	m := camera.NewManager(camera.ManagerConfig{
		Service:     svc,
		Permissions: hardware.NewMockPermissions(true, true),
	})
	t.Cleanup(m.Dispose)

	s := New(Config{
		Dispatcher: command.NewDispatcher(command.Config{
			Manager:   m,
			MediaRoot: t.TempDir(),
		}),
		Registry: m.Stats().Registry(),
	})
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return &testGateway{Server: s, http: hs, svc: svc}
}

func (tg *testGateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tg.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilErr(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	assert.NilErr(t, ws.ReadJSON(&f))
	return f
}

// call sends a request and returns its response, collecting the events
// received in between.
func call(t *testing.T, ws *websocket.Conn, req string, events *[]camera.Event) command.Response {
	t.Helper()
	assert.NilErr(t, ws.WriteMessage(websocket.TextMessage, []byte(req)))
	for {
		f := readFrame(t, ws)
		if f.Event != nil {
			*events = append(*events, *f.Event)
			continue
		}
		if f.Response == nil {
			t.Fatal("empty frame")
		}
		return *f.Response
	}
}

func TestGatewaySession(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t)
	ws := tg.dial(t)
	assert.Eventually(t, func() bool { return tg.NumConns() == 1 })

	var events []camera.Event
	res := call(t, ws, `{"id":"a","method":"open","params":{"cameraName":"0","resolutionPreset":"high"}}`, &events)
	assert.DeepEqual(t, res.ID, "a")
	if res.Error != nil {
		t.Fatalf("open failed: %+v", *res.Error)
	}
	raw, err := json.Marshal(res.Result)
	assert.NilErr(t, err)
	var open command.OpenReply
	assert.NilErr(t, json.Unmarshal(raw, &open))
	assert.DeepEqual(t, open.PreviewWidth, 1280)
	assert.DeepEqual(t, open.PreviewHeight, 960)

	res = call(t, ws, `{"id":"b","method":"subscribe","params":{"handleId":`+
		jsonInt(open.HandleID)+`}}`, &events)
	if res.Error != nil {
		t.Fatalf("subscribe failed: %+v", *res.Error)
	}

	assert.BoolIs(t, tg.svc.Disconnect("0"), true)
	f := readFrame(t, ws)
	if f.Event == nil {
		t.Fatal("expected an event frame")
	}
	assert.DeepEqual(t, *f.Event, camera.Event{Type: camera.EventError, Description: "The camera was disconnected"})

	res = call(t, ws, `{"id":"c","method":"takePicture","params":{"path":"x.jpg","rotation":0}}`, &events)
	assert.DeepEqual(t, res.Error.Code, command.CodeCameraClosed)
}

func TestGatewayBadRequest(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t)
	ws := tg.dial(t)

	var events []camera.Event
	res := call(t, ws, `nope`, &events)
	assert.DeepEqual(t, res.Error.Code, command.CodeInvalidArgument)

	res = call(t, ws, `{"method":"availableCameras"}`, &events)
	if res.Error != nil {
		t.Fatalf("availableCameras failed: %+v", *res.Error)
	}
	if res.ID == "" {
		t.Fatal("response without id")
	}
}

func TestGatewayMetrics(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t)
	ws := tg.dial(t)

	var events []camera.Event
	res := call(t, ws, `{"id":"a","method":"open","params":{"cameraName":"1","resolutionPreset":"low"}}`, &events)
	if res.Error != nil {
		t.Fatalf("open failed: %+v", *res.Error)
	}

	resp, err := http.Get(tg.http.URL + "/metrics")
	assert.NilErr(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	assert.NilErr(t, err)
	for _, want := range []string{"owlcam_opens 1", "owlcam_ws_connections 1", "owlcam_open_devices 1"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestGatewayRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.NilErr(t, assert.ChanWritten(t, errc))
}

func TestGatewayRejectsCrossOrigin(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(tg.http.URL, "http") + "/ws"
	hdr := http.Header{"Origin": []string{"http://pages.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.DeepEqual(t, resp.StatusCode, http.StatusForbidden)
	assert.DeepEqual(t, tg.NumConns(), 0)
}

func TestConnSendNeverBlocks(t *testing.T) {
	t.Parallel()

	// No writer is running, as with a client that stopped reading.
	c := newConn(nil, slog.Default())
	ev := camera.Event{Type: camera.EventError, Description: "The camera was disconnected"}
	assert.DoesNotBlock(t, func() {
		for i := 0; i < sendQueue*2; i++ {
			c.Send(ev)
		}
	})
	assert.DeepEqual(t, len(c.out), sendQueue)

	var f Frame
	assert.NilErr(t, json.Unmarshal(<-c.out, &f))
	assert.DeepEqual(t, *f.Event, ev)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
