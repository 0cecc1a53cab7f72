package ble

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"owlcam/internal/camera"
	"owlcam/internal/command"
	"owlcam/internal/hardware"

	"tinygo.org/x/bluetooth"
)

// --- UUID Definitions ---
var (
	ServiceDeviceInfo = bluetooth.ServiceUUIDDeviceInformation
	CharManufacturer  = bluetooth.CharacteristicUUIDManufacturerNameString
	CharModel         = bluetooth.CharacteristicUUIDModelNumberString
	CharSerialNumber  = bluetooth.CharacteristicUUIDSerialNumberString

	// Custom Camera Service (Base: C4A0xxxx-5B1E-4F0C-9A57-3D2C8E61B7A4)
	ServiceCameraUUID = bluetooth.NewUUID([16]byte{0xC4, 0xA0, 0x00, 0x00, 0x5B, 0x1E, 0x4F, 0x0C, 0x9A, 0x57, 0x3D, 0x2C, 0x8E, 0x61, 0xB7, 0xA4})

	// Characteristics
	// 01: Command (Write)
	CharCommand = bluetooth.NewUUID([16]byte{0xC4, 0xA0, 0x00, 0x01, 0x5B, 0x1E, 0x4F, 0x0C, 0x9A, 0x57, 0x3D, 0x2C, 0x8E, 0x61, 0xB7, 0xA4})
	// 02: Result (Notify)
	CharResult = bluetooth.NewUUID([16]byte{0xC4, 0xA0, 0x00, 0x02, 0x5B, 0x1E, 0x4F, 0x0C, 0x9A, 0x57, 0x3D, 0x2C, 0x8E, 0x61, 0xB7, 0xA4})
	// 03: Camera Events (Notify)
	CharEvent = bluetooth.NewUUID([16]byte{0xC4, 0xA0, 0x00, 0x03, 0x5B, 0x1E, 0x4F, 0x0C, 0x9A, 0x57, 0x3D, 0x2C, 0x8E, 0x61, 0xB7, 0xA4})
	// 04: Media Browser (Write / Indicate)
	CharBrowser = bluetooth.NewUUID([16]byte{0xC4, 0xA0, 0x00, 0x04, 0x5B, 0x1E, 0x4F, 0x0C, 0x9A, 0x57, 0x3D, 0x2C, 0x8E, 0x61, 0xB7, 0xA4})
)

// browserPacing spaces out indications so slow centrals keep up.
const browserPacing = 50 * time.Millisecond

// output is the writable side of a notify or indicate characteristic.
type output interface {
	Write(p []byte) (n int, err error)
}

type Server struct {
	Adapter    *bluetooth.Adapter
	Name       string
	Dispatcher *command.Dispatcher
	Browser    *hardware.FileBrowser

	// Handles
	resultHandle  bluetooth.Characteristic
	eventHandle   bluetooth.Characteristic
	browserHandle bluetooth.Characteristic

	// Notifications are serialized per characteristic.
	mu         sync.Mutex
	resultOut  output
	eventOut   output
	browserOut output
}

func NewServer(name string, d *command.Dispatcher, browser *hardware.FileBrowser) *Server {
	s := &Server{
		Adapter:    bluetooth.DefaultAdapter,
		Name:       name,
		Dispatcher: d,
		Browser:    browser,
	}
	s.resultOut = &s.resultHandle
	s.eventOut = &s.eventHandle
	s.browserOut = &s.browserHandle
	return s
}

func (s *Server) Start() error {
	if err := s.Adapter.Enable(); err != nil {
		return err
	}

	slog.Info("[BLE] Adapter Enabled. Configuring Services...")

	s.addDeviceInfoService()
	if err := s.addCameraService(); err != nil {
		return err
	}

	adv := s.Adapter.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    s.Name,
		ServiceUUIDs: []bluetooth.UUID{ServiceCameraUUID},
	})
	if err != nil {
		return err
	}

	slog.Info("[BLE] Server Started, Advertising...", "name", s.Name)
	return adv.Start()
}

func (s *Server) addDeviceInfoService() {
	serialNum := getSerialNumber()
	slog.Info("[BLE] Device Info Configured", "serial", serialNum)

	_ = s.Adapter.AddService(&bluetooth.Service{
		UUID: ServiceDeviceInfo,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  CharManufacturer,
				Value: []byte("owlcam"),
				Flags: bluetooth.CharacteristicReadPermission,
			},
			{
				UUID:  CharModel,
				Value: []byte("owlcam v0.1"),
				Flags: bluetooth.CharacteristicReadPermission,
			},
			{
				UUID:  CharSerialNumber,
				Value: []byte(serialNum),
				Flags: bluetooth.CharacteristicReadPermission,
			},
		},
	})
}

func (s *Server) addCameraService() error {
	return s.Adapter.AddService(&bluetooth.Service{
		UUID: ServiceCameraUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			// 1. Command
			{
				UUID:       CharCommand,
				Flags:      bluetooth.CharacteristicWritePermission,
				WriteEvent: s.handleCommand,
			},
			// 2. Result
			{
				UUID:   CharResult,
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
				Handle: &s.resultHandle,
			},
			// 3. Camera Events
			{
				UUID:   CharEvent,
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
				Handle: &s.eventHandle,
			},
			// 4. Media Browser
			{
				UUID:       CharBrowser,
				Flags:      bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicIndicatePermission,
				Handle:     &s.browserHandle,
				WriteEvent: s.handleBrowserRequest,
			},
		},
	})
}

// --- Handlers ---

func (s *Server) handleCommand(client bluetooth.Connection, offset int, value []byte) {
	if offset != 0 {
		return
	}
	s.handleCommandData(value)
}

func (s *Server) handleCommandData(value []byte) {
	req, err := command.Decode(value)
	if err != nil {
		slog.Error("[BLE] Invalid JSON in Command", "err", err)
		s.notifyResult(command.ErrorResponse("", err))
		return
	}
	s.Dispatcher.Handle(req, s, s.notifyResult)
}

// Send forwards camera events to the event characteristic.
func (s *Server) Send(ev camera.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.write(s.eventOut, data)
}

func (s *Server) notifyResult(res command.Response) {
	data, err := json.Marshal(res)
	if err != nil {
		slog.Error("[BLE] Failed to encode result", "id", res.ID, "err", err)
		return
	}
	s.write(s.resultOut, data)
}

func (s *Server) write(out output, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := out.Write(data); err != nil {
		slog.Warn("[BLE] Notification failed", "err", err)
	}
}

type BrowserRequest struct {
	Type   string `json:"type"`
	Folder string `json:"folder"`
}

func (s *Server) handleBrowserRequest(client bluetooth.Connection, offset int, value []byte) {
	if offset != 0 {
		return
	}
	var req BrowserRequest
	if err := json.Unmarshal(value, &req); err != nil {
		slog.Error("[BLE] Invalid Browser Request")
		return
	}
	go s.streamBrowser(req)
}

// streamBrowser indicates one JSON document per folder or file, then an
// empty object marking the end of the stream.
func (s *Server) streamBrowser(req BrowserRequest) {
	switch req.Type {
	case "folders":
		folders, err := s.Browser.Folders()
		if err != nil {
			slog.Error("[BLE] Failed to list folders", "err", err)
		}
		for _, f := range folders {
			data, _ := json.Marshal(f)
			s.write(s.browserOut, data)
			time.Sleep(browserPacing)
		}

	case "files":
		files, err := s.Browser.Files(req.Folder)
		if err != nil {
			slog.Error("[BLE] Failed to list files", "folder", req.Folder, "err", err)
		}
		for _, f := range files {
			data, _ := json.Marshal(f)
			s.write(s.browserOut, data)
			time.Sleep(browserPacing)
		}

	default:
		slog.Warn("[BLE] Unknown browser request type", "type", req.Type)
		s.write(s.browserOut, []byte(`{"error": "unknown_type"}`))
	}

	eos := []byte("{}")
	s.write(s.browserOut, eos)
}

// --- Helpers ---

func getSerialNumber() string {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "OWL-DEV-SIMULATOR"
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Serial") {
			fields := strings.Split(line, ":")
			if len(fields) > 1 {
				return strings.TrimSpace(fields[1])
			}
		}
	}
	return "OWL-UNKNOWN-ID"
}
