// Package config loads the daemon settings from an INI file.
//
// Example:
//
//	[media]
//	root = /var/lib/owlcam/media
//	catalog = /var/lib/owlcam/catalog.db
//
//	[log]
//	logfile = /var/log/owlcam/owlcam.log
//	debuglevel = info
//	maxlogfiles = 10
//
//	[gateway]
//	listen = 127.0.0.1:7780
//	listenprometheus = 127.0.0.1:7781
//
//	[ble]
//	enable = true
//	name = owlcam
//
//	[camera]
//	displayrotation = 0
//	default = 0
//	preset = medium
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vaughan0/go-ini"

	"owlcam/internal/camera"
)

type Settings struct {
	MediaRoot   string
	CatalogPath string

	// log section
	LogFile     string
	DebugLevel  string
	MaxLogFiles int

	ListenWS         string // websocket gateway address, empty disables it
	ListenPrometheus string // metrics address, empty disables it

	BLE     bool
	BLEName string

	DisplayRotation int
	DefaultCamera   string // opened at startup when set
	DefaultPreset   string
}

// Default returns the settings used for every key missing from the config
// file.
func Default(rootDir string) *Settings {
	return &Settings{
		MediaRoot:       filepath.Join(rootDir, "media"),
		CatalogPath:     filepath.Join(rootDir, "catalog.db"),
		LogFile:         filepath.Join(rootDir, "logs", "owlcam.log"),
		DebugLevel:      "info",
		MaxLogFiles:     10,
		ListenWS:        "127.0.0.1:7780",
		BLEName:         "owlcam",
		DefaultPreset:   string(camera.PresetMedium),
	}
}

// Load reads the config file at filename. A missing file yields the
// defaults.
func Load(filename, rootDir string) (*Settings, error) {
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return Default(rootDir), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, rootDir)
}

// Parse reads settings in INI format from r.
func Parse(r io.Reader, rootDir string) (*Settings, error) {
	cfg, err := ini.Load(r)
	if err != nil {
		return nil, err
	}

	get := func(s *string, section, field string) bool {
		v, ok := cfg.Get(section, field)
		if ok {
			*s = v
		}
		return ok
	}
	var parseErr error
	getInt := func(i *int, section, field string) {
		s, ok := cfg.Get(section, field)
		if !ok {
			return
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			if parseErr == nil {
				parseErr = fmt.Errorf("[%s] %s: %v", section, field, err)
			}
			return
		}
		*i = v
	}
	getBool := func(b *bool, section, field string) {
		s, ok := cfg.Get(section, field)
		if !ok {
			return
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			if parseErr == nil {
				parseErr = fmt.Errorf("[%s] %s: %v", section, field, err)
			}
			return
		}
		*b = v
	}

	s := Default(rootDir)

	get(&s.MediaRoot, "media", "root")
	get(&s.CatalogPath, "media", "catalog")
	get(&s.LogFile, "log", "logfile")
	get(&s.DebugLevel, "log", "debuglevel")
	getInt(&s.MaxLogFiles, "log", "maxlogfiles")
	get(&s.ListenWS, "gateway", "listen")
	get(&s.ListenPrometheus, "gateway", "listenprometheus")
	getBool(&s.BLE, "ble", "enable")
	get(&s.BLEName, "ble", "name")
	getInt(&s.DisplayRotation, "camera", "displayrotation")
	get(&s.DefaultCamera, "camera", "default")
	get(&s.DefaultPreset, "camera", "preset")

	if parseErr != nil {
		return nil, parseErr
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the values that have a fixed domain.
func (s *Settings) Validate() error {
	if _, err := s.Level(); err != nil {
		return err
	}
	if !camera.ValidRotation(s.DisplayRotation) {
		return fmt.Errorf("invalid display rotation %d", s.DisplayRotation)
	}
	if _, err := camera.ParsePreset(s.DefaultPreset); err != nil {
		return err
	}
	if s.MaxLogFiles < 1 {
		return fmt.Errorf("maxlogfiles must be positive, got %d", s.MaxLogFiles)
	}
	if s.MediaRoot == "" {
		return errors.New("media root is required")
	}
	return nil
}

// Level parses DebugLevel.
func (s *Settings) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.DebugLevel)); err != nil {
		return 0, fmt.Errorf("invalid debug level %q", s.DebugLevel)
	}
	return l, nil
}
