package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"owlcam/internal/config"
)

const version = "0.1.0"

func obtainSettings() (*config.Settings, error) {
	// setup default paths
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}

	// config file
	rootDir := filepath.Join(usr.HomeDir, ".owlcam")
	filename := flag.String("cfg", filepath.Join(rootDir, "owlcam.conf"), "config file")
	versionFlag := flag.Bool("version", false, "show version")
	showEnvFlag := flag.Bool("showenv", false, "show environment and config information")
	flag.Parse()

	println := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if *versionFlag || *showEnvFlag {
		println("owlcam %s (%s)", version, runtime.Version())
	}
	if *versionFlag {
		os.Exit(0)
	}
	if *showEnvFlag {
		println("Username: %s", usr.Username)
		println("Home dir: %s", usr.HomeDir)
		println("Root dir: %s", rootDir)
		println("Config file path: %s", *filename)
	}

	// parse file
	s, err := config.Load(*filename, rootDir)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", *filename, err)
	}

	if *showEnvFlag {
		println("Media root: %q", s.MediaRoot)
		println("Catalog: %q", s.CatalogPath)
		println("Log file: %q (%s)", s.LogFile, s.DebugLevel)
		println("Websocket gateway: %q", s.ListenWS)
		println("Prometheus: %q", s.ListenPrometheus)
		println("BLE enabled: %v (%s)", s.BLE, s.BLEName)
		os.Exit(0)
	}

	return s, nil
}
