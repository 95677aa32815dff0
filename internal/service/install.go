// Package service installs the relay as a per-user background service:
// a systemd user unit on Linux and a launchd agent on macOS.
package service

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

const (
	// Name is the systemd unit name
	Name = "hubcast"

	// Label is the launchd job label
	Label = "dev.hubcast.relay"
)

var (
	ErrNotInstalled     = errors.New("service not installed")
	ErrAlreadyInstalled = errors.New("service already installed")
	ErrUnsupported      = errors.New("background service not supported on this platform")
)

// Status is the state of the installed service
type Status struct {
	Installed bool          `json:"installed"`
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Installer manages the platform service definition
type Installer interface {
	// Install writes the service definition running the binary with args
	Install(args []string) error
	Uninstall() error
	IsInstalled() bool
	Start() error
	Stop() error
	Status() (Status, error)
	// Logs returns the last lines of service output
	Logs(lines int) (string, error)
}

// ServeArgs returns the command line the service runs. The relay reads
// no operator input there, so it uses the plain console.
func ServeArgs(configFile string) []string {
	args := []string{"serve", "--plain"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	return args
}

const systemdUnit = `[Unit]
Description=hubcast broadcast relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s
StandardInput=null
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// SystemdUnit renders the user unit for execPath and args
func SystemdUnit(execPath string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{execPath}, args...) {
		words = append(words, systemdQuote(w))
	}
	return fmt.Sprintf(systemdUnit, strings.Join(words, " "))
}

func systemdQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\%$") {
		return s
	}
	return strings.ReplaceAll(strconv.Quote(s), "%", "%%")
}

const launchAgent = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`

// LaunchAgent renders the launchd plist for execPath and args, logging to logFile
func LaunchAgent(execPath string, args []string, logFile string) string {
	var program strings.Builder
	for _, a := range append([]string{execPath}, args...) {
		fmt.Fprintf(&program, "        <string>%s</string>\n", html.EscapeString(a))
	}
	logFile = html.EscapeString(logFile)
	return fmt.Sprintf(launchAgent, Label, program.String(), logFile, logFile)
}
