//go:build darwin

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type darwinInstaller struct {
	plistPath string
	logFile   string
	execPath  string
}

// NewInstaller returns the launchd agent installer
func NewInstaller() Installer {
	home, _ := os.UserHomeDir()
	execPath, _ := os.Executable()
	if execPath == "" {
		execPath = "/usr/local/bin/hubcast"
	}

	return &darwinInstaller{
		plistPath: filepath.Join(home, "Library", "LaunchAgents", Label+".plist"),
		logFile:   filepath.Join(home, "Library", "Logs", "hubcast", "relay.log"),
		execPath:  execPath,
	}
}

func (i *darwinInstaller) Install(args []string) error {
	if i.IsInstalled() {
		return ErrAlreadyInstalled
	}

	if err := os.MkdirAll(filepath.Dir(i.plistPath), 0755); err != nil {
		return fmt.Errorf("create LaunchAgents dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.logFile), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	content := LaunchAgent(i.execPath, args, i.logFile)
	if err := os.WriteFile(i.plistPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	return nil
}

func (i *darwinInstaller) Uninstall() error {
	if !i.IsInstalled() {
		return ErrNotInstalled
	}

	// unloading a job that is not loaded fails; ignore it
	_ = i.Stop()

	if err := os.Remove(i.plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func (i *darwinInstaller) IsInstalled() bool {
	_, err := os.Stat(i.plistPath)
	return err == nil
}

func (i *darwinInstaller) Start() error {
	if !i.IsInstalled() {
		return ErrNotInstalled
	}
	if err := exec.Command("launchctl", "load", "-w", i.plistPath).Run(); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}
	return nil
}

func (i *darwinInstaller) Stop() error {
	if !i.IsInstalled() {
		return ErrNotInstalled
	}
	if err := exec.Command("launchctl", "unload", i.plistPath).Run(); err != nil {
		return fmt.Errorf("launchctl unload: %w", err)
	}
	return nil
}

func (i *darwinInstaller) Status() (Status, error) {
	var status Status
	if !i.IsInstalled() {
		return status, nil
	}
	status.Installed = true

	out, err := exec.Command("launchctl", "list", Label).Output()
	if err != nil {
		return status, nil
	}

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, `"PID"`) {
			continue
		}
		value := strings.Trim(strings.TrimSpace(line[strings.Index(line, "=")+1:]), ";")
		if pid, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			status.PID = pid
			status.Running = true
		}
	}

	if status.PID > 0 {
		out, err := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(status.PID)).Output()
		if err == nil {
			if t, err := time.Parse("Mon Jan 2 15:04:05 2006", strings.TrimSpace(string(out))); err == nil {
				status.Uptime = time.Since(t)
			}
		}
	}

	return status, nil
}

func (i *darwinInstaller) Logs(lines int) (string, error) {
	out, err := exec.Command("tail", "-n", strconv.Itoa(lines), i.logFile).Output()
	if err != nil {
		return "", fmt.Errorf("tail %s: %w", i.logFile, err)
	}
	return string(out), nil
}
