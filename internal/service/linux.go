//go:build linux

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

type linuxInstaller struct {
	unitPath string
	execPath string
}

// NewInstaller returns the systemd user unit installer
func NewInstaller() Installer {
	home, _ := os.UserHomeDir()
	execPath, _ := os.Executable()
	if execPath == "" {
		execPath = "/usr/local/bin/hubcast"
	}

	return &linuxInstaller{
		unitPath: filepath.Join(home, ".config", "systemd", "user", Name+".service"),
		execPath: execPath,
	}
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (i *linuxInstaller) Install(args []string) error {
	if i.IsInstalled() {
		return ErrAlreadyInstalled
	}

	if err := os.MkdirAll(filepath.Dir(i.unitPath), 0755); err != nil {
		return fmt.Errorf("create systemd user dir: %w", err)
	}
	if err := os.WriteFile(i.unitPath, []byte(SystemdUnit(i.execPath, args)), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", Name)
}

func (i *linuxInstaller) Uninstall() error {
	if !i.IsInstalled() {
		return ErrNotInstalled
	}

	// best effort; the unit may already be stopped
	_ = systemctl("disable", "--now", Name)

	if err := os.Remove(i.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	return systemctl("daemon-reload")
}

func (i *linuxInstaller) IsInstalled() bool {
	_, err := os.Stat(i.unitPath)
	return err == nil
}

func (i *linuxInstaller) Start() error {
	if !i.IsInstalled() {
		return ErrNotInstalled
	}
	return systemctl("start", Name)
}

func (i *linuxInstaller) Stop() error {
	if !i.IsInstalled() {
		return ErrNotInstalled
	}
	return systemctl("stop", Name)
}

func (i *linuxInstaller) Status() (Status, error) {
	var status Status
	if !i.IsInstalled() {
		return status, nil
	}
	status.Installed = true

	out, _ := exec.Command("systemctl", "--user", "is-active", Name).Output()
	status.Running = strings.TrimSpace(string(out)) == "active"
	if !status.Running {
		return status, nil
	}

	out, _ = exec.Command("systemctl", "--user", "show", Name, "--property=MainPID", "--value").Output()
	if pid, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil {
		status.PID = pid
	}

	out, _ = exec.Command("systemctl", "--user", "show", Name, "--property=ActiveEnterTimestamp", "--value").Output()
	if t, err := time.Parse("Mon 2006-01-02 15:04:05 MST", strings.TrimSpace(string(out))); err == nil {
		status.Uptime = time.Since(t)
	}

	return status, nil
}

func (i *linuxInstaller) Logs(lines int) (string, error) {
	out, err := exec.Command("journalctl", "--user", "-u", Name, "-n", strconv.Itoa(lines), "--no-pager").Output()
	if err != nil {
		return "", fmt.Errorf("journalctl: %w", err)
	}
	return string(out), nil
}
