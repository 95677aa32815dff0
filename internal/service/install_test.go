package service

import (
	"strings"
	"testing"
)

func TestServeArgs(t *testing.T) {
	if got := strings.Join(ServeArgs(""), " "); got != "serve --plain" {
		t.Errorf("ServeArgs(\"\") = %q", got)
	}
	if got := strings.Join(ServeArgs("/etc/hubcast.toml"), " "); got != "serve --plain --config /etc/hubcast.toml" {
		t.Errorf("ServeArgs(path) = %q", got)
	}
}

func TestSystemdUnit(t *testing.T) {
	unit := SystemdUnit("/usr/local/bin/hubcast", ServeArgs("/home/a b/config.toml"))

	want := `ExecStart=/usr/local/bin/hubcast serve --plain --config "/home/a b/config.toml"`
	if !strings.Contains(unit, want+"\n") {
		t.Errorf("unit missing %q:\n%s", want, unit)
	}
	if !strings.Contains(unit, "StandardInput=null") {
		t.Error("unit must detach stdin")
	}
}

func TestSystemdQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"serve", "serve"},
		{"", `""`},
		{"a b", `"a b"`},
		{"100%", `"100%%"`},
	}
	for _, tt := range tests {
		if got := systemdQuote(tt.in); got != tt.want {
			t.Errorf("systemdQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLaunchAgent(t *testing.T) {
	plist := LaunchAgent("/opt/hubcast", []string{"serve", "--config", "/tmp/a&b.toml"}, "/tmp/relay.log")

	for _, want := range []string{
		"<string>" + Label + "</string>",
		"<string>/opt/hubcast</string>",
		"<string>serve</string>",
		"<string>/tmp/a&amp;b.toml</string>",
		"<key>StandardOutPath</key>\n    <string>/tmp/relay.log</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q:\n%s", want, plist)
		}
	}
}
