package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"

	"hubcast.dev/go/hubcast/internal/protocol"
)

func newEntry(txt []string, port int, v4 ...string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry("relay-one", ServiceType, Domain)
	entry.HostName = "relay-one.local."
	entry.Port = port
	entry.Text = txt
	for _, ip := range v4 {
		entry.AddrIPv4 = append(entry.AddrIPv4, net.ParseIP(ip))
	}
	return entry
}

func TestTXTRecords(t *testing.T) {
	txt := TXTRecords("abc", "")
	want := []string{"id=abc", "v=1", "framing=length"}
	if len(txt) != len(want) {
		t.Fatalf("got %v, want %v", txt, want)
	}
	for i := range want {
		if txt[i] != want[i] {
			t.Errorf("record %d: got %q, want %q", i, txt[i], want[i])
		}
	}
}

func TestParseEntry(t *testing.T) {
	entry := newEntry(TXTRecords("abc", protocol.FramingBlock), 28627, "192.168.1.20")

	s, ok := ParseEntry(entry)
	if !ok {
		t.Fatal("entry should parse")
	}
	if s.ID != "abc" || s.Framing != protocol.FramingBlock {
		t.Errorf("got %+v", s)
	}
	if s.Address() != "192.168.1.20:28627" {
		t.Errorf("Address: got %q", s.Address())
	}
	if s.Instance != "relay-one" {
		t.Errorf("Instance: got %q", s.Instance)
	}
}

func TestParseEntryFallsBackToHostName(t *testing.T) {
	s, ok := ParseEntry(newEntry(TXTRecords("abc", ""), 28627))
	if !ok {
		t.Fatal("entry should parse")
	}
	if s.Address() != "relay-one.local:28627" {
		t.Errorf("Address: got %q", s.Address())
	}
}

func TestParseEntryIPv6(t *testing.T) {
	entry := newEntry(TXTRecords("abc", ""), 28627)
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	s, ok := ParseEntry(entry)
	if !ok {
		t.Fatal("entry should parse")
	}
	if s.Address() != "[fe80::1]:28627" {
		t.Errorf("Address: got %q", s.Address())
	}
}

func TestParseEntryRejects(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
	}{
		{"nil", nil},
		{"no id", newEntry([]string{"v=1"}, 28627, "10.0.0.1")},
		{"other version", newEntry([]string{"id=abc", "v=2"}, 28627, "10.0.0.1")},
		{"unknown framing", newEntry([]string{"id=abc", "v=1", "framing=morse"}, 28627, "10.0.0.1")},
		{"no port", newEntry(TXTRecords("abc", ""), 0, "10.0.0.1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseEntry(tt.entry); ok {
				t.Error("entry should be rejected")
			}
		})
	}
}

func TestSanitizeInstance(t *testing.T) {
	tests := map[string]string{
		"Alice-MacBook.local": "alice-macbooklocal",
		"relay_01":            "relay01",
		"***":                 "hubcast",
		"":                    "hubcast",
	}

	for in, want := range tests {
		if got := SanitizeInstance(in); got != want {
			t.Errorf("SanitizeInstance(%q) = %q, want %q", in, got, want)
		}
	}
}
