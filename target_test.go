package goscpi

import (
	"errors"
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		kind     Kind
		host     string
		port     int
		resource string
		wantErr  bool
	}{
		{in: "192.168.1.100", kind: KindTCP, host: "192.168.1.100", port: DefaultPort},
		{in: "scope.lab:5555", kind: KindTCP, host: "scope.lab", port: 5555},
		{in: "[fe80::1]:5025", kind: KindTCP, host: "fe80::1", port: 5025},
		{in: "fe80::1", kind: KindTCP, host: "fe80::1", port: DefaultPort},
		{in: "::1", kind: KindTCP, host: "::1", port: DefaultPort},
		{in: "TCPIP0::192.168.1.100::inst0::INSTR", kind: KindVISA, resource: "TCPIP0::192.168.1.100::inst0::INSTR"},
		{in: "  GPIB0::5::INSTR ", kind: KindVISA, resource: "GPIB0::5::INSTR"},
		{in: "", wantErr: true},
		{in: "host:0", wantErr: true},
		{in: "host:70000", wantErr: true},
		{in: "host:abc", wantErr: true},
		{in: ":5025", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("ParseTarget(%q) err = %v, want ErrInvalidTarget", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q) failed: %v", tt.in, err)
			continue
		}
		if got.Kind() != tt.kind || got.Host() != tt.host || got.Port() != tt.port || got.Resource() != tt.resource {
			t.Errorf("ParseTarget(%q) = %s %q %d %q", tt.in, got.Kind(), got.Host(), got.Port(), got.Resource())
		}
		if !got.Valid() {
			t.Errorf("ParseTarget(%q) is not valid", tt.in)
		}
	}
}

func TestNewTargetValidation(t *testing.T) {
	if _, err := NewTCPTarget(" ", 5025); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("empty host err = %v", err)
	}
	if _, err := NewTCPTarget("host", 65536); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("port 65536 err = %v", err)
	}
	if _, err := NewVISATarget(""); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("empty resource err = %v", err)
	}

	var zero Target
	if zero.Valid() {
		t.Error("zero Target should not be valid")
	}
}
