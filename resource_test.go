package goscpi

import (
	"errors"
	"testing"
)

func TestParseResource(t *testing.T) {
	tests := []struct {
		raw  string
		want Resource
		key  string
	}{
		{
			raw:  "TCPIP0::192.168.1.100::5025::SOCKET",
			want: Resource{Interface: InterfaceTCPIP, Class: "SOCKET", Host: "192.168.1.100", Port: 5025, Secondary: -1},
			key:  DriverTCPIPSocket,
		},
		{
			raw:  "TCPIP::10.0.0.2::hislip0::INSTR",
			want: Resource{Interface: InterfaceTCPIP, Class: "INSTR", Host: "10.0.0.2", DeviceName: "hislip0", Secondary: -1},
			key:  DriverTCPIPHiSLIP,
		},
		{
			raw:  "TCPIP1::scope::hislip1,4881::INSTR",
			want: Resource{Interface: InterfaceTCPIP, Board: 1, Class: "INSTR", Host: "scope", DeviceName: "hislip1", Port: 4881, Secondary: -1},
			key:  DriverTCPIPHiSLIP,
		},
		{
			raw:  "TCPIP0::192.168.1.100::inst0::INSTR",
			want: Resource{Interface: InterfaceTCPIP, Class: "INSTR", Host: "192.168.1.100", DeviceName: "inst0", Secondary: -1},
			key:  DriverTCPIPVXI11,
		},
		{
			raw:  "tcpip::192.168.1.100",
			want: Resource{Interface: InterfaceTCPIP, Class: "INSTR", Host: "192.168.1.100", DeviceName: "inst0", Secondary: -1},
			key:  DriverTCPIPVXI11,
		},
		{
			raw:  "GPIB0::5::INSTR",
			want: Resource{Interface: InterfaceGPIB, Class: "INSTR", Primary: 5, Secondary: -1},
			key:  DriverGPIB,
		},
		{
			raw:  "GPIB2::22::3::INSTR",
			want: Resource{Interface: InterfaceGPIB, Board: 2, Class: "INSTR", Primary: 22, Secondary: 3},
			key:  DriverGPIB,
		},
		{
			raw:  "ASRL3::INSTR",
			want: Resource{Interface: InterfaceASRL, Board: 3, Class: "INSTR", Address: "3", Secondary: -1},
			key:  DriverASRL,
		},
		{
			raw:  "ASRL/dev/ttyUSB0::INSTR",
			want: Resource{Interface: InterfaceASRL, Class: "INSTR", Address: "/dev/ttyUSB0", Secondary: -1},
			key:  DriverASRL,
		},
		{
			raw:  "USB0::0x0957::0x1796::MY12345678::INSTR",
			want: Resource{Interface: InterfaceUSB, Class: "INSTR", Address: "0x0957::0x1796::MY12345678", Secondary: -1},
			key:  DriverUSB,
		},
	}

	for _, tt := range tests {
		got, err := ParseResource(tt.raw)
		if err != nil {
			t.Errorf("ParseResource(%q) failed: %v", tt.raw, err)
			continue
		}
		tt.want.Raw = tt.raw
		if got != tt.want {
			t.Errorf("ParseResource(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
		if key := got.DriverKey(); key != tt.key {
			t.Errorf("ParseResource(%q).DriverKey() = %q, want %q", tt.raw, key, tt.key)
		}
	}
}

func TestParseResource_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"FOO0::1::INSTR",
		"TCPIP0::::INSTR",
		"TCPIP0::host::SOCKET",
		"TCPIP0::host::99999::SOCKET",
		"TCPIPx::host::INSTR",
		"TCPIP0::host::hislip0,abc::INSTR",
		"GPIB0::31::INSTR",
		"GPIB0::INSTR",
		"ASRL::INSTR",
	} {
		if _, err := ParseResource(raw); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("ParseResource(%q) = %v, want ErrInvalidTarget", raw, err)
		}
	}
}
