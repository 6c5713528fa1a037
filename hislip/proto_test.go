package hislip

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeader_ReadWrite(t *testing.T) {
	tests := []struct {
		name   string
		header *Header
	}{
		{
			name: "Initialize",
			header: &Header{
				MsgType: MsgInitialize,
				Param:   MakeInitializeParam(ProtocolVersion, 0x474f),
				Length:  7,
			},
		},
		{
			name: "DataEnd",
			header: &Header{
				MsgType: MsgDataEnd,
				Control: CtrlRMTDelivered,
				Param:   InitialMessageID,
				Length:  100,
			},
		},
		{
			name: "AsyncLock",
			header: &Header{
				MsgType: MsgAsyncLock,
				Control: CtrlLockRequest,
				Param:   5000, // timeout ms
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteHeader(&buf, tt.header); err != nil {
				t.Fatalf("WriteHeader failed: %v", err)
			}
			if buf.Len() != HeaderSize {
				t.Errorf("header size = %d, want %d", buf.Len(), HeaderSize)
			}

			got, err := ReadHeader(&buf)
			if err != nil {
				t.Fatalf("ReadHeader failed: %v", err)
			}
			if *got != *tt.header {
				t.Errorf("header = %s, want %s", got, tt.header)
			}
		})
	}
}

func TestMessage_ReadWrite(t *testing.T) {
	msg := NewMessage(MsgDataEnd, CtrlRMTDelivered, InitialMessageID, []byte("*IDN?\n"))

	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if got.Header.MsgType != MsgDataEnd {
		t.Errorf("MsgType = %s, want DataEnd", MsgTypeName(got.Header.MsgType))
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, msg.Payload)
	}
}

func TestReadHeader_InvalidPrologue(t *testing.T) {
	buf := bytes.NewReader([]byte("XX\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	_, err := ReadHeader(buf)
	if !errors.Is(err, ErrInvalidPrologue) {
		t.Errorf("err = %v, want ErrInvalidPrologue", err)
	}
}

func TestReadMessage_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	h := &Header{MsgType: MsgDataEnd, Length: DefaultMaxMessageSize + 1}
	if err := WriteHeader(&buf, h); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	_, err := ReadMessage(&buf)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestInitializeResponseParam(t *testing.T) {
	param := MakeInitializeResponseParam(MakeVersion(1, 1), 0x5678)

	version, sessionID := ParseInitializeResponseParam(param)
	major, minor := ParseVersion(version)
	if major != 1 || minor != 1 {
		t.Errorf("version = %d.%d, want 1.1", major, minor)
	}
	if sessionID != 0x5678 {
		t.Errorf("sessionID = 0x%04x, want 0x5678", sessionID)
	}
}

func TestMsgTypeName(t *testing.T) {
	if name := MsgTypeName(MsgDataEnd); name != "DataEnd" {
		t.Errorf("MsgTypeName(7) = %q, want 'DataEnd'", name)
	}
	if name := MsgTypeName(200); name != "VendorSpecific(200)" {
		t.Errorf("MsgTypeName(200) = %q, want 'VendorSpecific(200)'", name)
	}
	if name := MsgTypeName(40); name != "Unknown(40)" {
		t.Errorf("MsgTypeName(40) = %q, want 'Unknown(40)'", name)
	}
}
