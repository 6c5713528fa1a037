// Package hislip 实现 HiSLIP 2.0 (IVI-6.1) 客户端的同步子集，
// 作为 VISA TCPIP::host::hislipN::INSTR 资源的驱动。
package hislip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// 协议常量
const (
	// 序言字节 "HS"
	PrologueHi byte = 'H'
	PrologueLo byte = 'S'

	DefaultPort = 4880

	// 消息头大小（字节）
	HeaderSize = 16

	// 初始 MessageID（IVI-6.1 3.1.2），每条消息加 2
	InitialMessageID uint32 = 0xffffff00

	// 尚未发送任何消息时使用的 MessageID
	MessageIDClear uint32 = 0xfffffefe

	ProtocolVersionMajor uint8  = 2
	ProtocolVersionMinor uint8  = 0
	ProtocolVersion      uint16 = uint16(ProtocolVersionMajor)<<8 | uint16(ProtocolVersionMinor)

	// 单条消息负载上限，超过视为协议错误
	DefaultMaxMessageSize uint64 = 256 * 1024 * 1024
)

// 消息类型（IVI-6.1 表 4）
const (
	MsgInitialize                  uint8 = 0
	MsgInitializeResponse          uint8 = 1
	MsgFatalError                  uint8 = 2
	MsgError                       uint8 = 3
	MsgAsyncLock                   uint8 = 4
	MsgAsyncLockResponse           uint8 = 5
	MsgData                        uint8 = 6
	MsgDataEnd                     uint8 = 7
	MsgDeviceClearComplete         uint8 = 8
	MsgDeviceClearAcknowledge      uint8 = 9
	MsgAsyncRemoteLocalControl     uint8 = 10
	MsgAsyncRemoteLocalResponse    uint8 = 11
	MsgTrigger                     uint8 = 12
	MsgInterrupted                 uint8 = 13
	MsgAsyncInterrupted            uint8 = 14
	MsgAsyncMaximumMessageSize     uint8 = 15
	MsgAsyncMaximumMessageSizeResp uint8 = 16
	MsgAsyncInitialize             uint8 = 17
	MsgAsyncInitializeResponse     uint8 = 18
	MsgAsyncDeviceClear            uint8 = 19
	MsgAsyncServiceRequest         uint8 = 20
	MsgAsyncStatusQuery            uint8 = 21
	MsgAsyncStatusResponse         uint8 = 22
	MsgAsyncDeviceClearAcknowledge uint8 = 23
	MsgStartTLS                    uint8 = 28
	MsgAsyncStartTLS               uint8 = 29
	MsgAsyncStartTLSResponse       uint8 = 30
	MsgVendorSpecificMin           uint8 = 128
)

var msgTypeNames = map[uint8]string{
	MsgInitialize:                  "Initialize",
	MsgInitializeResponse:          "InitializeResponse",
	MsgFatalError:                  "FatalError",
	MsgError:                       "Error",
	MsgAsyncLock:                   "AsyncLock",
	MsgAsyncLockResponse:           "AsyncLockResponse",
	MsgData:                        "Data",
	MsgDataEnd:                     "DataEnd",
	MsgDeviceClearComplete:         "DeviceClearComplete",
	MsgDeviceClearAcknowledge:      "DeviceClearAcknowledge",
	MsgAsyncRemoteLocalControl:     "AsyncRemoteLocalControl",
	MsgAsyncRemoteLocalResponse:    "AsyncRemoteLocalResponse",
	MsgTrigger:                     "Trigger",
	MsgInterrupted:                 "Interrupted",
	MsgAsyncInterrupted:            "AsyncInterrupted",
	MsgAsyncMaximumMessageSize:     "AsyncMaximumMessageSize",
	MsgAsyncMaximumMessageSizeResp: "AsyncMaximumMessageSizeResponse",
	MsgAsyncInitialize:             "AsyncInitialize",
	MsgAsyncInitializeResponse:     "AsyncInitializeResponse",
	MsgAsyncDeviceClear:            "AsyncDeviceClear",
	MsgAsyncServiceRequest:         "AsyncServiceRequest",
	MsgAsyncStatusQuery:            "AsyncStatusQuery",
	MsgAsyncStatusResponse:         "AsyncStatusResponse",
	MsgAsyncDeviceClearAcknowledge: "AsyncDeviceClearAcknowledge",
	MsgStartTLS:                    "StartTLS",
	MsgAsyncStartTLS:               "AsyncStartTLS",
	MsgAsyncStartTLSResponse:       "AsyncStartTLSResponse",
}

// MsgTypeName 返回消息类型的可读名称。
func MsgTypeName(t uint8) string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	if t >= MsgVendorSpecificMin {
		return fmt.Sprintf("VendorSpecific(%d)", t)
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

// 控制码
const (
	// Data/DataEnd/Trigger/AsyncStatusQuery: 自上次发送以来已收到完整响应
	CtrlRMTDelivered uint8 = 0x01

	// AsyncLock 请求
	CtrlLockRelease uint8 = 0
	CtrlLockRequest uint8 = 1

	// AsyncLockResponse
	CtrlLockFail          uint8 = 0
	CtrlLockSuccess       uint8 = 1
	CtrlLockSharedSuccess uint8 = 2
	CtrlLockError         uint8 = 3

	// AsyncRemoteLocalControl
	CtrlDisableRemote  uint8 = 0
	CtrlEnableRemote   uint8 = 1
	CtrlDisableAndGTL  uint8 = 2
	CtrlEnableAndGTL   uint8 = 3
	CtrlEnableAndLLO   uint8 = 4
	CtrlEnableAndGTLLO uint8 = 5
	CtrlEnableLockout  uint8 = 6

	// AsyncStartTLSResponse
	CtrlTLSSuccess uint8 = 0
)

// InitializeResponse 控制码中的标志位
const (
	InitFlagPreferOverlap     uint8 = 0x01
	InitFlagEncryptionMode    uint8 = 0x02 // 服务器要求加密
	InitFlagInitialEncryption uint8 = 0x04
)

// Header 表示 16 字节的 HiSLIP 消息头，网络上为大端序。
type Header struct {
	MsgType uint8
	Control uint8
	Param   uint32
	Length  uint64
}

func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s Ctrl:0x%02x Param:0x%08x Len:%d}",
		MsgTypeName(h.MsgType), h.Control, h.Param, h.Length)
}

// ReadHeader 从 r 读取并校验消息头。
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if buf[0] != PrologueHi || buf[1] != PrologueLo {
		return nil, fmt.Errorf("%w: got %q%q", ErrInvalidPrologue, buf[0], buf[1])
	}
	return &Header{
		MsgType: buf[2],
		Control: buf[3],
		Param:   binary.BigEndian.Uint32(buf[4:8]),
		Length:  binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

// WriteHeader 向 w 写入消息头。
func WriteHeader(w io.Writer, h *Header) error {
	buf := make([]byte, HeaderSize)
	buf[0] = PrologueHi
	buf[1] = PrologueLo
	buf[2] = h.MsgType
	buf[3] = h.Control
	binary.BigEndian.PutUint32(buf[4:8], h.Param)
	binary.BigEndian.PutUint64(buf[8:16], h.Length)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// Message 是消息头加负载。
type Message struct {
	Header  *Header
	Payload []byte
}

// ReadMessage 从 r 读取完整消息，负载超过 DefaultMaxMessageSize 时返回 ErrMessageTooLarge。
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Length > DefaultMaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, h.Length)
	}

	var payload []byte
	if h.Length > 0 {
		payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return &Message{Header: h, Payload: payload}, nil
}

// WriteMessage 向 w 写入完整消息。
func WriteMessage(w io.Writer, m *Message) error {
	if err := WriteHeader(w, m.Header); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

// NewMessage 创建消息，Length 取自负载长度。
func NewMessage(msgType, ctrl uint8, param uint32, payload []byte) *Message {
	return &Message{
		Header: &Header{
			MsgType: msgType,
			Control: ctrl,
			Param:   param,
			Length:  uint64(len(payload)),
		},
		Payload: payload,
	}
}

// MakeInitializeParam 组合 Initialize 参数: [client_version(16) | vendor_id(16)]
func MakeInitializeParam(version, vendorID uint16) uint32 {
	return uint32(version)<<16 | uint32(vendorID)
}

// ParseInitializeParam 是 MakeInitializeParam 的逆操作。
func ParseInitializeParam(param uint32) (version, vendorID uint16) {
	return uint16(param >> 16), uint16(param)
}

// MakeInitializeResponseParam 组合 InitializeResponse 参数: [server_version(16) | session_id(16)]
func MakeInitializeResponseParam(version, sessionID uint16) uint32 {
	return uint32(version)<<16 | uint32(sessionID)
}

// ParseInitializeResponseParam 是 MakeInitializeResponseParam 的逆操作。
func ParseInitializeResponseParam(param uint32) (version, sessionID uint16) {
	return uint16(param >> 16), uint16(param)
}

// ParseVersion 拆分 major<<8 | minor 形式的版本号。
func ParseVersion(v uint16) (major, minor uint8) {
	return uint8(v >> 8), uint8(v)
}

// MakeVersion 是 ParseVersion 的逆操作。
func MakeVersion(major, minor uint8) uint16 {
	return uint16(major)<<8 | uint16(minor)
}

func encodeSize(size uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, size)
	return buf
}

func decodeSize(p []byte) (uint64, bool) {
	if len(p) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(p[:8]), true
}
