package hislip

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("hislip: connection closed")
	ErrNotConnected    = errors.New("hislip: not connected")
	ErrTimeout         = errors.New("hislip: timeout")
	ErrInterrupted     = errors.New("hislip: response interrupted")
	ErrLockTimeout     = errors.New("hislip: lock not granted before timeout")
	ErrLockFailed      = errors.New("hislip: lock request rejected")
	ErrNotLocked       = errors.New("hislip: not locked")
	ErrDeviceClear     = errors.New("hislip: device clear in progress")
	ErrInvalidPrologue = errors.New("hislip: invalid message prologue")
	ErrMessageTooLarge = errors.New("hislip: message too large")
	ErrTLSRequired     = errors.New("hislip: server requires TLS but no TLS config given")
)

// 服务器错误码，IVI-6.1 表 5（致命）和表 6（非致命）。
var (
	fatalCodes = []string{
		"unidentified error",
		"poorly formed message header",
		"attempt to use connection without initialization",
		"maximum number of clients exceeded",
		"secure connection failed",
	}
	nonFatalCodes = []string{
		"unidentified error",
		"unrecognized message type",
		"unrecognized control code",
		"unrecognized vendor-defined message",
		"message too large",
	}
)

// ServerError 是服务器发来的 Error 或 FatalError 消息。
// Fatal 为真时两条通道都已不可用。
type ServerError struct {
	Fatal   bool
	Code    uint8
	Message string
}

func (e *ServerError) Error() string {
	kind, table := "error", nonFatalCodes
	if e.Fatal {
		kind, table = "fatal error", fatalCodes
	}
	desc := fmt.Sprintf("code %d", e.Code)
	if int(e.Code) < len(table) {
		desc = table[e.Code]
	}
	if e.Message != "" {
		return fmt.Sprintf("hislip: server %s: %s (%s)", kind, desc, e.Message)
	}
	return fmt.Sprintf("hislip: server %s: %s", kind, desc)
}

// IsFatal 报告 err 链中是否有致命的 ServerError。
func IsFatal(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Fatal
}

// UnexpectedMessageError 表示收到的消息类型与请求不匹配。
type UnexpectedMessageError struct {
	Want, Got uint8
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("hislip: expected %s, got %s", MsgTypeName(e.Want), MsgTypeName(e.Got))
}

func errorFromMessage(msg *Message) error {
	switch msg.Header.MsgType {
	case MsgFatalError:
		return &ServerError{Fatal: true, Code: msg.Header.Control, Message: string(msg.Payload)}
	case MsgError:
		return &ServerError{Code: msg.Header.Control, Message: string(msg.Payload)}
	}
	return nil
}
