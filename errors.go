package goscpi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/xiabin827/goscpi/hislip"
)

// 哨兵错误
var (
	ErrClosed        = errors.New("goscpi: transport closed")
	ErrNotAQuery     = errors.New("goscpi: command is not a query")
	ErrInvalidTarget = errors.New("goscpi: invalid target")
	ErrNoDriver      = errors.New("goscpi: no driver for resource")
	ErrTimeout       = errors.New("goscpi: timeout")

	// ErrInstrument 标记仪器端报告的非致命错误，连接和会话仍可继续使用。
	ErrInstrument = errors.New("goscpi: instrument error")
)

// ConnectErrorKind 是连接失败的类别。
type ConnectErrorKind int

const (
	ConnectInvalidTarget ConnectErrorKind = iota + 1
	ConnectUnreachable
	ConnectTimeout
)

var connectErrorNames = map[ConnectErrorKind]string{
	ConnectInvalidTarget: "InvalidTarget",
	ConnectUnreachable:   "Unreachable",
	ConnectTimeout:       "Timeout",
}

func (k ConnectErrorKind) String() string {
	if name, ok := connectErrorNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ConnectErrorKind(%d)", int(k))
}

// ConnectError 只在建立连接时返回。
type ConnectError struct {
	Kind   ConnectErrorKind
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("goscpi: connect %s: %s: %v", e.Target, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOErrorKind 是读写失败的类别。
type IOErrorKind int

const (
	WriteTimeout IOErrorKind = iota + 1
	ReadTimeout
	BrokenConnection
)

var ioErrorNames = map[IOErrorKind]string{
	WriteTimeout:     "WriteTimeout",
	ReadTimeout:      "ReadTimeout",
	BrokenConnection: "BrokenConnection",
}

func (k IOErrorKind) String() string {
	if name, ok := ioErrorNames[k]; ok {
		return name
	}
	return fmt.Sprintf("IOErrorKind(%d)", int(k))
}

// IOError 在发送或读取时返回。BrokenConnection 对 Session 是终止性的。
type IOError struct {
	Kind IOErrorKind
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("goscpi: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsBrokenConnection 判断 err 是否为连接断开。
func IsBrokenConnection(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr) && ioErr.Kind == BrokenConnection
}

// IsTimeout 判断 err 是否为连接、读或写超时。
func IsTimeout(err error) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Kind == ReadTimeout || ioErr.Kind == WriteTimeout
	}
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return connErr.Kind == ConnectTimeout
	}
	return errors.Is(err, ErrTimeout)
}

// isTimeoutCause 识别各后端底层的超时错误。
func isTimeoutCause(err error) bool {
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, hislip.ErrTimeout) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyIO 把后端错误归类为 IOError，两种后端共用。
func classifyIO(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	if errors.Is(err, ErrInstrument) {
		return fmt.Errorf("goscpi: %s: %w", op, err)
	}

	kind := BrokenConnection
	if isTimeoutCause(err) {
		kind = WriteTimeout
		if op == "read" {
			kind = ReadTimeout
		}
	}
	return &IOError{Kind: kind, Op: op, Err: err}
}

// classifyConnect 把建立连接时的错误归类为 ConnectError。
func classifyConnect(target Target, err error) error {
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return err
	}

	kind := ConnectUnreachable
	switch {
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrNoDriver):
		kind = ConnectInvalidTarget
	case isTimeoutCause(err):
		kind = ConnectTimeout
	}
	return &ConnectError{Kind: kind, Target: target.String(), Err: err}
}
